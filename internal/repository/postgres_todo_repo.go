package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
)

// todoColumns はSELECT時のtodosテーブルのカラム順。scanTodoと対応する。
const todoColumns = `id, owner_email, text, completed, created_at, updated_at`

// queryer は*sql.DBと*sql.Txに共通するクエリ操作。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresTodoRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTodoRepo struct {
	db *sql.DB
}

// NewPostgresTodoRepo はPostgresTodoRepoを生成する。
func NewPostgresTodoRepo(db *sql.DB) *PostgresTodoRepo {
	return &PostgresTodoRepo{db: db}
}

// ListByOwner は所有者のタスクを挿入順（seq昇順）で返す。
func (r *PostgresTodoRepo) ListByOwner(ctx context.Context, ownerEmail string) ([]model.Todo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE owner_email = $1 ORDER BY seq`,
		ownerEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	todos := []model.Todo{}
	for rows.Next() {
		var t model.Todo
		if err := scanTodo(rows, &t); err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todos: %w", err)
	}

	return todos, nil
}

// WithinOwnerTx はトランザクションを開始し、所有者単位のアドバイザリロックを取得してからfnを実行する。
// pg_advisory_xact_lockはコミットまたはロールバック時に自動で解放される。
func (r *PostgresTodoRepo) WithinOwnerTx(ctx context.Context, ownerEmail string, fn func(store TodoStore) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerEmail); err != nil {
		return fmt.Errorf("failed to acquire owner lock: %w", err)
	}

	if err := fn(&postgresTodoStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// postgresTodoStore はトランザクション内のタスク操作を提供する。
type postgresTodoStore struct {
	q queryer
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (s *postgresTodoStore) FindByID(ctx context.Context, id string) (*model.Todo, error) {
	t := &model.Todo{}
	err := scanTodo(s.q.QueryRowContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE id = $1`,
		id,
	), t)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find todo: %w", err)
	}
	return t, nil
}

// Insert はタスクを作成する。
func (s *postgresTodoStore) Insert(ctx context.Context, todo *model.Todo) error {
	prepareTodo(todo, time.Now().UTC())

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO todos (id, owner_email, text, completed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		todo.ID, todo.OwnerEmail, todo.Text, todo.Completed, todo.CreatedAt, todo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert todo: %w", err)
	}
	return nil
}

// UpdateCompleted はタスクのcompletedのみを更新する。
func (s *postgresTodoStore) UpdateCompleted(ctx context.Context, id string, completed bool) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE todos SET completed = $2, updated_at = $3 WHERE id = $1`,
		id, completed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update todo completion: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのタスクを削除する。
func (s *postgresTodoStore) DeleteByID(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM todos WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	return nil
}

// DeleteByOwner は所有者の全タスクを削除し、削除したIDを返す。
func (s *postgresTodoStore) DeleteByOwner(ctx context.Context, ownerEmail string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`DELETE FROM todos WHERE owner_email = $1 RETURNING id`,
		ownerEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete owner todos: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan deleted todo id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deleted todo ids: %w", err)
	}
	return ids, nil
}

// BulkInsert は複数のタスクを1つのINSERT文で作成する。
// VALUESの並び順でseqが採番されるため、入力順が一覧順になる。
func (s *postgresTodoStore) BulkInsert(ctx context.Context, todos []*model.Todo) error {
	if len(todos) == 0 {
		return nil
	}

	now := time.Now().UTC()
	const cols = 6
	var sb strings.Builder
	sb.WriteString(`INSERT INTO todos (id, owner_email, text, completed, created_at, updated_at) VALUES `)
	args := make([]any, 0, len(todos)*cols)

	for i, t := range todos {
		prepareTodo(t, now)
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, t.ID, t.OwnerEmail, t.Text, t.Completed, t.CreatedAt, t.UpdatedAt)
	}

	if _, err := s.q.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to bulk insert todos: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsに共通するScan。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner, t *model.Todo) error {
	return row.Scan(&t.ID, &t.OwnerEmail, &t.Text, &t.Completed, &t.CreatedAt, &t.UpdatedAt)
}

// prepareTodo は未設定のIDとタイムスタンプを補完する。
func prepareTodo(t *model.Todo, now time.Time) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// compile-time interface check
var _ TodoRepository = (*PostgresTodoRepo)(nil)
var _ TodoStore = (*postgresTodoStore)(nil)
