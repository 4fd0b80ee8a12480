// Package todo はセッション所有者にスコープされたタスクの同期ロジックを提供する。
//
// すべての操作は呼び出し元のIdentityを受け取り、所有者のメールアドレスで
// タスクを絞り込む。他の所有者のタスクを読み書きすることはない。
package todo

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
)

// OperationRecorder はタスク操作のメトリクスを記録する。
// metrics.Collectorが実装する。
type OperationRecorder interface {
	RecordTodoOperation(op string)
	RecordTodosReplaced(count int)
}

type nopRecorder struct{}

func (nopRecorder) RecordTodoOperation(string) {}
func (nopRecorder) RecordTodosReplaced(int) {}

// Limits はタスク入力の上限値。0以下の値は無制限を表す。
type Limits struct {
	MaxTextLength int // タスク本文の最大文字数（rune数）
	MaxBatch      int // 一括置換の最大件数
}

// ReplaceItem は一括置換の入力1件を表す。
// IDは呼び出し元が置換前に所有していたタスクのIDであれば引き継がれる。
type ReplaceItem struct {
	ID        string
	Text      string
	Completed *bool // nilの場合はfalse
}

// Service はタスクの一覧・追加・完了状態変更・削除・一括置換を提供する。
type Service struct {
	repo     repository.TodoRepository
	markup   security.MarkupDetector
	recorder OperationRecorder
	limits   Limits
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(
	repo repository.TodoRepository,
	markup security.MarkupDetector,
	recorder OperationRecorder,
	limits Limits,
) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		repo:     repo,
		markup:   markup,
		recorder: recorder,
		limits:   limits,
	}
}

// List は所有者のタスクを挿入順で返す。タスクがない場合は空スライスを返す。
func (s *Service) List(ctx context.Context, identity model.Identity) ([]model.Todo, error) {
	todos, err := s.repo.ListByOwner(ctx, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	if todos == nil {
		todos = []model.Todo{}
	}
	s.recorder.RecordTodoOperation("list")
	return todos, nil
}

// Add は未完了のタスクを作成して返す。本文は受け取ったまま保存し、空文字列も受け付ける。
func (s *Service) Add(ctx context.Context, identity model.Identity, text string) (*model.Todo, error) {
	if err := s.checkText(text); err != nil {
		return nil, err
	}

	todo := &model.Todo{
		OwnerEmail: identity.Email,
		Text:       text,
		Completed:  false,
	}

	err := s.repo.WithinOwnerTx(ctx, identity.Email, func(store repository.TodoStore) error {
		return store.Insert(ctx, todo)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add todo: %w", err)
	}

	s.recorder.RecordTodoOperation("add")
	return todo, nil
}

// SetCompletion はタスクの完了状態のみを変更する。
// IDが不正または存在しない場合はTODO_NOT_FOUND、他の所有者のタスクの場合はFORBIDDENを返す。
func (s *Service) SetCompletion(ctx context.Context, identity model.Identity, todoID string, completed bool) error {
	id, ok := canonicalID(todoID)
	if !ok {
		return model.NewTodoNotFoundError(todoID)
	}

	err := s.repo.WithinOwnerTx(ctx, identity.Email, func(store repository.TodoStore) error {
		todo, err := store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if todo == nil {
			return model.NewTodoNotFoundError(todoID)
		}
		if todo.OwnerEmail != identity.Email {
			return model.NewForbiddenError()
		}
		return store.UpdateCompleted(ctx, id, completed)
	})
	if err != nil {
		return err
	}

	s.recorder.RecordTodoOperation("set_completion")
	return nil
}

// Delete はタスクを削除する。
// 存在しないIDの削除は成功として扱う（冪等）。他の所有者のタスクの場合はFORBIDDENを返す。
func (s *Service) Delete(ctx context.Context, identity model.Identity, todoID string) error {
	id, ok := canonicalID(todoID)
	if !ok {
		return nil
	}

	err := s.repo.WithinOwnerTx(ctx, identity.Email, func(store repository.TodoStore) error {
		todo, err := store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if todo == nil {
			return nil
		}
		if todo.OwnerEmail != identity.Email {
			return model.NewForbiddenError()
		}
		return store.DeleteByID(ctx, id)
	})
	if err != nil {
		return err
	}

	s.recorder.RecordTodoOperation("delete")
	return nil
}

// ReplaceAll は所有者のタスクをすべて削除し、itemsを入力順に作成する。
// 削除と作成は1つのトランザクションで行い、途中で失敗した場合は何も変更しない。
// itemsが空の場合は作成を行わず、一覧は空になる。
//
// クライアントが指定したIDは、置換前に呼び出し元が所有していたIDで、かつ
// 入力内で重複していない場合のみ引き継ぐ。それ以外は新しいIDを採番する。
func (s *Service) ReplaceAll(ctx context.Context, identity model.Identity, items []ReplaceItem) error {
	if s.limits.MaxBatch > 0 && len(items) > s.limits.MaxBatch {
		return model.NewInvalidTodoError(fmt.Sprintf("too many todos (max %d)", s.limits.MaxBatch))
	}
	for _, item := range items {
		if err := s.checkText(item.Text); err != nil {
			return err
		}
	}

	err := s.repo.WithinOwnerTx(ctx, identity.Email, func(store repository.TodoStore) error {
		deletedIDs, err := store.DeleteByOwner(ctx, identity.Email)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		owned := make(map[string]bool, len(deletedIDs))
		for _, id := range deletedIDs {
			owned[id] = true
		}

		todos := make([]*model.Todo, len(items))
		for i, item := range items {
			todo := &model.Todo{
				OwnerEmail: identity.Email,
				Text:       item.Text,
				Completed:  item.Completed != nil && *item.Completed,
			}
			if owned[item.ID] {
				todo.ID = item.ID
				delete(owned, item.ID)
			}
			todos[i] = todo
		}
		return store.BulkInsert(ctx, todos)
	})
	if err != nil {
		return fmt.Errorf("failed to replace todos: %w", err)
	}

	s.recorder.RecordTodoOperation("replace")
	s.recorder.RecordTodosReplaced(len(items))
	slog.Info("todos replaced",
		slog.String("owner", identity.Email),
		slog.Int("count", len(items)),
	)
	return nil
}

// canonicalID はUUIDとして解釈できるIDを小文字ハイフン区切りの形式に揃える。
// urn:uuid: や波括弧付き、大文字の表記もストアには正規形で渡す。
func canonicalID(raw string) (string, bool) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

// checkText は本文の長さ上限とマークアップの有無を検証する。
// 本文は書き換えないため、一覧をそのまま送り返す置換は常に同じ内容を保存する。
func (s *Service) checkText(text string) error {
	if s.limits.MaxTextLength > 0 && utf8.RuneCountInString(text) > s.limits.MaxTextLength {
		return model.NewInvalidTodoError(fmt.Sprintf("text is longer than %d characters", s.limits.MaxTextLength))
	}
	if s.markup != nil && s.markup.ContainsMarkup(text) {
		return model.NewInvalidTodoError("text must not contain HTML markup")
	}
	return nil
}
