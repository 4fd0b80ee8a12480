// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/todoman/internal/model"
)

// ErrDuplicateEmail は同一メールアドレスのユーザーが既に存在する場合に返される。
var ErrDuplicateEmail = errors.New("duplicate email")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。
	// 大文字小文字を区別する完全一致。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションをユーザーのメールアドレス付きで取得する。
	// 期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// TodoRepository はタスクデータの永続化インターフェース。
// 所有者の検証などのビジネスルールは持たない。
type TodoRepository interface {
	// ListByOwner は所有者のタスクを挿入順で返す。
	ListByOwner(ctx context.Context, ownerEmail string) ([]model.Todo, error)

	// WithinOwnerTx は所有者単位の排他ロックを取得したトランザクション内でfnを実行する。
	// fnがエラーを返した場合はロールバックし、それ以外はコミットする。
	// 同一所有者の更新操作はこのメソッドにより直列化される。
	WithinOwnerTx(ctx context.Context, ownerEmail string, fn func(store TodoStore) error) error
}

// TodoStore はトランザクション内で利用できるタスク操作。
type TodoStore interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Todo, error)

	// Insert はタスクを作成する。ID、CreatedAt、UpdatedAtが未設定の場合は採番する。
	Insert(ctx context.Context, todo *model.Todo) error

	// UpdateCompleted はタスクのcompletedのみを更新する。
	UpdateCompleted(ctx context.Context, id string, completed bool) error

	// DeleteByID は指定IDのタスクを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByOwner は所有者の全タスクを削除し、削除したIDを返す。
	DeleteByOwner(ctx context.Context, ownerEmail string) ([]string, error)

	// BulkInsert は複数のタスクを入力順に作成する。
	BulkInsert(ctx context.Context, todos []*model.Todo) error
}
