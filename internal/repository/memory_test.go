package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

func TestMemoryUserRepo_CreateAndFind(t *testing.T) {
	store := NewMemoryStore()
	repo := store.UserRepo()
	ctx := context.Background()

	u := &model.User{ID: "user-1", Email: "alice@example.com", Name: "Alice"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.FindByEmail(ctx, "alice@example.com")
	if err != nil || got == nil {
		t.Fatalf("FindByEmail = %v, %v", got, err)
	}
	if got.ID != "user-1" {
		t.Errorf("ID = %q, want %q", got.ID, "user-1")
	}

	got, err = repo.FindByEmail(ctx, "ALICE@example.com")
	if err != nil || got != nil {
		t.Errorf("FindByEmail(differently-cased) = %v, %v, want nil, nil", got, err)
	}

	err = repo.Create(ctx, &model.User{ID: "user-2", Email: "alice@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want ErrDuplicateEmail", err)
	}
	if _, err := repo.FindByID(ctx, "user-2"); err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got, _ := repo.FindByID(ctx, "user-2"); got != nil {
		t.Error("duplicate user must not be stored")
	}
}

func TestMemorySessionRepo_ExpiryAndCleanup(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	store.UserRepo().Create(ctx, &model.User{ID: "user-1", Email: "alice@example.com"})
	sessions := store.SessionRepo()
	sessions.Create(ctx, &model.Session{ID: "live", UserID: "user-1", ExpiresAt: now.Add(time.Hour)})
	sessions.Create(ctx, &model.Session{ID: "dead", UserID: "user-1", ExpiresAt: now.Add(-time.Second)})

	s, err := sessions.FindByID(ctx, "live")
	if err != nil || s == nil {
		t.Fatalf("FindByID(live) = %v, %v", s, err)
	}
	if s.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", s.Email, "alice@example.com")
	}

	if s, _ := sessions.FindByID(ctx, "dead"); s != nil {
		t.Error("expired session must not be returned")
	}

	n, err := sessions.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestMemoryTodoRepo_TxCommitAndRollback(t *testing.T) {
	store := NewMemoryStore()
	repo := store.TodoRepo()
	ctx := context.Background()

	err := repo.WithinOwnerTx(ctx, "a@example.com", func(s TodoStore) error {
		return s.BulkInsert(ctx, []*model.Todo{
			{OwnerEmail: "a@example.com", Text: "first"},
			{OwnerEmail: "a@example.com", Text: "second"},
		})
	})
	if err != nil {
		t.Fatalf("WithinOwnerTx: %v", err)
	}

	todos, _ := repo.ListByOwner(ctx, "a@example.com")
	if len(todos) != 2 || todos[0].Text != "first" || todos[1].Text != "second" {
		t.Fatalf("todos = %+v, want [first second]", todos)
	}
	if todos[0].ID == "" || todos[0].ID == todos[1].ID {
		t.Errorf("expected distinct assigned IDs, got %q and %q", todos[0].ID, todos[1].ID)
	}

	boom := errors.New("boom")
	err = repo.WithinOwnerTx(ctx, "a@example.com", func(s TodoStore) error {
		if _, err := s.DeleteByOwner(ctx, "a@example.com"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	todos, _ = repo.ListByOwner(ctx, "a@example.com")
	if len(todos) != 2 {
		t.Errorf("len(todos) = %d after rollback, want 2", len(todos))
	}
}

func TestMemoryTodoRepo_FindByIDAcrossOwners(t *testing.T) {
	store := NewMemoryStore()
	repo := store.TodoRepo()
	ctx := context.Background()

	var bobTodo model.Todo
	repo.WithinOwnerTx(ctx, "bob@example.com", func(s TodoStore) error {
		bobTodo = model.Todo{OwnerEmail: "bob@example.com", Text: "secret"}
		return s.Insert(ctx, &bobTodo)
	})

	err := repo.WithinOwnerTx(ctx, "alice@example.com", func(s TodoStore) error {
		got, err := s.FindByID(ctx, bobTodo.ID)
		if err != nil {
			return err
		}
		if got == nil || got.OwnerEmail != "bob@example.com" {
			t.Errorf("FindByID = %+v, want bob's todo", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinOwnerTx: %v", err)
	}
}

func TestMemoryTodoRepo_ConcurrentOwnersAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	repo := store.TodoRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, owner := range []string{"a@example.com", "b@example.com"} {
			wg.Add(1)
			go func(owner string) {
				defer wg.Done()
				repo.WithinOwnerTx(ctx, owner, func(s TodoStore) error {
					if _, err := s.DeleteByOwner(ctx, owner); err != nil {
						return err
					}
					return s.BulkInsert(ctx, []*model.Todo{{OwnerEmail: owner, Text: owner}})
				})
			}(owner)
		}
	}
	wg.Wait()

	for _, owner := range []string{"a@example.com", "b@example.com"} {
		todos, _ := repo.ListByOwner(ctx, owner)
		if len(todos) != 1 || todos[0].OwnerEmail != owner {
			t.Errorf("%s todos = %+v, want exactly one own todo", owner, todos)
		}
	}
}
