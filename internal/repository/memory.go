package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

// MemoryStore はプロセス内メモリにユーザー・セッション・タスクを保持するストア。
// ローカル開発とテスト用で、プロセス終了時にデータは失われる。
type MemoryStore struct {
	mu sync.RWMutex

	users        map[string]model.User // key: user ID
	userIDsByKey map[string]string     // key: email
	sessions     map[string]model.Session
	todos        map[string][]model.Todo // key: owner email（挿入順）
	todoOwners   map[string]string       // key: todo ID

	locksMu    sync.Mutex
	ownerLocks map[string]*sync.Mutex // key: owner email（削除しない）

	now func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]model.User),
		userIDsByKey: make(map[string]string),
		sessions:     make(map[string]model.Session),
		todos:        make(map[string][]model.Todo),
		todoOwners:   make(map[string]string),
		ownerLocks:   make(map[string]*sync.Mutex),
		now:          time.Now,
	}
}

// PingContext はヘルスチェック用。メモリストアは常に利用可能。
func (m *MemoryStore) PingContext(ctx context.Context) error {
	return ctx.Err()
}

// UserRepo はUserRepositoryとしてのビューを返す。
func (m *MemoryStore) UserRepo() *MemoryUserRepo { return &MemoryUserRepo{m: m} }

// SessionRepo はSessionRepositoryとしてのビューを返す。
func (m *MemoryStore) SessionRepo() *MemorySessionRepo { return &MemorySessionRepo{m: m} }

// TodoRepo はTodoRepositoryとしてのビューを返す。
func (m *MemoryStore) TodoRepo() *MemoryTodoRepo { return &MemoryTodoRepo{m: m} }

// ownerLock は所有者ごとのミューテックスを取得または作成する。
// ownerLocksは所有者1人につき1エントリ増え、削除されない。ユーザーは削除されないため
// エントリ数は登録ユーザー数で頭打ちになる。開発・テスト用ドライバーとしてはこれを許容する。
func (m *MemoryStore) ownerLock(ownerEmail string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	l, ok := m.ownerLocks[ownerEmail]
	if !ok {
		l = &sync.Mutex{}
		m.ownerLocks[ownerEmail] = l
	}
	return l
}

// --- UserRepository ---

// MemoryUserRepo はMemoryStoreを使用したユーザーリポジトリ。
type MemoryUserRepo struct {
	m *MemoryStore
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	u, ok := r.m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	id, ok := r.m.userIDsByKey[email]
	if !ok {
		return nil, nil
	}
	u := r.m.users[id]
	return &u, nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, exists := r.m.userIDsByKey[user.Email]; exists {
		return ErrDuplicateEmail
	}
	r.m.users[user.ID] = *user
	r.m.userIDsByKey[user.Email] = user.ID
	return nil
}

// --- SessionRepository ---

// MemorySessionRepo はMemoryStoreを使用したセッションリポジトリ。
type MemorySessionRepo struct {
	m *MemoryStore
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	r.m.sessions[session.ID] = *session
	return nil
}

// FindByID は有効なセッションをユーザーのメールアドレス付きで返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	s, ok := r.m.sessions[id]
	if !ok || !s.ExpiresAt.After(r.m.now()) {
		return nil, nil
	}
	u, ok := r.m.users[s.UserID]
	if !ok {
		return nil, nil
	}
	s.Email = u.Email
	return &s, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	delete(r.m.sessions, id)
	return nil
}

// DeleteExpired は期限切れセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	now := r.m.now()
	var n int64
	for id, s := range r.m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.m.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- TodoRepository ---

// MemoryTodoRepo はMemoryStoreを使用したタスクリポジトリ。
type MemoryTodoRepo struct {
	m *MemoryStore
}

// ListByOwner は所有者のタスクを挿入順で返す。
func (r *MemoryTodoRepo) ListByOwner(_ context.Context, ownerEmail string) ([]model.Todo, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	todos := make([]model.Todo, len(r.m.todos[ownerEmail]))
	copy(todos, r.m.todos[ownerEmail])
	return todos, nil
}

// WithinOwnerTx は所有者のパーティションの作業コピーに対してfnを実行し、
// 成功時のみ作業コピーを反映する。所有者単位のミューテックスで直列化する。
func (r *MemoryTodoRepo) WithinOwnerTx(ctx context.Context, ownerEmail string, fn func(store TodoStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := r.m.ownerLock(ownerEmail)
	lock.Lock()
	defer lock.Unlock()

	r.m.mu.RLock()
	working := make([]model.Todo, len(r.m.todos[ownerEmail]))
	copy(working, r.m.todos[ownerEmail])
	r.m.mu.RUnlock()

	store := &memoryTodoStore{m: r.m, owner: ownerEmail, working: working}
	if err := fn(store); err != nil {
		return err
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for _, t := range r.m.todos[ownerEmail] {
		delete(r.m.todoOwners, t.ID)
	}
	for _, t := range store.working {
		r.m.todoOwners[t.ID] = t.OwnerEmail
	}
	if len(store.working) == 0 {
		delete(r.m.todos, ownerEmail)
	} else {
		r.m.todos[ownerEmail] = store.working
	}
	return nil
}

// memoryTodoStore は1所有者のパーティションの作業コピーを操作する。
// 他の所有者のタスクは参照のみ可能で、変更はエラーなしで無視される。
type memoryTodoStore struct {
	m       *MemoryStore
	owner   string
	working []model.Todo
}

func (s *memoryTodoStore) indexOf(id string) int {
	for i := range s.working {
		if s.working[i].ID == id {
			return i
		}
	}
	return -1
}

// FindByID は作業コピー、次に他の所有者のパーティションから検索する。
func (s *memoryTodoStore) FindByID(_ context.Context, id string) (*model.Todo, error) {
	if i := s.indexOf(id); i >= 0 {
		t := s.working[i]
		return &t, nil
	}

	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	owner, ok := s.m.todoOwners[id]
	if !ok || owner == s.owner {
		return nil, nil
	}
	for _, t := range s.m.todos[owner] {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}

// Insert はタスクを作業コピーの末尾に追加する。
func (s *memoryTodoStore) Insert(_ context.Context, todo *model.Todo) error {
	prepareTodo(todo, s.m.now().UTC())
	s.working = append(s.working, *todo)
	return nil
}

// UpdateCompleted はタスクのcompletedのみを更新する。
func (s *memoryTodoStore) UpdateCompleted(_ context.Context, id string, completed bool) error {
	if i := s.indexOf(id); i >= 0 {
		s.working[i].Completed = completed
		s.working[i].UpdatedAt = s.m.now().UTC()
	}
	return nil
}

// DeleteByID は指定IDのタスクを削除する。
func (s *memoryTodoStore) DeleteByID(_ context.Context, id string) error {
	if i := s.indexOf(id); i >= 0 {
		s.working = append(s.working[:i], s.working[i+1:]...)
	}
	return nil
}

// DeleteByOwner は作業コピーを空にし、削除したIDを返す。
func (s *memoryTodoStore) DeleteByOwner(_ context.Context, ownerEmail string) ([]string, error) {
	if ownerEmail != s.owner {
		return nil, nil
	}
	ids := make([]string, len(s.working))
	for i, t := range s.working {
		ids[i] = t.ID
	}
	s.working = s.working[:0]
	return ids, nil
}

// BulkInsert は入力順にタスクを作業コピーへ追加する。
func (s *memoryTodoStore) BulkInsert(_ context.Context, todos []*model.Todo) error {
	now := s.m.now().UTC()
	for _, t := range todos {
		prepareTodo(t, now)
		s.working = append(s.working, *t)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*MemoryUserRepo)(nil)
var _ SessionRepository = (*MemorySessionRepo)(nil)
var _ TodoRepository = (*MemoryTodoRepo)(nil)
var _ TodoStore = (*memoryTodoStore)(nil)
