package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/todo"
)

// TodoServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TodoServiceInterface interface {
	List(ctx context.Context, identity model.Identity) ([]model.Todo, error)
	Add(ctx context.Context, identity model.Identity, text string) (*model.Todo, error)
	SetCompletion(ctx context.Context, identity model.Identity, todoID string, completed bool) error
	Delete(ctx context.Context, identity model.Identity, todoID string) error
	ReplaceAll(ctx context.Context, identity model.Identity, items []todo.ReplaceItem) error
}

// TodoHandler はタスク管理のHTTPハンドラー。
// 全エンドポイントがセッションミドルウェアの内側に配置される。
type TodoHandler struct {
	service TodoServiceInterface
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(service TodoServiceInterface) *TodoHandler {
	return &TodoHandler{service: service}
}

// todoResponse はタスクのAPIレスポンス。
type todoResponse struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Completed  bool   `json:"completed"`
	OwnerEmail string `json:"ownerEmail"`
}

// todoInput はクライアントが送るタスク本文。taskはtextの別名として受け付ける。
type todoInput struct {
	ID        string  `json:"id"`
	Text      *string `json:"text"`
	Task      *string `json:"task"`
	Completed *bool   `json:"completed"`
}

func (in todoInput) text() string {
	switch {
	case in.Text != nil:
		return *in.Text
	case in.Task != nil:
		return *in.Task
	default:
		return ""
	}
}

type addTodoRequest struct {
	Todo todoInput `json:"todo"`
}

type setCompletionRequest struct {
	Completed *bool `json:"completed"`
}

type replaceTodosRequest struct {
	Todos []todoInput `json:"todos"`
}

// ListTodos は呼び出し元のタスクを挿入順で返す。
// GET /api/todos
func (h *TodoHandler) ListTodos(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	todos, err := h.service.List(r.Context(), identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]todoResponse, len(todos))
	for i := range todos {
		resp[i] = toTodoResponse(&todos[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddTodo はタスクを1件追加し、作成したタスクを返す。
// POST /api/todos
func (h *TodoHandler) AddTodo(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req addTodoRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Add(r.Context(), identity, req.Todo.text())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTodoResponse(created))
}

// SetCompletion はタスクの完了状態を更新する。completedは必須。
// PUT /api/todos/{id}
func (h *TodoHandler) SetCompletion(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req setCompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Completed == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("completedは必須です。"))
		return
	}

	if err := h.service.SetCompletion(r.Context(), identity, chi.URLParam(r, "id"), *req.Completed); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteTodo はタスクを削除する。存在しないIDでも成功する。
// DELETE /api/todos/{id}
func (h *TodoHandler) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), identity, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ReplaceTodos は呼び出し元のタスクを送信されたリストで置き換える。
// todosが空配列の場合は全件削除になる。
// PUT /api/todos
func (h *TodoHandler) ReplaceTodos(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req replaceTodosRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Todos == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("todosは必須です。"))
		return
	}

	items := make([]todo.ReplaceItem, len(req.Todos))
	for i, in := range req.Todos {
		items[i] = todo.ReplaceItem{
			ID:        in.ID,
			Text:      in.text(),
			Completed: in.Completed,
		}
	}

	if err := h.service.ReplaceAll(r.Context(), identity, items); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func toTodoResponse(t *model.Todo) todoResponse {
	return todoResponse{
		ID:         t.ID,
		Text:       t.Text,
		Completed:  t.Completed,
		OwnerEmail: t.OwnerEmail,
	}
}
