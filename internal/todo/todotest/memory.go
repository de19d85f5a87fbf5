// Package todotest provides an in-memory todo.Rows for tests.
package todotest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"todostarter/internal/todo"
)

// Rows keeps todos in insertion order and enforces the ownership filter the
// same way the Postgres store does. The *Fn hooks, when set, run before the
// default behaviour and can fail or block a call.
type Rows struct {
	mu    sync.Mutex
	items []todo.Todo
	calls map[string]int
	now   func() time.Time

	SelectFn func(context.Context, todo.Identity) error
	InsertFn func(context.Context, todo.Identity, todo.NewRow) error
	UpdateFn func(context.Context, todo.Identity, string, todo.Patch) error
	DeleteFn func(context.Context, todo.Identity, string) error
}

func NewRows() *Rows {
	return &Rows{calls: make(map[string]int), now: time.Now}
}

// WithClock makes created_at deterministic.
func (r *Rows) WithClock(now func() time.Time) *Rows {
	r.now = now
	return r
}

// Seed appends rows as they are, bypassing validation.
func (r *Rows) Seed(items ...todo.Todo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, items...)
}

// Calls returns how many times op was invoked.
func (r *Rows) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// TotalCalls returns the number of row store calls of any kind.
func (r *Rows) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

// All returns every stored row regardless of owner.
func (r *Rows) All() []todo.Todo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]todo.Todo, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Rows) SelectTodos(ctx context.Context, owner todo.Identity) ([]todo.Todo, error) {
	r.count("select")
	if r.SelectFn != nil {
		if err := r.SelectFn(ctx, owner); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]todo.Todo, 0)
	for _, item := range r.items {
		if item.UserID == owner.UserID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *Rows) InsertTodo(ctx context.Context, owner todo.Identity, row todo.NewRow) (todo.Todo, error) {
	r.count("insert")
	if r.InsertFn != nil {
		if err := r.InsertFn(ctx, owner, row); err != nil {
			return todo.Todo{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	item := todo.Todo{
		ID:        uuid.NewString(),
		Title:     row.Title,
		Completed: row.Completed,
		UserID:    owner.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.items = append(r.items, item)
	return item, nil
}

func (r *Rows) UpdateTodo(ctx context.Context, owner todo.Identity, id string, patch todo.Patch) (todo.Todo, error) {
	r.count("update")
	if r.UpdateFn != nil {
		if err := r.UpdateFn(ctx, owner, id, patch); err != nil {
			return todo.Todo{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID != id || r.items[i].UserID != owner.UserID {
			continue
		}
		if patch.Title != nil {
			r.items[i].Title = *patch.Title
		}
		if patch.Completed != nil {
			r.items[i].Completed = *patch.Completed
		}
		r.items[i].UpdatedAt = patch.UpdatedAt
		return r.items[i], nil
	}
	return todo.Todo{}, todo.ErrNotFound
}

func (r *Rows) DeleteTodo(ctx context.Context, owner todo.Identity, id string) error {
	r.count("delete")
	if r.DeleteFn != nil {
		if err := r.DeleteFn(ctx, owner, id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	for _, item := range r.items {
		if item.ID == id && item.UserID == owner.UserID {
			continue
		}
		kept = append(kept, item)
	}
	r.items = kept
	return nil
}

func (r *Rows) DeleteCompletedTodos(ctx context.Context, owner todo.Identity) ([]string, error) {
	r.count("delete_completed")
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted []string
	kept := r.items[:0]
	for _, item := range r.items {
		if item.Completed && item.UserID == owner.UserID {
			deleted = append(deleted, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	r.items = kept
	return deleted, nil
}

func (r *Rows) count(op string) {
	r.mu.Lock()
	r.calls[op]++
	r.mu.Unlock()
}
