package search

import (
	"context"

	"todostarter/internal/todo"
)

// IndexingRows keeps the search index in step with a todo.Rows. Only
// successful writes are indexed and index failures never fail the write.
type IndexingRows struct {
	next  todo.Rows
	index *Service
}

func NewIndexingRows(next todo.Rows, index *Service) *IndexingRows {
	return &IndexingRows{next: next, index: index}
}

func (r *IndexingRows) SelectTodos(ctx context.Context, owner todo.Identity) ([]todo.Todo, error) {
	return r.next.SelectTodos(ctx, owner)
}

func (r *IndexingRows) InsertTodo(ctx context.Context, owner todo.Identity, row todo.NewRow) (todo.Todo, error) {
	created, err := r.next.InsertTodo(ctx, owner, row)
	if err != nil {
		return todo.Todo{}, err
	}
	r.index.IndexTodo(created)
	return created, nil
}

func (r *IndexingRows) UpdateTodo(ctx context.Context, owner todo.Identity, id string, patch todo.Patch) (todo.Todo, error) {
	updated, err := r.next.UpdateTodo(ctx, owner, id, patch)
	if err != nil {
		return todo.Todo{}, err
	}
	r.index.IndexTodo(updated)
	return updated, nil
}

func (r *IndexingRows) DeleteTodo(ctx context.Context, owner todo.Identity, id string) error {
	if err := r.next.DeleteTodo(ctx, owner, id); err != nil {
		return err
	}
	r.index.DeleteTodos(id)
	return nil
}

func (r *IndexingRows) DeleteCompletedTodos(ctx context.Context, owner todo.Identity) ([]string, error) {
	ids, err := r.next.DeleteCompletedTodos(ctx, owner)
	if err != nil {
		return nil, err
	}
	r.index.DeleteTodos(ids...)
	return ids, nil
}
