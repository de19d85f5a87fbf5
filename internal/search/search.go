// Package search finds todos by title. Meilisearch serves queries when it is
// reachable; PostgreSQL full-text search answers otherwise.
package search

import (
	"context"
	"time"

	"todostarter/internal/todo"
)

const defaultLimit = 20

// Query describes a search request. UserID scopes the hits to one owner and
// is always required.
type Query struct {
	Text   string
	UserID string
	Limit  int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]todo.Todo, error)
	Healthy() bool
}

// Indexer can push todos into a search index.
type Indexer interface {
	IndexTodos(ctx context.Context, records []Record) error
	DeleteTodos(ctx context.Context, ids []string) error
}

// Backend is a search engine that also keeps its own index.
type Backend interface {
	Searcher
	Indexer
}

// Record is the data we index for a todo.
type Record struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	UserID    string `json:"userId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func recordFromTodo(t todo.Todo) Record {
	return Record{
		ID:        t.ID,
		Title:     t.Title,
		Completed: t.Completed,
		UserID:    t.UserID,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r Record) todo() todo.Todo {
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return todo.Todo{
		ID:        r.ID,
		Title:     r.Title,
		Completed: r.Completed,
		UserID:    r.UserID,
		CreatedAt: created,
		UpdatedAt: updated,
	}
}
