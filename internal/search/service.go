package search

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"todostarter/internal/todo"
)

// Source lists every todo for a full reindex.
type Source interface {
	ListAllTodos(ctx context.Context) ([]todo.Todo, error)
}

// Service is the facade that tries the primary backend first and falls back
// to Postgres. Index writes are fire-and-forget.
type Service struct {
	primary  Backend
	fallback Searcher
	log      log.FieldLogger
	pending  sync.WaitGroup
}

// NewService creates a search service. primary may be nil when Meilisearch is
// not configured.
func NewService(primary Backend, fallback Searcher, logger log.FieldLogger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{primary: primary, fallback: fallback, log: logger.WithField("component", "search")}
}

// Search returns the caller's todos whose title matches, newest first. A
// blank query matches nothing.
func (s *Service) Search(ctx context.Context, q Query) ([]todo.Todo, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []todo.Todo{}, nil
	}
	if q.UserID == "" {
		return nil, todo.ErrUnauthenticated
	}

	if s.primary != nil && s.primary.Healthy() {
		results, err := s.primary.Search(ctx, q)
		if err == nil {
			return finish(results), nil
		}
		s.log.WithError(err).Warn("primary search failed, falling back to postgres")
	}
	if s.fallback == nil {
		return []todo.Todo{}, nil
	}
	results, err := s.fallback.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search todos: %w", err)
	}
	return finish(results), nil
}

func finish(results []todo.Todo) []todo.Todo {
	if results == nil {
		return []todo.Todo{}
	}
	todo.SortNewestFirst(results)
	return results
}

func (s *Service) indexing() bool {
	return s.primary != nil && s.primary.Healthy()
}

// IndexTodo adds or replaces the todo in the primary index.
func (s *Service) IndexTodo(t todo.Todo) {
	if !s.indexing() {
		return
	}
	s.background(func(ctx context.Context) error {
		return s.primary.IndexTodos(ctx, []Record{recordFromTodo(t)})
	}, "index todo", t.ID)
}

// DeleteTodos removes todos from the primary index.
func (s *Service) DeleteTodos(ids ...string) {
	if len(ids) == 0 || !s.indexing() {
		return
	}
	s.background(func(ctx context.Context) error {
		return s.primary.DeleteTodos(ctx, ids)
	}, "delete todos", strings.Join(ids, ","))
}

func (s *Service) background(fn func(context.Context) error, op, ids string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(context.Background()); err != nil {
			s.log.WithError(err).WithField("todo_id", ids).Warn(op + " failed")
		}
	}()
}

// Wait blocks until every queued index write has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAll pushes every todo from src into the primary index.
func (s *Service) ReindexAll(ctx context.Context, src Source) error {
	if !s.indexing() {
		return nil
	}
	items, err := src.ListAllTodos(ctx)
	if err != nil {
		return fmt.Errorf("load todos for reindex: %w", err)
	}
	records := make([]Record, len(items))
	for i, t := range items {
		records[i] = recordFromTodo(t)
	}
	if err := s.primary.IndexTodos(ctx, records); err != nil {
		return fmt.Errorf("reindex todos: %w", err)
	}
	s.log.WithField("count", len(records)).Info("search index rebuilt")
	return nil
}
