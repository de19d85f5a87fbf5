package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"todostarter/internal/todo"
)

type fakeBackend struct {
	mu       sync.Mutex
	healthy  bool
	searchFn func(q Query) ([]todo.Todo, error)
	indexFn  func(records []Record) error
	indexed  []Record
	deleted  []string
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Search(_ context.Context, q Query) ([]todo.Todo, error) {
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(q)
}

func (f *fakeBackend) IndexTodos(_ context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexFn != nil {
		if err := f.indexFn(records); err != nil {
			return err
		}
	}
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeBackend) DeleteTodos(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeSearcher struct {
	calls    int
	searchFn func(q Query) ([]todo.Todo, error)
}

func (f *fakeSearcher) Healthy() bool { return true }

func (f *fakeSearcher) Search(_ context.Context, q Query) ([]todo.Todo, error) {
	f.calls++
	return f.searchFn(q)
}

type fakeSource struct {
	items []todo.Todo
	err   error
}

func (f fakeSource) ListAllTodos(context.Context) ([]todo.Todo, error) { return f.items, f.err }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(id string, minutes int) todo.Todo {
	return todo.Todo{ID: id, Title: "buy " + id, UserID: "user-alice", CreatedAt: base.Add(time.Duration(minutes) * time.Minute)}
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestSearchUsesPrimaryAndSortsNewestFirst(t *testing.T) {
	primary := &fakeBackend{healthy: true, searchFn: func(q Query) ([]todo.Todo, error) {
		if q.UserID != "user-alice" || q.Text != "buy" {
			t.Fatalf("unexpected query %+v", q)
		}
		return []todo.Todo{sample("old", 0), sample("new", 5)}, nil
	}}
	fallback := &fakeSearcher{searchFn: func(Query) ([]todo.Todo, error) {
		t.Fatal("fallback must not be used")
		return nil, nil
	}}
	svc := NewService(primary, fallback, quietLogger())

	got, err := svc.Search(context.Background(), Query{Text: "buy", UserID: "user-alice"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []todo.Todo{sample("new", 5), sample("old", 0)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Search() mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchFallsBackWhenPrimaryFails(t *testing.T) {
	logger, hook := test.NewNullLogger()
	primary := &fakeBackend{healthy: true, searchFn: func(Query) ([]todo.Todo, error) {
		return nil, errors.New("connection reset")
	}}
	fallback := &fakeSearcher{searchFn: func(Query) ([]todo.Todo, error) {
		return []todo.Todo{sample("a", 0)}, nil
	}}
	svc := NewService(primary, fallback, logger)

	got, err := svc.Search(context.Background(), Query{Text: "buy", UserID: "user-alice"})
	if err != nil || len(got) != 1 {
		t.Fatalf("Search() = %v, %v", got, err)
	}
	if fallback.calls != 1 {
		t.Fatalf("fallback calls = %d, want 1", fallback.calls)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning, got %+v", entry)
	}
}

func TestSearchSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: false, searchFn: func(Query) ([]todo.Todo, error) {
		t.Fatal("unhealthy primary must not be queried")
		return nil, nil
	}}
	fallback := &fakeSearcher{searchFn: func(Query) ([]todo.Todo, error) { return nil, nil }}
	svc := NewService(primary, fallback, quietLogger())

	got, err := svc.Search(context.Background(), Query{Text: "buy", UserID: "user-alice"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", got)
	}
}

func TestSearchSurfacesFallbackError(t *testing.T) {
	fallback := &fakeSearcher{searchFn: func(Query) ([]todo.Todo, error) { return nil, errors.New("db down") }}
	svc := NewService(nil, fallback, quietLogger())
	if _, err := svc.Search(context.Background(), Query{Text: "buy", UserID: "user-alice"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearchBlankQueryAndMissingOwner(t *testing.T) {
	fallback := &fakeSearcher{searchFn: func(Query) ([]todo.Todo, error) { return nil, nil }}
	svc := NewService(nil, fallback, quietLogger())

	got, err := svc.Search(context.Background(), Query{Text: "   ", UserID: "user-alice"})
	if err != nil || len(got) != 0 {
		t.Fatalf("blank query = %v, %v", got, err)
	}
	if _, err := svc.Search(context.Background(), Query{Text: "buy"}); !errors.Is(err, todo.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if fallback.calls != 0 {
		t.Fatalf("no backend call expected, got %d", fallback.calls)
	}
}

func TestIndexingIsSkippedWithoutHealthyPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: false}
	svc := NewService(primary, nil, quietLogger())
	svc.IndexTodo(sample("a", 0))
	svc.DeleteTodos("a")
	svc.Wait()
	if len(primary.indexed) != 0 || len(primary.deleted) != 0 {
		t.Fatalf("unexpected index writes: %+v %+v", primary.indexed, primary.deleted)
	}
}

func TestIndexFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	primary := &fakeBackend{healthy: true, indexFn: func([]Record) error { return errors.New("index full") }}
	svc := NewService(primary, nil, logger)

	svc.IndexTodo(sample("a", 0))
	svc.Wait()

	entry := hook.LastEntry()
	if entry == nil || entry.Data["todo_id"] != "a" {
		t.Fatalf("expected logged failure for todo a, got %+v", entry)
	}
}

func TestReindexAll(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	svc := NewService(primary, nil, quietLogger())

	items := []todo.Todo{sample("a", 0), sample("b", 1)}
	if err := svc.ReindexAll(context.Background(), fakeSource{items: items}); err != nil {
		t.Fatalf("ReindexAll() error = %v", err)
	}
	if len(primary.indexed) != 2 || primary.indexed[1].CreatedAt != "2026-03-01T12:01:00Z" {
		t.Fatalf("unexpected records %+v", primary.indexed)
	}

	if err := svc.ReindexAll(context.Background(), fakeSource{err: errors.New("boom")}); err == nil {
		t.Fatal("expected load error")
	}
}

func TestRecordRoundTripsTimestamps(t *testing.T) {
	in := sample("a", 3)
	in.UpdatedAt = in.CreatedAt.Add(time.Second)
	in.Completed = true
	if diff := cmp.Diff(in, recordFromTodo(in).todo()); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}
