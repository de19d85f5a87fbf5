package todo

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"todostarter/internal/querycache"
)

// ListKey is the cache key of the current user's list view.
const ListKey = "todos"

const DefaultStaleTime = 2 * time.Minute

// View is what the UI renders: a snapshot of the list plus its status.
type View struct {
	Todos   []Todo
	Loaded  bool
	Loading bool
	Stale   bool
	Err     error
}

// List presents a single synchronized list of the caller's todos. It is the
// only writer of the cached view; callers receive copies.
type List struct {
	gateway   *Gateway
	cache     *querycache.Cache[[]Todo]
	staleTime time.Duration
	log       log.FieldLogger
}

func NewList(gateway *Gateway, cache *querycache.Cache[[]Todo], staleTime time.Duration, logger log.FieldLogger) *List {
	if staleTime <= 0 {
		staleTime = DefaultStaleTime
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &List{
		gateway:   gateway,
		cache:     cache,
		staleTime: staleTime,
		log:       logger.WithField("component", "todo.list"),
	}
}

// Todos returns the cached list while it is fresh, otherwise it fetches.
func (l *List) Todos(ctx context.Context) ([]Todo, error) {
	items, err := l.cache.Fetch(ctx, ListKey, l.staleTime, l.gateway.List)
	if err != nil {
		l.log.WithError(err).Warn("list todos failed")
		return nil, err
	}
	return cloneTodos(items), nil
}

// View returns the current state without fetching.
func (l *List) View() View {
	return toView(l.cache.Get(ListKey))
}

// Subscribe calls fn with a fresh View after every change of the list.
func (l *List) Subscribe(fn func(View)) (unsubscribe func()) {
	return l.cache.Subscribe(ListKey, func(snap querycache.Snapshot[[]Todo]) {
		fn(toView(snap))
	})
}

// Invalidate forces the next read to fetch.
func (l *List) Invalidate() {
	l.cache.Invalidate(ListKey)
}

// Reset drops the cached list, for example after sign-out.
func (l *List) Reset() {
	l.cache.Clear()
}

func (l *List) Add(ctx context.Context, in Input) (Todo, error) {
	created, err := l.gateway.Add(context.WithoutCancel(ctx), in)
	if err != nil {
		l.log.WithError(err).Warn("add todo failed")
		return Todo{}, err
	}
	l.Invalidate()
	return created, nil
}

func (l *List) Update(ctx context.Context, id string, in UpdateInput) (Todo, error) {
	updated, err := l.gateway.Update(context.WithoutCancel(ctx), id, in)
	if err != nil {
		l.log.WithError(err).WithField("todo_id", id).Warn("update todo failed")
		return Todo{}, err
	}
	l.Invalidate()
	return updated, nil
}

func (l *List) Delete(ctx context.Context, id string) error {
	if err := l.gateway.Delete(context.WithoutCancel(ctx), id); err != nil {
		l.log.WithError(err).WithField("todo_id", id).Warn("delete todo failed")
		return err
	}
	l.Invalidate()
	return nil
}

func (l *List) DeleteCompleted(ctx context.Context) (int, error) {
	count, err := l.gateway.DeleteCompleted(context.WithoutCancel(ctx))
	if err != nil {
		l.log.WithError(err).Warn("delete completed todos failed")
		return 0, err
	}
	l.Invalidate()
	return count, nil
}

// Toggle sets completed on one todo. The change is visible in View before the
// remote call returns and is rolled back to the exact previous view if the
// call fails. The list is invalidated afterwards in both cases. A Reset while
// the call is in flight wins over both the optimistic value and the rollback.
func (l *List) Toggle(ctx context.Context, id string, completed bool) (Todo, error) {
	hold := l.cache.Suspend(ListKey)
	defer func() {
		hold.Release()
		l.cache.Invalidate(ListKey)
	}()

	previous := hold.Snapshot()
	if previous.HasData {
		hold.Set(withCompleted(previous.Data, id, completed))
	}

	updated, err := l.gateway.Update(context.WithoutCancel(ctx), id, UpdateInput{Completed: &completed})
	if err != nil {
		if previous.HasData && !hold.Restore(previous) {
			l.log.WithField("todo_id", id).Debug("list was reset during toggle, nothing to roll back")
		}
		l.log.WithError(err).WithField("todo_id", id).Warn("toggle todo failed, rolled back")
		return Todo{}, err
	}
	return updated, nil
}

func toView(snap querycache.Snapshot[[]Todo]) View {
	return View{
		Todos:   cloneTodos(snap.Data),
		Loaded:  snap.HasData,
		Loading: snap.Fetching,
		Stale:   snap.Invalid,
		Err:     snap.Err,
	}
}

func cloneTodos(items []Todo) []Todo {
	if items == nil {
		return nil
	}
	out := make([]Todo, len(items))
	copy(out, items)
	return out
}
