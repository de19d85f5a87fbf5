// Package querycache keeps the last fetched value per key together with its
// freshness, validity and in-flight fetch state.
package querycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrCancelled is returned to readers whose fetch was cancelled and for whom
// no cached data exists.
var ErrCancelled = errors.New("querycache: fetch cancelled")

var errSuperseded = errors.New("querycache: fetch superseded")

// Fetcher loads the canonical value for a key. It must not have side effects.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Snapshot is a read-only view of one entry.
type Snapshot[T any] struct {
	Data      T
	HasData   bool
	UpdatedAt time.Time
	Invalid   bool
	Fetching  bool
	Err       error
}

// Listener receives the entry state after every change.
type Listener[T any] func(Snapshot[T])

type entry[T any] struct {
	data      T
	hasData   bool
	updatedAt time.Time
	invalid   bool
	err       error

	// gen changes whenever an in-flight fetch must not publish.
	gen           uint64
	invalidations uint64
	suspended     int
	fetching      int
	cancel        context.CancelFunc
}

// Cache is safe for concurrent use. Listeners are never called with the lock held.
type Cache[T any] struct {
	mu        sync.Mutex
	entries   map[string]*entry[T]
	listeners map[string]map[int]Listener[T]
	nextID    int
	group     singleflight.Group
	now       func() time.Time
}

type Option[T any] func(*Cache[T])

// WithClock replaces time.Now, for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) { c.now = now }
}

func New[T any](opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		entries:   make(map[string]*entry[T]),
		listeners: make(map[string]map[int]Listener[T]),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns cached data while it is valid and younger than staleTime.
// Otherwise it runs fn once for all concurrent readers of key and replaces
// the entry with the result. While the key is suspended, existing data is
// served as is and fetched results are not stored.
func (c *Cache[T]) Fetch(ctx context.Context, key string, staleTime time.Duration, fn Fetcher[T]) (T, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	if e.hasData && (e.suspended > 0 || (!e.invalid && c.now().Sub(e.updatedAt) < staleTime)) {
		data := e.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	var zero T
	ch := c.group.DoChan(key, func() (any, error) {
		return c.run(ctx, key, fn)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(T), nil
		}
		if !errors.Is(res.Err, errSuperseded) {
			return zero, res.Err
		}
		snap := c.Get(key)
		if snap.HasData {
			return snap.Data, nil
		}
		return zero, ErrCancelled
	}
}

func (c *Cache[T]) run(ctx context.Context, key string, fn Fetcher[T]) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	gen, invalidations := e.gen, e.invalidations
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.fetching++
	c.mu.Unlock()
	c.notify(key)

	data, err := fn(fetchCtx)
	cancel()

	c.mu.Lock()
	if e.fetching > 0 {
		e.fetching--
	}
	if c.entries[key] != e || e.gen != gen {
		c.mu.Unlock()
		c.notify(key)
		return nil, errSuperseded
	}
	e.cancel = nil
	switch {
	case err != nil:
		e.err = err
	case e.suspended > 0:
	default:
		e.data = data
		e.hasData = true
		e.updatedAt = c.now()
		e.invalid = e.invalidations != invalidations
		e.err = nil
	}
	c.mu.Unlock()
	c.notify(key)

	if err != nil {
		return nil, err
	}
	return data, nil
}

// Get returns the current state of key.
func (c *Cache[T]) Get(key string) Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(key)
}

// Set publishes data for key and marks it fresh.
func (c *Cache[T]) Set(key string, data T) {
	c.mu.Lock()
	setLocked(c.entryLocked(key), data, c.now())
	c.mu.Unlock()
	c.notify(key)
}

// Restore puts back a snapshot previously returned by Get.
func (c *Cache[T]) Restore(key string, snap Snapshot[T]) {
	c.mu.Lock()
	restoreLocked(c.entryLocked(key), snap)
	c.mu.Unlock()
	c.notify(key)
}

func setLocked[T any](e *entry[T], data T, now time.Time) {
	e.data = data
	e.hasData = true
	e.updatedAt = now
	e.invalid = false
	e.err = nil
}

func restoreLocked[T any](e *entry[T], snap Snapshot[T]) {
	var zero T
	if snap.HasData {
		e.data = snap.Data
	} else {
		e.data = zero
	}
	e.hasData = snap.HasData
	e.updatedAt = snap.UpdatedAt
	e.invalid = snap.Invalid
	e.err = snap.Err
}

// Invalidate marks key so the next read fetches again. Invalidating an
// already invalid entry changes nothing.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || (e.invalid && e.fetching == 0) {
		c.mu.Unlock()
		return
	}
	e.invalid = true
	e.invalidations++
	c.mu.Unlock()
	c.notify(key)
}

// Cancel stops any in-flight fetch of key. Its result is discarded.
func (c *Cache[T]) Cancel(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.cancelLocked(key, e)
	}
	c.mu.Unlock()
}

// Suspend cancels in-flight fetches of key and holds off publishing fetch
// results until the returned Hold is released.
func (c *Cache[T]) Suspend(key string) *Hold[T] {
	c.mu.Lock()
	e := c.entryLocked(key)
	c.cancelLocked(key, e)
	e.suspended++
	c.mu.Unlock()
	return &Hold[T]{c: c, key: key, e: e}
}

// Hold pins the entry that was current when Suspend was called. Its reads and
// writes go to that entry only: once Clear has replaced it, Snapshot is empty
// and Set and Restore do nothing.
type Hold[T any] struct {
	c    *Cache[T]
	key  string
	e    *entry[T]
	once sync.Once
}

// Snapshot returns the held entry's state.
func (h *Hold[T]) Snapshot() Snapshot[T] {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if !h.currentLocked() {
		return Snapshot[T]{}
	}
	return h.c.snapshotLocked(h.key)
}

// Set publishes data on the held entry. It reports whether the entry was
// still current.
func (h *Hold[T]) Set(data T) bool {
	h.c.mu.Lock()
	ok := h.currentLocked()
	if ok {
		setLocked(h.e, data, h.c.now())
	}
	h.c.mu.Unlock()
	if ok {
		h.c.notify(h.key)
	}
	return ok
}

// Restore puts snap back on the held entry. It reports whether the entry was
// still current.
func (h *Hold[T]) Restore(snap Snapshot[T]) bool {
	h.c.mu.Lock()
	ok := h.currentLocked()
	if ok {
		restoreLocked(h.e, snap)
	}
	h.c.mu.Unlock()
	if ok {
		h.c.notify(h.key)
	}
	return ok
}

// Release ends the suspension. It may be called more than once.
func (h *Hold[T]) Release() {
	h.once.Do(func() {
		h.c.mu.Lock()
		if h.e.suspended > 0 {
			h.e.suspended--
		}
		h.c.mu.Unlock()
	})
}

func (h *Hold[T]) currentLocked() bool {
	return h.c.entries[h.key] == h.e
}

// Subscribe registers fn for changes of key until unsubscribe is called.
func (c *Cache[T]) Subscribe(key string, fn Listener[T]) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if c.listeners[key] == nil {
		c.listeners[key] = make(map[int]Listener[T])
	}
	c.listeners[key][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners[key], id)
			if len(c.listeners[key]) == 0 {
				delete(c.listeners, key)
			}
			c.mu.Unlock()
		})
	}
}

// Clear drops every entry and cancels every in-flight fetch. Listeners stay
// registered and see an empty snapshot.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for key, e := range c.entries {
		c.cancelLocked(key, e)
		keys = append(keys, key)
	}
	c.entries = make(map[string]*entry[T])
	c.mu.Unlock()
	for _, key := range keys {
		c.notify(key)
	}
}

func (c *Cache[T]) cancelLocked(key string, e *entry[T]) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.gen++
	c.group.Forget(key)
}

func (c *Cache[T]) entryLocked(key string) *entry[T] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache[T]) snapshotLocked(key string) Snapshot[T] {
	e, ok := c.entries[key]
	if !ok {
		return Snapshot[T]{}
	}
	return Snapshot[T]{
		Data:      e.data,
		HasData:   e.hasData,
		UpdatedAt: e.updatedAt,
		Invalid:   e.invalid,
		Fetching:  e.fetching > 0,
		Err:       e.err,
	}
}

func (c *Cache[T]) notify(key string) {
	c.mu.Lock()
	snap := c.snapshotLocked(key)
	fns := make([]Listener[T], 0, len(c.listeners[key]))
	for _, fn := range c.listeners[key] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
