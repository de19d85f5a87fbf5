package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"todostarter/internal/todo"
)

// Event names a session change.
type Event string

const (
	InitialSession Event = "INITIAL_SESSION"
	SignedIn       Event = "SIGNED_IN"
	SignedOut      Event = "SIGNED_OUT"
	TokenRefreshed Event = "TOKEN_REFRESHED"
)

const (
	DefaultStaleTime = 5 * time.Minute
	// refreshLeeway is how long before expiry an access token is renewed.
	refreshLeeway = 30 * time.Second
)

// Listener receives every session change. session is the zero value after
// sign-out.
type Listener func(event Event, session Session)

// Cache holds the current session. It revalidates the session with the
// provider once its staleness window has passed and renews access tokens
// shortly before they expire.
type Cache struct {
	provider  Provider
	store     Store
	staleTime time.Duration
	now       func() time.Time
	log       log.FieldLogger

	mu        sync.Mutex
	session   Session
	checkedAt time.Time
	// version changes on every sign-in, refresh and sign-out so a slow
	// revalidation cannot resurrect a session that was replaced meanwhile.
	version   uint64
	listeners map[int]Listener
	nextID    int
	group     singleflight.Group
}

type Option func(*Cache)

func WithStore(s Store) Option { return func(c *Cache) { c.store = s } }

func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.staleTime = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func WithLogger(l log.FieldLogger) Option { return func(c *Cache) { c.log = l } }

func NewCache(provider Provider, opts ...Option) *Cache {
	c := &Cache{
		provider:  provider,
		store:     memoryStore{},
		staleTime: DefaultStaleTime,
		now:       time.Now,
		log:       log.StandardLogger(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "identity")
	return c
}

// Restore loads the persisted session and announces it as INITIAL_SESSION.
// The announced session is the zero value when none was stored.
func (c *Cache) Restore() error {
	s, ok, err := c.store.Load()
	if err != nil {
		c.emit(InitialSession, Session{})
		return err
	}
	if !ok {
		s = Session{}
	}
	c.mu.Lock()
	c.session = s
	// A restored session is revalidated on first use.
	c.checkedAt = time.Time{}
	c.version++
	c.mu.Unlock()
	c.emit(InitialSession, s)
	return nil
}

func (c *Cache) SignUp(ctx context.Context, email, password string) (Session, error) {
	s, err := c.provider.SignUp(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	// No session is issued while the address awaits verification.
	if !s.Valid() {
		return s, nil
	}
	if err := c.replace(s, SignedIn); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (c *Cache) SignIn(ctx context.Context, email, password string) (Session, error) {
	s, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	if err := c.replace(s, SignedIn); err != nil {
		return Session{}, err
	}
	return s, nil
}

// SignOut forgets the local session even when the provider call fails.
func (c *Cache) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	var remoteErr error
	if s.Valid() {
		if err := c.provider.SignOut(ctx, s); err != nil {
			c.log.WithError(err).Warn("remote sign-out failed")
			remoteErr = fmt.Errorf("sign out: %w", err)
		}
	}
	return errors.Join(remoteErr, c.clear())
}

// Current returns the signed-in session, revalidating or refreshing it when
// needed. ok is false when nobody is signed in.
func (c *Cache) Current(ctx context.Context) (Session, bool, error) {
	c.mu.Lock()
	s, checkedAt := c.session, c.checkedAt
	c.mu.Unlock()
	if !s.Valid() {
		return Session{}, false, nil
	}

	now := c.now()
	expiring := !s.ExpiresAt.IsZero() && s.ExpiresAt.Sub(now) < refreshLeeway
	if !expiring && now.Sub(checkedAt) < c.staleTime {
		return s, true, nil
	}

	v, err, _ := c.group.Do("current", func() (any, error) {
		return c.revalidate(ctx, expiring)
	})
	if err != nil {
		if errors.Is(err, todo.ErrUnauthenticated) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return v.(Session), true, nil
}

// Identity implements todo.IdentitySource.
func (c *Cache) Identity(ctx context.Context) (todo.Identity, error) {
	s, ok, err := c.Current(ctx)
	if err != nil {
		return todo.Identity{}, err
	}
	if !ok {
		return todo.Identity{}, todo.ErrUnauthenticated
	}
	return todo.Identity{UserID: s.UserID, Email: s.Email, AccessToken: s.AccessToken}, nil
}

// OnChange registers fn until unsubscribe is called.
func (c *Cache) OnChange(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cache) revalidate(ctx context.Context, expiring bool) (Session, error) {
	c.mu.Lock()
	s, version := c.session, c.version
	c.mu.Unlock()

	if expiring {
		fresh, err := c.provider.Refresh(ctx, s.RefreshToken)
		if err != nil {
			return Session{}, c.rejected(version, fmt.Errorf("refresh session: %w", err))
		}
		if !c.replaceIf(version, fresh, TokenRefreshed) {
			return c.snapshot()
		}
		return fresh, nil
	}

	user, err := c.provider.CurrentUser(ctx, s.AccessToken)
	if err != nil {
		return Session{}, c.rejected(version, fmt.Errorf("get current user: %w", err))
	}

	c.mu.Lock()
	if c.version != version {
		c.mu.Unlock()
		return c.snapshot()
	}
	c.session.Email = user.Email
	c.checkedAt = c.now()
	s = c.session
	c.mu.Unlock()
	return s, nil
}

// rejected signs the user out locally when the provider no longer accepts
// the session. Other errors leave the session in place.
func (c *Cache) rejected(version uint64, err error) error {
	if !errors.Is(err, todo.ErrUnauthenticated) {
		return err
	}
	c.mu.Lock()
	current := c.version == version
	c.mu.Unlock()
	if current {
		if clearErr := c.clear(); clearErr != nil {
			c.log.WithError(clearErr).Warn("clear rejected session")
		}
	}
	return err
}

func (c *Cache) snapshot() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.Valid() {
		return Session{}, todo.ErrUnauthenticated
	}
	return c.session, nil
}

func (c *Cache) replace(s Session, event Event) error {
	c.mu.Lock()
	c.session = s
	c.checkedAt = c.now()
	c.version++
	c.mu.Unlock()
	c.emit(event, s)
	if err := c.store.Save(s); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (c *Cache) replaceIf(version uint64, s Session, event Event) bool {
	c.mu.Lock()
	if c.version != version {
		c.mu.Unlock()
		return false
	}
	c.session = s
	c.checkedAt = c.now()
	c.version++
	c.mu.Unlock()
	c.emit(event, s)
	if err := c.store.Save(s); err != nil {
		c.log.WithError(err).Warn("persist refreshed session")
	}
	return true
}

func (c *Cache) clear() error {
	c.mu.Lock()
	c.session = Session{}
	c.checkedAt = time.Time{}
	c.version++
	c.mu.Unlock()
	c.emit(SignedOut, Session{})
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (c *Cache) emit(event Event, s Session) {
	c.mu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(event, s)
	}
}
