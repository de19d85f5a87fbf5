package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"todostarter/internal/authpw"
	"todostarter/internal/config"
	"todostarter/internal/search"
	"todostarter/internal/store"
	"todostarter/internal/todo"
	"todostarter/internal/todo/todotest"
)

type resetRecord struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// fakeStore backs users, refresh sessions and revoked tokens in memory.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	verifications map[string]string
	resets        map[string]resetRecord
	refresh       map[string]string
	revoked       map[string]time.Time

	getUserByIDFn func(context.Context, string) (store.User, error)
	revokeFn      func(context.Context, string) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]store.User),
		verifications: make(map[string]string),
		resets:        make(map[string]resetRecord),
		refresh:       make(map[string]string),
		revoked:       make(map[string]time.Time),
	}
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[id]; ok {
		return user, nil
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.ErrConflict
		}
	}
	f.users[user.ID] = user
	if user.VerificationToken != "" {
		f.verifications[user.VerificationToken] = user.ID
	}
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	f.verifications[token] = userID
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.verifications[token]
	if !ok {
		return store.ErrNotFound
	}
	user := f.users[userID]
	user.IsEmailVerified = true
	user.VerificationToken = ""
	f.users[userID] = user
	delete(f.verifications, token)
	return nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = resetRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reset, ok := f.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", store.ErrNotFound
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reset, ok := f.resets[token]; ok {
		reset.used = true
		f.resets[token] = reset
	}
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeFn != nil {
		if err := f.revokeFn(ctx, tokenHash); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = exp
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

type sentMail struct {
	kind string
	to   string
	link string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) IsConfigured() bool { return true }

func (m *fakeMailer) SendVerificationEmail(to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{kind: "verify", to: to, link: link})
	return nil
}

func (m *fakeMailer) SendPasswordResetEmail(to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{kind: "reset", to: to, link: link})
	return nil
}

type fakeSearcher struct {
	searchFn func(context.Context, search.Query) ([]todo.Todo, error)
}

func (f fakeSearcher) Search(ctx context.Context, q search.Query) ([]todo.Todo, error) {
	return f.searchFn(ctx, q)
}

type testEnv struct {
	store   *fakeStore
	rows    *todotest.Rows
	service *Service
	handler http.Handler
	hook    *test.Hook
}

type envOptions struct {
	requireVerification bool
	mailer              Mailer
	searcher            Searcher
	checks              []Check
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	fs := newFakeStore()
	rows := todotest.NewRows()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		PublicURL:  "https://todo.example.com/",
		CORSOrigin: "*",
	}
	svc := New(cfg, Deps{
		Auth:     authpw.NewService(fs, authpw.Options{RequireVerification: opts.requireVerification, Cost: bcrypt.MinCost}),
		Users:    fs,
		Sessions: fs,
		Todos:    rows,
		Search:   opts.searcher,
		Mailer:   opts.mailer,
		Checks:   opts.checks,
		Logger:   logger,
	})
	return &testEnv{
		store:   fs,
		rows:    rows,
		service: svc,
		handler: NewHTTPServer(svc, cfg.CORSOrigin, logger).Handler(),
		hook:    hook,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// signUp registers an account on an env without verification and returns
// its access and refresh tokens.
func (e *testEnv) signUp(t *testing.T, email string) (string, string) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": email, "password": "password123"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body=%s", email, rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	session, ok := payload["session"].(map[string]any)
	if !ok {
		t.Fatalf("signup %s: no session in %v", email, payload)
	}
	return session["accessToken"].(string), session["refreshToken"].(string)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
	return payload
}

func TestPublicLinkEscapesToken(t *testing.T) {
	svc := New(config.Config{PublicURL: "https://todo.example.com/"}, Deps{})
	got := svc.publicLink("/verify-email", "a b&c")
	if got != "https://todo.example.com/verify-email?token=a+b%26c" {
		t.Fatalf("publicLink() = %s", got)
	}
}

func TestSearchWithoutBackendFiltersList(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.rows.Seed(
		todo.Todo{ID: "1", Title: "Buy milk", UserID: "user-alice"},
		todo.Todo{ID: "2", Title: "Walk dog", UserID: "user-alice"},
		todo.Todo{ID: "3", Title: "Buy bread", UserID: "user-bob"},
	)
	ctx := withSession(context.Background(), Session{UserID: "user-alice"})

	got, err := env.service.SearchTodos(ctx, "  BUY ")
	if err != nil {
		t.Fatalf("SearchTodos() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("SearchTodos() = %+v", got)
	}
	if _, err := env.service.SearchTodos(context.Background(), "buy"); err != todo.ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated without session, got %v", err)
	}
}

func TestSignOutJoinsRevocationErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.store.revokeFn = func(context.Context, string) error { return errRedisDown }
	err := env.service.SignOut(context.Background(), Session{JTI: "jti_1", ExpiresAt: time.Now().Add(time.Hour)}, "rft")
	if err == nil || !strings.Contains(err.Error(), "revoke refresh session") {
		t.Fatalf("expected revoke error, got %v", err)
	}
	if revoked, _ := env.store.IsAccessTokenRevoked(context.Background(), "jti_1"); !revoked {
		t.Fatal("access token should be revoked even when refresh revocation fails")
	}
}
