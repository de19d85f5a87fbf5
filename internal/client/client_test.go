package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"todostarter/internal/identity"
	"todostarter/internal/todo"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

type requestLog struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (l *requestLog) all() []recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedRequest(nil), l.reqs...)
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r recordedRequest)) (*Client, *requestLog) {
	t.Helper()
	seen := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, rec)
		seen.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handler(w, rec)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL), seen
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var alice = todo.Identity{UserID: "user-alice", AccessToken: "tok-alice"}

func TestSignInDecodesSession(t *testing.T) {
	c, seen := newTestServer(t, func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken":  "acc",
			"refreshToken": "ref",
			"expiresAt":    1767225600,
			"user":         map[string]any{"id": "user-alice", "email": "alice@example.com"},
		})
	})

	got, err := c.SignIn(context.Background(), "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	want := identity.Session{
		UserID:       "user-alice",
		Email:        "alice@example.com",
		AccessToken:  "acc",
		RefreshToken: "ref",
		ExpiresAt:    time.Unix(1767225600, 0),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("SignIn() mismatch (-want +got):\n%s", diff)
	}
	req := seen.all()[0]
	if req.method != http.MethodPost || req.path != "/api/auth/signin" || req.body["email"] != "alice@example.com" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestSignUpAwaitingVerificationHasNoTokens(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r recordedRequest) {
		writeJSON(w, http.StatusCreated, map[string]any{
			"user":                      map[string]any{"id": "user-alice", "email": "alice@example.com"},
			"session":                   nil,
			"requiresEmailVerification": true,
		})
	})
	got, err := c.SignUp(context.Background(), "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if got.Valid() || got.UserID != "user-alice" {
		t.Fatalf("expected an unusable session for user-alice, got %+v", got)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
		check  func(t *testing.T, err error)
	}{
		{
			name:   "validation",
			status: http.StatusUnprocessableEntity,
			body: map[string]any{"code": "VALIDATION_ERROR", "error": "validation failed",
				"details": []map[string]string{{"field": "title", "message": "title is required"}}},
			check: func(t *testing.T, err error) {
				var verr *todo.ValidationError
				if !errors.As(err, &verr) || !verr.Has("title") {
					t.Fatalf("expected title ValidationError, got %v", err)
				}
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   map[string]any{"code": "UNAUTHORIZED", "error": "Unauthorized"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, todo.ErrUnauthenticated) {
					t.Fatalf("expected ErrUnauthenticated, got %v", err)
				}
			},
		},
		{
			name:   "invalid credentials stay an api error",
			status: http.StatusUnauthorized,
			body:   map[string]any{"code": "INVALID_CREDENTIALS", "error": "Invalid email or password"},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_CREDENTIALS" || err.Error() != "Invalid email or password" {
					t.Fatalf("expected INVALID_CREDENTIALS APIError, got %v", err)
				}
				if errors.Is(err, todo.ErrUnauthenticated) {
					t.Fatal("wrong credentials are not a lost session")
				}
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   map[string]any{"code": "NOT_FOUND", "error": "Not found"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, todo.ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   map[string]any{"code": "SERVER_ERROR", "error": "Server error"},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
					t.Fatalf("expected 500 APIError, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestServer(t, func(w http.ResponseWriter, r recordedRequest) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.UpdateTodo(context.Background(), alice, "t1", todo.Patch{})
			tt.check(t, err)
		})
	}
}

func TestRowsRequests(t *testing.T) {
	created := todo.Todo{ID: "t1", Title: "Buy milk", UserID: "user-alice", CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, seen := newTestServer(t, func(w http.ResponseWriter, r recordedRequest) {
		switch {
		case r.method == http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"todos": []todo.Todo{created}})
		case r.method == http.MethodPost:
			writeJSON(w, http.StatusCreated, created)
		case r.method == http.MethodPatch:
			writeJSON(w, http.StatusOK, created)
		case r.path == "/api/todos/completed":
			writeJSON(w, http.StatusOK, map[string]any{"deleted": 2, "ids": []string{"a", "b"}})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		}
	})
	ctx := context.Background()

	items, err := c.SelectTodos(ctx, alice)
	if err != nil || len(items) != 1 || !items[0].CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("SelectTodos() = %+v, %v", items, err)
	}
	if _, err := c.InsertTodo(ctx, alice, todo.NewRow{Title: "Buy milk", UserID: "user-alice"}); err != nil {
		t.Fatalf("InsertTodo() error = %v", err)
	}
	done := true
	if _, err := c.UpdateTodo(ctx, alice, "t/1", todo.Patch{Completed: &done, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("UpdateTodo() error = %v", err)
	}
	if err := c.DeleteTodo(ctx, alice, "t1"); err != nil {
		t.Fatalf("DeleteTodo() error = %v", err)
	}
	ids, err := c.DeleteCompletedTodos(ctx, alice)
	if err != nil || len(ids) != 2 {
		t.Fatalf("DeleteCompletedTodos() = %v, %v", ids, err)
	}
	if _, err := c.SearchTodos(ctx, alice, "milk & eggs"); err != nil {
		t.Fatalf("SearchTodos() error = %v", err)
	}

	reqs := seen.all()
	for _, req := range reqs {
		if req.auth != "Bearer tok-alice" {
			t.Fatalf("%s %s sent auth %q", req.method, req.path, req.auth)
		}
	}
	if reqs[1].body["title"] != "Buy milk" {
		t.Fatalf("insert body = %v", reqs[1].body)
	}
	if _, sent := reqs[1].body["user_id"]; sent {
		t.Fatal("the owner is taken from the token, not the body")
	}
	patch := reqs[2]
	if patch.path != "/api/todos/t/1" && patch.path != "/api/todos/t%2F1" {
		t.Fatalf("unexpected patch path %s", patch.path)
	}
	if _, sent := patch.body["title"]; sent || patch.body["completed"] != true {
		t.Fatalf("patch must only carry provided fields, got %v", patch.body)
	}
	if reqs[5].query != "q=milk+%26+eggs" {
		t.Fatalf("unexpected search query %q", reqs[5].query)
	}
}

func TestTransportErrorIsWrapped(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.SelectTodos(context.Background(), alice)
	if err == nil || errors.Is(err, todo.ErrUnauthenticated) {
		t.Fatalf("expected a transport error, got %v", err)
	}
}

func TestGatewayOverClientWithSessionCache(t *testing.T) {
	c, seen := newTestServer(t, func(w http.ResponseWriter, r recordedRequest) {
		switch r.path {
		case "/api/auth/signin":
			writeJSON(w, http.StatusOK, map[string]any{
				"accessToken":  "acc",
				"refreshToken": "ref",
				"expiresAt":    time.Now().Add(time.Hour).Unix(),
				"user":         map[string]any{"id": "user-alice", "email": "alice@example.com"},
			})
		case "/api/todos":
			writeJSON(w, http.StatusOK, map[string]any{"todos": []todo.Todo{}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"code": "NOT_FOUND"})
		}
	})
	sessions := identity.NewCache(c)
	gateway := todo.NewGateway(c, sessions)
	ctx := context.Background()

	if _, err := gateway.List(ctx); !errors.Is(err, todo.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated before sign-in, got %v", err)
	}
	if len(seen.all()) != 0 {
		t.Fatal("no request may be sent without a session")
	}

	if _, err := sessions.SignIn(ctx, "alice@example.com", "password123"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	items, err := gateway.List(ctx)
	if err != nil || len(items) != 0 {
		t.Fatalf("List() = %v, %v", items, err)
	}
	if last := seen.all()[1]; last.auth != "Bearer acc" {
		t.Fatalf("list sent auth %q", last.auth)
	}
}
