package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"todostarter/internal/todo"
)

func migratedStore(t *testing.T) *PostgresStore {
	t.Helper()
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func createTestUser(t *testing.T, s *PostgresStore, email string) todo.Identity {
	t.Helper()
	user := User{ID: "user-" + strings.Split(email, "@")[0], Email: email, PasswordHash: "x", IsEmailVerified: true}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser(%s) error = %v", email, err)
	}
	return todo.Identity{UserID: user.ID, Email: email}
}

func TestPostgresTodosOwnershipFilter(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, "alice@example.com")
	bob := createTestUser(t, s, "bob@example.com")

	created, err := s.InsertTodo(ctx, alice, todo.NewRow{Title: "Buy milk", UserID: alice.UserID})
	if err != nil {
		t.Fatalf("InsertTodo() error = %v", err)
	}
	if created.Completed || created.UserID != alice.UserID || created.CreatedAt.IsZero() {
		t.Fatalf("unexpected inserted row %+v", created)
	}

	bobs, err := s.SelectTodos(ctx, bob)
	if err != nil {
		t.Fatalf("SelectTodos(bob) error = %v", err)
	}
	if len(bobs) != 0 {
		t.Fatalf("bob must not see alice's todos, got %+v", bobs)
	}

	done := true
	if _, err := s.UpdateTodo(ctx, bob, created.ID, todo.Patch{Completed: &done, UpdatedAt: time.Now()}); !errors.Is(err, todo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for bob's update, got %v", err)
	}
	if err := s.DeleteTodo(ctx, bob, created.ID); err != nil {
		t.Fatalf("DeleteTodo(bob) error = %v", err)
	}
	ids, err := s.DeleteCompletedTodos(ctx, bob)
	if err != nil || len(ids) != 0 {
		t.Fatalf("DeleteCompletedTodos(bob) = %v, %v", ids, err)
	}

	items, err := s.SelectTodos(ctx, alice)
	if err != nil || len(items) != 1 {
		t.Fatalf("alice's todo must survive bob's calls: %+v, %v", items, err)
	}
}

func TestPostgresUpdateTodoWritesOnlyProvidedFields(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, "alice@example.com")

	created, err := s.InsertTodo(ctx, alice, todo.NewRow{Title: "Buy milk", UserID: alice.UserID})
	if err != nil {
		t.Fatalf("InsertTodo() error = %v", err)
	}
	done := true
	stamp := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	updated, err := s.UpdateTodo(ctx, alice, created.ID, todo.Patch{Completed: &done, UpdatedAt: stamp})
	if err != nil {
		t.Fatalf("UpdateTodo() error = %v", err)
	}
	if updated.Title != "Buy milk" || !updated.Completed {
		t.Fatalf("unexpected row %+v", updated)
	}
	if !updated.UpdatedAt.Equal(stamp) {
		t.Fatalf("updated_at = %v, want %v", updated.UpdatedAt, stamp)
	}

	title := "Buy oat milk"
	updated, err = s.UpdateTodo(ctx, alice, created.ID, todo.Patch{Title: &title, UpdatedAt: stamp})
	if err != nil {
		t.Fatalf("UpdateTodo(title) error = %v", err)
	}
	if updated.Title != title || !updated.Completed {
		t.Fatalf("completed must be untouched by a title update, got %+v", updated)
	}
}

func TestPostgresRejectsOversizedTitle(t *testing.T) {
	s := migratedStore(t)
	alice := createTestUser(t, s, "alice@example.com")
	_, err := s.InsertTodo(context.Background(), alice, todo.NewRow{Title: strings.Repeat("a", 101), UserID: alice.UserID})
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
}

func TestPostgresDuplicateEmail(t *testing.T) {
	s := migratedStore(t)
	createTestUser(t, s, "alice@example.com")
	err := s.CreateUser(context.Background(), User{ID: "other", Email: "ALICE@example.com", PasswordHash: "x"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPostgresPasswordResetLifecycle(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, "alice@example.com")

	if err := s.CreatePasswordReset(ctx, alice.UserID, "reset-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreatePasswordReset() error = %v", err)
	}
	userID, err := s.GetPasswordReset(ctx, "reset-1")
	if err != nil || userID != alice.UserID {
		t.Fatalf("GetPasswordReset() = %q, %v", userID, err)
	}
	if err := s.MarkPasswordResetUsed(ctx, "reset-1"); err != nil {
		t.Fatalf("MarkPasswordResetUsed() error = %v", err)
	}
	if _, err := s.GetPasswordReset(ctx, "reset-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("used token must not resolve, got %v", err)
	}
}
