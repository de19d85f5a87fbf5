package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"todostarter/internal/todo"
	"todostarter/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	if user.ID == "" {
		user.ID = util.NewID("")
	}
	var token any
	if user.VerificationToken != "" {
		token = user.VerificationToken
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, normalizeEmail(user.Email), user.PasswordHash, user.IsEmailVerified, token, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("create user: %w", mapPgError(err))
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token = $2, verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", mapPgError(err))
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token = $1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at = NOW() WHERE token = $1`, token); err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// SelectTodos returns the owner's todos newest first. Rows with equal
// created_at come back in whatever order Postgres produces.
func (s *PostgresStore) SelectTodos(ctx context.Context, owner todo.Identity) ([]todo.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE user_id = $1 ORDER BY created_at DESC`, owner.UserID)
	if err != nil {
		return nil, fmt.Errorf("select todos: %w", err)
	}
	return scanTodos(rows)
}

func (s *PostgresStore) InsertTodo(ctx context.Context, owner todo.Identity, row todo.NewRow) (todo.Todo, error) {
	item, err := scanTodo(s.db.QueryRowContext(ctx, `
		INSERT INTO todos (id, title, completed, user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+todoColumns,
		util.NewID(""), row.Title, row.Completed, owner.UserID))
	if err != nil {
		return todo.Todo{}, fmt.Errorf("insert todo: %w", mapPgError(err))
	}
	return item, nil
}

// UpdateTodo writes only the fields present in patch. A todo that does not
// belong to owner is reported as todo.ErrNotFound.
func (s *PostgresStore) UpdateTodo(ctx context.Context, owner todo.Identity, id string, patch todo.Patch) (todo.Todo, error) {
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	item, err := scanTodo(s.db.QueryRowContext(ctx, `
		UPDATE todos
		SET title = COALESCE($3::text, title),
			completed = COALESCE($4::boolean, completed),
			updated_at = $5
		WHERE id = $1 AND user_id = $2
		RETURNING `+todoColumns,
		id, owner.UserID, patch.Title, patch.Completed, updatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Todo{}, todo.ErrNotFound
	}
	if err != nil {
		return todo.Todo{}, fmt.Errorf("update todo: %w", mapPgError(err))
	}
	return item, nil
}

func (s *PostgresStore) DeleteTodo(ctx context.Context, owner todo.Identity, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = $1 AND user_id = $2`, id, owner.UserID); err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCompletedTodos(ctx context.Context, owner todo.Identity) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM todos WHERE user_id = $1 AND completed RETURNING id`, owner.UserID)
	if err != nil {
		return nil, fmt.Errorf("delete completed todos: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted ids: %w", err)
	}
	return ids, nil
}

// ListAllTodos feeds search reindexing.
func (s *PostgresStore) ListAllTodos(ctx context.Context) ([]todo.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+todoColumns+` FROM todos ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list all todos: %w", err)
	}
	return scanTodos(rows)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
