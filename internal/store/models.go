package store

import (
	"database/sql"
	"fmt"
	"time"

	"todostarter/internal/todo"
)

// User is an account row. VerificationToken is empty once the address has
// been confirmed.
type User struct {
	ID                    string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type rowScanner interface{ Scan(...any) error }

const userColumns = `id, email, password_hash, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	var expires sql.NullTime
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.VerificationToken, &expires, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if expires.Valid {
		t := expires.Time
		user.VerificationExpiresAt = &t
	}
	return user, nil
}

const todoColumns = `id, title, completed, user_id, created_at, updated_at`

func scanTodo(row rowScanner) (todo.Todo, error) {
	var item todo.Todo
	err := row.Scan(&item.ID, &item.Title, &item.Completed, &item.UserID, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

// scanTodos drains rows and closes them. The result is never nil so an empty
// list encodes as [].
func scanTodos(rows *sql.Rows) ([]todo.Todo, error) {
	defer rows.Close()
	items := make([]todo.Todo, 0)
	for rows.Next() {
		item, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate todos: %w", err)
	}
	return items, nil
}
