// Package identity keeps the signed-in user of a client process and tells
// interested components when it changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Session is what the auth service hands out on sign-in.
type Session struct {
	UserID       string    `json:"user_id" yaml:"user_id"`
	Email        string    `json:"email" yaml:"email"`
	AccessToken  string    `json:"access_token" yaml:"access_token"`
	RefreshToken string    `json:"refresh_token" yaml:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" yaml:"expires_at"`
}

// Valid reports whether s carries a usable identity.
func (s Session) Valid() bool {
	return s.UserID != "" && s.AccessToken != ""
}

// User is the identity behind an access token.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Provider is the remote auth service. Implementations return
// todo.ErrUnauthenticated when a token is rejected.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context, session Session) error
	Refresh(ctx context.Context, refreshToken string) (Session, error)
	CurrentUser(ctx context.Context, accessToken string) (User, error)
}

// Store persists the session between processes.
type Store interface {
	Load() (Session, bool, error)
	Save(Session) error
	Clear() error
}

// FileStore keeps the session in a YAML file readable only by the owner.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load() (Session, bool, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("read session file: %w", err)
	}
	var s Session
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Session{}, false, fmt.Errorf("decode session file: %w", err)
	}
	return s, s.Valid(), nil
}

func (f *FileStore) Save(s Session) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(f.Path, raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (f *FileStore) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// memoryStore is used when no Store is configured.
type memoryStore struct{}

func (memoryStore) Load() (Session, bool, error) { return Session{}, false, nil }
func (memoryStore) Save(Session) error           { return nil }
func (memoryStore) Clear() error                 { return nil }
