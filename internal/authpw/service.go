// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"todostarter/internal/store"
	"todostarter/internal/todo"
	"todostarter/internal/util"
)

const (
	MinPasswordLength = 8
	verificationTTL   = 24 * time.Hour
	resetTTL          = time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

type Options struct {
	// RequireVerification keeps new accounts from signing in until the
	// emailed token has been redeemed.
	RequireVerification bool
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

// Service provides email/password authentication
type Service struct {
	store UserStore
	opts  Options
	now   func() time.Time
}

func NewService(store UserStore, opts Options) *Service {
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}
	return &Service{store: store, opts: opts, now: time.Now}
}

func (s *Service) RequiresVerification() bool {
	return s.opts.RequireVerification
}

type SignUpRequest struct {
	Email    string
	Password string
}

type SignUpResponse struct {
	User                store.User
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates a new account. When verification is required the returned
// token must be mailed to the user.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	email, err := validateCredentials(req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.Cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:              util.NewID(""),
		Email:           email,
		PasswordHash:    string(hash),
		IsEmailVerified: !s.opts.RequireVerification,
	}
	resp := &SignUpResponse{RequiresEmailVerify: s.opts.RequireVerification}
	if s.opts.RequireVerification {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate verification token: %w", err)
		}
		expiresAt := s.now().Add(verificationTTL)
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		resp.VerificationToken = token
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	resp.User = user
	return resp, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn checks the password before revealing whether the address is verified.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if s.opts.RequireVerification && !user.IsEmailVerified {
		return store.User{}, ErrEmailNotVerified
	}
	return user, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}
	if err := s.store.VerifyUserEmail(ctx, token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("verify email: %w", err)
	}
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account. It returns an empty token when there is nothing to verify.
func (s *Service) ResendVerification(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil || user.IsEmailVerified {
		return "", nil
	}
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, token, s.now().Add(verificationTTL)); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}
	return token, nil
}

// RequestPasswordReset creates a reset token. Unknown addresses yield an
// empty token and no error so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", nil
	}
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, s.now().Add(resetTTL)); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	return token, nil
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword returns the ID of the user whose password changed.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	if err := validatePassword(req.NewPassword); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Token) == "" {
		return "", ErrInvalidToken
	}
	userID, err := s.store.GetPasswordReset(ctx, req.Token)
	if err != nil {
		return "", ErrInvalidToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.opts.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	if err := s.store.MarkPasswordResetUsed(ctx, req.Token); err != nil {
		return "", fmt.Errorf("mark reset used: %w", err)
	}
	return userID, nil
}

func validateCredentials(email, password string) (string, error) {
	var fields []todo.FieldError
	normalized := normalizeEmail(email)
	if normalized == "" {
		fields = append(fields, todo.FieldError{Field: "email", Message: "email is required"})
	} else if addr, err := mail.ParseAddress(normalized); err != nil || addr.Address != normalized {
		fields = append(fields, todo.FieldError{Field: "email", Message: "email is invalid"})
	}
	if err := validatePassword(password); err != nil {
		var verr *todo.ValidationError
		if errors.As(err, &verr) {
			fields = append(fields, verr.Fields...)
		}
	}
	if len(fields) > 0 {
		return "", &todo.ValidationError{Fields: fields}
	}
	return normalized, nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return &todo.ValidationError{Fields: []todo.FieldError{{
			Field:   "password",
			Message: fmt.Sprintf("password must be at least %d characters", MinPasswordLength),
		}}}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
