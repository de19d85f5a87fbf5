package client

import (
	"context"
	"net/http"
	"time"

	"todostarter/internal/identity"
)

var _ identity.Provider = (*Client)(nil)

type sessionBody struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (b sessionBody) session() identity.Session {
	s := identity.Session{
		UserID:       b.User.ID,
		Email:        b.User.Email,
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
	}
	if b.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(b.ExpiresAt, 0)
	}
	return s
}

type userBody struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp returns a session without tokens while the address awaits
// verification.
func (c *Client) SignUp(ctx context.Context, email, password string) (identity.Session, error) {
	var out struct {
		User    userBody     `json:"user"`
		Session *sessionBody `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", "", credentials{email, password}, &out); err != nil {
		return identity.Session{}, err
	}
	if out.Session == nil {
		return identity.Session{UserID: out.User.ID, Email: out.User.Email}, nil
	}
	return out.Session.session(), nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (identity.Session, error) {
	var out sessionBody
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", "", credentials{email, password}, &out); err != nil {
		return identity.Session{}, err
	}
	return out.session(), nil
}

func (c *Client) SignOut(ctx context.Context, s identity.Session) error {
	body := map[string]string{"refreshToken": s.RefreshToken}
	return c.do(ctx, http.MethodPost, "/api/auth/signout", s.AccessToken, body, nil)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (identity.Session, error) {
	var out sessionBody
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", "", body, &out); err != nil {
		return identity.Session{}, err
	}
	return out.session(), nil
}

func (c *Client) CurrentUser(ctx context.Context, accessToken string) (identity.User, error) {
	var out struct {
		User userBody `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/user", accessToken, nil, &out); err != nil {
		return identity.User{}, err
	}
	return identity.User{ID: out.User.ID, Email: out.User.Email, EmailVerified: out.User.EmailVerified}, nil
}

func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": token}, nil)
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/reset-password/request", "", map[string]string{"email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	body := map[string]string{"token": token, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, "/api/auth/reset-password", "", body, nil)
}
