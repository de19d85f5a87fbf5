package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"todostarter/internal/auth"
	"todostarter/internal/authpw"
	"todostarter/internal/config"
	"todostarter/internal/search"
	"todostarter/internal/store"
	"todostarter/internal/todo"
	"todostarter/internal/util"
)

const maxQueryLength = 200

// Session is the authenticated caller of one request, or a freshly issued
// token pair.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

// SessionStore keeps refresh sessions and the access token denylist.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]todo.Todo, error)
}

type Mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, verificationURL string) error
	SendPasswordResetEmail(to, resetURL string) error
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(context.Context) error
}

// Deps are the collaborators of a Service. Search and Mailer are optional.
type Deps struct {
	Auth     *authpw.Service
	Users    UserLookup
	Sessions SessionStore
	Todos    todo.Rows
	Search   Searcher
	Mailer   Mailer
	Checks   []Check
	Logger   log.FieldLogger
}

type Service struct {
	cfg      config.Config
	auth     *authpw.Service
	users    UserLookup
	sessions SessionStore
	todos    *todo.Gateway
	search   Searcher
	mailer   Mailer
	checks   []Check
	log      log.FieldLogger
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		cfg:      cfg,
		auth:     deps.Auth,
		users:    deps.Users,
		sessions: deps.Sessions,
		todos:    todo.NewGateway(deps.Todos, requestIdentity{}),
		search:   deps.Search,
		mailer:   deps.Mailer,
		checks:   deps.Checks,
		log:      logger.WithField("component", "app"),
		now:      time.Now,
	}
}

type sessionKey struct{}

func withSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

func sessionFrom(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(Session)
	return session, ok && session.UserID != ""
}

// requestIdentity resolves the todo owner from the session the HTTP layer
// attached to the request context.
type requestIdentity struct{}

func (requestIdentity) Identity(ctx context.Context) (todo.Identity, error) {
	session, ok := sessionFrom(ctx)
	if !ok {
		return todo.Identity{}, todo.ErrUnauthenticated
	}
	return todo.Identity{UserID: session.UserID, Email: session.Email, AccessToken: session.AccessToken}, nil
}

// Todos is the gateway used by every todo route. Its context must carry the
// caller's session.
func (s *Service) Todos() *todo.Gateway {
	return s.todos
}

type SignUpResult struct {
	User store.User
	// Session is nil while the address awaits verification.
	Session              *Session
	RequiresVerification bool
	// DevVerificationToken is only set when no mailer is configured.
	DevVerificationToken string
}

func (s *Service) SignUp(ctx context.Context, email, password string) (SignUpResult, error) {
	resp, err := s.auth.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password})
	if err != nil {
		return SignUpResult{}, err
	}
	result := SignUpResult{User: resp.User, RequiresVerification: resp.RequiresEmailVerify}

	if resp.RequiresEmailVerify {
		if s.mailConfigured() {
			link := s.publicLink("/verify-email", resp.VerificationToken)
			if err := s.mailer.SendVerificationEmail(resp.User.Email, link); err != nil {
				s.log.WithError(err).WithField("user_id", resp.User.ID).Warn("send verification email")
			}
		} else {
			result.DevVerificationToken = resp.VerificationToken
		}
		return result, nil
	}

	session, err := s.issueSession(ctx, resp.User)
	if err != nil {
		return SignUpResult{}, err
	}
	result.Session = &session
	return result, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked and a new pair is
// issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	user, err := s.users.GetUserByID(ctx, ref.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		AccessToken:  token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    time.Unix(expiresAt.Unix(), 0),
	}, nil
}

// SessionFromToken authenticates a bearer token. Revoked tokens and tokens of
// deleted users are rejected with auth.ErrInvalidToken.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check revoked token: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.users.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}

	return Session{
		AccessToken: token,
		UserID:      user.ID,
		Email:       user.Email,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

// SignOut revokes whatever the caller presented. Either token may be empty.
func (s *Service) SignOut(ctx context.Context, session Session, refreshToken string) error {
	var errs []error
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			errs = append(errs, fmt.Errorf("revoke access token: %w", err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			errs = append(errs, fmt.Errorf("revoke refresh session: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) CurrentUser(ctx context.Context, session Session) (store.User, error) {
	user, err := s.users.GetUserByID(ctx, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, todo.ErrUnauthenticated
	}
	return user, err
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.auth.VerifyEmail(ctx, token)
}

// ResendVerification mails a new verification link. The token is returned
// only when no mailer is configured.
func (s *Service) ResendVerification(ctx context.Context, email string) (string, error) {
	token, err := s.auth.ResendVerification(ctx, email)
	if err != nil || token == "" {
		return "", err
	}
	if !s.mailConfigured() {
		return token, nil
	}
	if err := s.mailer.SendVerificationEmail(strings.ToLower(strings.TrimSpace(email)), s.publicLink("/verify-email", token)); err != nil {
		return "", fmt.Errorf("send verification email: %w", err)
	}
	return "", nil
}

// RequestPasswordReset mails a reset link. The token is returned only when
// no mailer is configured.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	token, err := s.auth.RequestPasswordReset(ctx, email)
	if err != nil || token == "" {
		return "", err
	}
	if !s.mailConfigured() {
		return token, nil
	}
	if err := s.mailer.SendPasswordResetEmail(strings.ToLower(strings.TrimSpace(email)), s.publicLink("/reset-password", token)); err != nil {
		return "", fmt.Errorf("send password reset email: %w", err)
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.auth.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	if err != nil {
		return err
	}
	s.log.WithField("user_id", userID).Info("password reset")
	return nil
}

// SearchTodos matches titles of the caller's todos. Without a search backend
// it filters the caller's list in memory.
func (s *Service) SearchTodos(ctx context.Context, text string) ([]todo.Todo, error) {
	session, ok := sessionFrom(ctx)
	if !ok {
		return nil, todo.ErrUnauthenticated
	}
	if utf8.RuneCountInString(text) > maxQueryLength {
		return nil, invalidField("q", fmt.Sprintf("must be at most %d characters", maxQueryLength))
	}
	if s.search != nil {
		return s.search.Search(ctx, search.Query{Text: text, UserID: session.UserID})
	}
	items, err := s.todos.List(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(text))
	matched := make([]todo.Todo, 0)
	for _, item := range items {
		if needle != "" && strings.Contains(strings.ToLower(item.Title), needle) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

// Ready runs every readiness check and returns the failures by name.
func (s *Service) Ready(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			failures[check.Name] = err
		}
	}
	return failures
}

func (s *Service) checkNames() []string {
	names := make([]string, 0, len(s.checks))
	for _, check := range s.checks {
		names = append(names, check.Name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) mailConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) publicLink(path, token string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + path + "?token=" + url.QueryEscape(token)
}
