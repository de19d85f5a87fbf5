package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"todostarter/internal/auth"
	"todostarter/internal/authpw"
	"todostarter/internal/store"
	"todostarter/internal/todo"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        log.FieldLogger
}

func NewHTTPServer(service *Service, corsOrigin string, logger log.FieldLogger) *HTTPServer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: logger.WithField("component", "http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost {
		switch r.URL.Path {
		case "/api/auth/signup":
			s.handleAuthSignUp(w, r)
			return
		case "/api/auth/signin":
			s.handleAuthSignIn(w, r)
			return
		case "/api/auth/refresh":
			s.handleAuthRefresh(w, r)
			return
		case "/api/auth/signout":
			s.handleAuthSignOut(w, r)
			return
		case "/api/auth/verify-email":
			s.handleAuthVerifyEmail(w, r)
			return
		case "/api/auth/verify-email/resend":
			s.handleAuthResendVerification(w, r)
			return
		case "/api/auth/reset-password/request":
			s.handleAuthRequestReset(w, r)
			return
		case "/api/auth/reset-password":
			s.handleAuthResetPassword(w, r)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/user" {
		r, session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		user, err := s.service.CurrentUser(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(user)})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "todos" {
		r, _, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleTodos(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failures := s.service.Ready(ctx)
	checks := map[string]any{}
	for _, name := range s.service.checkNames() {
		if err, failed := failures[name]; failed {
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	status, statusCode := "ready", http.StatusOK
	if len(failures) > 0 {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     len(failures) == 0,
		"status": status,
		"checks": checks,
	})
}

// requireSession authenticates the bearer token and returns the request with
// the session attached to its context.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (*http.Request, Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return r, Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return r, Session{}, false
		}
		s.requestLog(r).WithError(err).Error("session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return r, Session{}, false
	}
	return r.WithContext(withSession(r.Context(), session)), session, true
}

// fail writes the mapped error response. Server errors are logged with their
// cause; the client only sees a generic message.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.requestLog(r).WithError(err).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		entry := s.log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		})
		if writer.status >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Info("request")
	})
}

func (s *HTTPServer) requestLog(r *http.Request) log.FieldLogger {
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	return s.log.WithField("request_id", requestID)
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return errInvalidBody
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *todo.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), validationErr.Fields
	}
	switch {
	case errors.Is(err, todo.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailNotVerified):
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidToken):
		return http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token", nil
	case errors.Is(err, todo.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrConstraint):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", unwrapMessage(err), nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Conflict", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// unwrapMessage strips the "failed to <op>:" prefix a RemoteError adds.
func unwrapMessage(err error) string {
	var remote *todo.RemoteError
	if errors.As(err, &remote) {
		return remote.Err.Error()
	}
	return err.Error()
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":            user.ID,
		"email":         user.Email,
		"emailVerified": user.IsEmailVerified,
	}
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.AccessToken,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
		"user": map[string]any{
			"id":    session.UserID,
			"email": session.Email,
		},
	}
}
