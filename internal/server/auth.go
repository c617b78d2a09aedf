package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/qpaper/internal/storage"
)

const sessionCookieName = "qpaper_session"
const sessionDuration = 24 * time.Hour
const maxUsernameLen = 50

func (s *Server) createSession(ctx context.Context, username string) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().Add(sessionDuration)
	if err := s.store.CreateSession(ctx, token, username, expiresAt); err != nil {
		return "", err
	}
	return token, nil
}

// sessionUser returns the username of a live session, or "".
func (s *Server) sessionUser(ctx context.Context, token string) string {
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		slog.Warn("failed to get session", "error", err)
		return ""
	}
	if sess == nil {
		return ""
	}
	if time.Now().After(sess.ExpiresAt) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			slog.Warn("failed to delete expired session", "error", err)
		}
		return ""
	}
	return sess.Username
}

func (s *Server) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}
	return s.sessionUser(r.Context(), cookie.Value) != ""
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled() {
			next(w, r)
			return
		}
		if !s.authenticated(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AuthEnabled() {
		writeJSON(w, map[string]any{"authenticated": true, "auth_required": false})
		return
	}

	ip := s.clientIP(r)
	if !s.loginLimiter.Allow(ip) {
		slog.Debug("login rate limit exceeded", "ip", ip)
		s.metrics.RecordLogin("rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	ok, err := s.store.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		slog.Error("login lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		s.metrics.RecordLogin("failure")
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := s.createSession(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.metrics.RecordLogin("success")

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})
	csrf, err := ensureCSRFCookie(w, r)
	if err != nil {
		slog.Warn("failed to issue CSRF token", "error", err)
	}

	writeJSON(w, map[string]any{"authenticated": true, "username": req.Username, "csrf_token": csrf})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// decodeCredentials reads a JSON username/password body. On failure it
// writes a 400 and returns false.
func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return c, false
	}
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return c, false
	}
	if len(c.Username) > maxUsernameLen {
		writeError(w, http.StatusBadRequest, "username exceeds maximum length")
		return c, false
	}
	return c, true
}

// handleSignup creates an admin account. It is disabled unless ALLOW_SIGNUP
// is set and shares the login rate limit.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AllowSignup {
		writeErrorWithCode(w, http.StatusForbidden, "signup is disabled", "SIGNUP_DISABLED")
		return
	}
	ip := s.clientIP(r)
	if !s.loginLimiter.Allow(ip) {
		slog.Debug("signup rate limit exceeded", "ip", ip)
		writeError(w, http.StatusTooManyRequests, "too many attempts")
		return
	}

	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	err := s.store.CreateUser(r.Context(), req.Username, req.Password)
	if errors.Is(err, storage.ErrUserExists) {
		writeError(w, http.StatusConflict, "username already exists")
		return
	}
	if err != nil {
		slog.Error("failed to create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	slog.Info("user signed up", "username", req.Username)
	writeJSONStatus(w, http.StatusCreated, map[string]any{"username": req.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := s.store.DeleteSession(r.Context(), cookie.Value); err != nil {
			slog.Warn("failed to delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	writeJSON(w, map[string]any{"authenticated": false})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AuthEnabled() {
		writeJSON(w, map[string]any{"authenticated": true, "auth_required": false})
		return
	}

	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		writeJSON(w, map[string]any{"authenticated": false, "auth_required": true})
		return
	}
	user := s.sessionUser(r.Context(), cookie.Value)
	if user == "" {
		writeJSON(w, map[string]any{"authenticated": false, "auth_required": true})
		return
	}

	csrf, err := ensureCSRFCookie(w, r)
	if err != nil {
		slog.Warn("failed to issue CSRF token", "error", err)
	}
	writeJSON(w, map[string]any{
		"authenticated": true,
		"auth_required": true,
		"username":      user,
		"csrf_token":    csrf,
	})
}
