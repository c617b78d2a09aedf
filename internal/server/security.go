package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

// Content-Security-Policy header value. Responses are JSON or PDF, so
// nothing outside the origin is ever needed.
const contentSecurityPolicy = "default-src 'self'; " +
	"img-src 'self' data:; " +
	"connect-src 'self'; " +
	"frame-ancestors 'none'; " +
	"form-action 'self'; " +
	"base-uri 'self'"

// csrfTokenLength is the length of CSRF tokens in bytes (before base64 encoding).
const csrfTokenLength = 32

// csrfCookieName is the name of the cookie storing the CSRF token.
const csrfCookieName = "qpaper_csrf"

// csrfHeaderName is the name of the header that must contain the CSRF token.
const csrfHeaderName = "X-CSRF-Token"

// setSecurityHeaders adds security-related headers to the response.
func setSecurityHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Content-Security-Policy", contentSecurityPolicy)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	if strings.HasPrefix(r.URL.Path, "/api/") {
		h.Set("X-Robots-Tag", "noindex, nofollow")
		h.Set("Cache-Control", "no-store")
	}
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// ensureCSRFCookie ensures that a CSRF cookie is set on the response.
// Returns the token value (either from existing cookie or newly generated).
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	token, err := randomToken(csrfTokenLength)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false, // the admin UI echoes it in a header
		SameSite: http.SameSiteStrictMode,
		Secure:   isSecureRequest(r),
	})
	return token, nil
}

// validateCSRFToken validates that the CSRF token from the header matches the cookie.
func validateCSRFToken(r *http.Request) bool {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	headerToken := r.Header.Get(csrfHeaderName)
	if headerToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(headerToken)) == 1
}

// requireCSRF is middleware that validates CSRF tokens for state-changing
// requests. It is skipped while the admin gate is open.
func (s *Server) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled() {
			next(w, r)
			return
		}
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			if !validateCSRFToken(r) {
				writeErrorWithCode(w, http.StatusForbidden, "invalid or missing CSRF token", "CSRF_INVALID")
				return
			}
		}
		next(w, r)
	}
}
