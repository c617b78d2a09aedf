// Package visitor issues and recognises the anonymous identifier cookie that
// ties one browser's page views together.
package visitor

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultCookieName is the cookie carrying the identifier.
	DefaultCookieName = "visitor_id"
	// DefaultMaxAge is how long an issued identifier lives in the browser.
	DefaultMaxAge = 30 * 24 * time.Hour

	idBytes = 16
	idLen   = idBytes * 2
)

// Identity is the result of resolving a request's visitor.
type Identity struct {
	ID string
	// Issued is true when ID was minted for this request and a Set-Cookie
	// header was written.
	Issued bool
}

// Options configures an Issuer. Zero values select the defaults.
type Options struct {
	CookieName string
	MaxAge     time.Duration
	// Random is the entropy source; crypto/rand when nil.
	Random io.Reader
	// Now is used to compute cookie expiry; time.Now when nil.
	Now func() time.Time
}

// Issuer reads and sets the visitor cookie.
type Issuer struct {
	cookieName string
	maxAge     time.Duration
	random     io.Reader
	now        func() time.Time
}

// NewIssuer returns an Issuer configured by opts.
func NewIssuer(opts Options) *Issuer {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Issuer{
		cookieName: opts.CookieName,
		maxAge:     opts.MaxAge,
		random:     opts.Random,
		now:        opts.Now,
	}
}

// Valid reports whether id is a well-formed identifier: exactly 32 lowercase
// hex characters.
func Valid(id string) bool {
	if len(id) != idLen {
		return false
	}
	for j := 0; j < len(id); j++ {
		c := id[j]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Lookup returns the identifier carried by r, if it is valid.
func (i *Issuer) Lookup(r *http.Request) (string, bool) {
	c, err := r.Cookie(i.cookieName)
	if err != nil || !Valid(c.Value) {
		return "", false
	}
	return c.Value, true
}

// Ensure returns the request's identifier, issuing a new one when the cookie
// is missing or malformed. A valid cookie is never rewritten. When no
// identifier can be generated the error is returned and no cookie is set.
func (i *Issuer) Ensure(w http.ResponseWriter, r *http.Request) (Identity, error) {
	if id, ok := i.Lookup(r); ok {
		return Identity{ID: id}, nil
	}

	id, err := i.newID()
	if err != nil {
		return Identity{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     i.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(i.maxAge / time.Second),
		Expires:  i.now().Add(i.maxAge).UTC(),
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
	return Identity{ID: id, Issued: true}, nil
}

func (i *Issuer) newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := io.ReadFull(i.random, b); err != nil {
		return "", fmt.Errorf("generate visitor id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
