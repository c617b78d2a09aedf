// Package geo resolves client addresses to ISO country codes using a MaxMind
// database, with an expiring LRU cache in front of the reader.
package geo

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oschwald/maxminddb-golang"
)

const (
	defaultCacheSize = 10000
	defaultCacheTTL  = time.Hour
)

// Lookup resolves IP addresses to countries. A nil *Lookup is valid and
// resolves every address to "".
type Lookup struct {
	db    *maxminddb.Reader
	cache *expirable.LRU[string, string]
}

// Open opens the MaxMind database at path. An empty path disables lookups and
// returns a nil *Lookup without error.
func Open(path string) (*Lookup, error) {
	if path == "" {
		return nil, nil
	}
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Lookup{
		db:    db,
		cache: expirable.NewLRU[string, string](defaultCacheSize, nil, defaultCacheTTL),
	}, nil
}

// Country returns the ISO country code for ip, or "" when unknown.
func (g *Lookup) Country(ip string) string {
	if g == nil || g.db == nil || ip == "" {
		return ""
	}
	if cc, ok := g.cache.Get(ip); ok {
		return cc
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	var record struct {
		Country struct {
			ISO string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := g.db.Lookup(parsed, &record); err != nil {
		return ""
	}
	g.cache.Add(ip, record.Country.ISO)
	return record.Country.ISO
}

// CacheLen reports how many addresses are cached.
func (g *Lookup) CacheLen() int {
	if g == nil || g.cache == nil {
		return 0
	}
	return g.cache.Len()
}

// Close releases the underlying database.
func (g *Lookup) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

// ClientIP extracts the client address from a RemoteAddr value, stripping
// the port when present.
func ClientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if strings.Contains(remoteAddr, ":") {
		host, _, err := net.SplitHostPort(remoteAddr)
		if err == nil {
			return host
		}
	}
	return remoteAddr
}

// RequestIP returns the address of the client that sent r. Forwarding
// headers (X-Forwarded-For, then X-Real-IP) are only honored when
// trustProxy is set.
func RequestIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	return ClientIP(r.RemoteAddr)
}
