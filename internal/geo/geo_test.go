package geo

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func TestOpen_EmptyPathDisablesLookup(t *testing.T) {
	g, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\") error = %v", err)
	}
	if g != nil {
		t.Fatal("expected nil lookup for empty path")
	}
	if cc := g.Country("8.8.8.8"); cc != "" {
		t.Errorf("Country() on nil lookup = %q, want empty", cc)
	}
	if n := g.CacheLen(); n != 0 {
		t.Errorf("CacheLen() = %d, want 0", n)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close() on nil lookup error = %v", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mmdb"))
	if err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"192.0.2.1:54321", "192.0.2.1"},
		{"192.0.2.1", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"2001:db8::1", "2001:db8::1"},
	}
	for _, tc := range tests {
		if got := ClientIP(tc.in); got != tc.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRequestIP(t *testing.T) {
	tests := []struct {
		name    string
		trust   bool
		headers map[string]string
		want    string
	}{
		{"remote addr", false, nil, "192.0.2.7"},
		{"forwarded ignored", false, map[string]string{"X-Forwarded-For": "203.0.113.9"}, "192.0.2.7"},
		{"real ip ignored", false, map[string]string{"X-Real-IP": "203.0.113.9"}, "192.0.2.7"},
		{"forwarded trusted", true, map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.0.0.1"}, "203.0.113.9"},
		{"real ip trusted", true, map[string]string{"X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
		{"forwarded wins", true, map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "198.51.100.4"}, "203.0.113.9"},
		{"trusted without headers", true, nil, "192.0.2.7"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/papers", nil)
			req.RemoteAddr = "192.0.2.7:5000"
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := RequestIP(req, tc.trust); got != tc.want {
				t.Errorf("RequestIP() = %q, want %q", got, tc.want)
			}
		})
	}
}
