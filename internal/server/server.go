package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/qpaper/internal/analytics"
	"github.com/dustin/qpaper/internal/config"
	"github.com/dustin/qpaper/internal/geo"
	"github.com/dustin/qpaper/internal/metrics"
	"github.com/dustin/qpaper/internal/sse"
	"github.com/dustin/qpaper/internal/storage"
	"github.com/dustin/qpaper/internal/version"
	"github.com/dustin/qpaper/internal/visitor"
)

// Options carries the collaborators built in main. Nil fields get defaults
// derived from the config.
type Options struct {
	Recorder *analytics.Recorder
	Reporter *analytics.Reporter
	Metrics  *metrics.Metrics
	// Now is the clock for default analytics components; nil means time.Now.
	Now func() time.Time
}

type Server struct {
	store        *storage.Storage
	hub          *sse.Hub
	mux          *http.ServeMux
	cfg          config.Config
	recorder     *analytics.Recorder
	reporter     *analytics.Reporter
	metrics      *metrics.Metrics
	loginLimiter *RateLimiter
	handler      http.Handler
}

func New(store *storage.Storage, hub *sse.Hub, cfg config.Config, opts Options) *Server {
	if opts.Recorder == nil {
		opts.Recorder = analytics.NewRecorder(store, analytics.RecorderOptions{
			Issuer: visitor.NewIssuer(visitor.Options{
				CookieName: cfg.VisitorCookieName,
				MaxAge:     cfg.VisitorCookieMaxAge,
			}),
			Hub:      hub,
			Metrics:    opts.Metrics,
			Location:   cfg.Location(),
			Now:        opts.Now,
			Timeout:    cfg.AnalyticsRecordTimeout,
			SkipBots:   cfg.AnalyticsSkipBots,
			TrustProxy: cfg.TrustProxyHeaders,
		})
	}
	if opts.Reporter == nil {
		engine := analytics.NewEngine(store, cfg.Location(), opts.Now)
		opts.Reporter = analytics.NewReporter(engine, cfg.AnalyticsWindowDays, opts.Metrics)
	}
	s := &Server{
		store:        store,
		hub:          hub,
		mux:          http.NewServeMux(),
		cfg:          cfg,
		recorder:     opts.Recorder,
		reporter:     opts.Reporter,
		metrics:      opts.Metrics,
		loginLimiter: NewRateLimiter(cfg.LoginRateLimitPerMinute, time.Minute),
	}
	s.routes()
	s.handler = s.instrument(s.limitBody(s.mux))
	return s
}

func (s *Server) routes() {
	// Public endpoints
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /robots.txt", s.handleRobotsTxt)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Papers section; every view is counted
	s.mux.Handle("GET /papers", s.recorder.Track(http.HandlerFunc(s.handleListPapers)))
	s.mux.Handle("GET /papers/{id}", s.recorder.Track(http.HandlerFunc(s.handleGetPaper)))
	s.mux.Handle("GET /papers/{id}/download", s.recorder.Track(http.HandlerFunc(s.handleDownloadPaper)))

	// Auth endpoints (always accessible)
	s.mux.HandleFunc("POST /api/admin/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/admin/logout", s.handleLogout)
	s.mux.HandleFunc("POST /api/admin/signup", s.handleSignup)
	s.mux.HandleFunc("GET /api/admin/session", s.handleSession)

	// Protected admin endpoints
	s.mux.HandleFunc("POST /api/admin/papers", s.requireAuth(s.requireCSRF(s.handleCreatePaper)))
	s.mux.HandleFunc("PUT /api/admin/papers/{id}", s.requireAuth(s.requireCSRF(s.handleUpdatePaper)))
	s.mux.HandleFunc("DELETE /api/admin/papers/{id}", s.requireAuth(s.requireCSRF(s.handleDeletePaper)))
	s.mux.HandleFunc("GET /api/admin/stats", s.requireAuth(s.handleStats))
	s.mux.HandleFunc("GET /api/admin/stats/stream", s.requireAuth(s.handleStatsStream))
	s.mux.HandleFunc("GET /api/admin/stats/export", s.requireAuth(s.handleStatsExport))
}

// clientIP is the address used for per-client limits.
func (s *Server) clientIP(r *http.Request) string {
	return geo.RequestIP(r, s.cfg.TrustProxyHeaders)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.loginLimiter.Stop()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// limitBody rejects oversized bodies before they reach a handler.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := s.cfg.MaxUploadBytes
		if limit > 0 && r.ContentLength > limit {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if limit > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/papers", http.StatusFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "ok"
	dbStatus := "connected"
	httpStatus := http.StatusOK

	if err := s.store.Health(ctx); err != nil {
		status = "error"
		dbStatus = "disconnected"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"db":      dbStatus,
		"version": version.Version,
	})
}

func (s *Server) handleRobotsTxt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("User-agent: *\nDisallow: /api/\n"))
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

func writeErrorWithCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSONStatus(w, status, map[string]string{"error": msg, "code": code})
}
