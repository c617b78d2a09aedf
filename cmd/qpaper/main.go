package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/qpaper/internal/analytics"
	"github.com/dustin/qpaper/internal/config"
	"github.com/dustin/qpaper/internal/geo"
	"github.com/dustin/qpaper/internal/jobs"
	"github.com/dustin/qpaper/internal/logging"
	"github.com/dustin/qpaper/internal/metrics"
	"github.com/dustin/qpaper/internal/server"
	"github.com/dustin/qpaper/internal/sse"
	"github.com/dustin/qpaper/internal/storage"
	"github.com/dustin/qpaper/internal/version"
	"github.com/dustin/qpaper/internal/visitor"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.Info("starting qpaper", "version", version.String())

	store, err := storage.NewWithOptions(cfg.DBPath, storage.Options{
		MaxConnections: cfg.DBMaxConnections,
		QueryTimeout:   cfg.DBQueryTimeout,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.AuthEnabled() {
		if err := store.UpsertUser(ctx, cfg.AuthUsername, cfg.AuthPassword); err != nil {
			return err
		}
	} else {
		slog.Warn("AUTH_USERNAME and AUTH_PASSWORD not set, admin API is open")
	}
	if cfg.AllowSignup {
		slog.Warn("ALLOW_SIGNUP is set, anyone can create an admin account")
	}

	countries, err := geo.Open(cfg.MaxMindDBPath)
	if err != nil {
		slog.Warn("geo lookup disabled", "error", err)
	}
	defer countries.Close()

	hub := sse.NewHub()
	defer hub.Close()

	m := metrics.New(hub.ClientCount, func() metrics.DBStats {
		st, err := store.GetDatabaseStats(context.Background())
		if err != nil {
			slog.Warn("failed to read database stats", "error", err)
		}
		return metrics.DBStats{
			VisitsCount:   st.VisitsCount,
			PapersCount:   st.PapersCount,
			UsersCount:    st.UsersCount,
			SessionsCount: st.SessionsCount,
		}
	})

	loc := cfg.Location()
	recorder := analytics.NewRecorder(store, analytics.RecorderOptions{
		Issuer: visitor.NewIssuer(visitor.Options{
			CookieName: cfg.VisitorCookieName,
			MaxAge:     cfg.VisitorCookieMaxAge,
		}),
		Geo:        countries,
		Hub:        hub,
		Metrics:    m,
		Location:   loc,
		Timeout:    cfg.AnalyticsRecordTimeout,
		SkipBots:   cfg.AnalyticsSkipBots,
		TrustProxy: cfg.TrustProxyHeaders,
	})
	reporter := analytics.NewReporter(analytics.NewEngine(store, loc, nil), cfg.AnalyticsWindowDays, m)

	scheduler, err := jobs.New(store, cfg.SessionCleanupSchedule)
	if err != nil {
		return err
	}
	scheduler.Start()

	handler := server.New(store, hub, cfg, server.Options{
		Recorder: recorder,
		Reporter: reporter,
		Metrics:  m,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr, "timezone", loc.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	// Streaming clients hold connections open until the hub closes.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	scheduler.Stop(shutdownCtx)
	slog.Info("shutdown complete")
	return nil
}
