package analytics

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dustin/qpaper/internal/metrics"
)

// Snapshot is the statistics payload served to the admin dashboard.
type Snapshot struct {
	Total       int64        `json:"total"`
	Unique      int64        `json:"unique"`
	WindowDays  int          `json:"window_days"`
	Daily       []DailyPoint `json:"daily"`
	GeneratedAt time.Time    `json:"generated_at"`
	Degraded    bool         `json:"degraded"`
}

// Reporter assembles snapshots from an Engine. Every call queries the store;
// nothing is cached.
type Reporter struct {
	engine  *Engine
	window  int
	metrics *metrics.Metrics
}

// NewReporter returns a Reporter using windowDays as its default window.
func NewReporter(engine *Engine, windowDays int, m *metrics.Metrics) *Reporter {
	return &Reporter{engine: engine, window: NormalizeWindow(windowDays), metrics: m}
}

// WindowDays returns the default trailing window.
func (r *Reporter) WindowDays() int {
	return r.window
}

// Snapshot runs the aggregate queries for the default window.
func (r *Reporter) Snapshot(ctx context.Context) (Snapshot, error) {
	return r.SnapshotWindow(ctx, r.window)
}

// SnapshotWindow runs the aggregate queries concurrently for a window of
// windowDays. Any query error fails the whole snapshot.
func (r *Reporter) SnapshotWindow(ctx context.Context, windowDays int) (Snapshot, error) {
	snap := Snapshot{WindowDays: NormalizeWindow(windowDays)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.engine.TotalVisits(gctx)
		snap.Total = n
		return err
	})
	g.Go(func() error {
		n, err := r.engine.UniqueVisitors(gctx)
		snap.Unique = n
		return err
	})
	g.Go(func() error {
		series, err := r.engine.DailyVisits(gctx, snap.WindowDays)
		snap.Daily = series
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	snap.GeneratedAt = r.engine.now().UTC()
	return snap, nil
}

// Dashboard returns the default-window snapshot and never fails.
func (r *Reporter) Dashboard(ctx context.Context) Snapshot {
	return r.DashboardWindow(ctx, r.window)
}

// DashboardWindow returns a snapshot for windowDays. On a query error it logs,
// counts the failure and returns a degraded snapshot with zero totals and a
// zero-filled series.
func (r *Reporter) DashboardWindow(ctx context.Context, windowDays int) Snapshot {
	snap, err := r.SnapshotWindow(ctx, windowDays)
	if err == nil {
		return snap
	}
	slog.Error("stats snapshot failed, serving degraded dashboard", "error", err)
	r.metrics.RecordDashboardDegraded()
	days := NormalizeWindow(windowDays)
	return Snapshot{
		WindowDays:  days,
		Daily:       r.engine.ZeroSeries(days),
		GeneratedAt: r.engine.now().UTC(),
		Degraded:    true,
	}
}
