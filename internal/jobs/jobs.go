// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const cleanupTimeout = time.Minute

// SessionStore is the part of storage the scheduler maintains.
type SessionStore interface {
	CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler removes expired admin sessions on a schedule.
type Scheduler struct {
	store SessionStore
	cron  *cron.Cron
	now   func() time.Time
}

// New parses schedule (standard five-field cron or a descriptor such as
// "@hourly") and returns a stopped scheduler.
func New(store SessionStore, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		store: store,
		cron:  cron.New(),
		now:   time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid session cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Debug("maintenance scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts the scheduler and waits for a running job to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("maintenance job still running at shutdown")
	}
}

// CleanupSessions deletes expired sessions and returns how many were removed.
func (s *Scheduler) CleanupSessions(ctx context.Context) (int64, error) {
	n, err := s.store.CleanupExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("removed expired sessions", "count", n)
	}
	return n, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, err := s.CleanupSessions(ctx); err != nil {
		slog.Error("session cleanup failed", "error", err)
	}
}
