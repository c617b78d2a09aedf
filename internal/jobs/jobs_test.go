package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dustin/qpaper/internal/storage"
)

func TestNew_InvalidSchedule(t *testing.T) {
	if _, err := New(nil, "every tuesday"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestNew_AcceptsSchedules(t *testing.T) {
	for _, schedule := range []string{"@hourly", "@every 10m", "*/15 * * * *", "0 3 * * *"} {
		s, err := New(nil, schedule)
		if err != nil {
			t.Errorf("New(%q) error = %v", schedule, err)
			continue
		}
		if n := len(s.cron.Entries()); n != 1 {
			t.Errorf("New(%q) registered %d jobs, want 1", schedule, n)
		}
	}
}

func TestCleanupSessions(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	now := time.Now()

	if err := store.CreateSession(ctx, "expired", "admin", now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateSession(ctx, "live", "admin", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	s, err := New(store, "@hourly")
	if err != nil {
		t.Fatal(err)
	}
	n, err := s.CleanupSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d sessions, want 1", n)
	}
	if sess, _ := store.GetSession(ctx, "live"); sess == nil {
		t.Error("live session was removed")
	}
}

type failingStore struct{ calls int }

func (f *failingStore) CleanupExpiredSessions(context.Context, time.Time) (int64, error) {
	f.calls++
	return 0, errors.New("database is locked")
}

func TestCleanupSessions_Error(t *testing.T) {
	fs := &failingStore{}
	s, err := New(fs, "@hourly")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CleanupSessions(context.Background()); err == nil {
		t.Error("expected error from failing store")
	}
	// The scheduled wrapper logs and swallows the error.
	s.run()
	if fs.calls != 2 {
		t.Errorf("calls = %d, want 2", fs.calls)
	}
}

func TestStartStop(t *testing.T) {
	fs := &failingStore{}
	s, err := New(fs, "@every 1h")
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if ctx.Err() != nil {
		t.Error("Stop should return before the deadline when idle")
	}
}
