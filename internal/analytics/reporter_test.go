package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dustin/qpaper/internal/metrics"
)

var reportNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newTestReporter(store EventReader, m *metrics.Metrics) *Reporter {
	return NewReporter(NewEngine(store, time.UTC, fixedNow(reportNow)), 7, m)
}

func TestReporter_Snapshot(t *testing.T) {
	store := &memStore{}
	store.add("a", "2026-10-18", 3)
	store.add("b", "2026-10-17", 1)
	store.add("c", "2026-01-01", 2)

	snap, err := newTestReporter(store, nil).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Total != 6 {
		t.Errorf("Total = %d, want 6", snap.Total)
	}
	if snap.Unique != 3 {
		t.Errorf("Unique = %d, want 3", snap.Unique)
	}
	if snap.WindowDays != 7 || len(snap.Daily) != 7 {
		t.Errorf("window = %d with %d points, want 7/7", snap.WindowDays, len(snap.Daily))
	}
	if last := snap.Daily[6]; last.Date != "2026-10-18" || last.Count != 3 {
		t.Errorf("today = %+v, want 2026-10-18/3", last)
	}
	if snap.Degraded {
		t.Error("healthy snapshot marked degraded")
	}
	if !snap.GeneratedAt.Equal(reportNow) {
		t.Errorf("GeneratedAt = %v, want %v", snap.GeneratedAt, reportNow)
	}
}

func TestReporter_SnapshotIsIdempotent(t *testing.T) {
	store := &memStore{}
	store.add("a", "2026-10-16", 2)
	store.add("b", "2026-10-18", 1)
	r := newTestReporter(store, nil)

	first, err := r.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated snapshots differ:\n%+v\n%+v", first, second)
	}
	if len(store.visits) != 3 {
		t.Errorf("reads changed the store: %d visits", len(store.visits))
	}
}

func TestReporter_SnapshotWindow(t *testing.T) {
	r := newTestReporter(&memStore{}, nil)
	tests := []struct {
		days, want int
	}{
		{0, 7},
		{30, 30},
		{5000, MaxWindowDays},
	}
	for _, tc := range tests {
		snap, err := r.SnapshotWindow(context.Background(), tc.days)
		if err != nil {
			t.Fatal(err)
		}
		if snap.WindowDays != tc.want || len(snap.Daily) != tc.want {
			t.Errorf("SnapshotWindow(%d) = %d days/%d points, want %d", tc.days, snap.WindowDays, len(snap.Daily), tc.want)
		}
	}
}

func TestReporter_SnapshotError(t *testing.T) {
	boom := errors.New("database is locked")
	if _, err := newTestReporter(&memStore{readErr: boom}, nil).Snapshot(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Snapshot() error = %v, want %v", err, boom)
	}
}

func TestReporter_DashboardDegraded(t *testing.T) {
	m := metrics.New(nil, nil)
	r := newTestReporter(&memStore{readErr: errors.New("disk I/O error")}, m)

	snap := r.Dashboard(context.Background())
	if !snap.Degraded {
		t.Fatal("expected degraded snapshot")
	}
	if snap.Total != 0 || snap.Unique != 0 {
		t.Errorf("degraded totals = %d/%d, want 0/0", snap.Total, snap.Unique)
	}
	if len(snap.Daily) != 7 {
		t.Fatalf("degraded series has %d points, want 7", len(snap.Daily))
	}
	if snap.Daily[6].Date != "2026-10-18" {
		t.Errorf("degraded series ends %s, want 2026-10-18", snap.Daily[6].Date)
	}
	if got := testutil.ToFloat64(m.DashboardDegradedTotal); got != 1 {
		t.Errorf("dashboard_degraded_total = %v, want 1", got)
	}
}

func TestReporter_DashboardHealthy(t *testing.T) {
	store := &memStore{}
	store.add("a", "2026-10-18", 1)
	snap := newTestReporter(store, nil).Dashboard(context.Background())
	if snap.Degraded || snap.Total != 1 {
		t.Errorf("Dashboard() = %+v, want healthy total 1", snap)
	}
}

func TestSnapshot_JSONShape(t *testing.T) {
	snap, err := newTestReporter(&memStore{}, nil).Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"total":0`, `"unique":0`, `"window_days":7`, `"daily":[{"date":"2026-10-12","count":0}`, `"generated_at":`, `"degraded":false`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("JSON %s missing %s", b, key)
		}
	}
}
