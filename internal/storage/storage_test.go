package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Storage, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "qpaper-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}
	cleanup := func() {
		s.Close()
		os.RemoveAll(tmpDir)
	}
	return s, cleanup
}

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
		t.Error("database directory was not created")
	}
	if err := s.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestNew_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.InsertVisit(ctx, VisitRecord{VisitorID: "a"}); err != nil {
		t.Fatalf("InsertVisit() error = %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	n, err := s.CountVisits(ctx)
	if err != nil {
		t.Fatalf("CountVisits() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountVisits() after reopen = %d, want 1", n)
	}
}

func TestDriverFor(t *testing.T) {
	tests := []struct {
		dsn        string
		wantDriver string
	}{
		{"./data/qpaper.db", "sqlite"},
		{"/var/lib/qpaper.db", "sqlite"},
		{"libsql://papers-org.turso.io?authToken=x", "libsql"},
		{"https://papers-org.turso.io", "libsql"},
		{"wss://papers-org.turso.io", "libsql"},
	}
	for _, tc := range tests {
		t.Run(tc.dsn, func(t *testing.T) {
			driver, source := driverFor(tc.dsn)
			if driver != tc.wantDriver {
				t.Errorf("driverFor(%q) driver = %q, want %q", tc.dsn, driver, tc.wantDriver)
			}
			if driver == "libsql" && source != tc.dsn {
				t.Errorf("libsql source = %q, want unchanged dsn", source)
			}
		})
	}
}

func TestStorage_InsertVisit_RejectsEmptyVisitor(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()

	for _, id := range []string{"", "   "} {
		err := s.InsertVisit(context.Background(), VisitRecord{VisitorID: id, Timestamp: time.Now()})
		if !errors.Is(err, ErrEmptyVisitorID) {
			t.Errorf("InsertVisit(%q) error = %v, want ErrEmptyVisitorID", id, err)
		}
	}

	n, err := s.CountVisits(context.Background())
	if err != nil {
		t.Fatalf("CountVisits() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CountVisits() = %d, want 0", n)
	}
}

func TestStorage_EmptyStoreCounts(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	total, err := s.CountVisits(ctx)
	if err != nil || total != 0 {
		t.Errorf("CountVisits() = %d, %v; want 0, nil", total, err)
	}
	unique, err := s.CountUniqueVisitors(ctx)
	if err != nil || unique != 0 {
		t.Errorf("CountUniqueVisitors() = %d, %v; want 0, nil", unique, err)
	}
	byDay, err := s.CountVisitsByDay(ctx, "2026-01-01", "2026-12-31")
	if err != nil {
		t.Fatalf("CountVisitsByDay() error = %v", err)
	}
	if len(byDay) != 0 {
		t.Errorf("CountVisitsByDay() = %v, want empty", byDay)
	}
}

func TestStorage_VisitCounts(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	visits := []VisitRecord{
		{VisitorID: "alice", Day: "2026-10-16"},
		{VisitorID: "alice", Day: "2026-10-16"},
		{VisitorID: "alice", Day: "2026-10-18"},
		{VisitorID: "bob", Day: "2026-10-18"},
		{VisitorID: "carol", Day: "2026-09-01"},
	}
	for _, v := range visits {
		if err := s.InsertVisit(ctx, v); err != nil {
			t.Fatalf("InsertVisit() error = %v", err)
		}
	}

	total, err := s.CountVisits(ctx)
	if err != nil {
		t.Fatalf("CountVisits() error = %v", err)
	}
	if total != 5 {
		t.Errorf("CountVisits() = %d, want 5", total)
	}

	unique, err := s.CountUniqueVisitors(ctx)
	if err != nil {
		t.Fatalf("CountUniqueVisitors() error = %v", err)
	}
	if unique != 3 {
		t.Errorf("CountUniqueVisitors() = %d, want 3", unique)
	}

	byDay, err := s.CountVisitsByDay(ctx, "2026-10-12", "2026-10-18")
	if err != nil {
		t.Fatalf("CountVisitsByDay() error = %v", err)
	}
	want := map[string]int64{"2026-10-16": 2, "2026-10-18": 2}
	if len(byDay) != len(want) {
		t.Fatalf("CountVisitsByDay() = %v, want %v", byDay, want)
	}
	for day, n := range want {
		if byDay[day] != n {
			t.Errorf("day %s = %d, want %d", day, byDay[day], n)
		}
	}

	// Full history must partition the total.
	all, err := s.CountVisitsByDay(ctx, "0000-01-01", "9999-12-31")
	if err != nil {
		t.Fatalf("CountVisitsByDay() error = %v", err)
	}
	var sum int64
	for _, n := range all {
		sum += n
	}
	if sum != total {
		t.Errorf("sum of daily counts = %d, want total %d", sum, total)
	}
}

func TestStorage_InsertVisit_DerivesDayFromTimestamp(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	loc := time.FixedZone("UTC+10", 10*60*60)
	// 20:00 UTC on the 17th is already the 18th at UTC+10.
	ts := time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC).In(loc)
	if err := s.InsertVisit(ctx, VisitRecord{VisitorID: "v", Timestamp: ts}); err != nil {
		t.Fatalf("InsertVisit() error = %v", err)
	}

	byDay, err := s.CountVisitsByDay(ctx, "2026-10-18", "2026-10-18")
	if err != nil {
		t.Fatalf("CountVisitsByDay() error = %v", err)
	}
	if byDay["2026-10-18"] != 1 {
		t.Errorf("expected visit bucketed on 2026-10-18, got %v", byDay)
	}
}

func TestStorage_InsertVisit_Concurrent(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	const writers = 8
	const perWriter = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				errs <- s.InsertVisit(ctx, VisitRecord{VisitorID: fmt.Sprintf("visitor-%d", w)})
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent InsertVisit() error = %v", err)
		}
	}

	total, _ := s.CountVisits(ctx)
	if total != writers*perWriter {
		t.Errorf("CountVisits() = %d, want %d", total, writers*perWriter)
	}
	unique, _ := s.CountUniqueVisitors(ctx)
	if unique != writers {
		t.Errorf("CountUniqueVisitors() = %d, want %d", unique, writers)
	}
}

func TestStorage_Sessions(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	if err := s.CreateSession(ctx, "tok-1", "admin", expires); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	sess, err := s.GetSession(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.Username != "admin" {
		t.Errorf("Username = %q, want admin", sess.Username)
	}
	if !sess.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", sess.ExpiresAt, expires)
	}

	missing, err := s.GetSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetSession(unknown) = %v, %v; want nil, nil", missing, err)
	}

	if err := s.DeleteSession(ctx, "tok-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if sess, _ := s.GetSession(ctx, "tok-1"); sess != nil {
		t.Error("session should be gone after DeleteSession")
	}
}

func TestStorage_CleanupExpiredSessions(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	if err := s.CreateSession(ctx, "old", "admin", now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSession(ctx, "fresh", "admin", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := s.CleanupExpiredSessions(ctx, now)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d sessions, want 1", n)
	}
	if sess, _ := s.GetSession(ctx, "fresh"); sess == nil {
		t.Error("unexpired session was removed")
	}
}

func TestStorage_Users(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := s.UpsertUser(ctx, "admin", "first"); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	u, err := s.GetUser(ctx, "admin")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.PasswordHash == "first" {
		t.Error("password stored in plain text")
	}

	ok, err := s.Authenticate(ctx, "admin", "first")
	if err != nil || !ok {
		t.Errorf("Authenticate(correct) = %v, %v; want true", ok, err)
	}
	ok, _ = s.Authenticate(ctx, "admin", "wrong")
	if ok {
		t.Error("Authenticate(wrong password) should fail")
	}
	ok, err = s.Authenticate(ctx, "ghost", "first")
	if err != nil || ok {
		t.Errorf("Authenticate(unknown user) = %v, %v; want false, nil", ok, err)
	}

	// Upsert replaces the password.
	if err := s.UpsertUser(ctx, "admin", "second"); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	if ok, _ := s.Authenticate(ctx, "admin", "first"); ok {
		t.Error("old password should no longer work")
	}
	if ok, _ := s.Authenticate(ctx, "admin", "second"); !ok {
		t.Error("new password should work")
	}

	if _, err := s.GetUser(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestStorage_CreateUser(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := s.CreateUser(ctx, "priya", "hunter2"); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if ok, _ := s.Authenticate(ctx, "priya", "hunter2"); !ok {
		t.Error("new user should authenticate")
	}

	if err := s.CreateUser(ctx, "priya", "takeover"); !errors.Is(err, ErrUserExists) {
		t.Errorf("CreateUser(duplicate) error = %v, want ErrUserExists", err)
	}
	if ok, _ := s.Authenticate(ctx, "priya", "takeover"); ok {
		t.Error("duplicate signup must not replace the password")
	}
	if ok, _ := s.Authenticate(ctx, "priya", "hunter2"); !ok {
		t.Error("original password should still work")
	}
}

func TestStorage_GetDatabaseStats(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_ = s.InsertVisit(ctx, VisitRecord{VisitorID: "a"})
	_ = s.InsertVisit(ctx, VisitRecord{VisitorID: "b"})
	_ = s.UpsertUser(ctx, "admin", "pw")
	_ = s.CreateSession(ctx, "t", "admin", time.Now().Add(time.Hour))

	stats, err := s.GetDatabaseStats(ctx)
	if err != nil {
		t.Fatalf("GetDatabaseStats() error = %v", err)
	}
	if stats.VisitsCount != 2 {
		t.Errorf("VisitsCount = %d, want 2", stats.VisitsCount)
	}
	if stats.UsersCount != 1 {
		t.Errorf("UsersCount = %d, want 1", stats.UsersCount)
	}
	if stats.SessionsCount != 1 {
		t.Errorf("SessionsCount = %d, want 1", stats.SessionsCount)
	}
	if stats.PapersCount != 0 {
		t.Errorf("PapersCount = %d, want 0", stats.PapersCount)
	}
}
