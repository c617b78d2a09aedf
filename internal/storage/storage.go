package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyVisitorID is returned when a visit has no visitor identifier.
	ErrEmptyVisitorID = errors.New("visit has empty visitor id")
	// ErrUserExists is returned when creating a username that is taken.
	ErrUserExists = errors.New("username already exists")
)

// Storage provides database operations for qpaper.
type Storage struct {
	db           *sql.DB
	queryTimeout time.Duration

	// Prepared statements for the per-request hot path
	stmtInsertVisit   *sql.Stmt
	stmtInsertSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtDeleteSession *sql.Stmt
}

// Options configures the Storage instance.
type Options struct {
	MaxConnections int
	QueryTimeout   time.Duration
}

// New creates a new Storage instance with default options.
// For custom options, use NewWithOptions.
func New(dsn string) (*Storage, error) {
	return NewWithOptions(dsn, Options{
		MaxConnections: 1,
		QueryTimeout:   30 * time.Second,
	})
}

// NewWithOptions opens the database named by dsn. Plain paths open a local
// SQLite file (creating its directory); libsql://, https:// and wss:// URLs
// open a remote libsql database.
func NewWithOptions(dsn string, opts Options) (*Storage, error) {
	driver, source := driverFor(dsn)
	if driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	queryTimeout := opts.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}

	s := &Storage{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func driverFor(dsn string) (driver, source string) {
	for _, prefix := range []string{"libsql://", "https://", "wss://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "libsql", dsn
		}
	}
	return "sqlite", dsn + "?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

func (s *Storage) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS visits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	visitor_id TEXT NOT NULL CHECK (visitor_id <> ''),
	ts TEXT NOT NULL,
	day TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	browser TEXT NOT NULL DEFAULT '',
	os TEXT NOT NULL DEFAULT '',
	device_type TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_visits_day ON visits(day);
CREATE INDEX IF NOT EXISTS idx_visits_visitor ON visits(visitor_id);

CREATE TABLE IF NOT EXISTS papers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	year_name TEXT NOT NULL,
	semester_no INTEGER NOT NULL,
	subject_name TEXT NOT NULL,
	subject_code TEXT NOT NULL DEFAULT '',
	paper_type TEXT NOT NULL CHECK (paper_type IN ('Regular', 'Arrear')),
	paper_year INTEGER,
	file_data BLOB NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) prepareStatements() error {
	var err error

	s.stmtInsertVisit, err = s.db.Prepare(`
INSERT INTO visits (visitor_id, ts, day, path, browser, os, device_type, country)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare insert visit: %w", err)
	}

	s.stmtInsertSession, err = s.db.Prepare(`INSERT INTO sessions (token, username, expires_at, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`SELECT token, username, expires_at, created_at FROM sessions WHERE token = ?`)
	if err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}

	s.stmtDeleteSession, err = s.db.Prepare(`DELETE FROM sessions WHERE token = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete session: %w", err)
	}

	return nil
}

// Close closes the database connection and prepared statements.
func (s *Storage) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtInsertVisit,
		s.stmtInsertSession,
		s.stmtGetSession,
		s.stmtDeleteSession,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
