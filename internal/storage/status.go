package storage

import (
	"context"
	"errors"
	"fmt"
)

// Health checks database connectivity with a round-trip query.
func (s *Storage) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, "SELECT 1")
	var n int
	if err := row.Scan(&n); err != nil {
		return err
	}
	if n != 1 {
		return errors.New("unexpected ping result")
	}
	return nil
}

// GetDatabaseStats returns row counts for the main tables.
func (s *Storage) GetDatabaseStats(ctx context.Context) (DatabaseStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var stats DatabaseStats
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM visits", &stats.VisitsCount},
		{"SELECT COUNT(*) FROM papers", &stats.PapersCount},
		{"SELECT COUNT(*) FROM users", &stats.UsersCount},
		{"SELECT COUNT(*) FROM sessions", &stats.SessionsCount},
	}

	for _, q := range queries {
		row := s.db.QueryRowContext(ctx, q.query)
		if err := row.Scan(q.dest); err != nil {
			return stats, fmt.Errorf("query %q: %w", q.query, err)
		}
	}
	return stats, nil
}

func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}
