package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// InsertVisit stores one visit event. It takes no application lock: a
// single-row INSERT is atomic in SQLite and concurrent writers wait on the
// busy timeout.
func (s *Storage) InsertVisit(ctx context.Context, v VisitRecord) error {
	if strings.TrimSpace(v.VisitorID) == "" {
		return ErrEmptyVisitorID
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	day := v.Day
	if day == "" {
		day = v.Timestamp.Format(DayLayout)
	}

	_, err := s.stmtInsertVisit.ExecContext(ctx,
		v.VisitorID,
		v.Timestamp.UTC().Format(time.RFC3339Nano),
		day,
		v.Path,
		v.Browser,
		v.OS,
		v.DeviceType,
		v.Country,
	)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// CountVisits returns the total number of recorded visits.
func (s *Storage) CountVisits(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count visits: %w", err)
	}
	return n, nil
}

// CountUniqueVisitors returns the number of distinct visitor ids ever recorded.
func (s *Storage) CountUniqueVisitors(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT visitor_id) FROM visits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unique visitors: %w", err)
	}
	return n, nil
}

// CountVisitsByDay returns visit counts keyed by day for fromDay..toDay
// inclusive. Both bounds use DayLayout. Days without visits are absent.
func (s *Storage) CountVisitsByDay(ctx context.Context, fromDay, toDay string) (map[string]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT day, COUNT(*) FROM visits
WHERE day >= ? AND day <= ?
GROUP BY day
`, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("count visits by day: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		out[day] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count visits by day: %w", err)
	}
	return out, nil
}
