// Package analytics records page views of the papers section and derives the
// visitor statistics shown on the admin dashboard.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/qpaper/internal/storage"
)

const (
	// DefaultWindowDays is the trailing window used when none is given.
	DefaultWindowDays = 7
	// MaxWindowDays bounds the trailing window.
	MaxWindowDays = 366
)

// DailyPoint is the visit count for one calendar day.
type DailyPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// EventReader is the read side of the visit event store.
type EventReader interface {
	CountVisits(ctx context.Context) (int64, error)
	CountUniqueVisitors(ctx context.Context) (int64, error)
	CountVisitsByDay(ctx context.Context, fromDay, toDay string) (map[string]int64, error)
}

// NormalizeWindow maps a requested window to the one actually used:
// non-positive values become DefaultWindowDays and large ones are clamped
// to MaxWindowDays.
func NormalizeWindow(days int) int {
	switch {
	case days <= 0:
		return DefaultWindowDays
	case days > MaxWindowDays:
		return MaxWindowDays
	default:
		return days
	}
}

// Engine answers aggregate questions about recorded visits. It never writes.
type Engine struct {
	store EventReader
	loc   *time.Location
	now   func() time.Time
}

// NewEngine returns an Engine reading from store. Days are computed in loc
// (time.Local when nil); now defaults to time.Now.
func NewEngine(store EventReader, loc *time.Location, now func() time.Time) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, loc: loc, now: now}
}

// TotalVisits returns the number of recorded visits.
func (e *Engine) TotalVisits(ctx context.Context) (int64, error) {
	return e.store.CountVisits(ctx)
}

// UniqueVisitors returns the number of distinct visitor identifiers ever seen.
func (e *Engine) UniqueVisitors(ctx context.Context) (int64, error) {
	return e.store.CountUniqueVisitors(ctx)
}

// DailyVisits returns one point per day for the trailing window ending today,
// oldest first. Days without visits have a zero count.
func (e *Engine) DailyVisits(ctx context.Context, windowDays int) ([]DailyPoint, error) {
	series := e.ZeroSeries(windowDays)
	counts, err := e.store.CountVisitsByDay(ctx, series[0].Date, series[len(series)-1].Date)
	if err != nil {
		return nil, fmt.Errorf("daily visits: %w", err)
	}
	for i := range series {
		series[i].Count = counts[series[i].Date]
	}
	return series, nil
}

// ZeroSeries returns the trailing window's days with every count zero.
func (e *Engine) ZeroSeries(windowDays int) []DailyPoint {
	days := NormalizeWindow(windowDays)
	today := e.now().In(e.loc)
	start := time.Date(today.Year(), today.Month(), today.Day()-(days-1), 0, 0, 0, 0, e.loc)

	series := make([]DailyPoint, days)
	for i := range series {
		series[i].Date = start.AddDate(0, 0, i).Format(storage.DayLayout)
	}
	return series
}
