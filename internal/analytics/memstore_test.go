package analytics

import (
	"context"
	"sync"

	"github.com/dustin/qpaper/internal/storage"
)

// memStore is an in-memory event store for tests.
type memStore struct {
	mu        sync.Mutex
	visits    []storage.VisitRecord
	readErr   error
	insertErr error
}

func (m *memStore) InsertVisit(_ context.Context, v storage.VisitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.visits = append(m.visits, v)
	return nil
}

func (m *memStore) CountVisits(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, m.readErr
	}
	return int64(len(m.visits)), nil
}

func (m *memStore) CountUniqueVisitors(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, m.readErr
	}
	seen := make(map[string]struct{})
	for _, v := range m.visits {
		seen[v.VisitorID] = struct{}{}
	}
	return int64(len(seen)), nil
}

func (m *memStore) CountVisitsByDay(_ context.Context, fromDay, toDay string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make(map[string]int64)
	for _, v := range m.visits {
		if v.Day >= fromDay && v.Day <= toDay {
			out[v.Day]++
		}
	}
	return out, nil
}

func (m *memStore) add(visitorID, day string, n int) {
	for i := 0; i < n; i++ {
		m.visits = append(m.visits, storage.VisitRecord{VisitorID: visitorID, Day: day})
	}
}
