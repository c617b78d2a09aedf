// Package sse fans out server-sent events to connected dashboard clients.
package sse

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Event types published by the application.
const (
	EventVisit = "visit"
	EventPaper = "paper"
)

// Event represents an SSE event with a type and payload
type Event struct {
	Type    string
	Payload []byte
}

const clientBuffer = 16

// Hub is a minimal SSE broadcaster. Slow clients drop events rather than
// block publishers.
type Hub struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
	closed  bool
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan Event]struct{})}
}

// Subscribe returns a channel for events and a cleanup function. The cleanup
// function may be called more than once. Subscribing to a closed hub returns
// an already closed channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, clientBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		})
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped because a client's buffer
// was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// BroadcastEvent sends a named event to all subscribers
func (h *Hub) BroadcastEvent(eventType string, payload []byte) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- Event{Type: eventType, Payload: payload}:
		default:
			h.dropped.Add(1)
		}
	}
}

// Publish marshals v as JSON and broadcasts it as eventType.
func (h *Hub) Publish(eventType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.BroadcastEvent(eventType, payload)
	return nil
}

// Close disconnects every subscriber. Later subscriptions get closed channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}
