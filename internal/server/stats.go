package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dustin/qpaper/internal/reports"
	"github.com/dustin/qpaper/internal/sse"
)

// windowParam reads ?days=N. Missing or unparsable values select the
// reporter's default window.
func (s *Server) windowParam(r *http.Request) int {
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return s.reporter.WindowDays()
}

// handleStats serves the dashboard snapshot. Query failures yield a
// degraded snapshot with status 200.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.reporter.DashboardWindow(r.Context(), s.windowParam(r)))
}

// handleStatsExport serves the snapshot as a downloadable json, csv or html
// document.
func (s *Server) handleStatsExport(w http.ResponseWriter, r *http.Request) {
	format, err := reports.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.reporter.DashboardWindow(r.Context(), s.windowParam(r))
	body, err := reports.Generate(snap, format)
	if err != nil {
		slog.Error("failed to render stats export", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reports.Filename(snap, format)))
	_, _ = w.Write(body)
}

// handleStatsStream sends a snapshot on connect and a fresh one after every
// recorded visit or paper change.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	days := s.windowParam(r)
	ch, cancel := s.hub.Subscribe()
	defer cancel()

	sendSnapshot := func() {
		buf, err := json.Marshal(s.reporter.DashboardWindow(r.Context(), days))
		if err != nil {
			return
		}
		writeSSE(w, "stats", buf)
		flusher.Flush()
	}

	sendSnapshot()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			switch evt.Type {
			case sse.EventVisit:
				writeSSE(w, sse.EventVisit, evt.Payload)
				sendSnapshot()
			case sse.EventPaper:
				writeSSE(w, sse.EventPaper, evt.Payload)
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType string, payload []byte) {
	if eventType != "" {
		_, _ = w.Write([]byte("event: "))
		_, _ = w.Write([]byte(eventType))
		_, _ = w.Write([]byte("\n"))
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}
