package analytics

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/qpaper/internal/geo"
	"github.com/dustin/qpaper/internal/metrics"
	"github.com/dustin/qpaper/internal/sse"
	"github.com/dustin/qpaper/internal/storage"
	"github.com/dustin/qpaper/internal/useragent"
	"github.com/dustin/qpaper/internal/visitor"
)

// DefaultRecordTimeout bounds a single visit insert.
const DefaultRecordTimeout = 2 * time.Second

// EventWriter is the write side of the visit event store.
type EventWriter interface {
	InsertVisit(ctx context.Context, v storage.VisitRecord) error
}

// CountryResolver maps a client address to an ISO country code.
type CountryResolver interface {
	Country(ip string) string
}

// Publisher broadcasts live events to dashboard subscribers.
type Publisher interface {
	Publish(eventType string, v any) error
}

// VisitNotice is published after each stored visit.
type VisitNotice struct {
	Path string `json:"path"`
	Day  string `json:"day"`
	At   string `json:"at"`
}

// RecorderOptions configures a Recorder. Geo, Hub and Metrics are optional.
type RecorderOptions struct {
	Issuer   *visitor.Issuer
	Geo      CountryResolver
	Hub      Publisher
	Metrics  *metrics.Metrics
	Location *time.Location
	Now      func() time.Time
	Timeout  time.Duration
	SkipBots bool
	// TrustProxy honors X-Forwarded-For and X-Real-IP for geo lookups.
	TrustProxy bool
}

// Recorder turns qualifying page views into stored visit events.
type Recorder struct {
	store    EventWriter
	issuer   *visitor.Issuer
	geo      CountryResolver
	hub      Publisher
	metrics  *metrics.Metrics
	loc      *time.Location
	now      func() time.Time
	timeout    time.Duration
	skipBots   bool
	trustProxy bool
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store EventWriter, opts RecorderOptions) *Recorder {
	if opts.Issuer == nil {
		opts.Issuer = visitor.NewIssuer(visitor.Options{})
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRecordTimeout
	}
	return &Recorder{
		store:    store,
		issuer:   opts.Issuer,
		geo:      opts.Geo,
		hub:      opts.Hub,
		metrics:  opts.Metrics,
		loc:      opts.Location,
		now:      opts.Now,
		timeout:  opts.Timeout,
		skipBots:   opts.SkipBots,
		trustProxy: opts.TrustProxy,
	}
}

var staticExtensions = map[string]bool{
	".css": true, ".js": true, ".map": true, ".png": true, ".jpg": true,
	".jpeg": true, ".gif": true, ".svg": true, ".ico": true, ".webp": true,
	".woff": true, ".woff2": true, ".ttf": true, ".txt": true, ".xml": true,
}

// Qualifies reports whether r is a page view of the papers section that
// should be counted, ignoring bot filtering.
func Qualifies(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	p := r.URL.Path
	if p != "/papers" && !strings.HasPrefix(p, "/papers/") {
		return false
	}
	return !staticExtensions[strings.ToLower(path.Ext(p))]
}

// Track wraps a papers handler so that each qualifying view is recorded once
// the page has been served with a 2xx status. The identifier cookie is set
// before the handler writes. Recording problems never change the response.
func (rc *Recorder) Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Qualifies(r) {
			next.ServeHTTP(w, r)
			return
		}
		client := useragent.Parse(r.UserAgent())
		if rc.skipBots && client.IsBot {
			rc.metrics.RecordVisitSkipped(metrics.SkipBot)
			next.ServeHTTP(w, r)
			return
		}

		ident, err := rc.issuer.Ensure(w, r)
		if err != nil {
			slog.Warn("visitor id unavailable, view not recorded", "error", err, "path", r.URL.Path)
			rc.metrics.RecordIdentifierError()
			rc.metrics.RecordVisitSkipped(metrics.SkipIdentity)
			next.ServeHTTP(w, r)
			return
		}
		if ident.Issued {
			rc.metrics.RecordIdentifierIssued()
		}

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if status := sw.code(); status < 200 || status > 299 {
			rc.metrics.RecordVisitSkipped(metrics.SkipStatus)
			return
		}
		_ = rc.record(r, ident.ID, client)
	})
}

// record stores one visit for visitorID on a context detached from the
// client connection and bounded by the recorder timeout.
func (rc *Recorder) record(r *http.Request, visitorID string, client useragent.Client) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), rc.timeout)
	defer cancel()

	ts := rc.now().In(rc.loc)
	v := storage.VisitRecord{
		VisitorID:  visitorID,
		Timestamp:  ts,
		Day:        ts.Format(storage.DayLayout),
		Path:       r.URL.Path,
		Browser:    client.Browser,
		OS:         client.OS,
		DeviceType: client.DeviceType,
	}
	if rc.geo != nil {
		v.Country = rc.geo.Country(geo.RequestIP(r, rc.trustProxy))
	}

	start := time.Now()
	if err := rc.store.InsertVisit(ctx, v); err != nil {
		slog.Error("failed to record visit", "error", err, "path", v.Path)
		rc.metrics.RecordVisitError()
		return err
	}
	rc.metrics.RecordVisit(time.Since(start).Seconds())

	if rc.hub != nil {
		notice := VisitNotice{Path: v.Path, Day: v.Day, At: ts.Format(time.RFC3339)}
		if err := rc.hub.Publish(sse.EventVisit, notice); err != nil {
			slog.Warn("failed to publish visit event", "error", err)
		}
	}
	return nil
}

// statusWriter remembers the status code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// code is the response status, 200 when the handler wrote nothing.
func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
