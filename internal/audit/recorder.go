package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/sigedo/sigedo/internal/observability"
)

// Store persists audit entries. The interface is append-only on purpose:
// there is no way to update or delete a recorded entry.
type Store interface {
	Insert(ctx context.Context, entry Entry) error
}

// RequestInfo carries the HTTP-request-shaped actor context an entry is
// attributed to. The caller supplies the fields; the recorder never parses a
// request itself.
type RequestInfo struct {
	ActorID      *int64
	RemoteAddr   string
	ForwardedFor string
	UserAgent    string
}

// RequestInfoFromHTTP captures actor context from an inbound request.
func RequestInfoFromHTTP(r *http.Request, actorID *int64) RequestInfo {
	return RequestInfo{
		ActorID:      actorID,
		RemoteAddr:   r.RemoteAddr,
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		UserAgent:    r.Header.Get("User-Agent"),
	}
}

// Event is one auditable action. Module is a statically declared tag chosen
// by the call site, never derived from a runtime type name.
type Event struct {
	Action   string
	Module   string
	EntityID string
	Details  map[string]any
}

// Recorder persists audit events without ever surfacing failure to the
// caller. Persistence runs detached from the calling request: ordering
// against the primary mutation's commit is not guaranteed, failures go to
// the operational log only, and nothing is retried.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics
	timeout time.Duration

	// dispatch runs the persistence step; tests swap it for a synchronous
	// variant.
	dispatch func(func())
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, logger *slog.Logger, metrics *observability.Metrics) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:    store,
		logger:   logger,
		metrics:  metrics,
		timeout:  5 * time.Second,
		dispatch: func(fn func()) { go fn() },
	}
}

// NewSyncRecorder constructs a Recorder whose persistence runs inline on the
// calling goroutine. Tests in the service packages use it to assert on
// recorded entries without sleeping.
func NewSyncRecorder(store Store, logger *slog.Logger, metrics *observability.Metrics) *Recorder {
	rec := NewRecorder(store, logger, metrics)
	rec.dispatch = func(fn func()) { fn() }
	return rec
}

// Record fires an audit entry. It never returns an error and never blocks on
// storage.
func (rec *Recorder) Record(info RequestInfo, ev Event) {
	if rec == nil || rec.store == nil {
		return
	}
	if ev.Action == "" || ev.Module == "" {
		rec.logger.Error("audit record discarded", slog.String("reason", "action and module are required"))
		return
	}

	details := make(map[string]any, len(ev.Details)+1)
	for k, v := range ev.Details {
		details[k] = v
	}
	details[DetailDevice] = ClassifyUserAgent(info.UserAgent)

	entry := Entry{
		UserID:    info.ActorID,
		Action:    strings.ToUpper(ev.Action),
		Module:    strings.ToUpper(ev.Module),
		IPAddress: clientIP(info),
		UserAgent: info.UserAgent,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if ev.EntityID != "" {
		id := ev.EntityID
		entry.EntityID = &id
	}

	rec.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), rec.timeout)
		defer cancel()
		if err := rec.store.Insert(ctx, entry); err != nil {
			rec.metrics.ObserveAuditWrite("error")
			rec.logger.Error("audit trail write failed",
				slog.String("action", entry.Action),
				slog.String("module", entry.Module),
				slog.Any("error", err))
			return
		}
		rec.metrics.ObserveAuditWrite("ok")
	})
}

// clientIP prefers the proxy-forwarded origin over the transport address.
func clientIP(info RequestInfo) string {
	if info.ForwardedFor != "" {
		first := strings.TrimSpace(strings.Split(info.ForwardedFor, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(info.RemoteAddr)
	if err != nil {
		return info.RemoteAddr
	}
	return host
}
