package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"custodia.org/internal/auth"
	"custodia.org/internal/ids"
	"custodia.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// ActorFrom converts a verified identity into an audit actor.
func ActorFrom(id auth.Identity) Actor {
	return Actor{SubjectID: id.SubjectID, Email: id.Email, Role: id.Role}
}

// Sink receives records after they were durably appended.
type Sink interface {
	Publish(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

func (f SinkFunc) Publish(ctx context.Context, rec Record) error { return f(ctx, rec) }

type namedSink struct {
	name string
	sink Sink
}

// Logger appends audit records to a Store and mirrors them to sinks.
type Logger struct {
	store Store
	sinks []namedSink
	log   *slog.Logger
	now   func() time.Time
}

// Option configures Logger.
type Option func(*Logger)

// WithSink adds a secondary destination. name labels failure metrics.
func WithSink(name string, s Sink) Option {
	return func(l *Logger) {
		if s != nil {
			l.sinks = append(l.sinks, namedSink{name: name, sink: s})
		}
	}
}

// WithSlog overrides the logger used for failures and the audit echo line.
func WithSlog(sl *slog.Logger) Option {
	return func(l *Logger) {
		if sl != nil {
			l.log = sl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

func NewLogger(store Store, opts ...Option) *Logger {
	l := &Logger{
		store: store,
		log:   obs.Logger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the primary store, used by the audit query endpoint.
func (l *Logger) Store() Store { return l.store }

// Record appends rec synchronously. A failed append is logged at error level
// with the full record and counted; it is never returned to the caller.
// Cancellation of ctx does not abort the append.
func (l *Logger) Record(ctx context.Context, rec Record) {
	ctx = context.WithoutCancel(ctx)
	now := l.now().UTC()
	if rec.ID == "" {
		rec.ID = ids.NewAt(now)
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = now
	}
	if rec.RequestID == "" {
		rec.RequestID = requestIDFromContext(ctx)
	}

	if err := l.store.Append(ctx, &rec); err != nil {
		obs.AuditFailures.Inc()
		l.log.ErrorContext(ctx, "audit append failed", append(recordAttrs(rec), "error", err)...)
		return
	}
	l.log.InfoContext(ctx, "audit", recordAttrs(rec)...)

	for _, s := range l.sinks {
		if err := s.sink.Publish(ctx, rec); err != nil {
			obs.AuditSinkFailures.WithLabelValues(s.name).Inc()
			l.log.WarnContext(ctx, "audit sink publish failed",
				"sink", s.name, "audit_id", rec.ID, "error", err)
		}
	}
}

func recordAttrs(rec Record) []any {
	return []any{
		"audit_id", rec.ID,
		"sequence", rec.Sequence,
		"action", rec.Action,
		"target_type", rec.TargetType,
		"target_id", rec.TargetID,
		"actor_id", rec.Actor.SubjectID,
		"actor_email", rec.Actor.Email,
		"details", rec.Details,
		"request_id", rec.RequestID,
		"occurred_at", rec.OccurredAt,
	}
}
