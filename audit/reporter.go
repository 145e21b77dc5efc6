package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"
)

// FailureReporter surfaces audit write failures to operators.
type FailureReporter interface {
	ReportFailure(ctx context.Context, e Entry, err error)
}

// LogReporter logs failures at error level.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) ReportFailure(ctx context.Context, e Entry, err error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "audit write failed",
		slog.String("audit_id", e.ID),
		slog.String("action", string(e.Action)),
		slog.String("actor_id", e.ActorID),
		slog.String("outcome", string(e.Outcome)),
		slog.Bool("suspicious", e.Suspicious),
		slog.Any("error", err),
	)
}

// SentryReporter forwards failures to Sentry. Reports past the limiter's
// rate are dropped so a dead sink cannot flood the monitoring backend;
// suspicious entries always bypass the limiter.
type SentryReporter struct {
	hub     *sentry.Hub
	limiter *rate.Limiter
	next    FailureReporter
}

// NewSentryReporter creates a reporter on hub (the current hub when nil)
// allowing perMinute reports with a small burst. next, if set, also
// receives every failure.
func NewSentryReporter(hub *sentry.Hub, perMinute int, next FailureReporter) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if perMinute <= 0 {
		perMinute = 30
	}
	return &SentryReporter{
		hub:     hub,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 5),
		next:    next,
	}
}

func (r *SentryReporter) ReportFailure(ctx context.Context, e Entry, err error) {
	if r.next != nil {
		r.next.ReportFailure(ctx, e, err)
	}
	if !e.Suspicious && !r.limiter.Allow() {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("component", "audit")
		scope.SetTag("audit.action", string(e.Action))
		scope.SetTag("audit.outcome", string(e.Outcome))
		if e.Suspicious {
			scope.SetTag("audit.suspicious", "true")
		}
		scope.SetContext("audit", sentry.Context{
			"id":         e.ID,
			"actor_id":   e.ActorID,
			"session_id": e.SessionID,
		})
		r.hub.CaptureException(err)
	})
}
