package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultWriteTimeout bounds a single sink write.
const DefaultWriteTimeout = 2 * time.Second

// Config controls a [Logger].
type Config struct {
	WriteTimeout time.Duration
	// Reporter receives sink failures. Defaults to a [LogReporter] on the
	// logger passed to [New].
	Reporter FailureReporter
	Now      func() time.Time
}

// Logger writes audit entries synchronously.
type Logger struct {
	sink     Sink
	timeout  time.Duration
	reporter FailureReporter
	now      func() time.Time
	failures atomic.Uint64
}

// New creates a [Logger]. A nil sink discards entries.
func New(sink Sink, cfg Config, logger *slog.Logger) *Logger {
	if sink == nil {
		sink = NoOpSink{}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Reporter == nil {
		cfg.Reporter = LogReporter{Logger: logger}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Logger{
		sink:     sink,
		timeout:  cfg.WriteTimeout,
		reporter: cfg.Reporter,
		now:      cfg.Now,
	}
}

// Record stamps e with an id and server time and writes it before returning.
// Failures go to the reporter, never to the caller.
func (l *Logger) Record(ctx context.Context, e Entry) Entry {
	if l == nil {
		return e
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := l.now().UTC()
	e.ID = newID(now)
	e.Timestamp = now
	if e.ActorID == "" {
		e.ActorID = Anonymous
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	e.Detail = cloneDetail(e.Detail)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.write(writeCtx, e); err != nil {
		l.failures.Add(1)
		l.reporter.ReportFailure(writeCtx, e, err)
	}
	return e
}

func (l *Logger) write(ctx context.Context, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("audit sink panicked")
		}
	}()
	return l.sink.Write(ctx, e)
}

// Failures returns the number of entries that could not be written.
func (l *Logger) Failures() uint64 {
	if l == nil {
		return 0
	}
	return l.failures.Load()
}
