// Package audit records security-relevant decisions as append-only entries.
//
// # Components
//
//   - [Entry]: one immutable audit record with a server-assigned id and time.
//   - [Logger]: builds entries and writes them synchronously to a [Sink].
//   - [Sink]: JSON writer, Redis stream, SQL table, channel and fan-out sinks.
//   - [FailureReporter]: receives write failures (slog, Sentry).
//
// # Failure semantics
//
// Record never returns an error and never panics on sink failure. The write
// runs on a context detached from the caller's cancellation with its own
// timeout, so a client disconnect does not drop the entry.
package audit
