package middleware

import (
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/audit"
)

// Audit records one entry per request after next returns. The outcome
// follows the response status: 2xx and 3xx are success, 401 and 403 are
// denied, 5xx is error and anything else is failure.
//
// Attach it inside [Authorize] so the actor and session are known; the
// Engine already records authentication and authorization denials itself.
func Audit(logger *audit.Logger, action audit.Action, resourceType string) func(http.Handler) http.Handler {
	return AuditResource(logger, action, resourceType, nil)
}

// AuditResource is Audit with the resource id taken from the request.
func AuditResource(logger *audit.Logger, action audit.Action, resourceType string, resourceID OwnerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			ctx := r.Context()
			entry := audit.Entry{
				Action:       action,
				ResourceType: resourceType,
				Outcome:      outcomeFor(rec.Status()),
				IP:           authcore.ClientIPFromContext(ctx),
				UserAgent:    authcore.UserAgentFromContext(ctx),
				Detail: map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
					"status": rec.Status(),
				},
			}
			if entry.IP == "" {
				entry.IP = remoteIP(r.RemoteAddr)
			}
			if c, ok := authcore.ClaimsFromContext(ctx); ok {
				entry.ActorID = c.UserID
				entry.SessionID = c.SessionID
			}
			if resourceID != nil {
				entry.ResourceID = resourceID(r)
			}
			logger.Record(ctx, entry)
		})
	}
}

func outcomeFor(status int) audit.Outcome {
	switch {
	case status < 400:
		return audit.OutcomeSuccess
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return audit.OutcomeDenied
	case status >= 500:
		return audit.OutcomeError
	default:
		return audit.OutcomeFailure
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
