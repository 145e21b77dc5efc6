package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
)

type errorBody struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

// WriteError writes err as a JSON error response. The status comes from
// [authcore.Classify]; the message from [authcore.PublicMessage]. Rate limit
// errors set Retry-After in whole seconds, rounded up.
func WriteError(w http.ResponseWriter, err error) {
	kind := authcore.Classify(err)
	if kind == authcore.KindNone {
		kind = authcore.KindInfrastructure
	}

	body := errorBody{
		Error:   kind.String(),
		Message: authcore.PublicMessage(err),
	}
	if body.Message == "" {
		body.Message = "service unavailable"
	}
	var pe *password.PolicyError
	if errors.As(err, &pe) {
		for _, v := range pe.Violations {
			body.Violations = append(body.Violations, string(v))
		}
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	switch kind {
	case authcore.KindAuthentication:
		h.Set("WWW-Authenticate", `Bearer realm="authcore"`)
	case authcore.KindRateLimit:
		if retry, ok := authcore.RetryAfter(err); ok {
			h.Set("Retry-After", strconv.Itoa(retrySeconds(retry)))
		}
	}
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}

func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
