package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
)

var (
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPasswordPolicy wraps complexity violations. Use errors.As with
	// *password.PolicyError for the itemised list.
	ErrPasswordPolicy = password.ErrPolicyViolation
	// ErrPasswordReuse is returned when a new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrEmailTaken is returned by Register for an existing email.
	ErrEmailTaken = errors.New("email already registered")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrInvalidMFA         = errors.New("invalid mfa code")
	ErrChallengeExpired   = errors.New("mfa challenge expired")
	ErrMFANotEnabled      = errors.New("mfa not enabled")
	ErrMFAAlreadyEnabled  = errors.New("mfa already enabled")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTokenExpired       = errors.New("token expired")
	ErrRefreshReuse       = errors.New("refresh token reuse detected")
	ErrSessionRevoked     = errors.New("session revoked")

	// ErrForbidden is the authorization failure. Denials carry a
	// *ForbiddenError with the missing permissions.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited is the rate limit failure. Denials carry a
	// *RateLimitError with the retry hint.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable is an infrastructure failure: a store timed out, a
	// backend is unreachable, or signing failed. Callers deny access.
	ErrUnavailable = errors.New("authentication backend unavailable")

	// ErrEngineNotReady is returned when an Engine is used before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError is returned when a request exceeds its limit.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	return fmt.Sprintf("rate limited: %s, retry after %ds", e.Scope, secs)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ForbiddenError describes an authorization denial. The caller's identity
// is already confirmed, so Missing may be shown to them.
type ForbiddenError struct {
	Reason  string
	Missing []permission.Permission
}

func (e *ForbiddenError) Error() string {
	if len(e.Missing) == 0 {
		return "forbidden: " + e.Reason
	}
	names := make([]string, len(e.Missing))
	for i, p := range e.Missing {
		names[i] = p.String()
	}
	return "forbidden: " + e.Reason + " (" + strings.Join(names, ", ") + ")"
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// Kind groups errors by how they are surfaced to clients.
type Kind uint8

const (
	KindNone Kind = iota
	KindInput
	KindAuthentication
	KindAuthorization
	KindRateLimit
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInput:
		return "input"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "infrastructure"
	}
}

// HTTPStatus maps the kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNone:
		return http.StatusOK
	case KindInput:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// Classify maps err to its kind. Errors this package does not recognise are
// infrastructure errors.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrForbidden):
		return KindAuthorization
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrPasswordReuse),
		errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrMFANotEnabled),
		errors.Is(err, ErrMFAAlreadyEnabled):
		return KindInput
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrInvalidMFA),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrRefreshReuse),
		errors.Is(err, ErrSessionRevoked):
		return KindAuthentication
	default:
		return KindInfrastructure
	}
}

// PublicMessage is the client-visible message for err. Authentication
// failures share one generic message so the response does not reveal which
// check failed.
func PublicMessage(err error) string {
	switch Classify(err) {
	case KindNone:
		return ""
	case KindInput:
		var pe *password.PolicyError
		if errors.As(err, &pe) {
			return pe.Error()
		}
		for _, known := range []error{ErrPasswordReuse, ErrEmailTaken, ErrMFANotEnabled, ErrMFAAlreadyEnabled} {
			if errors.Is(err, known) {
				return known.Error()
			}
		}
		return ErrInvalidInput.Error()
	case KindAuthentication:
		return "authentication failed"
	case KindAuthorization:
		var fe *ForbiddenError
		if errors.As(err, &fe) {
			return fe.Error()
		}
		return ErrForbidden.Error()
	case KindRateLimit:
		return "too many requests"
	default:
		return "service unavailable"
	}
}

// RetryAfter returns the retry hint carried by a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
