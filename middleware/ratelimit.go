package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/ratelimit"
)

// RateLimit charges one request against tier before next runs.
//
// Login, MFA and refresh tiers are keyed by client IP, on top of the finer
// keys the Engine applies itself. The API tier must run after [Authorize]:
// it is keyed by identity, scaled by role, and held to the sensitive rule
// when required contains a sensitive permission. A limiter failure denies
// the request with 503.
func RateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy, tier ratelimit.Tier, required ...permission.Permission) func(http.Handler) http.Handler {
	need := permission.NewSet(required...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}
			key, rule, ok := resolve(r, policy, tier, need)
			if !ok {
				WriteError(w, authcore.ErrUnauthorized)
				return
			}

			res, err := limiter.CheckAndIncrement(r.Context(), key, rule.Limit, rule.Window)
			if err != nil {
				WriteError(w, fmt.Errorf("%w: %v", authcore.ErrUnavailable, err))
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				WriteError(w, &authcore.RateLimitError{Scope: string(tier), RetryAfter: res.RetryAfter})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resolve(r *http.Request, policy ratelimit.Policy, tier ratelimit.Tier, need permission.Set) (string, ratelimit.Rule, bool) {
	ip := authcore.ClientIPFromContext(r.Context())
	if ip == "" {
		ip = remoteIP(r.RemoteAddr)
	}
	switch tier {
	case ratelimit.TierLogin:
		return "http:login:" + ip, policy.Login, true
	case ratelimit.TierMFA:
		return "http:mfa:" + ip, policy.MFA, true
	case ratelimit.TierRefresh:
		return "http:refresh:" + ip, policy.Refresh, true
	default:
		claims, ok := authcore.ClaimsFromContext(r.Context())
		if !ok {
			return "", ratelimit.Rule{}, false
		}
		key, rule := policy.APIRule(claims.UserID, claims.Role, need)
		return key, rule, true
	}
}
