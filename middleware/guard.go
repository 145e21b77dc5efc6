package middleware

import (
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// OwnerFunc extracts the owner of the resource a request addresses, for
// example from a path parameter.
type OwnerFunc func(r *http.Request) string

// Authorize rejects requests whose bearer token does not satisfy req. On
// success the verified claims are available through
// [authcore.ClaimsFromContext].
func Authorize(engine *authcore.Engine, req authcore.Requirement) func(http.Handler) http.Handler {
	return guard(engine, req, nil)
}

// AuthorizeOwner is Authorize with the ownership gate applied to the
// resource owner returned by owner.
func AuthorizeOwner(engine *authcore.Engine, req authcore.Requirement, owner OwnerFunc) func(http.Handler) http.Handler {
	return guard(engine, req, owner)
}

func guard(engine *authcore.Engine, req authcore.Requirement, owner OwnerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, authcore.ErrUnauthorized)
				return
			}

			need := req
			if owner != nil {
				need.ResourceOwnerID = owner(r)
				if need.ResourceOwnerID == "" {
					WriteError(w, authcore.ErrInvalidInput)
					return
				}
			}

			claims, err := engine.AuthorizeRequest(r.Context(), token, need)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := authcore.WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
