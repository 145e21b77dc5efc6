package main

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/ratelimit"
)

const actionSessionsList audit.Action = "account.sessions.list"

// routerOptions are the deployment-dependent router settings.
type routerOptions struct {
	SecureCookies bool
	// TrustProxyHeaders takes the client IP from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that overwrites those headers,
	// otherwise callers choose their own IP and escape per-IP limits.
	TrustProxyHeaders bool
}

func newRouter(engine *authcore.Engine, log *slog.Logger, metrics http.Handler, opts routerOptions) http.Handler {
	h := &handlers{engine: engine, log: log, secureCookies: opts.SecureCookies}
	limiter, policy := engine.Limiter(), engine.RateLimitPolicy()
	limit := func(tier ratelimit.Tier, required ...permission.Permission) func(http.Handler) http.Handler {
		return middleware.RateLimit(limiter, policy, tier, required...)
	}
	authenticated := middleware.Authorize(engine, authcore.Requirement{})
	targetID := func(r *http.Request) string { return chi.URLParam(r, "id") }

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(requestLogger(log))
	r.Use(recoverer(log))
	r.Use(middleware.ClientContext)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", h.ready)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(limit(ratelimit.TierLogin)).Post("/register", h.register)
		r.With(limit(ratelimit.TierLogin)).Post("/login", h.login)
		r.With(limit(ratelimit.TierMFA)).Post("/mfa/verify", h.verifyMFA)
		r.With(limit(ratelimit.TierRefresh)).Post("/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(authenticated, limit(ratelimit.TierAPI))
			r.Post("/logout", h.logout)
			r.Post("/logout-all", h.logoutAll)
			r.Get("/me", h.me)
			r.With(middleware.Audit(engine.AuditLogger(), actionSessionsList, "session")).Get("/sessions", h.sessions)
			r.Post("/password", h.changePassword)
			r.Post("/mfa/enroll", h.beginMFA)
			r.Post("/mfa/confirm", h.confirmMFA)
			r.Post("/mfa/disable", h.disableMFA)
		})
	})

	r.Route("/admin/users/{id}", func(r chi.Router) {
		r.Use(authenticated)
		r.With(limit(ratelimit.TierAPI, permission.RoleManagement)).Put("/role", h.setRole(targetID))
		r.With(limit(ratelimit.TierAPI, permission.RoleManagement)).Put("/permissions", h.setOverrides(targetID))
		r.With(limit(ratelimit.TierAPI, permission.UserManagement)).Put("/status", h.setStatus(targetID))
		r.With(limit(ratelimit.TierAPI, permission.UserManagement)).Post("/unlock", h.unlock(targetID))
	})

	return r
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.engine.Ping(ctx); err != nil {
		h.log.WarnContext(ctx, "readiness check failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.InfoContext(r.Context(), "http_request",
				slog.String("request_id", chimw.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// recoverer turns a panic into a 500 and reports it to Sentry.
func recoverer(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil || rec == http.ErrAbortHandler {
					if rec != nil {
						panic(rec)
					}
					return
				}
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", rec)
					scope.SetExtra("stack", string(debug.Stack()))
					scope.SetTag("path", r.URL.Path)
					sentry.CaptureMessage("panic in request")
				})
				log.ErrorContext(r.Context(), "panic_recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
