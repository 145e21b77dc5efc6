package middleware_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/ratelimit"
)

const testPassword = "Correct-horse-42!"

type fixture struct {
	engine *authcore.Engine
	mr     *miniredis.Miniredis
	sink   *audit.ChannelSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.UserLimit = 3

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	store := identity.NewMemoryStore()
	for _, seed := range []struct {
		id, email string
		role      permission.Role
	}{
		{"user-a", "a@example.com", permission.RoleUser},
		{"admin-1", "admin@example.com", permission.RoleAdmin},
	} {
		hash, err := hasher.Hash(testPassword)
		if err != nil {
			t.Fatalf("Hash failed: %v", err)
		}
		if err := store.Create(context.Background(), identity.Identity{
			ID: seed.id, Email: seed.email, PasswordHash: hash, Role: seed.role, Status: identity.StatusActive,
		}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	sink := audit.NewChannelSink(64)
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithAuditSink(sink).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &fixture{engine: engine, mr: mr, sink: sink}
}

func (f *fixture) token(t *testing.T, email string) string {
	t.Helper()
	res, err := f.engine.Login(context.Background(), email, testPassword, authcore.ClientInfo{IP: "192.0.2.1"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res.Tokens.AccessToken
}

// drain returns every audit entry written so far.
func (f *fixture) drain() []audit.Entry {
	var out []audit.Entry
	for {
		select {
		case e := <-f.sink.Entries():
			out = append(out, e)
		default:
			return out
		}
	}
}

func ok(w http.ResponseWriter, r *http.Request) {
	if _, found := authcore.ClaimsFromContext(r.Context()); !found {
		http.Error(w, "no claims", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func request(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/resource/user-a", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestAuthorizeMiddleware(t *testing.T) {
	f := newFixture(t)
	h := middleware.RequirePermissions(f.engine, permission.UserManagement)(http.HandlerFunc(ok))

	if rec := request(t, h, ""); rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected 401 with challenge, got %d", rec.Code)
	}
	rec := request(t, h, "not-a-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decode(t, rec); body["message"] != "authentication failed" {
		t.Fatalf("expected generic message, got %v", body)
	}

	rec = request(t, h, f.token(t, "a@example.com"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a USER, got %d", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "authorization" {
		t.Fatalf("unexpected body %v", body)
	}

	if rec := request(t, h, f.token(t, "admin@example.com")); rec.Code != http.StatusNoContent {
		t.Fatalf("expected admin to pass, got %d", rec.Code)
	}
}

func TestAuthorizeOwnerMiddleware(t *testing.T) {
	f := newFixture(t)
	owner := func(r *http.Request) string { return r.URL.Path[len("/resource/"):] }
	h := middleware.AuthorizeOwner(f.engine, authcore.Requirement{}, owner)(http.HandlerFunc(ok))

	if rec := request(t, h, f.token(t, "a@example.com")); rec.Code != http.StatusNoContent {
		t.Fatalf("owner must pass, got %d", rec.Code)
	}
	if rec := request(t, h, f.token(t, "admin@example.com")); rec.Code != http.StatusNoContent {
		t.Fatalf("admin must pass, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t)
	limited := middleware.RateLimit(f.engine.Limiter(), f.engine.RateLimitPolicy(), ratelimit.TierAPI)(http.HandlerFunc(ok))
	h := middleware.Authorize(f.engine, authcore.Requirement{})(limited)
	token := f.token(t, "a@example.com")

	for i := 0; i < 3; i++ {
		rec := request(t, h, token)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != []string{"2", "1", "0"}[i] {
			t.Fatalf("request %d: unexpected remaining %q", i+1, got)
		}
	}
	rec := request(t, h, token)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// The API tier needs claims; without Authorize in front it refuses.
	if rec := request(t, limited, token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", rec.Code)
	}
}

func TestRateLimitMiddlewareFailsClosed(t *testing.T) {
	f := newFixture(t)
	h := middleware.RateLimit(f.engine.Limiter(), f.engine.RateLimitPolicy(), ratelimit.TierLogin)(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
	))
	if rec := request(t, h, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	f.mr.Close()
	rec := request(t, h, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body := decode(t, rec); body["message"] != "service unavailable" {
		t.Fatalf("backend detail leaked: %v", body)
	}
}

func TestAuditMiddleware(t *testing.T) {
	f := newFixture(t)
	handler := middleware.ClientContext(
		middleware.Authorize(f.engine, authcore.Requirement{})(
			middleware.Audit(f.engine.AuditLogger(), audit.Action("listing.view"), "listing")(http.HandlerFunc(ok)),
		),
	)
	token := f.token(t, "a@example.com")
	f.drain()

	req := httptest.NewRequest(http.MethodGet, "/listings/42", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	req.Header.Set("User-Agent", "middleware-test")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	var found *audit.Entry
	for _, e := range f.drain() {
		if e.Action == "listing.view" {
			e := e
			found = &e
		}
	}
	if found == nil {
		t.Fatal("expected an audit entry for the request")
	}
	if found.ActorID != "user-a" || found.Outcome != audit.OutcomeSuccess || found.IP != "198.51.100.4" || found.UserAgent != "middleware-test" {
		t.Fatalf("unexpected entry %+v", found)
	}
	if found.Detail["status"] != http.StatusNoContent {
		t.Fatalf("unexpected detail %v", found.Detail)
	}
}

func TestWriteErrorRetryAfterRoundsUp(t *testing.T) {
	rec := httptest.NewRecorder()
	middleware.WriteError(rec, &authcore.RateLimitError{Scope: "login", RetryAfter: 1200 * time.Millisecond})
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	rec = httptest.NewRecorder()
	middleware.WriteError(rec, &password.PolicyError{Violations: []password.Violation{password.ViolationDigit, password.ViolationSymbol}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decode(t, rec)
	if v, _ := body["violations"].([]any); len(v) != 2 {
		t.Fatalf("expected itemized violations, got %v", body)
	}
}
