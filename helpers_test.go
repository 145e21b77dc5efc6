package authcore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
)

const testPassword = "Correct-horse-42!"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// recordingSink keeps every audit entry in memory.
type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *recordingSink) Write(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) find(action audit.Action, outcome audit.Outcome) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.Action == action && (outcome == "" || e.Outcome == outcome) {
			out = append(out, e)
		}
	}
	return out
}

// failingStore wraps a MemoryStore and fails every call once broken is set.
type failingStore struct {
	*identity.MemoryStore
	mu     sync.Mutex
	broken bool
}

var errStoreDown = errors.New("store down")

func (s *failingStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errStoreDown
	}
	return nil
}

func (s *failingStore) Break() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

func (s *failingStore) Repair() {
	s.mu.Lock()
	s.broken = false
	s.mu.Unlock()
}

func (s *failingStore) GetByEmail(ctx context.Context, email string) (identity.Identity, error) {
	if err := s.fail(); err != nil {
		return identity.Identity{}, err
	}
	return s.MemoryStore.GetByEmail(ctx, email)
}

func (s *failingStore) GetByID(ctx context.Context, id string) (identity.Identity, error) {
	if err := s.fail(); err != nil {
		return identity.Identity{}, err
	}
	return s.MemoryStore.GetByID(ctx, id)
}

func (s *failingStore) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	if err := s.fail(); err != nil {
		return 0, err
	}
	return s.MemoryStore.IncrementFailedAttempts(ctx, id)
}

type testHarness struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	store  *failingStore
	clock  *testClock
	audit  *recordingSink
	hasher *password.Argon2
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	cfg.JWT.Issuer = "authcore-test"
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.JWT.RefreshTTL = 24 * time.Hour
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newHarness(t testing.TB, mutate ...func(*Config)) *testHarness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &testHarness{
		mr:    mr,
		rdb:   rdb,
		store: &failingStore{MemoryStore: identity.NewMemoryStore()},
		clock: newTestClock(),
		audit: &recordingSink{},
	}
	h.hasher, err = password.NewArgon2(cfg.passwordConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(h.store).
		WithAuditSink(h.audit).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	h.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return h
}

// seed stores an active identity with testPassword.
func (h *testHarness) seed(t testing.TB, id, email string, role permission.Role, o permission.Overrides) identity.Identity {
	t.Helper()
	hash, err := h.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	ident := identity.Identity{
		ID:           id,
		Email:        email,
		Name:         id,
		PasswordHash: hash,
		Role:         role,
		Overrides:    o,
		Status:       identity.StatusActive,
	}
	if err := h.store.Create(context.Background(), ident); err != nil {
		t.Fatalf("Create identity failed: %v", err)
	}
	return ident
}

func (h *testHarness) login(t testing.TB, email string) Tokens {
	t.Helper()
	res, err := h.engine.Login(context.Background(), email, testPassword, ClientInfo{DeviceID: "device-1", IP: "203.0.113.7"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.MFARequired {
		t.Fatal("unexpected MFA challenge")
	}
	return res.Tokens
}
