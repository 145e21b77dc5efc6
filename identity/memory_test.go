package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

func sampleIdentity() Identity {
	return Identity{
		ID:           "id-1",
		Email:        "User@Example.com ",
		PasswordHash: "$argon2id$...",
		Role:         permission.RoleAdmin,
		Overrides:    permission.Overrides{Remove: permission.NewSet(permission.UserManagement)},
		Status:       StatusActive,
	}
}

func TestMemoryStoreEmailCaseInsensitive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, sampleIdentity()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.GetByEmail(ctx, "USER@example.COM")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.Email != "user@example.com" {
		t.Fatalf("email not normalized: %q", got.Email)
	}
	if got.EffectivePermissions().Has(permission.UserManagement) {
		t.Fatal("override removal not reflected in effective permissions")
	}
}

func TestMemoryStoreCreateConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, sampleIdentity()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dupID := sampleIdentity()
	dupID.Email = "other@example.com"
	if err := s.Create(ctx, dupID); err != ErrConflict {
		t.Fatalf("expected ErrConflict on duplicate id, got %v", err)
	}

	dupEmail := sampleIdentity()
	dupEmail.ID = "id-2"
	if err := s.Create(ctx, dupEmail); err != ErrConflict {
		t.Fatalf("expected ErrConflict on duplicate email, got %v", err)
	}
}

func TestMemoryStoreUpdatePreservesLockoutState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ident := sampleIdentity()
	if err := s.Create(ctx, ident); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.IncrementFailedAttempts(ctx, ident.ID); err != nil {
		t.Fatalf("IncrementFailedAttempts: %v", err)
	}
	if err := s.SetLockout(ctx, ident.ID, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SetLockout: %v", err)
	}

	ident.Name = "Renamed"
	ident.FailedAttempts = 0
	ident.LockedUntil = nil
	if err := s.Update(ctx, ident); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := s.GetByID(ctx, ident.ID)
	if got.Name != "Renamed" {
		t.Fatalf("update not applied")
	}
	if got.FailedAttempts != 1 || got.LockedUntil == nil {
		t.Fatalf("lockout state overwritten by Update: %+v", got)
	}
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, sampleIdentity()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = s.IncrementFailedAttempts(ctx, "id-1")
		}()
	}
	wg.Wait()

	got, _ := s.GetByID(ctx, "id-1")
	if got.FailedAttempts != n {
		t.Fatalf("expected %d attempts, got %d", n, got.FailedAttempts)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("pending_verification")
	if err != nil || s != StatusPendingVerification {
		t.Fatalf("ParseStatus = %v, %v", s, err)
	}
	if _, err := ParseStatus("deleted"); err != ErrUnknownStatus {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}
