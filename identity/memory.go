package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process [Store] for tests, examples and single-node
// development setups. Production deployments use a shared store such as
// pgstore.Store.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]Identity
	byEmail map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Identity),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return cloneIdentity(m.byID[id]), nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return cloneIdentity(ident), nil
}

func (m *MemoryStore) Create(ctx context.Context, ident Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	email := NormalizeEmail(ident.Email)
	if _, exists := m.byID[ident.ID]; exists {
		return ErrConflict
	}
	if _, exists := m.byEmail[email]; exists {
		return ErrConflict
	}

	now := time.Now().UTC()
	ident.Email = email
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = now
	}
	ident.UpdatedAt = now
	m.byID[ident.ID] = cloneIdentity(ident)
	m.byEmail[email] = ident.ID
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, ident Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.byID[ident.ID]
	if !ok {
		return ErrNotFound
	}

	email := NormalizeEmail(ident.Email)
	if owner, taken := m.byEmail[email]; taken && owner != ident.ID {
		return ErrConflict
	}
	delete(m.byEmail, current.Email)
	m.byEmail[email] = ident.ID

	current.Email = email
	current.Name = ident.Name
	current.PasswordHash = ident.PasswordHash
	current.Role = ident.Role
	current.Overrides = ident.Overrides
	current.Status = ident.Status
	current.MFASecret = ident.MFASecret
	current.MFAEnabled = ident.MFAEnabled
	current.UpdatedAt = time.Now().UTC()
	m.byID[ident.ID] = current
	return nil
}

func (m *MemoryStore) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	ident.FailedAttempts++
	m.byID[id] = ident
	return ident.FailedAttempts, nil
}

func (m *MemoryStore) ResetFailedAttempts(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	ident.FailedAttempts = 0
	ident.LockedUntil = nil
	m.byID[id] = ident
	return nil
}

func (m *MemoryStore) SetLockout(ctx context.Context, id string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	u := until.UTC()
	ident.LockedUntil = &u
	m.byID[id] = ident
	return nil
}

func cloneIdentity(in Identity) Identity {
	out := in
	if in.LockedUntil != nil {
		u := *in.LockedUntil
		out.LockedUntil = &u
	}
	return out
}
