// Package pgstore is the PostgreSQL implementation of identity.Store.
//
// It talks to Postgres through database/sql with the pgx stdlib driver and
// ships its schema as embedded golang-migrate migrations (see [Migrate]).
// Failed-attempt counters are incremented in a single UPDATE ... RETURNING
// so concurrent failures are never lost.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/permission"
)

const pgErrUniqueViolation = "23505"

const identityColumns = `id, email, name, password_hash, role, perm_add, perm_remove, status,
	failed_attempts, locked_until, mfa_secret, mfa_enabled, created_at, updated_at`

// Store persists identities in the identities table.
type Store struct {
	db *sql.DB
}

var _ identity.Store = (*Store)(nil)

// Open parses dsn with pgx and returns a pooled Store.
func Open(dsn string) (*Store, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle so other components (the SQL audit sink) can share the pool.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) GetByEmail(ctx context.Context, email string) (identity.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where lower(email) = $1`,
		identity.NormalizeEmail(email))
	return scanIdentity(row)
}

func (s *Store) GetByID(ctx context.Context, id string) (identity.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id = $1`, id)
	return scanIdentity(row)
}

func (s *Store) Create(ctx context.Context, ident identity.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		insert into identities (id, email, name, password_hash, role, perm_add, perm_remove, status, mfa_secret, mfa_enabled)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		ident.ID,
		identity.NormalizeEmail(ident.Email),
		ident.Name,
		ident.PasswordHash,
		ident.Role.String(),
		encodeSet(ident.Overrides.Add),
		encodeSet(ident.Overrides.Remove),
		ident.Status.String(),
		nullIfEmpty(ident.MFASecret),
		ident.MFAEnabled,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) Update(ctx context.Context, ident identity.Identity) error {
	res, err := s.db.ExecContext(ctx, `
		update identities
		set email = $2, name = $3, password_hash = $4, role = $5, perm_add = $6, perm_remove = $7,
		    status = $8, mfa_secret = $9, mfa_enabled = $10, updated_at = now()
		where id = $1
	`,
		ident.ID,
		identity.NormalizeEmail(ident.Email),
		ident.Name,
		ident.PasswordHash,
		ident.Role.String(),
		encodeSet(ident.Overrides.Add),
		encodeSet(ident.Overrides.Remove),
		ident.Status.String(),
		nullIfEmpty(ident.MFASecret),
		ident.MFAEnabled,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	return requireOneRow(res)
}

func (s *Store) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		update identities
		set failed_attempts = failed_attempts + 1, updated_at = now()
		where id = $1
		returning failed_attempts
	`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, identity.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ResetFailedAttempts(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update identities
		set failed_attempts = 0, locked_until = null, updated_at = now()
		where id = $1
	`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *Store) SetLockout(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update identities
		set locked_until = $2, updated_at = now()
		where id = $1
	`, id, until.UTC())
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (identity.Identity, error) {
	var (
		ident                identity.Identity
		roleName, statusName string
		permAdd, permRemove  string
		lockedUntil          sql.NullTime
		mfaSecret            sql.NullString
	)
	err := row.Scan(
		&ident.ID,
		&ident.Email,
		&ident.Name,
		&ident.PasswordHash,
		&roleName,
		&permAdd,
		&permRemove,
		&statusName,
		&ident.FailedAttempts,
		&lockedUntil,
		&mfaSecret,
		&ident.MFAEnabled,
		&ident.CreatedAt,
		&ident.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Identity{}, err
	}

	if ident.Role, err = permission.ParseRole(roleName); err != nil {
		return identity.Identity{}, fmt.Errorf("pgstore: identity %s: %w", ident.ID, err)
	}
	if ident.Status, err = identity.ParseStatus(statusName); err != nil {
		return identity.Identity{}, fmt.Errorf("pgstore: identity %s: %w", ident.ID, err)
	}
	if ident.Overrides.Add, err = decodeSet(permAdd); err != nil {
		return identity.Identity{}, fmt.Errorf("pgstore: identity %s perm_add: %w", ident.ID, err)
	}
	if ident.Overrides.Remove, err = decodeSet(permRemove); err != nil {
		return identity.Identity{}, fmt.Errorf("pgstore: identity %s perm_remove: %w", ident.ID, err)
	}
	if lockedUntil.Valid {
		u := lockedUntil.Time.UTC()
		ident.LockedUntil = &u
	}
	ident.MFASecret = mfaSecret.String
	return ident, nil
}

func encodeSet(s permission.Set) string {
	return strings.Join(s.Names(), ",")
}

func decodeSet(raw string) (permission.Set, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return permission.ParseNames(strings.Split(raw, ","))
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
