package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/permission"
)

// SigningMethod selects the fixed token algorithm. The algorithm is never
// read from a presented token.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Verification failure kinds. Every error returned by the Verify methods
// wraps exactly one of these.
var (
	ErrExpired      = errors.New("token expired")
	ErrBadSignature = errors.New("token signature invalid")
	ErrMalformed    = errors.New("token malformed")
)

// Config holds key material and lifetimes.
//
// For HS256, PrivateKey is the shared secret. VerifyKeys maps a kid to an
// additional verification key so older keys keep verifying during rotation;
// KeyID must then name the signing key.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
	MaxFutureIAT  time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Manager issues and verifies access and refresh tokens. It is immutable
// after construction and safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// Access is the verified content of an access token.
type Access struct {
	UserID      string
	Email       string
	Name        string
	Role        permission.Role
	Permissions permission.Set
	SessionID   string
	DeviceID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Refresh is the verified content of a refresh token. It carries no
// permission data; permissions are re-derived on every rotation.
type Refresh struct {
	SessionID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessClaims struct {
	Type        string   `json:"typ"`
	Email       string   `json:"email"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"perms"`
	SessionID   string   `json:"sid"`
	DeviceID    string   `json:"did,omitempty"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Type      string `json:"typ"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// NewManager validates cfg. MaxFutureIAT defaults to one minute.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.AccessTTL > time.Hour {
		return nil, errors.New("access TTL must be in (0, 1h]")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 secret must be at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if cfg.SigningMethod == MethodEd25519 {
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// AccessTTL is the fixed access-token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL is the fixed refresh-token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// IssueAccess signs a for AccessTTL. IssuedAt and ExpiresAt on the input are
// ignored; the returned Access carries the values embedded in the token.
func (j *Manager) IssueAccess(a Access) (string, Access, error) {
	if a.UserID == "" || a.SessionID == "" {
		return "", Access{}, errors.New("access token requires subject and session")
	}
	if !a.Role.Valid() {
		return "", Access{}, permission.ErrUnknownRole
	}

	iat := jwt.NewNumericDate(j.now())
	exp := jwt.NewNumericDate(iat.Add(j.config.AccessTTL))
	claims := accessClaims{
		Type:             typeAccess,
		Email:            a.Email,
		Name:             a.Name,
		Role:             a.Role.String(),
		Permissions:      a.Permissions.Names(),
		SessionID:        a.SessionID,
		DeviceID:         a.DeviceID,
		RegisteredClaims: j.registered(a.UserID, iat, exp),
	}

	signed, err := j.sign(claims)
	if err != nil {
		return "", Access{}, err
	}
	a.IssuedAt = iat.Time
	a.ExpiresAt = exp.Time
	return signed, a, nil
}

// IssueRefresh signs a refresh token for sessionID with a fresh token id.
func (j *Manager) IssueRefresh(sessionID string) (string, Refresh, error) {
	if sessionID == "" {
		return "", Refresh{}, errors.New("refresh token requires session")
	}

	iat := jwt.NewNumericDate(j.now())
	exp := jwt.NewNumericDate(iat.Add(j.config.RefreshTTL))
	claims := refreshClaims{
		Type:             typeRefresh,
		SessionID:        sessionID,
		RegisteredClaims: j.registered("", iat, exp),
	}
	claims.ID = uuid.NewString()

	signed, err := j.sign(claims)
	if err != nil {
		return "", Refresh{}, err
	}
	return signed, Refresh{
		SessionID: sessionID,
		TokenID:   claims.ID,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
	}, nil
}

// VerifyAccess checks the signature, then expiry, then claim shape.
func (j *Manager) VerifyAccess(token string) (Access, error) {
	var claims accessClaims
	if err := j.parse(token, &claims); err != nil {
		return Access{}, err
	}
	if err := j.checkExpiry(claims.ExpiresAt); err != nil {
		return Access{}, err
	}
	if err := j.checkRegistered(claims.RegisteredClaims); err != nil {
		return Access{}, err
	}

	if claims.Type != typeAccess || claims.Subject == "" || claims.SessionID == "" {
		return Access{}, malformed("missing access claims")
	}
	role, err := permission.ParseRole(claims.Role)
	if err != nil {
		return Access{}, malformed("invalid role claim")
	}
	perms, err := permission.ParseNames(claims.Permissions)
	if err != nil {
		return Access{}, malformed("invalid permission claim")
	}

	return Access{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Name:        claims.Name,
		Role:        role,
		Permissions: perms,
		SessionID:   claims.SessionID,
		DeviceID:    claims.DeviceID,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// VerifyRefresh checks the signature, then expiry, then claim shape.
func (j *Manager) VerifyRefresh(token string) (Refresh, error) {
	var claims refreshClaims
	if err := j.parse(token, &claims); err != nil {
		return Refresh{}, err
	}
	if err := j.checkExpiry(claims.ExpiresAt); err != nil {
		return Refresh{}, err
	}
	if err := j.checkRegistered(claims.RegisteredClaims); err != nil {
		return Refresh{}, err
	}
	if claims.Type != typeRefresh || claims.SessionID == "" || claims.ID == "" {
		return Refresh{}, malformed("missing refresh claims")
	}

	return Refresh{
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (j *Manager) registered(subject string, iat, exp *jwt.NumericDate) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// parse verifies the signature only; time and shape checks are done by the
// callers against the injected clock.
func (j *Manager) parse(tokenStr string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(tokenStr, claims, j.keyFunc)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	return j.getVerifyKey()
}

// checkExpiry treats now >= exp as expired; a token without exp is malformed.
func (j *Manager) checkExpiry(exp *jwt.NumericDate) error {
	if exp == nil {
		return malformed("missing exp")
	}
	if !j.now().Before(exp.Time) {
		return ErrExpired
	}
	return nil
}

func (j *Manager) checkRegistered(rc jwt.RegisteredClaims) error {
	if rc.IssuedAt == nil {
		return malformed("missing iat")
	}
	if rc.IssuedAt.Time.After(j.now().Add(j.config.MaxFutureIAT)) {
		return malformed("iat too far in the future")
	}
	if !rc.ExpiresAt.Time.After(rc.IssuedAt.Time) {
		return malformed("exp before iat")
	}
	if j.config.Issuer != "" && rc.Issuer != j.config.Issuer {
		return malformed("issuer mismatch")
	}
	if j.config.Audience != "" {
		found := false
		for _, aud := range rc.Audience {
			if aud == j.config.Audience {
				found = true
				break
			}
		}
		if !found {
			return malformed("audience mismatch")
		}
	}
	return nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformed, reason)
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
