package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/totp"
)

// Config is the complete engine configuration. Every field can be set from
// the environment with [LoadConfigFromEnv]; the env names below are shown
// without the prefix.
type Config struct {
	JWT       JWTConfig       `envPrefix:"JWT_"`
	Session   SessionConfig   `envPrefix:"SESSION_"`
	Password  PasswordConfig  `envPrefix:"PASSWORD_"`
	MFA       MFAConfig       `envPrefix:"MFA_"`
	Lockout   LockoutConfig   `envPrefix:"LOCKOUT_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Account   AccountConfig   `envPrefix:"ACCOUNT_"`
	Audit     AuditConfig     `envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
	Timeouts  TimeoutConfig   `envPrefix:"TIMEOUT_"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing. With hs256, Secret signs and verifies
// and VerifyKeys holds previous secrets by key id during rotation. With
// ed25519, PrivateKey and PublicKey are PEM or raw keys.
type JWTConfig struct {
	SigningMethod string            `env:"SIGNING_METHOD"`
	Secret        string            `env:"SECRET"`
	PrivateKey    string            `env:"PRIVATE_KEY"`
	PublicKey     string            `env:"PUBLIC_KEY"`
	KeyID         string            `env:"KEY_ID"`
	VerifyKeys    map[string]string `env:"VERIFY_KEYS"`
	Issuer        string            `env:"ISSUER"`
	Audience      string            `env:"AUDIENCE"`
	AccessTTL     time.Duration     `env:"ACCESS_TTL"`
	RefreshTTL    time.Duration     `env:"REFRESH_TTL"`
	MaxFutureIAT  time.Duration     `env:"MAX_FUTURE_IAT"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures Redis key layout and client value limits.
type SessionConfig struct {
	RedisPrefix       string `env:"REDIS_PREFIX"`
	MaxUserAgentBytes int    `env:"MAX_USER_AGENT_BYTES"`
	MaxDeviceIDBytes  int    `env:"MAX_DEVICE_ID_BYTES"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id cost parameters and the complexity policy.
type PasswordConfig struct {
	Memory         uint32 `env:"MEMORY_KB"`
	Time           uint32 `env:"TIME"`
	Parallelism    uint8  `env:"PARALLELISM"`
	SaltLength     uint32 `env:"SALT_LENGTH"`
	KeyLength      uint32 `env:"KEY_LENGTH"`
	UpgradeOnLogin bool   `env:"UPGRADE_ON_LOGIN"`

	MinLength     int  `env:"MIN_LENGTH"`
	MaxLength     int  `env:"MAX_LENGTH"`
	RequireUpper  bool `env:"REQUIRE_UPPER"`
	RequireLower  bool `env:"REQUIRE_LOWER"`
	RequireDigit  bool `env:"REQUIRE_DIGIT"`
	RequireSymbol bool `env:"REQUIRE_SYMBOL"`
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig configures TOTP and the login challenge.
type MFAConfig struct {
	Issuer        string        `env:"ISSUER"`
	Digits        int           `env:"DIGITS"`
	Period        int           `env:"PERIOD"`
	Algorithm     string        `env:"ALGORITHM"`
	Skew          int           `env:"SKEW"`
	ChallengeTTL  time.Duration `env:"CHALLENGE_TTL"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS"`
	EnrollmentTTL time.Duration `env:"ENROLLMENT_TTL"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures account lockout after failed logins.
type LockoutConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	Duration    time.Duration `env:"DURATION"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures per-endpoint limits. API limits are per
// identity per APIWindow and scale with role; Sensitive applies to requests
// requiring sensitive permissions regardless of role.
type RateLimitConfig struct {
	RedisPrefix string `env:"REDIS_PREFIX"`

	LoginLimit    int           `env:"LOGIN_LIMIT"`
	LoginWindow   time.Duration `env:"LOGIN_WINDOW"`
	MFALimit      int           `env:"MFA_LIMIT"`
	MFAWindow     time.Duration `env:"MFA_WINDOW"`
	RefreshLimit  int           `env:"REFRESH_LIMIT"`
	RefreshWindow time.Duration `env:"REFRESH_WINDOW"`

	APIWindow       time.Duration `env:"API_WINDOW"`
	UserLimit       int           `env:"USER_LIMIT"`
	ModeratorLimit  int           `env:"MODERATOR_LIMIT"`
	AdminLimit      int           `env:"ADMIN_LIMIT"`
	SuperAdminLimit int           `env:"SUPER_ADMIN_LIMIT"`
	SensitiveLimit  int           `env:"SENSITIVE_LIMIT"`
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig configures registration.
type AccountConfig struct {
	// RequireVerification creates accounts as PENDING_VERIFICATION.
	RequireVerification bool `env:"REQUIRE_VERIFICATION"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT"`
	// RecordAllowed also audits successful authorization decisions.
	// Denials are always recorded.
	RecordAllowed bool `env:"RECORD_ALLOWED"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

/*
====================================
TIMEOUTS
====================================
*/

// TimeoutConfig bounds every external call. An exceeded timeout is a
// failure and access is denied.
type TimeoutConfig struct {
	Store time.Duration `env:"STORE"`
	Hash  time.Duration `env:"HASH"`
}

// DefaultConfig returns production defaults. Signing keys are empty and must
// be supplied.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	policy := password.DefaultPolicy()
	tc := totp.DefaultConfig()
	lc := lockout.DefaultConfig()
	rl := ratelimit.DefaultPolicy()

	return Config{
		JWT: JWTConfig{
			SigningMethod: string(jwt.MethodHS256),
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			MaxFutureIAT:  time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix:       "authcore",
			MaxUserAgentBytes: 512,
			MaxDeviceIDBytes:  128,
		},
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			UpgradeOnLogin: true,
			MinLength:      policy.MinLength,
			MaxLength:      policy.MaxLength,
			RequireUpper:   policy.RequireUpper,
			RequireLower:   policy.RequireLower,
			RequireDigit:   policy.RequireDigit,
			RequireSymbol:  policy.RequireSymbol,
		},
		MFA: MFAConfig{
			Issuer:        "authcore",
			Digits:        tc.Digits,
			Period:        tc.Period,
			Algorithm:     tc.Algorithm,
			Skew:          tc.Skew,
			ChallengeTTL:  5 * time.Minute,
			MaxAttempts:   5,
			EnrollmentTTL: 10 * time.Minute,
		},
		Lockout: LockoutConfig{
			MaxAttempts: lc.Threshold,
			Duration:    lc.Duration,
		},
		RateLimit: RateLimitConfig{
			RedisPrefix:     "authcore:rl",
			LoginLimit:      rl.Login.Limit,
			LoginWindow:     rl.Login.Window,
			MFALimit:        rl.MFA.Limit,
			MFAWindow:       rl.MFA.Window,
			RefreshLimit:    rl.Refresh.Limit,
			RefreshWindow:   rl.Refresh.Window,
			APIWindow:       time.Minute,
			UserLimit:       rl.API[permission.RoleUser].Limit,
			ModeratorLimit:  rl.API[permission.RoleModerator].Limit,
			AdminLimit:      rl.API[permission.RoleAdmin].Limit,
			SuperAdminLimit: rl.API[permission.RoleSuperAdmin].Limit,
			SensitiveLimit:  rl.Sensitive.Limit,
		},
		Audit: AuditConfig{
			WriteTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Timeouts: TimeoutConfig{
			Store: 2 * time.Second,
			Hash:  5 * time.Second,
		},
	}
}

// LoadConfigFromEnv starts from [DefaultConfig] and overrides every field
// whose variable is set. prefix is prepended to every name, e.g. "AUTH_"
// reads AUTH_JWT_SECRET.
func LoadConfigFromEnv(prefix string) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration. Component constructors repeat their own
// checks; this reports the common mistakes with config-level names.
func (c *Config) Validate() error {
	// JWT
	switch jwt.SigningMethod(strings.ToLower(c.JWT.SigningMethod)) {
	case jwt.MethodHS256:
		if len(c.JWT.Secret) < 32 {
			return errors.New("JWT Secret must be at least 32 bytes for hs256")
		}
	case jwt.MethodEd25519:
		if c.JWT.PrivateKey == "" || c.JWT.PublicKey == "" {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.AccessTTL > time.Hour {
		return errors.New("JWT AccessTTL must be in (0, 1h]")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if c.Session.MaxUserAgentBytes <= 0 || c.Session.MaxDeviceIDBytes <= 0 {
		return errors.New("Session client value limits must be > 0")
	}

	// Password
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// MFA
	if c.MFA.ChallengeTTL <= 0 || c.MFA.ChallengeTTL > 30*time.Minute {
		return errors.New("MFA ChallengeTTL must be in (0, 30m]")
	}
	if c.MFA.MaxAttempts <= 0 {
		return errors.New("MFA MaxAttempts must be > 0")
	}
	if c.MFA.EnrollmentTTL <= 0 {
		return errors.New("MFA EnrollmentTTL must be > 0")
	}

	// Lockout
	if err := c.lockoutConfig().Validate(); err != nil {
		return err
	}

	// Rate limits
	if err := c.rateLimitPolicy().Validate(); err != nil {
		return err
	}
	if c.RateLimit.LoginLimit <= c.Lockout.MaxAttempts {
		return errors.New("RateLimit LoginLimit must exceed Lockout MaxAttempts so lockout is reachable")
	}

	// Timeouts
	if c.Timeouts.Store <= 0 || c.Timeouts.Hash <= 0 {
		return errors.New("Timeouts must be > 0")
	}
	if c.Audit.WriteTimeout <= 0 {
		return errors.New("Audit WriteTimeout must be > 0")
	}
	return nil
}

func (c *Config) jwtConfig(now func() time.Time) jwt.Config {
	cfg := jwt.Config{
		AccessTTL:     c.JWT.AccessTTL,
		RefreshTTL:    c.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(c.JWT.SigningMethod)),
		KeyID:         c.JWT.KeyID,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		MaxFutureIAT:  c.JWT.MaxFutureIAT,
		Now:           now,
	}
	if cfg.SigningMethod == jwt.MethodHS256 {
		cfg.PrivateKey = []byte(c.JWT.Secret)
	} else {
		cfg.PrivateKey = []byte(c.JWT.PrivateKey)
		cfg.PublicKey = []byte(c.JWT.PublicKey)
	}
	if len(c.JWT.VerifyKeys) > 0 {
		cfg.VerifyKeys = make(map[string][]byte, len(c.JWT.VerifyKeys)+1)
		for kid, key := range c.JWT.VerifyKeys {
			cfg.VerifyKeys[kid] = []byte(key)
		}
		if cfg.KeyID != "" {
			if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
				if cfg.SigningMethod == jwt.MethodHS256 {
					cfg.VerifyKeys[cfg.KeyID] = cfg.PrivateKey
				} else {
					cfg.VerifyKeys[cfg.KeyID] = cfg.PublicKey
				}
			}
		}
	}
	return cfg
}

func (c *Config) passwordConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

func (c *Config) passwordPolicy() password.Policy {
	return password.Policy{
		MinLength:     c.Password.MinLength,
		MaxLength:     c.Password.MaxLength,
		RequireUpper:  c.Password.RequireUpper,
		RequireLower:  c.Password.RequireLower,
		RequireDigit:  c.Password.RequireDigit,
		RequireSymbol: c.Password.RequireSymbol,
	}
}

func (c *Config) totpConfig() totp.Config {
	return totp.Config{
		Issuer:    c.MFA.Issuer,
		Digits:    c.MFA.Digits,
		Period:    c.MFA.Period,
		Algorithm: c.MFA.Algorithm,
		Skew:      c.MFA.Skew,
	}
}

func (c *Config) lockoutConfig() lockout.Config {
	return lockout.Config{Threshold: c.Lockout.MaxAttempts, Duration: c.Lockout.Duration}
}

func (c *Config) rateLimitPolicy() ratelimit.Policy {
	r := c.RateLimit
	return ratelimit.Policy{
		Login:   ratelimit.Rule{Limit: r.LoginLimit, Window: r.LoginWindow},
		MFA:     ratelimit.Rule{Limit: r.MFALimit, Window: r.MFAWindow},
		Refresh: ratelimit.Rule{Limit: r.RefreshLimit, Window: r.RefreshWindow},
		API: map[permission.Role]ratelimit.Rule{
			permission.RoleUser:       {Limit: r.UserLimit, Window: r.APIWindow},
			permission.RoleModerator:  {Limit: r.ModeratorLimit, Window: r.APIWindow},
			permission.RoleAdmin:      {Limit: r.AdminLimit, Window: r.APIWindow},
			permission.RoleSuperAdmin: {Limit: r.SuperAdminLimit, Window: r.APIWindow},
		},
		Sensitive: ratelimit.Rule{Limit: r.SensitiveLimit, Window: r.APIWindow},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string]string, len(cfg.JWT.VerifyKeys))
		for k, v := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[k] = v
		}
	}
	return out
}
