// Package totp implements RFC 6238 time-based one-time passwords.
//
// Secrets are exchanged as unpadded standard base32, the encoding
// authenticator apps expect in otpauth:// provisioning URIs. Verification
// never explains a failure: a wrong code, a stale code, and a malformed secret
// all read as false.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config tunes code generation. Skew is the number of periods accepted on
// each side of the current one.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

// DefaultConfig is 6 digits, 30s steps, SHA1, and a ±2 step drift window.
func DefaultConfig() Config {
	return Config{
		Issuer:    "authcore",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      2,
	}
}

// Engine generates secrets and verifies codes. Safe for concurrent use.
type Engine struct {
	config Config
	hf     func() hash.Hash
}

// Secret is a freshly generated enrollment secret.
type Secret struct {
	Base32 string
	URI    string
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.Digits != 6 && cfg.Digits != 8 {
		return nil, errors.New("totp digits must be 6 or 8")
	}
	if cfg.Period <= 0 {
		return nil, errors.New("totp period must be > 0")
	}
	if cfg.Skew < 0 || cfg.Skew > 10 {
		return nil, errors.New("totp skew must be in [0,10]")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("totp issuer must not be empty")
	}
	hf, err := hmacFunc(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	return &Engine{config: cfg, hf: hf}, nil
}

// GenerateSecret returns a random secret and its provisioning URI for account.
func (e *Engine) GenerateSecret(account string) (Secret, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, err
	}
	encoded := b32.EncodeToString(raw)
	return Secret{Base32: encoded, URI: e.ProvisionURI(encoded, account)}, nil
}

// ProvisionURI builds the otpauth:// URI for an existing base32 secret.
func (e *Engine) ProvisionURI(secretBase32, account string) string {
	issuer := e.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(e.config.Period))
	v.Set("digits", strconv.Itoa(e.config.Digits))
	v.Set("algorithm", strings.ToUpper(e.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode reports whether code matches any step within the drift window
// around at.
func (e *Engine) VerifyCode(code, secretBase32 string, at time.Time) bool {
	_, ok := e.Match(code, secretBase32, at)
	return ok
}

// Match is VerifyCode that also returns the matched time step, so callers
// can refuse a second use of the same step.
func (e *Engine) Match(code, secretBase32 string, at time.Time) (int64, bool) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != e.config.Digits || !isNumeric(trimmed) {
		return 0, false
	}

	secret, err := DecodeSecret(secretBase32)
	if err != nil {
		return 0, false
	}

	base := at.Unix() / int64(e.config.Period)
	for step := -e.config.Skew; step <= e.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated := e.hotp(secret, counter)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return counter, true
		}
	}
	return 0, false
}

// Code returns the code for the step containing at.
func (e *Engine) Code(secretBase32 string, at time.Time) (string, error) {
	secret, err := DecodeSecret(secretBase32)
	if err != nil {
		return "", err
	}
	return e.hotp(secret, at.Unix()/int64(e.config.Period)), nil
}

// Period is the step length.
func (e *Engine) Period() time.Duration {
	return time.Duration(e.config.Period) * time.Second
}

// Window is the total time span a single code may be accepted for.
func (e *Engine) Window() time.Duration {
	return time.Duration(2*e.config.Skew+1) * e.Period()
}

// DecodeSecret accepts base32 with or without padding, any case, and
// embedded spaces.
func DecodeSecret(secretBase32 string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secretBase32), " ", ""))
	cleaned = strings.TrimRight(cleaned, "=")
	if cleaned == "" {
		return nil, errors.New("empty totp secret")
	}
	raw, err := b32.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid totp secret: %w", err)
	}
	return raw, nil
}

func (e *Engine) hotp(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(e.hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < e.config.Digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", e.config.Digits, bin%mod)
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
