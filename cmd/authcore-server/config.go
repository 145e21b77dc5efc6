package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// serverConfig holds the process-level settings. Engine settings are read
// separately with authcore.LoadConfigFromEnv under the AUTHCORE_ prefix.
type serverConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	Environment     string        `env:"APP_ENV" envDefault:"development"`
	Debug           bool          `env:"DEBUG"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	RedisURL        string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SentryDSN       string        `env:"SENTRY_DSN"`
	AuditStream     string        `env:"AUDIT_STREAM" envDefault:"authcore:audit"`
	AuditStreamLen  int64         `env:"AUDIT_STREAM_MAXLEN" envDefault:"100000"`
	AuditAlertRate  int           `env:"AUDIT_ALERTS_PER_MINUTE" envDefault:"10"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	SecureCookies   bool          `env:"SECURE_COOKIES" envDefault:"true"`

	// TrustProxyHeaders reads the client IP from X-Forwarded-For and
	// X-Real-IP. Off by default.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS"`
}

func loadServerConfig() (serverConfig, error) {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("parse server config: %w", err)
	}
	if cfg.AuditStreamLen < 0 {
		return serverConfig{}, fmt.Errorf("AUDIT_STREAM_MAXLEN must not be negative")
	}
	return cfg, nil
}
