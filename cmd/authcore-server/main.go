// Command authcore-server exposes the authcore engine over HTTP.
//
// Startup:
//
//  1. Structured JSON logger.
//  2. .env (optional), server and engine configuration.
//  3. Sentry, when SENTRY_DSN is set.
//  4. PostgreSQL identity store and migrations.
//  5. Redis for sessions, rate limits, lockout and the audit stream.
//  6. Engine, router and graceful shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/identity/pgstore"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With(slog.String("app", "authcore"))
	slog.SetDefault(log)

	_ = godotenv.Load()

	cfg, err := loadServerConfig()
	must(log, err, "load server configuration")
	if cfg.Debug {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})).With(slog.String("app", "authcore"))
		slog.SetDefault(log)
	}

	engineCfg, err := authcore.LoadConfigFromEnv("AUTHCORE_")
	must(log, err, "load engine configuration")

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("addr", cfg.Addr),
		slog.Bool("trust_proxy_headers", cfg.TrustProxyHeaders),
	)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Error("sentry_init_failed", slog.Any("error", err))
		}
	}
	defer sentry.Flush(2 * time.Second)

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	must(log, pgstore.Migrate(cfg.DatabaseURL, log), "run migrations")
	store, err := pgstore.Open(cfg.DatabaseURL)
	must(log, err, "open identity store")
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Error("postgres close error", slog.Any("error", cerr))
		}
	}()
	must(log, store.DB().PingContext(startupCtx), "ping postgres")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	must(log, err, "parse redis url")
	rdb := redis.NewClient(redisOpts)
	defer func() {
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()
	must(log, rdb.Ping(startupCtx).Err(), "ping redis")

	sink := audit.MultiSink{
		audit.NewSQLSink(store.DB()),
		audit.NewRedisStreamSink(rdb, cfg.AuditStream, cfg.AuditStreamLen),
	}
	reporter := audit.NewSentryReporter(nil, cfg.AuditAlertRate, audit.LogReporter{Logger: log})

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithAuditSink(sink).
		WithAuditReporter(reporter).
		WithLogger(log).
		Build()
	must(log, err, "build engine")
	defer engine.Close()

	metrics, err := promexport.Handler(engine)
	must(log, err, "register metrics")

	router := newRouter(engine, log, metrics, routerOptions{
		SecureCookies:     cfg.SecureCookies,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server_start", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server error", slog.Any("error", err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
	}
	log.Info("server stopped")
}

// must logs and exits on a startup error. Only used during wiring.
func must(log *slog.Logger, err error, step string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("step", step),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
