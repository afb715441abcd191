package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegisgrid/mandate/pkg/api"
	"github.com/aegisgrid/mandate/pkg/audit"
	"github.com/aegisgrid/mandate/pkg/auth"
	"github.com/aegisgrid/mandate/pkg/config"
	"github.com/aegisgrid/mandate/pkg/identity"
	"github.com/aegisgrid/mandate/pkg/ledger"
	"github.com/aegisgrid/mandate/pkg/observability"
	"github.com/aegisgrid/mandate/pkg/policy"
	"github.com/aegisgrid/mandate/pkg/registry"
	"github.com/aegisgrid/mandate/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	log.Println("[mandate] node starting")
	ctx := context.Background()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Storage. Ministries and the audit trail always live in the embedded
	// store; decisions and receipts move to Postgres when DATABASE_URL is set.
	sqldb, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer sqldb.Close()
	if err := store.MigrateSQLite(ctx, sqldb); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	var (
		decisions store.DecisionStore
		receipts  store.ReceiptStore
	)
	if cfg.DatabaseURL != "" {
		pg, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pg.Close()
		if err := pg.PingContext(ctx); err != nil {
			log.Fatalf("postgres ping: %v", err)
		}
		if err := store.MigratePostgres(ctx, pg); err != nil {
			log.Fatalf("migrate postgres: %v", err)
		}
		decisions = store.NewPostgresDecisionStore(pg)
		receipts = store.NewPostgresReceiptStore(pg)
		log.Println("[mandate] postgres: connected")
	} else {
		decisions = store.NewSQLiteDecisionStore(sqldb)
		receipts = store.NewSQLiteReceiptStore(sqldb)
	}

	auditLog := audit.NewLog(store.NewSQLiteAuditStore(sqldb))
	reg := registry.New(store.NewSQLiteMinistryStore(sqldb), auditLog).WithLogger(logger)

	scopes, err := policy.NewScopeEvaluator()
	if err != nil {
		log.Fatalf("init scope evaluator: %v", err)
	}
	led := ledger.New(decisions, receipts, reg, scopes, auditLog, logger)

	// Jurisdiction profiles are advisory defaults served to clients; a
	// missing directory is not fatal.
	var profiles map[string]*config.JurisdictionProfile
	if cfg.ProfilesDir != "" {
		loaded, err := config.LoadAllProfiles(cfg.ProfilesDir)
		if err != nil {
			logger.Warn("jurisdiction profiles not loaded", "dir", cfg.ProfilesDir, "error", err)
		} else {
			profiles = loaded
			logger.Info("jurisdiction profiles loaded", "count", len(profiles))
		}
	}

	// Identity: ephemeral service keyset; a bootstrap admin token is logged
	// once so operators can reach the API.
	var authMW func(http.Handler) http.Handler
	if cfg.AuthDisabled {
		logger.Warn("auth disabled; all requests are anonymous")
		authMW = func(next http.Handler) http.Handler { return next }
	} else {
		keySet, err := identity.NewInMemoryKeySet()
		if err != nil {
			log.Fatalf("init keyset: %v", err)
		}
		tm := identity.NewTokenManager(keySet)
		bootstrap, err := tm.GenerateToken("bootstrap-admin", []string{identity.RoleAdmin}, 12*time.Hour)
		if err != nil {
			log.Fatalf("mint bootstrap token: %v", err)
		}
		log.Printf("[mandate] bootstrap admin token: %s", bootstrap)
		authMW = auth.NewMiddleware(auth.NewJWTValidator(keySet))
	}

	// Idempotency cache: shared Redis when configured, per-process otherwise.
	var idem api.IdempotencyStorer
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("parse REDIS_URL: %v", err)
		}
		idem = api.NewRedisIdempotencyStore(redis.NewClient(opt), 24*time.Hour)
		log.Println("[mandate] redis idempotency: enabled")
	} else {
		idem = api.NewMemoryIdempotencyStore(24 * time.Hour)
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "mandate-node",
		ServiceVersion: "1.0.0",
		Environment:    getenvDefault("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		log.Fatalf("init observability: %v", err)
	}

	server := api.NewServer(reg, led, auditLog, logger).WithProfiles(profiles)
	limiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2)

	var handler http.Handler = server.Routes()
	handler = api.IdempotencyMiddleware(idem)(handler)
	if !cfg.AuthDisabled {
		handler = auth.RouteRoles()(handler)
	}
	handler = authMW(handler)
	handler = obs.Middleware(handler)
	handler = limiter.Middleware(handler)
	handler = api.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[mandate] ready: http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[mandate] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("observability shutdown", "error", err)
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
