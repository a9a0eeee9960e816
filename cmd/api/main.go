package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/config"
	"custodia.org/internal/httpapi"
	"custodia.org/internal/obs"
	"custodia.org/internal/resource"
	"custodia.org/internal/store/pg"
	"custodia.org/internal/stream"
	"custodia.org/internal/throttle"
	"custodia.org/internal/transition"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 10 * time.Second
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CUSTODIA_CONFIG"), "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env)
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.Secret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	var (
		repo       resource.Repository
		auditStore audit.Store
		admins     auth.AdminStore
		probe      httpapi.ReadyProbe
	)
	if cfg.Database.DSN != "" {
		store, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer store.Close()
		repo, auditStore, admins = store, store.Audit(), store.Admins()
		probe.DB = store.DB()
	} else {
		logger.Warn("database.dsn not set, using in-memory stores")
		mem := resource.NewInMemory()
		n, err := resource.SeedDemo(ctx, mem)
		if err != nil {
			return fmt.Errorf("seed demo resources: %w", err)
		}
		logger.Info("demo resources seeded", "count", n)
		repo, auditStore, admins = mem, audit.NewMemoryStore(), auth.NewMemoryAdminStore()
	}

	authenticator := auth.NewAuthenticator(admins, tokens)
	if cfg.Auth.BootstrapEmail != "" {
		bootstrapAdmin(ctx, authenticator, cfg.Auth, logger)
	}

	events := stream.New()
	auditOpts := []audit.Option{audit.WithSlog(logger), audit.WithSink("stream", events)}
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.DialKafka(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer sink.Close()
		auditOpts = append(auditOpts, audit.WithSink("kafka", sink))
		logger.Info("audit mirror enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.AuditTopic)
	}
	auditLog := audit.NewLogger(auditStore, auditOpts...)

	var limiter throttle.Limiter = throttle.NewMemory(cfg.Login.MaxAttempts, cfg.Login.Window)
	if cfg.Login.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Login.RedisAddr})
		defer rdb.Close()
		limiter = throttle.NewRedis(rdb, cfg.Login.MaxAttempts, cfg.Login.Window, "")
		probe.Redis = rdb
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return fmt.Errorf("http.trusted_proxies: %w", err)
	}

	api := httpapi.New(probe, version, httpapi.Services{
		Tokens:        tokens,
		Authenticator: authenticator,
		Transitions:   transition.NewService(repo, auditLog, transition.WithLogger(logger)),
		Audit:         auditLog,
		Stream:        events,
	},
		httpapi.WithLoginLimiter(limiter),
		httpapi.WithCookie(cfg.Auth.CookieName, cfg.Auth.CookieSecure),
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, cfg.HTTP.RatePerSecond),
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithLogger(logger),
	)
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	health := httpapi.NewHealthServer(probe)
	grpcServer := httpapi.NewGRPCServer(health)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go health.Run(ctx, healthInterval)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed, shutting down", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	health.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	logger.Info("stopped")
	return runErr
}

// bootstrapAdmin provisions the configured operator on first start.
func bootstrapAdmin(ctx context.Context, a *auth.Authenticator, cfg config.AuthConfig, logger *slog.Logger) {
	_, err := a.Provision(ctx, cfg.BootstrapEmail, cfg.BootstrapPassword, auth.DefaultRole)
	switch {
	case err == nil:
		logger.Info("bootstrap admin provisioned", "email", cfg.BootstrapEmail)
	case errors.Is(err, auth.ErrAlreadyExists):
		logger.Debug("bootstrap admin already present", "email", cfg.BootstrapEmail)
	default:
		logger.Warn("bootstrap admin not provisioned", "email", cfg.BootstrapEmail, "error", err)
	}
}
