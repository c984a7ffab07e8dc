package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/config"
	"github.com/jrluiz96/roboteasy/internal/fanout"
	"github.com/jrluiz96/roboteasy/internal/hub"
	"github.com/jrluiz96/roboteasy/internal/identity"
	"github.com/jrluiz96/roboteasy/internal/logging"
	"github.com/jrluiz96/roboteasy/internal/policy"
	"github.com/jrluiz96/roboteasy/internal/presence"
	"github.com/jrluiz96/roboteasy/internal/repository"
	"github.com/jrluiz96/roboteasy/internal/service"
	"github.com/jrluiz96/roboteasy/internal/telemetry"
	internalhttp "github.com/jrluiz96/roboteasy/internal/transport/http"
	"github.com/jrluiz96/roboteasy/internal/transport/rpc"
	"github.com/jrluiz96/roboteasy/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("chathub stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting chathub",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("rpc_port", cfg.RPCPort),
		zap.Bool("postgres", cfg.UsePostgres()),
		zap.String("fanout", cfg.FanoutDriver))

	// Initialize metrics before any counter is created
	shutdownMetrics, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName, logger.Named("telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("failed to flush metrics", zap.Error(err))
		}
	}()

	// Initialize store
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Initialize identity
	hmac := identity.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	issuer := identity.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.ClientTokenTTL)
	var attendants identity.AttendantVerifier = hmac
	if cfg.AttendantJWKSURL != "" {
		jwks, err := identity.NewJWKSVerifier(ctx, cfg.AttendantJWKSURL, cfg.JWTIssuer, logger)
		if err != nil {
			return fmt.Errorf("failed to load attendant JWKS: %w", err)
		}
		defer jwks.Close()
		attendants = jwks
	}
	resolver := identity.NewResolver(attendants, hmac)

	// Initialize hub
	relay, err := openRelay(ctx, cfg, logger)
	if err != nil {
		return err
	}
	connectionHub := hub.NewHub(hub.Options{
		SendBuffer: cfg.SendBuffer,
		Relay:      relay,
		Logger:     logger.Named("hub"),
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan error, 1)
	go func() { hubDone <- connectionHub.Run(hubCtx) }()

	// Initialize policy engine
	policyContent := policy.DefaultPolicy
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			stopHub()
			return fmt.Errorf("failed to read policy file: %w", err)
		}
		policyContent = string(data)
	}
	policyEngine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		stopHub()
		return err
	}

	// Initialize service
	svc := service.New(store, connectionHub, presence.NewRegistry(), policyEngine, issuer, hmac, logger.Named("service"))

	// Initialize WebSocket and HTTP servers
	wsServer := ws.NewServer(ws.Options{
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		OpTimeout:      cfg.OpTimeout,
		CheckOrigin:    originChecker(cfg.CORSOrigins),
		Logger:         logger.Named("ws"),
	}, connectionHub, resolver, svc)
	httpServer := internalhttp.NewServer(svc, connectionHub, wsServer, resolver, cfg.CORSOrigins)

	errCh := make(chan error, 2)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	logger.Info("http server started", zap.Int("port", cfg.HTTPPort))

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(svc, logger.Named("rpc"))
		if err != nil {
			stopHub()
			return err
		}
		if err := rpcServer.Listen(fmt.Sprintf(":%d", cfg.RPCPort)); err != nil {
			stopHub()
			return fmt.Errorf("rpc listen: %w", err)
		}
		go func() {
			if err := rpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("rpc server: %w", err)
			}
		}()
		logger.Info("rpc server started", zap.Int("port", cfg.RPCPort))
	}

	// Wait for interrupt signal or a server failure
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	case err := <-hubDone:
		logger.Error("hub relay stopped", zap.Error(err))
	}

	logger.Info("shutting down chathub")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown http server gracefully", zap.Error(err))
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to close websocket connections", zap.Error(err))
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown rpc server gracefully", zap.Error(err))
		}
	}
	stopHub()

	logger.Info("chathub stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	if cfg.UsePostgres() {
		store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return store, nil
	}
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
	}
	return store, nil
}

func openRelay(ctx context.Context, cfg *config.Config, logger *zap.Logger) (fanout.Relay, error) {
	switch cfg.FanoutDriver {
	case config.FanoutNATS:
		relay, err := fanout.NewNATSRelay(cfg.NATSURL, "chathub", cfg.FanoutSubject, logger.Named("nats"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		return relay, nil
	case config.FanoutRedis:
		relay, err := fanout.NewRedisRelay(ctx, cfg.RedisURL, cfg.FanoutSubject, logger.Named("redis"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return relay, nil
	default:
		return nil, nil
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
