// Package main is the entry point for the discovery API gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taylorshaulis/adsws/internal/config"
	"github.com/taylorshaulis/adsws/internal/discovery"
	"github.com/taylorshaulis/adsws/internal/observability"
	"github.com/taylorshaulis/adsws/internal/policy"
	"github.com/taylorshaulis/adsws/internal/proxy"
	"github.com/taylorshaulis/adsws/internal/ratelimit/store"
	"github.com/taylorshaulis/adsws/internal/routing"
	"github.com/taylorshaulis/adsws/internal/server"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)

	run(cfg, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("adsws version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) *zap.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadConfig loads and validates the configuration.
func loadConfig(configPath string, logger *zap.Logger) *config.Config {
	logger.Info("starting adsws gateway",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("webservices", len(cfg.Webservices)),
		zap.String("publishEndpoint", cfg.PublishEndpoint),
	)

	return cfg
}

func run(cfg *config.Config, configPath string, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg.ListenAddress, server.WithServerLogger(logger))

	discoverAndPublish(ctx, cfg, srv, logger)

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		discoverAndPublish(ctx, newCfg, srv, logger)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("config watcher unavailable, hot reload disabled", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", zap.Error(err))
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// discoverAndPublish runs one discovery pass and publishes the resulting
// table to the server.
func discoverAndPublish(ctx context.Context, cfg *config.Config, srv *server.Server, logger *zap.Logger) {
	orchestrator := buildOrchestrator(ctx, cfg, logger)
	table := orchestrator.Discover(ctx, cfg.Webservices)

	logger.Info("discovery pass complete", zap.Int("routes", table.Len()))
	srv.Swap(table)
}

// buildOrchestrator wires the discovery orchestrator from configuration.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger) *discovery.Orchestrator {
	pipeline := policy.NewPipeline(logger,
		policy.WithStore(buildStore(ctx, cfg, logger)),
		policy.WithScopeVerifier(buildVerifier(logger)),
		policy.WithResponseHeaders(cfg.ProxyHeaders),
		policy.WithDefaultRateLimit(cfg.DefaultRateLimit),
	)

	proxyFor := func(baseURL string) (routing.HandlerFactory, error) {
		return proxy.NewFactory(baseURL, proxy.DefaultConfig(), logger)
	}

	opts := []discovery.OrchestratorOption{
		discovery.WithLogger(logger),
		discovery.WithRegistry(buildRegistry(logger)),
		discovery.WithManifestClient(
			discovery.NewManifestClient(cfg.PublishEndpoint, cfg.DiscoveryTimeout, logger)),
	}

	if resolver := buildResolver(cfg, logger); resolver != nil {
		opts = append(opts, discovery.WithResolver(resolver))
	}

	return discovery.NewOrchestrator(cfg, pipeline, proxyFor, opts...)
}

// buildStore creates the rate limit counter store: Redis when enabled
// (counters shared across instances), the in-memory store otherwise.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) store.Store {
	if !cfg.Redis.Enabled {
		return store.NewMemoryStore()
	}

	redisStore, err := store.NewRedisStore(ctx, store.RedisConfig{
		Address:   cfg.Redis.Address,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: "api_",
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-memory rate limiting", zap.Error(err))
		return store.NewMemoryStore()
	}
	return redisStore
}

// buildVerifier creates the bearer-token scope verifier when a signing
// secret is configured. Without one, scope enforcement is disabled.
func buildVerifier(logger *zap.Logger) policy.ScopeVerifier {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		logger.Warn("AUTH_JWT_SECRET not set, scope enforcement disabled")
		return nil
	}
	return policy.NewJWTScopeVerifier([]byte(secret))
}

// buildResolver creates the consul SRV resolver when any configured
// backend needs one.
func buildResolver(cfg *config.Config, logger *zap.Logger) *discovery.Resolver {
	if !needsConsul(cfg) {
		return nil
	}

	var (
		resolver *discovery.Resolver
		err      error
	)
	if cfg.Consul.Nameserver != "" {
		resolver, err = discovery.NewResolver(cfg.Consul.Nameserver,
			discovery.WithResolverLogger(logger))
	} else {
		resolver, err = discovery.NewResolverFromInterface(cfg.Consul.Interface,
			discovery.WithResolverLogger(logger))
	}
	if err != nil {
		logger.Error("consul resolver unavailable, consul backends will be skipped",
			zap.Error(err))
		return nil
	}

	logger.Info("consul resolver configured",
		zap.String("nameserver", resolver.Nameserver()))
	return resolver
}

func needsConsul(cfg *config.Config) bool {
	for _, b := range cfg.Webservices {
		locator, err := discovery.ParseLocator(b.Locator)
		if err == nil && locator.Scheme == discovery.SchemeConsul {
			return true
		}
	}
	return false
}

// buildRegistry registers the local modules compiled into this binary.
func buildRegistry(logger *zap.Logger) *discovery.Registry {
	registry := discovery.NewRegistry()

	if err := registry.Register("adsws.status", newStatusModule(version)); err != nil {
		logger.Warn("failed to register status module", zap.Error(err))
	}

	return registry
}

func getEnvOrDefault(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}
