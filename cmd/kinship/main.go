// Package main is the entrypoint for the kinship API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kinship-app/kinship/internal/components/connections"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/components/profiles"
	"github.com/kinship-app/kinship/internal/frameworks/service"
	"github.com/kinship-app/kinship/internal/platform/cache"
	"github.com/kinship-app/kinship/internal/platform/config"
	"github.com/kinship-app/kinship/internal/platform/deps"
	"github.com/kinship-app/kinship/internal/platform/http/server"
	"github.com/kinship-app/kinship/internal/platform/logutil"
	"github.com/kinship-app/kinship/internal/platform/metrics"
	"github.com/kinship-app/kinship/internal/platform/store/sqlite"

	// Register cache drivers
	_ "github.com/kinship-app/kinship/internal/platform/cache/loader"
	// Register services
	_ "github.com/kinship-app/kinship/internal/services/loader"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: prod or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	publicOrigin := flag.String("public-origin", "", "Public origin (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	loggingFormat := flag.String("logging-format", "", "Log format: json or text (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: memory or sqlite (overrides config)")
	dataDir := flag.String("data-dir", "", "SQLite data directory (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or valkey (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors
	bootstrapLogger := logutil.New(os.Stdout, "json", "info")

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:    listenAddr,
			PublicOrigin:  publicOrigin,
			LoggingLevel:  loggingLevel,
			LoggingFormat: loggingFormat,
			StoreDriver:   storeDriver,
			DataDir:       dataDir,
			CacheDriver:   cacheDriver,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logutil.New(os.Stdout, cfg.Logging.Format, cfg.Logging.Level)
	slog.SetDefault(logger)
	logger.Info("effective configuration", "config", cfg.Redacted())

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	c, err := cache.NewFromConfig(cfg.Cache.Driver, cfg.Cache.Drivers, logger)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	defer c.Close()

	var (
		party    identity.PartyRepo
		sessions identity.SessionRepo
		connRepo connections.Repository
	)
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Store.DataDir, logger,
			append(identity.Models(), connections.Models()...)...)
		if err != nil {
			return err
		}
		defer db.Close()
		party = identity.NewGormPartyRepo(db.DB)
		connRepo = connections.NewGormRepo(db.DB)
		// Sessions outlive a restart when the cache does.
		sessions = identity.NewCacheSessionRepo(c)
	default:
		party = identity.NewMemoryPartyRepo()
		connRepo = connections.NewMemoryRepo()
		sessions = identity.NewMemorySessionRepo()
	}

	userAuth := identity.NewUserAuth()
	seeded := make([]identity.SeededUser, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		seeded = append(seeded, identity.SeededUser{
			Username: u.Username,
			Password: u.Password,
			Email:    u.Email,
			Name:     u.Name,
			Headline: u.Headline,
			Location: u.Location,
		})
	}
	created, err := identity.NewBootstrap(party, userAuth, logger).Run(ctx, seeded)
	if err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}
	logger.Info("seeded users", "created", created, "configured", len(seeded))

	m := metrics.New()
	conns := connections.NewService(connections.ServiceDeps{
		Repo:      connRepo,
		Users:     party,
		Cache:     c,
		StatusTTL: cfg.StatusTTL(),
		Metrics:   m,
		Log:       logger,
	})

	deps.SetDeps(&deps.Deps{
		PartyRepo:   party,
		SessionRepo: sessions,
		UserAuth:    userAuth,
		Connections: conns,
		Profiles:    profiles.NewService(party, conns, cfg.Profiles.MaxImageBytes, logger),
		Config:      cfg,
		Cache:       c,
		Metrics:     m,
	})

	svcs, err := service.Build(service.CoreServices, cfg.Services, logger)
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}
	srv, err := server.New(cfg, logger, svcs)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
