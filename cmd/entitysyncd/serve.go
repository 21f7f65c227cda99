package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/entitysync/internal/authstore"
	"github.com/nugget/entitysync/internal/buildinfo"
	"github.com/nugget/entitysync/internal/config"
	"github.com/nugget/entitysync/internal/ecsmock"
	"github.com/nugget/entitysync/internal/engine"
	"github.com/nugget/entitysync/internal/events"
	"github.com/nugget/entitysync/internal/mutation"
	"github.com/nugget/entitysync/internal/synctype"
	"github.com/nugget/entitysync/internal/wstransport"

	_ "github.com/mattn/go-sqlite3"
)

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting entitysyncd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "address", cfg.Listen.Address, "port", cfg.Listen.Port, "frame_interval", cfg.Frame.Interval)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	var authz mutation.Authorizer
	if cfg.Auth.Configured() {
		store, err := authstore.Open(cfg.Auth.OwnershipDBPath)
		if err != nil {
			logger.Error("failed to open ownership store", "path", cfg.Auth.OwnershipDBPath, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		authz = mutation.AuthorizerFunc(store.Authorize)
		logger.Info("ownership authorizer enabled", "path", cfg.Auth.OwnershipDBPath)
	} else {
		authz = mutation.ServerOnly{}
		logger.Info("ownership authorizer disabled, falling back to server-only mutations")
	}

	world := ecsmock.New()
	registry := synctype.New()
	bus := events.New()

	transport := wstransport.New(wstransport.Config{
		Address:    cfg.Listen.Address,
		Port:       cfg.Listen.Port,
		BcryptHash: cfg.Auth.BcryptHash,
	}, logger)

	eng := engine.New(logger, world, registry, transport, authz, bus, cfg.Frame.Interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		eng.Stop()
		_ = transport.Shutdown(context.Background())
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("sync engine started", "frame_interval", cfg.Frame.Interval)

	if err := transport.Start(ctx); err != nil {
		logger.Error("transport failed", "error", err)
		os.Exit(1)
	}

	logger.Info("entitysyncd stopped")
}
