package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/propmatch/internal/audience"
	"github.com/propmatch/internal/config"
	"github.com/propmatch/internal/dataset"
	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/store"
	"github.com/propmatch/internal/web"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := debug.NewLogger(settings.LogLevel, settings.LogFormat, "web")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	debug.SetLogger(logger)

	logger.Info("=== Property Audience Builder ===",
		zap.String("host", settings.WebHost),
		zap.Int("port", settings.WebPort),
		zap.Strings("regions", settings.Regions))

	// No matched data means nothing to build audiences from
	doneLoading := debug.DebugTiming(settings.Debug, "load dataset")
	ds, err := dataset.Load(settings.MatchFiles(), logger)
	doneLoading()
	if err != nil {
		if errors.Is(err, dataset.ErrDataUnavailable) {
			logger.Fatal("no match data loaded; run `matcher match` first", zap.Error(err))
		}
		logger.Fatal("failed to load dataset", zap.Error(err))
	}

	engine := audience.NewEngine(ds, logger)
	engine.SetDebug(settings.Debug)

	ctx := context.Background()
	audiences, err := store.Open(ctx, settings, logger)
	if err != nil {
		logger.Fatal("failed to open audience store", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	webConfig, err := web.ResolveConfig(settings)
	if err != nil {
		logger.Fatal("invalid web configuration", zap.Error(err))
	}
	server, err := web.NewServer(webConfig, web.Deps{
		Engine:   engine,
		Store:    audiences,
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	logger.Info("features enabled",
		zap.Bool("export", webConfig.Features.ExportEnabled),
		zap.Bool("auth", webConfig.Auth.Enabled))

	if err := server.Start(ctx); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
