package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"autosell/config"
	"autosell/engine"
	"autosell/feed"
	"autosell/internal"
	"autosell/kraken"
	"autosell/logger"
	"autosell/registry"
	"autosell/server"
)

const shutdownGrace = 30 * time.Second

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logLevel := cfg.Logging.Level
	if cfg.Logging.Debug {
		logLevel = "debug"
	}
	if err := log.Configure(logLevel, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	if cfg.Logging.SinkURL != "" {
		stopSink := log.EnableSink(cfg.Logging.SinkURL, cfg.Logging.SinkToken)
		defer stopSink()
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.CurrentEnvironment().String(),
		"target_fiat": cfg.Engine.TargetFiat,
		"sandbox":     cfg.Kraken.Sandbox,
	}).Info("starting autosell")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.Debug || strings.ToLower(cfg.Logging.Level) == "debug" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	client, err := kraken.New(kraken.Config{
		Key:       cfg.Kraken.APIKey,
		Secret:    cfg.Kraken.APISecret,
		Sandbox:   cfg.Kraken.Sandbox,
		APIURL:    cfg.Kraken.APIURL,
		StreamURL: cfg.Kraken.StreamURL,
		Timeout:   cfg.Kraken.Timeout,
		Retry: kraken.RetryPolicy{
			MaxAttempts: cfg.Kraken.Retry.MaxAttempts,
			BaseDelay:   cfg.Kraken.Retry.BaseDelay,
		},
	})
	if err != nil {
		log.WithError(err).Error("failed to create exchange client")
		os.Exit(1)
	}

	reg := registry.New(client, cfg.Engine.TargetFiat)
	if err := reg.Load(ctx); err != nil {
		log.WithError(err).Error("failed to load pair catalog")
		os.Exit(1)
	}

	eng := engine.New(client, reg)
	if err := eng.ColdPass(ctx); err != nil {
		log.WithError(err).Error("cold pass failed")
		os.Exit(1)
	}

	// The feed starts only after the cold pass so the first snapshot
	// cannot duplicate startup sells.
	channels := internal.NewChannels(cfg.Engine.FeedBuffer)
	channels.StartMetricsReporting(ctx)
	eng.Start(ctx, channels.Feed)

	balanceFeed := feed.New(client, client.StreamURL(), channels.Feed)
	balanceFeed.SetStats(channels)
	if err := balanceFeed.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start balance feed")
		os.Exit(1)
	}

	srv := server.New(cfg.Server.Port, eng, balanceFeed, client)
	if err := srv.Start(); err != nil {
		log.WithError(err).Error("failed to start status server")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		balanceFeed.Stop()
		channels.Close()
		// In-flight submissions settle rather than being aborted.
		eng.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(shutdownGrace):
		log.Warn("graceful shutdown timeout exceeded")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("status server shutdown failed")
	}

	log.Info("autosell stopped")
}
