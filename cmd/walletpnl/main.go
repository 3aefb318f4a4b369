package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liamashdown/walletpnl/internal/cache"
	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/liamashdown/walletpnl/internal/fetcher"
	"github.com/liamashdown/walletpnl/internal/httpapi"
	"github.com/liamashdown/walletpnl/internal/polymarket/dataapi"
	"github.com/liamashdown/walletpnl/internal/polymarket/gammaapi"
	"github.com/liamashdown/walletpnl/internal/polymarket/lbapi"
	"github.com/liamashdown/walletpnl/internal/processor"
	"github.com/liamashdown/walletpnl/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting walletpnl service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, keeping info")
	}

	log.WithFields(logrus.Fields{
		"environment":      cfg.Environment,
		"storage_driver":   cfg.StorageDriver,
		"auth_mode":        cfg.DataAPIAuthMode,
		"ledger_window":    cfg.LedgerMaxEvents,
		"request_timeout":  cfg.RequestTimeout.String(),
		"refresh_interval": cfg.LeaderboardRefreshInterval.String(),
	}).Info("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open storage")
	}
	defer db.Close()

	log.Info("Storage ready")

	// Initialize cache, optionally shared through Redis
	var remote cache.Remote
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisRemote(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, using in-process cache only")
		} else {
			defer rdb.Close()
			remote = rdb
			log.Info("Redis cache connected")
		}
	}
	caches, err := cache.NewStore(cfg.CacheMaxEntries, remote, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create cache")
	}
	defer caches.Close()

	// Initialize API clients
	dataClient := dataapi.NewClient(cfg)
	gammaClient := gammaapi.NewClient(cfg)
	lbClient := lbapi.NewClient(cfg)

	log.Info("API clients initialized")

	// Initialize processor
	proc := processor.New(cfg, db, dataClient, gammaClient, lbClient, fetcher.NewFromConfig(cfg, log), caches, log)

	// Start HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpapi.NewServer(proc, db, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.LeaderboardRefreshInterval)
	defer ticker.Stop()

	// Refresh immediately on startup (async)
	go refresh(ctx, proc, log)

	for {
		select {
		case <-ticker.C:
			go refresh(ctx, proc, log)
		case sig := <-sigChan:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
			shutdown(server, log)
			log.Info("Graceful shutdown complete")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, shutting down")
			shutdown(server, log)
			return
		}
	}
}

func refresh(ctx context.Context, proc *processor.Processor, log *logrus.Logger) {
	if err := proc.RefreshLeaderboard(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Error refreshing leaderboard")
	}
}

func shutdown(server *http.Server, log *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}
}
