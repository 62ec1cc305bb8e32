package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"hostwatch/internal/config"
	"hostwatch/internal/database"
	"hostwatch/internal/metrics"
	"hostwatch/internal/monitoring"
	"hostwatch/internal/store"
	"hostwatch/internal/web"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Hostwatch %s\nCommit: %s\nBuilt:  %s\n", web.Version, web.GitCommit, web.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"workers":     cfg.Monitoring.MaxWorkers,
	}).Info("Starting hostwatch")

	db, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	hostStore := store.New()

	// Persisted monitoring parameters override the file: the operator may
	// have tuned them through the API since the config was written.
	if saved, err := db.LoadConfig(context.Background()); err == nil && saved != nil {
		if err := config.ValidateMonitoring(saved); err == nil {
			cfg.Monitoring = *saved
			logrus.Info("Restored monitoring config from database")
		} else {
			logrus.WithError(err).Warn("Ignoring invalid persisted monitoring config")
		}
	}

	persisted, err := db.LoadAllHosts(context.Background())
	if err != nil {
		logrus.Fatalf("Failed to load hosts: %v", err)
	}
	if len(persisted) > 0 {
		if err := hostStore.Load(persisted); err != nil {
			logrus.Fatalf("Failed to seed store: %v", err)
		}
		logrus.WithField("count", len(persisted)).Info("Loaded hosts from database")
	}

	// Every store mutation from here on reaches disk through the persister.
	hostStore.Subscribe(database.NewPersister(hostStore, db).HandleStoreEvent)

	metricsCollector := metrics.NewCollector(hostStore)

	engine, err := monitoring.NewEngine(cfg, hostStore, metricsCollector)
	if err != nil {
		logrus.Fatalf("Failed to initialize monitoring engine: %v", err)
	}

	webServer := web.NewServer(cfg, hostStore, db, engine, metricsCollector)
	hostStore.Subscribe(webServer.Hub().HandleStoreEvent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start monitoring engine: %v", err)
	}

	if err := webServer.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start web server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	cancel()
	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Web server shutdown error")
	}

	// Drains queued events so the last status writes reach the persister.
	hostStore.Close()
	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
