package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mescon/repeatd/internal/api"
	"github.com/mescon/repeatd/internal/auth"
	"github.com/mescon/repeatd/internal/config"
	"github.com/mescon/repeatd/internal/db"
	"github.com/mescon/repeatd/internal/eventbus"
	"github.com/mescon/repeatd/internal/logger"
	"github.com/mescon/repeatd/internal/metrics"
	"github.com/mescon/repeatd/internal/notifier"
	"github.com/mescon/repeatd/internal/probe"
	"github.com/mescon/repeatd/internal/repeater"
	"github.com/mescon/repeatd/internal/services"
)

func main() {
	// Define command line flags (these override environment variables)
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")
	genKey := flag.Bool("gen-key", false, "Generate an API key and its bcrypt hash, then exit")

	// Configuration flags - all can also be set via environment variables (REPEATD_*)
	flagPort := flag.String("port", "", "HTTP server port (env: REPEATD_PORT, default: 3095)")
	flagLogLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (env: REPEATD_LOG_LEVEL, default: info)")
	flagDataDir := flag.String("data-dir", "", "Data directory path (env: REPEATD_DATA_DIR)")
	flagLogDir := flag.String("log-dir", "", "Log directory path (env: REPEATD_LOG_DIR, default: <data-dir>/logs)")
	flagJobsFile := flag.String("jobs", "", "YAML file of jobs to schedule at startup (env: REPEATD_JOBS_FILE, default: <data-dir>/jobs.yaml)")
	flagNotifyURL := flag.String("notify-url", "", "shoutrrr URL for failure alerts (env: REPEATD_NOTIFY_URL)")
	flagNotifyThrottle := flag.Duration("notify-throttle", 0, "Minimum time between alerts per job (env: REPEATD_NOTIFY_THROTTLE, default: 5m)")
	flagAPIKeyHash := flag.String("api-key-hash", "", "bcrypt hash of the API key for mutating routes (env: REPEATD_API_KEY_HASH)")
	flagShutdownTimeout := flag.Duration("shutdown-timeout", 0, "Max time to wait for running jobs on shutdown (env: REPEATD_SHUTDOWN_TIMEOUT, default: 30s)")
	flagProbeTimeout := flag.Duration("probe-timeout", 0, "Timeout for each probe (env: REPEATD_PROBE_TIMEOUT, default: 10s)")
	flagEventDB := flag.String("event-db", "", "SQLite file to journal events to, relative to data-dir (env: REPEATD_EVENT_DB, default: disabled)")
	flagEventRetention := flag.Duration("event-retention", 0, "How long journaled events are kept (env: REPEATD_EVENT_RETENTION, default: 168h)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("repeatd %s\n", config.Version)
		os.Exit(0)
	}

	if *genKey {
		if err := printNewAPIKey(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate API key: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration from environment variables, then apply flag overrides
	config.Load()
	config.ApplyFlags(config.FlagOverrides{
		Port:            flagPort,
		LogLevel:        flagLogLevel,
		DataDir:         flagDataDir,
		LogDir:          flagLogDir,
		JobsFile:        flagJobsFile,
		NotifyURL:       flagNotifyURL,
		NotifyThrottle:  flagNotifyThrottle,
		APIKeyHash:      flagAPIKeyHash,
		ShutdownTimeout: flagShutdownTimeout,
		ProbeTimeout:    flagProbeTimeout,
		EventDB:         flagEventDB,
		EventRetention:  flagEventRetention,
	})
	cfg := config.Get()

	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directories: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize log file, logging to stdout only: %v\n", err)
	}
	defer logger.Close()
	logger.SetLevel(cfg.LogLevel)

	logger.Infof("========================================")
	logger.Infof("Starting repeatd %s...", config.Version)
	logger.Infof("========================================")

	logger.Infof("Configuration:")
	logger.Infof("  Port: %s", cfg.Port)
	logger.Infof("  Log Level: %s", cfg.LogLevel)
	logger.Infof("  Data Directory: %s", cfg.DataDir)
	logger.Infof("  Log Directory: %s", cfg.LogDir)
	logger.Infof("  Jobs File: %s", cfg.JobsFile)
	logger.Infof("  Probe Timeout: %s", cfg.ProbeTimeout)
	logger.Infof("  Shutdown Timeout: %s", cfg.ShutdownTimeout)
	if cfg.EventDB != "" {
		logger.Infof("  Event Journal: %s (retention: %s)", cfg.EventDB, cfg.EventRetention)
	}
	if cfg.APIKeyHash == "" {
		logger.Warnf("  ⚠️  API key not configured: mutating routes are open")
	}

	// Initialize Event Bus
	eb := eventbus.NewEventBus(cfg.EventHistory)
	logger.Infof("✓ Event Bus initialized (history: %d events)", cfg.EventHistory)

	// Optional event journal
	var (
		journal     *db.Repository
		maintenance *repeater.Repeater
		err         error
	)
	if cfg.EventDB != "" {
		journal, err = db.NewRepository(cfg.EventDB)
		if err != nil {
			// Non-fatal - events stay in memory only
			logger.Errorf("Failed to open event journal %s: %v", cfg.EventDB, err)
			journal = nil
		} else {
			eb.SetStore(journal)
			if maintenance, err = journal.StartMaintenance(cfg.EventRetention, nil); err != nil {
				logger.Errorf("Failed to schedule event journal maintenance: %v", err)
			}
			logger.Infof("✓ Event Journal opened")
		}
	}

	// Probers and the job service
	registry := probe.DefaultRegistry(probe.HTTPOptions{Timeout: cfg.ProbeTimeout})
	jobService := services.NewJobService(eb, registry, nil)
	jobService.SetProbeTimeout(cfg.ProbeTimeout)
	logger.Infof("✓ Job Service (probe kinds: %v)", registry.Kinds())

	// Initialize Notifier Service
	notifierService, err := notifier.NewNotifier(eb, notifier.Options{
		URL:      cfg.NotifyURL,
		Throttle: cfg.NotifyThrottle,
	})
	if err != nil {
		// Non-fatal - continue without notifications
		logger.Errorf("Failed to configure notifications: %v", err)
		notifierService = nil
	} else {
		notifierService.Start()
	}

	metricsService := metrics.NewMetricsService(eb, nil)
	metricsService.Start()
	logger.Infof("✓ Metrics Service (Prometheus endpoint at /metrics)")

	// Start API Server
	deps := api.ServerDeps{
		Jobs:         jobService,
		EventBus:     eb,
		Notifier:     notifierService,
		Metrics:      metricsService,
		APIKeyHash:   cfg.APIKeyHash,
		CORSOrigin:   cfg.CORSOrigin,
		AbortTimeout: cfg.ShutdownTimeout,
	}
	if journal != nil {
		deps.Journal = journal
	}
	apiServer := api.NewRESTServer(deps)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start(":" + cfg.Port)
	}()

	// Jobs start after every subscriber is attached
	defs, err := config.LoadJobsFile(cfg.JobsFile)
	if err != nil {
		logger.Errorf("Failed to load jobs file %s: %v", cfg.JobsFile, err)
	}
	jobService.LoadJobs(jobConfigs(defs))

	logger.Infof("========================================")
	logger.Infof("✓ repeatd %s started successfully", config.Version)
	logger.Infof("✓ Server listening on port %s", cfg.Port)
	logger.Infof("========================================")

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case sig := <-quit:
		logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Errorf("API server failed: %v", err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown in reverse order of startup
	logger.Infof("Aborting %d jobs...", jobService.Len())
	if err := jobService.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Jobs did not finish before the shutdown timeout: %v", err)
	} else {
		logger.Infof("✓ All jobs stopped")
	}

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API Server shutdown error: %v", err)
	} else {
		logger.Infof("✓ API Server stopped")
	}

	if notifierService != nil {
		notifierService.Stop()
	}

	eb.Shutdown()
	logger.Infof("✓ Event Bus stopped")

	if journal != nil {
		if maintenance != nil {
			<-maintenance.Abort()
		}
		if err := journal.GracefulClose(); err != nil {
			logger.Errorf("Event journal close error: %v", err)
		}
	}

	logger.Infof("========================================")
	logger.Infof("✓ repeatd shutdown complete")
	logger.Infof("========================================")

	if exitCode != 0 {
		logger.Close()
		os.Exit(exitCode)
	}
}

// jobConfigs converts job file definitions to service configs.
func jobConfigs(defs []config.JobDefinition) []services.JobConfig {
	configs := make([]services.JobConfig, 0, len(defs))
	for _, d := range defs {
		configs = append(configs, services.JobConfig{
			Name:     d.Name,
			Kind:     d.Kind,
			Target:   d.Target,
			Interval: d.Interval.Duration(),
			Delay:    d.Delay.Duration(),
		})
	}
	return configs
}

func printNewAPIKey() error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}
	fmt.Printf("API key:      %s\n", key)
	fmt.Printf("API key hash: %s\n", hash)
	fmt.Println("Set REPEATD_API_KEY_HASH to the hash and send the key as X-API-Key.")
	return nil
}
