// Package main implements the ravens-perch reconciliation engine entry
// point.
//
// This process owns no API surface of its own: it watches for USB camera
// hotplug events, probes device capabilities and host encoder hardware,
// resolves a streaming profile per camera, and converges a streaming
// server and a printer-orchestration webcam registry to match. The
// administrator-facing control surface (enable/disable, overrides,
// snapshots) is an external collaborator against the same Settings Store
// file and is not part of this binary.
//
// The startup sequence:
//  1. Load and validate configuration
//  2. Initialize structured logging
//  3. Open the Settings Store
//  4. Probe host hardware encoder capability
//  5. Construct the Device Tracker and its capability prober
//  6. Construct the streaming-server and orchestration clients
//  7. Construct the Reconciler
//  8. Start the Event Ingress (seeds existing devices, then hotplug events)
//  9. Start the Reconciler's control loop
//
// Graceful shutdown stops the Event Ingress first, then the Reconciler,
// then the HTTP health server and the configuration watcher.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrmees/ravens-perch/internal/common"
	"github.com/mrmees/ravens-perch/internal/config"
	"github.com/mrmees/ravens-perch/internal/device"
	"github.com/mrmees/ravens-perch/internal/hardware"
	"github.com/mrmees/ravens-perch/internal/health"
	"github.com/mrmees/ravens-perch/internal/ingress"
	"github.com/mrmees/ravens-perch/internal/logging"
	"github.com/mrmees/ravens-perch/internal/reconciler"
	"github.com/mrmees/ravens-perch/internal/registration"
	"github.com/mrmees/ravens-perch/internal/store"
	"github.com/mrmees/ravens-perch/internal/streamserver"
)

func secondsToDuration(s float64, def time.Duration) time.Duration {
	if s <= 0 {
		return def
	}
	return time.Duration(s * float64(time.Second))
}

func main() {
	configPath := "config/default.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.NewConfigLoader().LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := logging.SetupLogging(&logging.LoggingConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FileEnabled:    cfg.Logging.FileEnabled,
		FilePath:       cfg.Logging.FilePath,
		MaxFileSize:    cfg.Logging.MaxFileSize,
		BackupCount:    cfg.Logging.BackupCount,
		ConsoleEnabled: cfg.Logging.ConsoleEnabled,
	}); err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}

	logger := logging.GetLogger("reconciler")
	logger.Info("starting ravens-perch reconciler")
	logger.Debug(cfg.String())

	configWatcher, err := config.NewConfigWatcher(configPath, func(reloaded *config.Config) error {
		return logging.SetupLogging(&logging.LoggingConfig{
			Level:          reloaded.Logging.Level,
			Format:         reloaded.Logging.Format,
			FileEnabled:    reloaded.Logging.FileEnabled,
			FilePath:       reloaded.Logging.FilePath,
			MaxFileSize:    reloaded.Logging.MaxFileSize,
			BackupCount:    reloaded.Logging.BackupCount,
			ConsoleEnabled: reloaded.Logging.ConsoleEnabled,
		})
	})
	if err != nil {
		logger.WithError(err).Warn("configuration hot reload unavailable")
	} else if err := configWatcher.Start(); err != nil {
		logger.WithError(err).Warn("failed to start configuration hot reload")
	}

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open settings store")
	}

	probe := hardware.NewProbe(cfg.Hardware)

	apiTimeout := secondsToDuration(cfg.Reconciler.APICallTimeout, 5*time.Second)
	v4l2Runner := hardware.RealCommandRunner{}
	prober := hardware.NewV4L2Prober(v4l2Runner, logger, apiTimeout)
	debounce := secondsToDuration(cfg.Reconciler.DebounceInterval/1000.0, 500*time.Millisecond)
	tracker := device.NewTracker(prober, logger, debounce)

	streamClient := streamserver.NewClient(cfg.StreamServer, apiTimeout, logger)
	backoffBase := secondsToDuration(cfg.Reconciler.BackoffBase, time.Second)
	backoffCap := secondsToDuration(cfg.Reconciler.BackoffCap, 60*time.Second)
	streamSup := streamserver.NewSupervisor(streamClient, streamserver.NewBackoff(backoffBase, backoffCap))

	regClient := registration.NewClient(cfg.Orchestration, apiTimeout, logger)
	regSync := registration.NewSync(regClient)

	healthMonitor := health.NewHealthMonitor("1.0.0")
	var httpHealthServer *health.HTTPHealthServer
	if cfg.HTTPHealth.Enabled {
		httpHealthServer, err = health.NewHTTPHealthServer(&cfg.HTTPHealth, healthMonitor, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to create HTTP health server")
		}
	}

	rec := reconciler.New(reconciler.Dependencies{
		Tracker:      tracker,
		Probe:        probe,
		Store:        st,
		StreamClient: streamClient,
		StreamSup:    streamSup,
		RegClient:    regClient,
		RegSync:      regSync,
		Logger:       logger,
		Health:       healthMonitor,
	}, cfg.Reconciler, cfg.StreamServer, cfg.Orchestration)

	pollInterval := secondsToDuration(cfg.Reconciler.PollInterval, 2*time.Second)
	in := ingress.New(tracker, logger, pollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := in.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start event ingress")
	}
	logger.Info("event ingress started")

	if httpHealthServer != nil {
		go func() {
			if err := httpHealthServer.Start(ctx); err != nil {
				logger.WithError(err).Error("HTTP health server stopped unexpectedly")
			}
		}()
		logger.Info("HTTP health server started")
	}

	recErrCh := make(chan error, 1)
	go func() { recErrCh <- rec.Run(ctx) }()
	logger.Info("reconciler control loop started")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, stopping")
	case err := <-recErrCh:
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("reconciler exited with fatal error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, svc := range []common.Stoppable{in, rec} {
		if err := svc.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("error during shutdown")
		}
	}
	if httpHealthServer != nil {
		if err := httpHealthServer.Stop(); err != nil {
			logger.WithError(err).Error("error stopping HTTP health server")
		}
	}
	if configWatcher != nil {
		if err := configWatcher.Stop(); err != nil {
			logger.WithError(err).Error("error stopping configuration hot reload")
		}
	}

	logger.Info("ravens-perch reconciler stopped")
}
