// Command regression replays the SPX short call expiry scenario, checks the
// algorithm's behavior against its recorded expectations and stores the run.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/config"
	"github.com/eddiefleurent/spx_expiry_regression/internal/dashboard"
	"github.com/eddiefleurent/spx_expiry_regression/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath   string
		scenarioPath string
		serve        bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	flag.StringVar(&scenarioPath, "scenario", "", "Scenario file overriding backtest.scenario")
	flag.BoolVar(&serve, "serve", false, "Keep the dashboard running after the run completes")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	if scenarioPath != "" {
		cfg.Backtest.Scenario = scenarioPath
	}
	logger.SetLevel(cfg.LogLevel())

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open run storage")
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"provider": cfg.Chain.Provider,
		"scenario": scenarioName(cfg),
		"timeout":  cfg.GetTimeout(),
	}).Info("Starting SPX expiry regression")

	if err := run(ctx, cfg, store, logger, serve); err != nil {
		stop()
		logger.WithError(err).Error("Regression finished with errors")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func scenarioName(cfg *config.Config) string {
	if cfg.Backtest.Scenario == "" {
		return "embedded"
	}
	return cfg.Backtest.Scenario
}

// run executes one regression. With the dashboard enabled the server runs
// alongside it, and with serve set it keeps running until interrupted.
func run(ctx context.Context, cfg *config.Config, store storage.Interface, logger *logrus.Logger, serve bool) error {
	runner := NewRunner(cfg, store, nil, logger)

	if !cfg.Dashboard.Enabled {
		_, err := runner.Run(ctx)
		return err
	}

	server := dashboard.NewServer(dashboard.Config{
		AuthToken: cfg.Dashboard.AuthToken,
		Port:      cfg.Dashboard.Port,
	}, store, logger)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(server.Start)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-done:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	var runErr error
	g.Go(func() error {
		_, runErr = runner.Run(gctx)
		if serve && !errors.Is(gctx.Err(), context.Canceled) {
			logger.Infof("Run complete, dashboard stays up on port %d until interrupted", cfg.Dashboard.Port)
			<-gctx.Done()
		}
		close(done)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return runErr
}
