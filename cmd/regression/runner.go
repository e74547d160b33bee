package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/chain"
	"github.com/eddiefleurent/spx_expiry_regression/internal/config"
	"github.com/eddiefleurent/spx_expiry_regression/internal/engine"
	"github.com/eddiefleurent/spx_expiry_regression/internal/mock"
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/eddiefleurent/spx_expiry_regression/internal/regression"
	"github.com/eddiefleurent/spx_expiry_regression/internal/retry"
	"github.com/eddiefleurent/spx_expiry_regression/internal/storage"
	"github.com/sirupsen/logrus"
)

const algorithmName = "spx_short_call_otm_expiry"

// ErrRunFailed is returned when the run completed but did not meet its expectations.
var ErrRunFailed = errors.New("regression run failed")

// Runner wires a scenario, a chain provider and the regression check together.
type Runner struct {
	cfg      *config.Config
	store    storage.Interface
	provider chain.Provider
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewRunner builds a runner. A nil provider is resolved from cfg.
func NewRunner(cfg *config.Config, store storage.Interface, provider chain.Provider, logger logrus.FieldLogger) *Runner {
	if provider == nil {
		provider = buildProvider(cfg, logger)
	}
	return &Runner{
		cfg:      cfg,
		store:    store,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// buildProvider returns nil for the static provider so the engine serves the
// scenario's own listings.
func buildProvider(cfg *config.Config, logger logrus.FieldLogger) chain.Provider {
	if !cfg.UsesLiveChain() {
		return nil
	}
	tradier := chain.NewTradierProvider(cfg.Chain.APIKey, cfg.Chain.APIEndpoint, cfg.Chain.Sandbox, logger)
	return retry.NewClient(chain.NewCircuitBreakerProvider(tradier, logger), logger)
}

// Run replays the scenario through the check, verifies the reporting contract
// and stores the outcome. The record is returned even when the run fails.
func (r *Runner) Run(ctx context.Context) (*models.RunRecord, error) {
	scenario, err := mock.LoadScenario(r.cfg.Backtest.Scenario)
	if err != nil {
		return nil, fmt.Errorf("loading scenario: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.GetTimeout())
	defer cancel()

	eng := mock.NewEngine(scenario, r.provider, r.logger, mock.Config{
		Cash:           r.cfg.GetCash(),
		FeePerContract: r.cfg.GetFeePerContract(),
	})
	check := regression.New(r.logger)

	record := &models.RunRecord{
		ID:        eng.RunID(),
		Algorithm: algorithmName,
		StartedAt: r.now().UTC(),
		Start:     check.Config().Start,
		End:       check.Config().End,
	}
	log := r.logger.WithField("run_id", record.ID)

	result, runErr := eng.Run(ctx, check)
	if runErr == nil {
		runErr = verify(check, result)
	}
	record.FinishedAt = r.now().UTC()
	fillRecord(record, result, runErr)

	if err := r.store.SaveRun(record); err != nil {
		log.WithError(err).Error("Failed to store run")
		if runErr == nil {
			return record, fmt.Errorf("storing run: %w", err)
		}
	}

	if runErr != nil {
		log.WithError(runErr).Error("Regression run failed")
		return record, fmt.Errorf("%w: %w", ErrRunFailed, runErr)
	}
	log.WithFields(logrus.Fields{
		"orders":      len(record.Orders),
		"data_points": record.DataPoints,
		"net_profit":  record.Statistics[mock.StatNetProfit],
	}).Info("Regression run passed")
	return record, nil
}

func verify(check *regression.Check, result *engine.Result) error {
	exp, err := check.Expectations()
	if err != nil {
		return err
	}
	return exp.Verify(result)
}

func fillRecord(record *models.RunRecord, result *engine.Result, runErr error) {
	if result != nil {
		record.Statistics = result.Statistics
		record.Orders = result.Orders
		record.DataPoints = result.DataPoints
		record.HistoryLookups = result.HistoryLookups
		if !result.Start.IsZero() {
			record.Start = result.Start
			record.End = result.End
		}
	}
	record.Passed = runErr == nil
	if runErr != nil {
		record.Error = runErr.Error()
	}
}
