// Command chainprobe checks that the live Tradier option chain can be listed,
// fetched through the circuit breaker and retry stack, and resolved to a
// contract the way the regression check selects one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/chain"
	"github.com/eddiefleurent/spx_expiry_regression/internal/config"
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/eddiefleurent/spx_expiry_regression/internal/regression"
	"github.com/eddiefleurent/spx_expiry_regression/internal/retry"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath string
		underlying string
		minStrike  float64
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&underlying, "underlying", regression.DefaultConfig.Underlying, "Index to probe")
	flag.Float64Var(&minStrike, "min-strike", 0, "Lowest acceptable call strike (0 accepts any)")
	flag.Parse()

	fmt.Println("=== Option Chain Probe ===")
	fmt.Println()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	logger.SetLevel(cfg.LogLevel())
	if !cfg.UsesLiveChain() {
		logger.Fatal("chainprobe needs chain.provider: tradier in the config")
	}

	tradier := chain.NewTradierProvider(cfg.Chain.APIKey, cfg.Chain.APIEndpoint, cfg.Chain.Sandbox, logger)
	probe := NewProbe(tradier, logger, underlying, minStrike)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetTimeout())
	defer cancel()

	passed, total := probe.Run(ctx, time.Now())

	fmt.Println("=== Probe Results ===")
	fmt.Printf("Checks passed: %d/%d\n", passed, total)
	if passed != total {
		os.Exit(1)
	}
}

// ExpirationLister lists expiration dates for an underlying.
type ExpirationLister interface {
	Expirations(ctx context.Context, underlying string) ([]time.Time, error)
}

// Probe runs connectivity and selection checks against a live chain.
type Probe struct {
	lister     ExpirationLister
	provider   chain.Provider
	logger     logrus.FieldLogger
	underlying string
	minStrike  float64
	nearest    time.Time
	contracts  []models.Symbol
}

// NewProbe wraps tradier in the circuit breaker and retry client for chain requests.
func NewProbe(tradier *chain.TradierProvider, logger logrus.FieldLogger, underlying string, minStrike float64) *Probe {
	return &Probe{
		lister:     tradier,
		provider:   retry.NewClient(chain.NewCircuitBreakerProvider(tradier, logger), logger),
		logger:     logger,
		underlying: underlying,
		minStrike:  minStrike,
	}
}

type probeCheck struct {
	name string
	run  func(ctx context.Context, now time.Time) error
}

// Run executes each check in order and returns how many passed.
// A failed check skips the checks that depend on it.
func (p *Probe) Run(ctx context.Context, now time.Time) (passed, total int) {
	checks := []probeCheck{
		{"Expiration Listing", p.checkExpirations},
		{"Option Chain Retrieval", p.checkChain},
		{"Contract Selection", p.checkSelection},
	}

	for i, c := range checks {
		fmt.Printf("Check %d: %s\n", i+1, c.name)
		if err := c.run(ctx, now); err != nil {
			p.logger.WithError(err).WithField("check", c.name).Error("Probe check failed")
			fmt.Println("FAILED")
			fmt.Println()
			return passed, len(checks)
		}
		passed++
		fmt.Println("PASSED")
		fmt.Println()
	}
	return passed, len(checks)
}

func (p *Probe) checkExpirations(ctx context.Context, now time.Time) error {
	expirations, err := p.lister.Expirations(ctx, p.underlying)
	if err != nil {
		return err
	}

	today := models.DateOf(now)
	for _, e := range expirations {
		if !e.Before(today) && (p.nearest.IsZero() || e.Before(p.nearest)) {
			p.nearest = e
		}
	}
	if p.nearest.IsZero() {
		return fmt.Errorf("no %s expirations on or after %s", p.underlying, today.Format("2006-01-02"))
	}

	p.logger.WithFields(logrus.Fields{
		"expirations": len(expirations),
		"nearest":     p.nearest.Format("2006-01-02"),
	}).Info("Listed expirations")
	return nil
}

func (p *Probe) checkChain(ctx context.Context, now time.Time) error {
	contracts, err := p.provider.OptionChain(ctx, p.underlying, now)
	if err != nil {
		return err
	}
	if len(contracts) == 0 {
		return chain.ErrNoChain
	}
	p.contracts = contracts
	p.logger.WithField("contracts", len(contracts)).Info("Fetched option chain")
	return nil
}

func (p *Probe) checkSelection(_ context.Context, _ time.Time) error {
	criteria := regression.Criteria{
		Right:       models.OptionRightCall,
		MinStrike:   p.minStrike,
		ExpiryYear:  p.nearest.Year(),
		ExpiryMonth: p.nearest.Month(),
	}
	contract, err := regression.SelectContract(p.contracts, criteria)
	if err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"criteria": criteria.String(),
		"contract": contract.Value,
	}).Info("Selected contract")
	return nil
}
