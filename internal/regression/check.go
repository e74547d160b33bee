// Package regression implements the SPX short call expiry check: it sells one
// out-of-the-money index call, lets it expire worthless and verifies every
// event the engine produces along the way.
package regression

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/engine"
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/sirupsen/logrus"
)

// Config holds the fixed setup of the check.
type Config struct {
	Start           time.Time
	End             time.Time
	ExpectedExpiry  time.Time
	Underlying      string
	Right           models.OptionRight
	ExpectedStyle   models.OptionStyle
	Resolution      engine.Resolution
	StrikeThreshold float64
	ExpectedStrike  float64
	ExpiryMonth     time.Month
	ExpiryYear      int
	OrderQuantity   int
	OrderOffset     time.Duration
}

// DefaultConfig sells one SPX 4250 call expiring 2021-01-15 on the first trading
// day after 2021-01-04.
var DefaultConfig = Config{
	Underlying:      "SPX",
	Start:           time.Date(2021, time.January, 4, 0, 0, 0, 0, time.UTC),
	End:             time.Date(2021, time.January, 31, 0, 0, 0, 0, time.UTC),
	Right:           models.OptionRightCall,
	StrikeThreshold: 4250,
	ExpiryYear:      2021,
	ExpiryMonth:     time.January,
	ExpectedStrike:  4250,
	ExpectedExpiry:  time.Date(2021, time.January, 15, 0, 0, 0, 0, time.UTC),
	ExpectedStyle:   models.OptionStyleEuropean,
	OrderQuantity:   -1,
	OrderOffset:     time.Minute,
	Resolution:      engine.ResolutionMinute,
}

// Check is the event handler driven by the engine.
type Check struct {
	eng        engine.Engine
	logger     logrus.FieldLogger
	state      *models.StateMachine
	underlying models.Symbol
	contract   models.Symbol
	ticket     *models.OrderTicket
	config     Config
	mu         sync.Mutex
}

// Ensure Check implements engine.Algorithm at compile time.
var _ engine.Algorithm = (*Check)(nil)

// New creates a check. The first config, if any, overrides DefaultConfig.
func New(logger logrus.FieldLogger, config ...Config) *Check {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Check{
		logger: logger.WithField("component", "regression"),
		state:  models.NewStateMachine(),
		config: cfg,
	}
}

// Config returns the configuration the check runs with.
func (c *Check) Config() Config {
	return c.config
}

// ExpectedContract builds the contract the chain lookup must resolve to.
func (c *Check) ExpectedContract() models.Symbol {
	return models.NewOptionSymbol(c.config.Underlying, c.config.Right, c.config.ExpectedStyle,
		c.config.ExpectedStrike, c.config.ExpectedExpiry)
}

// Contract returns the resolved option contract, zero before Initialize.
func (c *Check) Contract() models.Symbol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contract
}

// Underlying returns the index symbol, zero before Initialize.
func (c *Check) Underlying() models.Symbol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.underlying
}

// Ticket returns the ticket of the scheduled order once it has been submitted.
func (c *Check) Ticket() *models.OrderTicket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticket
}

// State returns the current lifecycle state.
func (c *Check) State() models.CheckState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.GetCurrentState()
}

// Initialize configures the run and schedules the order.
func (c *Check) Initialize(ctx context.Context, eng engine.Engine) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eng = eng
	eng.SetStartDate(c.config.Start)
	eng.SetEndDate(c.config.End)

	underlying, err := eng.AddIndex(c.config.Underlying, c.config.Resolution)
	if err != nil {
		return c.fail(fmt.Errorf("adding index %s: %w", c.config.Underlying, err))
	}
	c.underlying = underlying

	chain, err := eng.OptionChain(ctx, underlying, c.config.Start)
	if err != nil {
		return c.fail(fmt.Errorf("loading option chain: %w", err))
	}
	contract, err := SelectContract(chain, Criteria{
		Right:       c.config.Right,
		MinStrike:   c.config.StrikeThreshold,
		ExpiryYear:  c.config.ExpiryYear,
		ExpiryMonth: c.config.ExpiryMonth,
	})
	if err != nil {
		return c.fail(err)
	}

	expected := c.ExpectedContract()
	if !contract.SameContract(expected) {
		return c.fail(fmt.Errorf("%w: got %s, expected %s", ErrContractMismatch, contract.Describe(), expected.Describe()))
	}

	contract, err = eng.AddIndexOptionContract(contract, c.config.Resolution)
	if err != nil {
		return c.fail(fmt.Errorf("adding contract %s: %w", contract.Value, err))
	}
	c.contract = contract
	if err := c.state.Transition(models.StateContractSelected, models.ConditionContractResolved); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"contract": contract.Value,
		"strike":   contract.Strike,
		"expiry":   contract.Expiry.Format("2006-01-02"),
	}).Info("Contract selected")

	rule := engine.AfterMarketOpen(underlying, c.config.OrderOffset)
	if err := eng.Schedule(engine.Tomorrow(), rule, c.submitOrder); err != nil {
		return c.fail(fmt.Errorf("scheduling order: %w", err))
	}
	return c.state.Transition(models.StateOrderScheduled, models.ConditionOrderScheduled)
}

// submitOrder is the scheduled one-shot action. The engine fills synchronously
// and calls back into OnOrderEvent, so the lock is not held across MarketOrder.
func (c *Check) submitOrder(now time.Time) error {
	c.mu.Lock()
	eng, contract, qty := c.eng, c.contract, c.config.OrderQuantity
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"contract": contract.Value,
		"quantity": qty,
		"time":     now.Format(time.RFC3339),
	}).Info("Submitting market order")

	ticket, err := eng.MarketOrder(contract, qty)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ticket != nil {
		c.ticket = ticket
	}
	if err != nil {
		return fmt.Errorf("market order %s: %w", contract.Value, err)
	}
	return nil
}

// OnData checks the timing of delisting notifications for the selected
// contract. Price bars need no handling.
func (c *Check) OnData(slice *models.Slice) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry := c.config.ExpectedExpiry
	for _, d := range slice.Delistings {
		if !d.Symbol.Equal(c.contract) {
			return c.fail(fmt.Errorf("%w: %s delisting for %s", ErrUnexpectedSymbol, d.Type, d.Symbol.Value))
		}

		var want time.Time
		var next models.CheckState
		var cond string
		switch d.Type {
		case models.DelistingWarning:
			want, next, cond = expiry, models.StateDelistingWarning, models.ConditionDelistingWarning
		case models.Delisted:
			want, next, cond = expiry.AddDate(0, 0, 1), models.StateDelisted, models.ConditionDelisted
		default:
			return c.fail(fmt.Errorf("%w: %q for %s", ErrUnknownDelisting, d.Type, d.Symbol.Value))
		}

		if !models.SameDate(d.Time, want) {
			return c.fail(fmt.Errorf("%w: %s for %s on %s, expected %s", ErrDelistingDate, d.Type,
				d.Symbol.Value, d.Time.Format("2006-01-02"), want.Format("2006-01-02")))
		}
		if err := c.state.Transition(next, cond); err != nil {
			return err
		}
		c.logger.WithFields(logrus.Fields{
			"symbol": d.Symbol.Value,
			"type":   d.Type,
			"time":   d.Time.Format(time.RFC3339),
		}).Info("Delisting notification")
	}
	return nil
}

// OnOrderEvent validates every fill against the expected position.
func (c *Check) OnOrderEvent(event models.OrderEvent) error {
	if !event.Status.IsFill() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eng == nil {
		return ErrNotInitialized
	}
	c.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"symbol":   event.Symbol.Value,
		"quantity": event.FillQuantity,
		"price":    event.FillPrice.StringFixed(2),
	}).Info("Fill received")

	if !c.eng.Securities().Contains(event.Symbol) {
		return c.fail(fmt.Errorf("%w: %s", ErrUnknownSecurity, event.Symbol.Value))
	}
	if event.Symbol.Equal(c.underlying) {
		return c.fail(fmt.Errorf("%w: %s", ErrUnderlyingFilled, event))
	}
	if !event.Symbol.Equal(c.contract) {
		return c.fail(fmt.Errorf("%w: %s", ErrUnexpectedSymbol, event.Symbol.Value))
	}
	if event.IsAssignment {
		return c.fail(fmt.Errorf("%w: %s", ErrUnexpectedAssignment, event))
	}

	want := 0
	if event.Direction == models.OrderDirectionSell {
		want = c.config.OrderQuantity
	}
	if got := c.eng.Portfolio().Quantity(c.contract); got != want {
		return c.fail(fmt.Errorf("%w: %s fill left %d %s, expected %d", ErrUnexpectedPosition,
			event.Direction, got, c.contract.Value, want))
	}
	return c.state.Transition(models.StateOrderFilled, models.ConditionFillValidated)
}

// OnEndOfAlgorithm requires the portfolio to be flat.
func (c *Check) OnEndOfAlgorithm() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eng == nil {
		return ErrNotInitialized
	}
	portfolio := c.eng.Portfolio()
	if portfolio.Invested() {
		var open []string
		for _, h := range portfolio.Holdings() {
			if h.IsInvested() {
				open = append(open, fmt.Sprintf("%s %d", h.Symbol.Value, h.Quantity))
			}
		}
		return c.fail(fmt.Errorf("%w: %s", ErrHoldingsRemain, strings.Join(open, ", ")))
	}
	if err := c.state.Transition(models.StateTerminated, models.ConditionEndOfAlgorithm); err != nil {
		return err
	}
	c.logger.Info("Check passed")
	return nil
}

// fail moves the check to Failed and returns err unchanged. Callers hold c.mu.
func (c *Check) fail(err error) error {
	c.state.Fail()
	c.logger.WithError(err).Error("Expectation violated")
	return err
}
