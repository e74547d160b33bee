package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/chain"
	"github.com/eddiefleurent/spx_expiry_regression/internal/engine"
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/eddiefleurent/spx_expiry_regression/internal/orders"
	"github.com/eddiefleurent/spx_expiry_regression/internal/util"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Engine errors.
var (
	ErrNotInSetup        = errors.New("call only allowed during initialize")
	ErrNotRunning        = errors.New("call only allowed while the run is in progress")
	ErrNoWindow          = errors.New("start and end dates must be set during initialize")
	ErrUnknownTicker     = errors.New("ticker not in scenario")
	ErrUnknownSecurity   = errors.New("security not registered")
	ErrUnderlyingMissing = errors.New("underlying index not added")
	ErrNotOption         = errors.New("symbol is not an option contract")
	ErrNotTradable       = errors.New("security is not tradable")
	ErrZeroQuantity      = errors.New("order quantity must be non-zero")
	ErrNoPrice           = errors.New("no price available")
)

// Config controls accounting in the backtest.
type Config struct {
	Cash           decimal.Decimal
	FeePerContract decimal.Decimal
}

// DefaultConfig starts with $100,000 and charges $1.00 per option contract.
var DefaultConfig = Config{
	Cash:           decimal.NewFromInt(100000),
	FeePerContract: decimal.NewFromInt(1),
}

type phase int

const (
	phaseIdle phase = iota
	phaseSetup
	phaseRunning
	phaseDone
)

type scheduledAction struct {
	at     time.Time
	action engine.Action
	label  string
}

// Engine replays a Scenario through an engine.Algorithm.
type Engine struct {
	now        time.Time
	start      time.Time
	end        time.Time
	fatal      error
	scenario   *Scenario
	calendar   *Calendar
	chain      chain.Provider
	logger     logrus.FieldLogger
	algo       engine.Algorithm
	orders     *orders.Manager
	portfolio  *Portfolio
	securities *registry
	lastPrice  map[string]decimal.Decimal
	runID      string
	scheduled  []scheduledAction
	config     Config
	dataPoints int
	history    int
	phase      phase
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// NewEngine creates an engine over scenario. A nil provider serves the
// scenario's own contracts. The first config, if any, overrides DefaultConfig.
func NewEngine(scenario *Scenario, provider chain.Provider, logger logrus.FieldLogger, config ...Config) *Engine {
	if scenario == nil {
		panic("mock.NewEngine: scenario must not be nil")
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	if provider == nil {
		provider = scenario.ChainProvider()
	}

	runID := uuid.New().String()
	logger = logger.WithField("run_id", runID)

	return &Engine{
		scenario:   scenario,
		calendar:   NewCalendar(scenario),
		chain:      provider,
		logger:     logger,
		orders:     orders.NewManager(logger),
		portfolio:  NewPortfolio(cfg.Cash),
		securities: newRegistry(),
		lastPrice:  make(map[string]decimal.Decimal),
		runID:      runID,
		config:     cfg,
	}
}

// RunID identifies this run.
func (e *Engine) RunID() string {
	return e.runID
}

// Calendar returns the trading calendar.
func (e *Engine) Calendar() *Calendar {
	return e.calendar
}

// Orders returns the order manager.
func (e *Engine) Orders() *orders.Manager {
	return e.orders
}

// ============ Setup ============

// SetStartDate sets the first calendar date of the run.
func (e *Engine) SetStartDate(date time.Time) {
	e.start = e.calendar.Midnight(date)
}

// SetEndDate sets the last calendar date of the run.
func (e *Engine) SetEndDate(date time.Time) {
	e.end = e.calendar.Midnight(date)
}

// AddIndex subscribes to a scenario index.
func (e *Engine) AddIndex(ticker string, resolution engine.Resolution) (models.Symbol, error) {
	if e.phase != phaseSetup {
		return models.Symbol{}, ErrNotInSetup
	}
	sym, ok := e.scenario.HasIndex(ticker)
	if !ok {
		return models.Symbol{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	e.securities.add(sym)
	e.logger.WithFields(logrus.Fields{"symbol": sym.Value, "resolution": resolution}).Info("Index added")
	return sym, nil
}

// OptionChain lists contracts on underlying listed at the given time.
func (e *Engine) OptionChain(ctx context.Context, underlying models.Symbol, at time.Time) ([]models.Symbol, error) {
	contracts, err := e.chain.OptionChain(ctx, underlying.Value, at)
	if err != nil {
		return nil, fmt.Errorf("option chain for %s: %w", underlying.Value, err)
	}
	return contracts, nil
}

// AddIndexOptionContract subscribes to an option on an already added index.
func (e *Engine) AddIndexOptionContract(contract models.Symbol, resolution engine.Resolution) (models.Symbol, error) {
	if e.phase != phaseSetup {
		return models.Symbol{}, ErrNotInSetup
	}
	if !contract.IsOption() {
		return models.Symbol{}, fmt.Errorf("%w: %s", ErrNotOption, contract.Value)
	}
	if !e.securities.Contains(models.NewIndexSymbol(contract.Underlying)) {
		return models.Symbol{}, fmt.Errorf("%w: %s", ErrUnderlyingMissing, contract.Underlying)
	}
	e.securities.add(contract)
	e.logger.WithFields(logrus.Fields{"symbol": contract.Value, "resolution": resolution}).Info("Option contract added")
	return contract, nil
}

// Schedule registers a one-shot action.
func (e *Engine) Schedule(date engine.DateRule, at engine.TimeRule, action engine.Action) error {
	if e.phase != phaseSetup {
		return ErrNotInSetup
	}
	if e.start.IsZero() {
		return ErrNoWindow
	}
	day, err := date.Resolve(e.calendar, e.start)
	if err != nil {
		return fmt.Errorf("scheduling %s/%s: %w", date, at, err)
	}
	when := at.Resolve(e.calendar, day)
	e.scheduled = append(e.scheduled, scheduledAction{at: when, action: action, label: date.String() + " " + at.String()})
	e.logger.WithField("at", when).Info("Action scheduled")
	return nil
}

// ============ Runtime ============

// Time returns the current engine time.
func (e *Engine) Time() time.Time {
	return e.now
}

// Securities returns the security registry.
func (e *Engine) Securities() engine.SecurityRegistry {
	return e.securities
}

// Portfolio returns the holdings ledger.
func (e *Engine) Portfolio() engine.Portfolio {
	return e.portfolio
}

// Ledger returns the concrete portfolio, for accounting queries.
func (e *Engine) Ledger() *Portfolio {
	return e.portfolio
}

// History returns up to lookback of bars for symbol ending at the current time.
func (e *Engine) History(symbol models.Symbol, lookback time.Duration) ([]models.Bar, error) {
	if !e.securities.Contains(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSecurity, symbol.Value)
	}
	e.history++
	from := e.now.Add(-lookback)
	var out []models.Bar
	for _, b := range e.scenario.Bars {
		if b.Symbol.Equal(symbol) && !b.Time.Before(from) && !b.Time.After(e.now) {
			out = append(out, b)
		}
	}
	return out, nil
}

// MarketOrder fills quantity of symbol immediately at the last price.
func (e *Engine) MarketOrder(symbol models.Symbol, quantity int) (*models.OrderTicket, error) {
	if e.phase != phaseRunning {
		return nil, ErrNotRunning
	}
	if quantity == 0 {
		return nil, ErrZeroQuantity
	}
	if !e.securities.Contains(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSecurity, symbol.Value)
	}
	if !symbol.IsOption() {
		return nil, fmt.Errorf("%w: %s", ErrNotTradable, symbol.Value)
	}
	price, ok := e.lastPrice[symbol.Value]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol.Value)
	}

	fillPrice := util.RoundToTick(price, util.IndexOptionTick(price))
	fee := e.config.FeePerContract.Mul(decimal.NewFromInt(int64(abs(quantity))))

	ticket := e.orders.Open(symbol, models.OrderTypeMarket, quantity, e.now, "")
	e.emit(models.OrderEvent{
		OrderID:   ticket.ID,
		Symbol:    symbol,
		Time:      e.now,
		Status:    models.OrderStatusSubmitted,
		Direction: models.DirectionOf(quantity),
	})

	e.portfolio.ApplyFill(symbol, quantity, fillPrice, fee)
	e.emit(models.OrderEvent{
		OrderID:      ticket.ID,
		Symbol:       symbol,
		Time:         e.now,
		Status:       models.OrderStatusFilled,
		Direction:    models.DirectionOf(quantity),
		FillQuantity: quantity,
		FillPrice:    fillPrice,
		Fee:          fee,
	})

	snapshot, _ := e.orders.Ticket(ticket.ID)
	if e.fatal != nil {
		return &snapshot, e.fatal
	}
	return &snapshot, nil
}

// emit records the event and hands it to the algorithm. The first handler
// error is kept and aborts the run.
func (e *Engine) emit(event models.OrderEvent) {
	if err := e.orders.Apply(event); err != nil {
		e.setFatal(err)
		return
	}
	e.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"symbol":   event.Symbol.Value,
	}).Info(event.String())

	if e.fatal != nil {
		return
	}
	if err := e.algo.OnOrderEvent(event); err != nil {
		e.setFatal(fmt.Errorf("order event handler: %w", err))
	}
}

func (e *Engine) setFatal(err error) {
	if e.fatal == nil {
		e.fatal = err
	}
}

// ============ Run loop ============

// Run initializes algo and replays the scenario window through it. The first
// error from any handler stops the run and is returned.
func (e *Engine) Run(ctx context.Context, algo engine.Algorithm) (*engine.Result, error) {
	if e.phase != phaseIdle {
		return nil, errors.New("engine already used")
	}
	e.algo = algo
	e.phase = phaseSetup

	if err := algo.Initialize(ctx, e); err != nil {
		e.phase = phaseDone
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if e.start.IsZero() || e.end.IsZero() || e.end.Before(e.start) {
		e.phase = phaseDone
		return nil, ErrNoWindow
	}

	e.phase = phaseRunning
	e.now = e.start
	e.logger.WithFields(logrus.Fields{
		"start": e.start.Format("2006-01-02"),
		"end":   e.end.Format("2006-01-02"),
	}).Info("Backtest started")

	for _, step := range e.timeline() {
		if err := ctx.Err(); err != nil {
			e.phase = phaseDone
			return nil, err
		}
		if err := e.step(step); err != nil {
			e.phase = phaseDone
			return nil, err
		}
	}

	e.phase = phaseDone
	if err := algo.OnEndOfAlgorithm(); err != nil {
		return nil, fmt.Errorf("end of algorithm: %w", err)
	}

	result := e.result()
	e.logger.WithFields(logrus.Fields{
		"data_points": result.DataPoints,
		"orders":      len(result.Orders),
	}).Info("Backtest finished")
	return result, nil
}

type timeStep struct {
	at         time.Time
	bars       []models.Bar
	actions    []scheduledAction
	delistings []models.Delisting
}

// timeline merges bars, scheduled actions and delisting events inside the window.
func (e *Engine) timeline() []*timeStep {
	windowEnd := e.end.AddDate(0, 0, 1)
	steps := make(map[int64]*timeStep)
	stepAt := func(t time.Time) *timeStep {
		key := t.UnixNano()
		s, ok := steps[key]
		if !ok {
			s = &timeStep{at: t}
			steps[key] = s
		}
		return s
	}
	inWindow := func(t time.Time) bool {
		return !t.Before(e.start) && t.Before(windowEnd)
	}

	for _, b := range e.scenario.Bars {
		if inWindow(b.Time) {
			s := stepAt(b.Time)
			s.bars = append(s.bars, b)
		}
	}
	for _, a := range e.scheduled {
		if inWindow(a.at) {
			s := stepAt(a.at)
			s.actions = append(s.actions, a)
		} else {
			e.logger.WithField("at", a.at).Warn("Scheduled action outside backtest window, skipping")
		}
	}
	for _, c := range e.securities.Symbols() {
		if !c.IsOption() {
			continue
		}
		expiryDay := e.calendar.Midnight(c.Expiry)
		warnAt := e.calendar.MarketOpen(expiryDay)
		delistAt := expiryDay.AddDate(0, 0, 1)
		if inWindow(warnAt) {
			s := stepAt(warnAt)
			s.delistings = append(s.delistings, models.Delisting{Symbol: c, Time: warnAt, Type: models.DelistingWarning})
		}
		if inWindow(delistAt) {
			s := stepAt(delistAt)
			s.delistings = append(s.delistings, models.Delisting{Symbol: c, Time: delistAt, Type: models.Delisted})
		}
	}

	out := make([]*timeStep, 0, len(steps))
	for _, s := range steps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

func (e *Engine) step(s *timeStep) error {
	e.now = s.at

	// Prices first so scheduled orders fill at this step's bars.
	slice := models.NewSlice(s.at)
	for _, b := range s.bars {
		if !e.securities.Contains(b.Symbol) {
			continue
		}
		e.lastPrice[b.Symbol.Value] = b.Close
		e.portfolio.Mark(b.Symbol, b.Close)
		slice.AddBar(b)
	}

	for _, a := range s.actions {
		e.logger.WithField("rule", a.label).Debug("Running scheduled action")
		if err := a.action(s.at); err != nil {
			e.setFatal(fmt.Errorf("scheduled action %s: %w", a.label, err))
		}
		if e.fatal != nil {
			return e.fatal
		}
	}

	var delisted []models.Symbol
	for _, d := range s.delistings {
		if !e.securities.Contains(d.Symbol) {
			continue
		}
		d.Price = e.lastPrice[d.Symbol.Value]
		slice.AddDelisting(d)
		if d.Type == models.Delisted {
			delisted = append(delisted, d.Symbol)
		}
	}

	if !slice.IsEmpty() {
		e.dataPoints += slice.DataPointCount()
		if err := e.algo.OnData(slice); err != nil {
			return fmt.Errorf("data handler at %s: %w", s.at.Format(time.RFC3339), err)
		}
	}

	for _, c := range delisted {
		if err := e.settleExpiry(c); err != nil {
			return err
		}
		e.securities.remove(c)
		delete(e.lastPrice, c.Value)
	}
	return e.fatal
}

// settleExpiry closes any position in an expired, cash-settled contract.
func (e *Engine) settleExpiry(contract models.Symbol) error {
	qty := e.portfolio.Quantity(contract)
	if qty == 0 {
		return nil
	}

	underlyingPrice, ok := e.lastPrice[contract.Underlying]
	if !ok {
		return fmt.Errorf("settling %s: %w for underlying %s", contract.Value, ErrNoPrice, contract.Underlying)
	}

	strike := decimal.NewFromFloat(contract.Strike)
	intrinsic := underlyingPrice.Sub(strike)
	if contract.Right == models.OptionRightPut {
		intrinsic = strike.Sub(underlyingPrice)
	}
	if intrinsic.Sign() < 0 {
		intrinsic = decimal.Zero
	}

	closing := -qty
	var message string
	assignment := false
	switch {
	case intrinsic.IsZero():
		message = "Option expired worthless (OTM)"
	case qty < 0:
		message = "Assigned at expiry (ITM)"
		assignment = true
	default:
		message = "Exercised at expiry (ITM)"
	}

	ticket := e.orders.Open(contract, models.OrderTypeOptionExercise, closing, e.now, "expiry")
	e.emit(models.OrderEvent{
		OrderID:   ticket.ID,
		Symbol:    contract,
		Time:      e.now,
		Status:    models.OrderStatusSubmitted,
		Direction: models.DirectionOf(closing),
	})

	e.portfolio.ApplyFill(contract, closing, intrinsic, decimal.Zero)
	e.emit(models.OrderEvent{
		OrderID:      ticket.ID,
		Symbol:       contract,
		Time:         e.now,
		Status:       models.OrderStatusFilled,
		Direction:    models.DirectionOf(closing),
		FillQuantity: closing,
		FillPrice:    intrinsic,
		IsAssignment: assignment,
		Message:      message,
	})
	return e.fatal
}

// ============ Registry ============

type registry struct {
	symbols map[string]models.Symbol
}

func newRegistry() *registry {
	return &registry{symbols: make(map[string]models.Symbol)}
}

func (r *registry) add(s models.Symbol) {
	r.symbols[s.Value] = s
}

func (r *registry) remove(s models.Symbol) {
	delete(r.symbols, s.Value)
}

// Contains reports whether symbol is registered.
func (r *registry) Contains(symbol models.Symbol) bool {
	_, ok := r.symbols[symbol.Value]
	return ok
}

// Symbols returns registered symbols sorted by value.
func (r *registry) Symbols() []models.Symbol {
	out := make([]models.Symbol, 0, len(r.symbols))
	for _, s := range r.symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}
