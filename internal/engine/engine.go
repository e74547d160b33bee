// Package engine defines the boundary between a trading engine and the
// algorithms it drives: setup calls, runtime calls and inbound notifications.
package engine

import (
	"context"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
)

// Resolution is the data resolution requested for a subscription.
type Resolution string

// Supported resolutions.
const (
	ResolutionMinute Resolution = "minute"
	ResolutionHour   Resolution = "hour"
	ResolutionDaily  Resolution = "daily"
)

// Action is a scheduled callback. now is the engine time at which it fires.
type Action func(now time.Time) error

// Engine is what an algorithm can call into.
//
// Setup calls are only valid during Algorithm.Initialize. Runtime calls are valid
// from scheduled actions and event handlers.
type Engine interface {
	// Setup
	SetStartDate(date time.Time)
	SetEndDate(date time.Time)
	AddIndex(ticker string, resolution Resolution) (models.Symbol, error)
	OptionChain(ctx context.Context, underlying models.Symbol, at time.Time) ([]models.Symbol, error)
	AddIndexOptionContract(contract models.Symbol, resolution Resolution) (models.Symbol, error)
	Schedule(date DateRule, at TimeRule, action Action) error

	// Runtime
	MarketOrder(symbol models.Symbol, quantity int) (*models.OrderTicket, error)
	History(symbol models.Symbol, lookback time.Duration) ([]models.Bar, error)
	Securities() SecurityRegistry
	Portfolio() Portfolio
	Time() time.Time
}

// SecurityRegistry is the set of instruments the engine currently knows about.
type SecurityRegistry interface {
	Contains(symbol models.Symbol) bool
	Symbols() []models.Symbol
}

// Portfolio is the engine's holdings ledger.
type Portfolio interface {
	Quantity(symbol models.Symbol) int
	Invested() bool
	Keys() []models.Symbol
	Holdings() []models.Holding
}

// Algorithm receives notifications from the engine. Handlers are invoked
// sequentially in time order. Any returned error aborts the run.
type Algorithm interface {
	Initialize(ctx context.Context, eng Engine) error
	OnData(slice *models.Slice) error
	OnOrderEvent(event models.OrderEvent) error
	OnEndOfAlgorithm() error
}

// Calendar answers trading-calendar questions needed to resolve schedule rules.
type Calendar interface {
	IsTradingDay(day time.Time) bool
	NextTradingDay(day time.Time) time.Time
	MarketOpen(day time.Time) time.Time
	MarketClose(day time.Time) time.Time
}

// Result summarizes a completed run.
type Result struct {
	Start          time.Time
	End            time.Time
	Statistics     map[string]string
	RunID          string
	Orders         []string
	Fills          []models.OrderEvent
	DataPoints     int
	HistoryLookups int
}
