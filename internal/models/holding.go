package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is the signed position an engine holds in one instrument.
type Holding struct {
	AveragePrice decimal.Decimal `json:"average_price"`
	LastPrice    decimal.Decimal `json:"last_price"`
	Symbol       Symbol          `json:"symbol"`
	Quantity     int             `json:"quantity"`
}

// IsInvested reports whether the holding is non-flat.
func (h Holding) IsInvested() bool {
	return h.Quantity != 0
}

// MarketValue is quantity times last price times the contract multiplier.
func (h Holding) MarketValue() decimal.Decimal {
	return h.LastPrice.
		Mul(decimal.NewFromInt(int64(h.Quantity))).
		Mul(decimal.NewFromInt(h.Symbol.ContractMultiplier()))
}

// RunRecord is the persisted summary of one completed regression run.
type RunRecord struct {
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	Start          time.Time         `json:"start"`
	End            time.Time         `json:"end"`
	Statistics     map[string]string `json:"statistics"`
	ID             string            `json:"id"`
	Algorithm      string            `json:"algorithm"`
	Error          string            `json:"error,omitempty"`
	Orders         []string          `json:"orders"`
	DataPoints     int               `json:"data_points"`
	HistoryLookups int               `json:"history_lookups"`
	Passed         bool              `json:"passed"`
}
