package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single price observation for a symbol.
type Bar struct {
	Time   time.Time       `json:"time"`
	Close  decimal.Decimal `json:"close"`
	Symbol Symbol          `json:"symbol"`
}

// DelistingType distinguishes the two delisting notifications.
type DelistingType string

// Delisting notification types.
const (
	DelistingWarning DelistingType = "Warning"
	Delisted         DelistingType = "Delisted"
)

// Delisting announces that an instrument is about to be, or has been, removed.
type Delisting struct {
	Time   time.Time       `json:"time"`
	Price  decimal.Decimal `json:"price"`
	Symbol Symbol          `json:"symbol"`
	Type   DelistingType   `json:"type"`
}

// Slice is the set of data delivered to the algorithm at one point in time.
type Slice struct {
	Time       time.Time
	Bars       map[string]Bar
	Delistings []Delisting
}

// NewSlice creates an empty slice at t.
func NewSlice(t time.Time) *Slice {
	return &Slice{Time: t, Bars: make(map[string]Bar)}
}

// AddBar records a bar keyed by its symbol value.
func (s *Slice) AddBar(b Bar) {
	s.Bars[b.Symbol.Value] = b
}

// AddDelisting records a delisting notification.
func (s *Slice) AddDelisting(d Delisting) {
	s.Delistings = append(s.Delistings, d)
}

// DataPointCount returns the number of data points carried by the slice.
func (s *Slice) DataPointCount() int {
	return len(s.Bars) + len(s.Delistings)
}

// IsEmpty reports whether the slice carries no data.
func (s *Slice) IsEmpty() bool {
	return s.DataPointCount() == 0
}

// BarList returns the bars sorted by symbol for deterministic iteration.
func (s *Slice) BarList() []Bar {
	bars := make([]Bar, 0, len(s.Bars))
	for _, b := range s.Bars {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Symbol.Value < bars[j].Symbol.Value })
	return bars
}
