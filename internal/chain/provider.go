// Package chain provides option-chain sources: a static in-memory chain for
// backtests, the Tradier market-data API, and a circuit breaker wrapper.
package chain

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
)

// ErrNoChain is returned when a provider has no contracts for an underlying.
var ErrNoChain = errors.New("no option chain available")

// Provider lists the option contracts listed on an underlying at a point in time.
type Provider interface {
	OptionChain(ctx context.Context, underlying string, at time.Time) ([]models.Symbol, error)
}

// StaticProvider serves a fixed list of contracts.
type StaticProvider struct {
	byUnderlying map[string][]models.Symbol
}

// Ensure StaticProvider implements Provider at compile time.
var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider indexes contracts by underlying.
func NewStaticProvider(contracts []models.Symbol) *StaticProvider {
	p := &StaticProvider{byUnderlying: make(map[string][]models.Symbol)}
	for _, c := range contracts {
		p.byUnderlying[c.Underlying] = append(p.byUnderlying[c.Underlying], c)
	}
	for _, list := range p.byUnderlying {
		sortContracts(list)
	}
	return p
}

// OptionChain returns the contracts on underlying whose expiry is on or after at's date.
func (p *StaticProvider) OptionChain(ctx context.Context, underlying string, at time.Time) ([]models.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, ok := p.byUnderlying[strings.ToUpper(underlying)]
	if !ok || len(list) == 0 {
		return nil, ErrNoChain
	}
	day := models.DateOf(at)
	out := make([]models.Symbol, 0, len(list))
	for _, c := range list {
		if !c.Expiry.Before(day) {
			out = append(out, c)
		}
	}
	return out, nil
}

func sortContracts(list []models.Symbol) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Expiry.Equal(list[j].Expiry) {
			return list[i].Expiry.Before(list[j].Expiry)
		}
		if list[i].Strike != list[j].Strike {
			return list[i].Strike < list[j].Strike
		}
		return list[i].Value < list[j].Value
	})
}
