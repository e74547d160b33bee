package mock

import (
	"sort"
	"sync"

	"github.com/eddiefleurent/spx_expiry_regression/internal/engine"
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/shopspring/decimal"
)

// Trade is a completed round trip from flat back to flat in one symbol.
type Trade struct {
	Symbol models.Symbol
	PnL    decimal.Decimal
}

// Portfolio is the cash and holdings ledger of the backtest.
type Portfolio struct {
	holdings  map[string]*models.Holding
	realized  map[string]decimal.Decimal
	cash      decimal.Decimal
	startCash decimal.Decimal
	fees      decimal.Decimal
	trades    []Trade
	mu        sync.RWMutex
}

// Ensure Portfolio implements engine.Portfolio at compile time.
var _ engine.Portfolio = (*Portfolio)(nil)

// NewPortfolio starts a ledger with the given cash.
func NewPortfolio(cash decimal.Decimal) *Portfolio {
	return &Portfolio{
		holdings:  make(map[string]*models.Holding),
		realized:  make(map[string]decimal.Decimal),
		cash:      cash,
		startCash: cash,
	}
}

// ApplyFill books a signed fill of quantity at price and charges fee.
func (p *Portfolio) ApplyFill(symbol models.Symbol, quantity int, price, fee decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mult := decimal.NewFromInt(symbol.ContractMultiplier())
	p.cash = p.cash.Sub(price.Mul(decimal.NewFromInt(int64(quantity))).Mul(mult)).Sub(fee)
	p.fees = p.fees.Add(fee)

	h, ok := p.holdings[symbol.Value]
	if !ok {
		h = &models.Holding{Symbol: symbol}
		p.holdings[symbol.Value] = h
	}
	h.LastPrice = price

	remaining := quantity
	// Closing part: opposite sign to the current position
	if h.Quantity != 0 && sign(h.Quantity) != sign(remaining) {
		closing := min(abs(h.Quantity), abs(remaining))
		perUnit := price.Sub(h.AveragePrice)
		if h.Quantity < 0 {
			perUnit = perUnit.Neg()
		}
		pnl := perUnit.Mul(decimal.NewFromInt(int64(closing))).Mul(mult)
		p.realized[symbol.Value] = p.realized[symbol.Value].Add(pnl)

		h.Quantity += sign(remaining) * closing
		remaining -= sign(remaining) * closing

		if h.Quantity == 0 {
			p.trades = append(p.trades, Trade{Symbol: symbol, PnL: p.realized[symbol.Value]})
			delete(p.realized, symbol.Value)
			h.AveragePrice = decimal.Zero
		}
	}

	// Opening part: same sign as the position (or from flat)
	if remaining != 0 {
		oldQty := decimal.NewFromInt(int64(abs(h.Quantity)))
		addQty := decimal.NewFromInt(int64(abs(remaining)))
		h.AveragePrice = h.AveragePrice.Mul(oldQty).Add(price.Mul(addQty)).Div(oldQty.Add(addQty))
		h.Quantity += remaining
	}
}

// Mark updates the last price of a held symbol.
func (p *Portfolio) Mark(symbol models.Symbol, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.holdings[symbol.Value]; ok {
		h.LastPrice = price
	}
}

// Quantity returns the signed position in symbol.
func (p *Portfolio) Quantity(symbol models.Symbol) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h, ok := p.holdings[symbol.Value]; ok {
		return h.Quantity
	}
	return 0
}

// Invested reports whether any position is non-flat.
func (p *Portfolio) Invested() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, h := range p.holdings {
		if h.IsInvested() {
			return true
		}
	}
	return false
}

// Keys returns every symbol the ledger has seen, sorted.
func (p *Portfolio) Keys() []models.Symbol {
	holdings := p.Holdings()
	keys := make([]models.Symbol, 0, len(holdings))
	for _, h := range holdings {
		keys = append(keys, h.Symbol)
	}
	return keys
}

// Holdings returns copies of all holdings sorted by symbol.
func (p *Portfolio) Holdings() []models.Holding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol.Value < out[j].Symbol.Value })
	return out
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// StartingCash returns the initial cash balance.
func (p *Portfolio) StartingCash() decimal.Decimal {
	return p.startCash
}

// TotalFees returns fees charged so far.
func (p *Portfolio) TotalFees() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fees
}

// Equity is cash plus the market value of all holdings.
func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	equity := p.cash
	for _, h := range p.holdings {
		equity = equity.Add(h.MarketValue())
	}
	return equity
}

// Trades returns the completed round trips.
func (p *Portfolio) Trades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
