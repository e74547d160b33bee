package mock

import (
	"strconv"

	"github.com/eddiefleurent/spx_expiry_regression/internal/engine"
	"github.com/eddiefleurent/spx_expiry_regression/internal/orders"
	"github.com/eddiefleurent/spx_expiry_regression/internal/util"
	"github.com/shopspring/decimal"
)

// Statistic names reported by the engine.
const (
	StatTotalOrders   = "Total Orders"
	StatTotalFees     = "Total Fees"
	StatNetProfit     = "Net Profit"
	StatStartEquity   = "Start Equity"
	StatEndEquity     = "End Equity"
	StatReturn        = "Return"
	StatWinRate       = "Win Rate"
	StatLossRate      = "Loss Rate"
	StatOrderListHash = "Order List Hash"
)

// Statistics computes the summary table for the run so far.
func (e *Engine) Statistics() map[string]string {
	start := e.portfolio.StartingCash()
	end := e.portfolio.Equity()
	net := end.Sub(start)

	trades := e.portfolio.Trades()
	var wins, losses int64
	for _, t := range trades {
		switch t.PnL.Sign() {
		case 1:
			wins++
		case -1:
			losses++
		}
	}
	total := decimal.NewFromInt(int64(len(trades)))

	return map[string]string{
		StatTotalOrders:   strconv.Itoa(len(e.orders.Tickets())),
		StatTotalFees:     util.FormatMoney(e.portfolio.TotalFees()),
		StatNetProfit:     util.FormatMoney(net),
		StatStartEquity:   start.StringFixed(2),
		StatEndEquity:     end.StringFixed(2),
		StatReturn:        util.FormatPercent(util.Ratio(net, start), 3),
		StatWinRate:       util.FormatPercent(util.Ratio(decimal.NewFromInt(wins), total), 0),
		StatLossRate:      util.FormatPercent(util.Ratio(decimal.NewFromInt(losses), total), 0),
		StatOrderListHash: orders.ListHash(e.orders.Lines()),
	}
}

func (e *Engine) result() *engine.Result {
	return &engine.Result{
		RunID:          e.runID,
		Start:          e.start,
		End:            e.end,
		Statistics:     e.Statistics(),
		Orders:         e.orders.Lines(),
		Fills:          e.orders.Fills(),
		DataPoints:     e.dataPoints,
		HistoryLookups: e.history,
	}
}
