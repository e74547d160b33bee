package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/engine"
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAlgo records everything the engine delivers and runs optional hooks.
type scriptedAlgo struct {
	initialize func(ctx context.Context, eng engine.Engine) error
	onEvent    func(ev models.OrderEvent) error
	slices     []*models.Slice
	events     []models.OrderEvent
	ended      bool
}

func (a *scriptedAlgo) Initialize(ctx context.Context, eng engine.Engine) error {
	if a.initialize == nil {
		return nil
	}
	return a.initialize(ctx, eng)
}

func (a *scriptedAlgo) OnData(slice *models.Slice) error {
	a.slices = append(a.slices, slice)
	return nil
}

func (a *scriptedAlgo) OnOrderEvent(ev models.OrderEvent) error {
	a.events = append(a.events, ev)
	if a.onEvent != nil {
		return a.onEvent(ev)
	}
	return nil
}

func (a *scriptedAlgo) OnEndOfAlgorithm() error {
	a.ended = true
	return nil
}

var (
	jan4  = time.Date(2021, time.January, 4, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2021, time.January, 31, 0, 0, 0, 0, time.UTC)
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	s, err := DefaultScenario()
	require.NoError(t, err)
	return NewEngine(s, nil, nil)
}

// shortCallSetup subscribes SPX and the 4250 call and schedules a trade.
func shortCallSetup(quantity int) func(ctx context.Context, eng engine.Engine) error {
	return func(ctx context.Context, eng engine.Engine) error {
		eng.SetStartDate(jan4)
		eng.SetEndDate(jan31)
		spx, err := eng.AddIndex("SPX", engine.ResolutionMinute)
		if err != nil {
			return err
		}
		contract, err := eng.AddIndexOptionContract(testContract(), engine.ResolutionMinute)
		if err != nil {
			return err
		}
		return eng.Schedule(engine.Tomorrow(), engine.AfterMarketOpen(spx, time.Minute), func(time.Time) error {
			_, err := eng.MarketOrder(contract, quantity)
			return err
		})
	}
}

func TestEngine_ShortCallRun(t *testing.T) {
	e := newTestEngine(t)
	algo := &scriptedAlgo{initialize: shortCallSetup(-1)}

	result, err := e.Run(context.Background(), algo)
	require.NoError(t, err)
	assert.True(t, algo.ended)

	assert.Equal(t, 10, result.DataPoints)
	assert.Equal(t, 0, result.HistoryLookups)
	assert.Equal(t, e.RunID(), result.RunID)
	assert.Equal(t, []string{
		"1,SPX   210115C04250000,Market,-1,Filled,0.10",
		"2,SPX   210115C04250000,OptionExercise,1,Filled,0.00",
	}, result.Orders)

	assert.Equal(t, "2", result.Statistics[StatTotalOrders])
	assert.Equal(t, "$1.00", result.Statistics[StatTotalFees])
	assert.Equal(t, "$9.00", result.Statistics[StatNetProfit])
	assert.Equal(t, "100000.00", result.Statistics[StatStartEquity])
	assert.Equal(t, "100009.00", result.Statistics[StatEndEquity])
	assert.Equal(t, "0.009%", result.Statistics[StatReturn])
	assert.Equal(t, "100%", result.Statistics[StatWinRate])
	assert.Equal(t, "0%", result.Statistics[StatLossRate])
	assert.Len(t, result.Statistics[StatOrderListHash], 64)

	// Submitted precedes Filled for each order.
	require.Len(t, algo.events, 4)
	assert.Equal(t, models.OrderStatusSubmitted, algo.events[0].Status)
	assert.Equal(t, models.OrderStatusFilled, algo.events[1].Status)
	assert.True(t, algo.events[1].Fee.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, models.OrderStatusSubmitted, algo.events[2].Status)
	assert.Equal(t, models.OrderStatusFilled, algo.events[3].Status)
	assert.False(t, algo.events[3].IsAssignment)
	assert.Equal(t, "Option expired worthless (OTM)", algo.events[3].Message)

	// Contract is removed from the registry after delisting.
	assert.False(t, e.Securities().Contains(testContract()))
	assert.True(t, e.Securities().Contains(models.NewIndexSymbol("SPX")))
}

func TestEngine_DelistingTiming(t *testing.T) {
	e := newTestEngine(t)
	algo := &scriptedAlgo{initialize: shortCallSetup(-1)}

	_, err := e.Run(context.Background(), algo)
	require.NoError(t, err)

	var delistings []models.Delisting
	for _, s := range algo.slices {
		delistings = append(delistings, s.Delistings...)
	}
	require.Len(t, delistings, 2)

	assert.Equal(t, models.DelistingWarning, delistings[0].Type)
	assert.Equal(t, "2021-01-15 09:30", delistings[0].Time.Format("2006-01-02 15:04"))
	// The expiry-day bar arrives at 09:31, after the warning.
	assert.True(t, delistings[0].Price.Equal(decimal.RequireFromString("0.10")))

	assert.Equal(t, models.Delisted, delistings[1].Type)
	assert.Equal(t, "2021-01-16 00:00", delistings[1].Time.Format("2006-01-02 15:04"))
	assert.True(t, delistings[1].Price.Equal(decimal.RequireFromString("0.05")))
}

func TestEngine_HoldingsAppliedBeforeFillEvent(t *testing.T) {
	e := newTestEngine(t)
	var seen []int
	algo := &scriptedAlgo{
		initialize: shortCallSetup(-1),
		onEvent: func(ev models.OrderEvent) error {
			if ev.Status == models.OrderStatusFilled {
				seen = append(seen, e.Portfolio().Quantity(ev.Symbol))
			}
			return nil
		},
	}
	_, err := e.Run(context.Background(), algo)
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 0}, seen)
}

func TestEngine_InTheMoneyShortIsAssigned(t *testing.T) {
	s, err := DefaultScenario()
	require.NoError(t, err)
	for i, b := range s.Bars {
		if b.Symbol.Value == "SPX" && b.Time.Day() == 15 {
			s.Bars[i].Close = decimal.NewFromInt(4275)
		}
	}
	e := NewEngine(s, nil, nil)
	algo := &scriptedAlgo{initialize: shortCallSetup(-1)}

	result, err := e.Run(context.Background(), algo)
	require.NoError(t, err)

	last := algo.events[len(algo.events)-1]
	assert.True(t, last.IsAssignment)
	assert.True(t, last.FillPrice.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "2,SPX   210115C04250000,OptionExercise,1,Filled,25.00", result.Orders[1])
	assert.Equal(t, "-$2491.00", result.Statistics[StatNetProfit])
	assert.Equal(t, "0%", result.Statistics[StatWinRate])
	assert.Equal(t, "100%", result.Statistics[StatLossRate])
}

func TestEngine_InTheMoneyLongIsExercised(t *testing.T) {
	s, err := DefaultScenario()
	require.NoError(t, err)
	for i, b := range s.Bars {
		if b.Symbol.Value == "SPX" && b.Time.Day() == 15 {
			s.Bars[i].Close = decimal.NewFromInt(4260)
		}
	}
	e := NewEngine(s, nil, nil)
	algo := &scriptedAlgo{initialize: shortCallSetup(1)}

	_, err = e.Run(context.Background(), algo)
	require.NoError(t, err)

	last := algo.events[len(algo.events)-1]
	assert.False(t, last.IsAssignment)
	assert.Equal(t, -1, last.FillQuantity)
	assert.Equal(t, "Exercised at expiry (ITM)", last.Message)
	assert.False(t, e.Portfolio().Invested())
}

func TestEngine_HandlerErrorAbortsRun(t *testing.T) {
	e := newTestEngine(t)
	boom := errors.New("boom")
	algo := &scriptedAlgo{
		initialize: shortCallSetup(-1),
		onEvent: func(ev models.OrderEvent) error {
			if ev.Status == models.OrderStatusFilled {
				return boom
			}
			return nil
		},
	}

	result, err := e.Run(context.Background(), algo)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, result)
	assert.False(t, algo.ended)
}

func TestEngine_SetupCallsOutsideInitialize(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.AddIndex("SPX", engine.ResolutionMinute)
	assert.ErrorIs(t, err, ErrNotInSetup)
	_, err = e.AddIndexOptionContract(testContract(), engine.ResolutionMinute)
	assert.ErrorIs(t, err, ErrNotInSetup)
	err = e.Schedule(engine.Tomorrow(), engine.At(10, 0), func(time.Time) error { return nil })
	assert.ErrorIs(t, err, ErrNotInSetup)
	_, err = e.MarketOrder(testContract(), -1)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestEngine_SetupValidation(t *testing.T) {
	tests := []struct {
		name    string
		init    func(ctx context.Context, eng engine.Engine) error
		wantErr error
	}{
		{
			name: "unknown index",
			init: func(_ context.Context, eng engine.Engine) error {
				_, err := eng.AddIndex("NDX", engine.ResolutionMinute)
				return err
			},
			wantErr: ErrUnknownTicker,
		},
		{
			name: "option before underlying",
			init: func(_ context.Context, eng engine.Engine) error {
				_, err := eng.AddIndexOptionContract(testContract(), engine.ResolutionMinute)
				return err
			},
			wantErr: ErrUnderlyingMissing,
		},
		{
			name: "index as option",
			init: func(_ context.Context, eng engine.Engine) error {
				_, err := eng.AddIndexOptionContract(models.NewIndexSymbol("SPX"), engine.ResolutionMinute)
				return err
			},
			wantErr: ErrNotOption,
		},
		{
			name: "schedule without window",
			init: func(_ context.Context, eng engine.Engine) error {
				return eng.Schedule(engine.Tomorrow(), engine.At(10, 0), func(time.Time) error { return nil })
			},
			wantErr: ErrNoWindow,
		},
		{
			name:    "no window at all",
			init:    func(context.Context, engine.Engine) error { return nil },
			wantErr: ErrNoWindow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestEngine(t).Run(context.Background(), &scriptedAlgo{initialize: tt.init})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEngine_MarketOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		symbol  models.Symbol
		qty     int
		wantErr error
	}{
		{"zero quantity", testContract(), 0, ErrZeroQuantity},
		{"unregistered", models.NewOptionSymbol("SPX", models.OptionRightCall, models.OptionStyleEuropean, 4300,
			time.Date(2021, time.January, 15, 0, 0, 0, 0, time.UTC)), -1, ErrUnknownSecurity},
		{"index not tradable", models.NewIndexSymbol("SPX"), 1, ErrNotTradable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			var orderErr error
			algo := &scriptedAlgo{initialize: func(ctx context.Context, eng engine.Engine) error {
				eng.SetStartDate(jan4)
				eng.SetEndDate(jan31)
				spx, err := eng.AddIndex("SPX", engine.ResolutionMinute)
				if err != nil {
					return err
				}
				if _, err := eng.AddIndexOptionContract(testContract(), engine.ResolutionMinute); err != nil {
					return err
				}
				return eng.Schedule(engine.Tomorrow(), engine.AfterMarketOpen(spx, time.Minute), func(time.Time) error {
					_, orderErr = eng.MarketOrder(tt.symbol, tt.qty)
					return nil
				})
			}}
			_, err := e.Run(context.Background(), algo)
			require.NoError(t, err)
			assert.ErrorIs(t, orderErr, tt.wantErr)
		})
	}
}

func TestEngine_MarketOrderWithoutPrice(t *testing.T) {
	e := newTestEngine(t)
	var orderErr error
	algo := &scriptedAlgo{initialize: func(ctx context.Context, eng engine.Engine) error {
		eng.SetStartDate(jan4)
		eng.SetEndDate(jan31)
		if _, err := eng.AddIndex("SPX", engine.ResolutionMinute); err != nil {
			return err
		}
		if _, err := eng.AddIndexOptionContract(testContract(), engine.ResolutionMinute); err != nil {
			return err
		}
		// Before the first bar of the run.
		return eng.Schedule(engine.On(jan4), engine.At(9, 30), func(time.Time) error {
			_, orderErr = eng.MarketOrder(testContract(), -1)
			return nil
		})
	}}
	_, err := e.Run(context.Background(), algo)
	require.NoError(t, err)
	assert.ErrorIs(t, orderErr, ErrNoPrice)
}

func TestEngine_History(t *testing.T) {
	e := newTestEngine(t)
	var bars []models.Bar
	algo := &scriptedAlgo{initialize: func(ctx context.Context, eng engine.Engine) error {
		eng.SetStartDate(jan4)
		eng.SetEndDate(jan31)
		spx, err := eng.AddIndex("SPX", engine.ResolutionMinute)
		if err != nil {
			return err
		}
		return eng.Schedule(engine.On(time.Date(2021, time.January, 5, 0, 0, 0, 0, time.UTC)), engine.At(12, 0),
			func(time.Time) error {
				bars, err = eng.History(spx, 7*24*time.Hour)
				return err
			})
	}}

	result, err := e.Run(context.Background(), algo)
	require.NoError(t, err)
	assert.Equal(t, 1, result.HistoryLookups)
	// 2020-12-31, 2021-01-04 and 2021-01-05 bars fall inside the lookback.
	assert.Len(t, bars, 3)
}

func TestEngine_RunTwice(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Run(context.Background(), &scriptedAlgo{initialize: shortCallSetup(-1)})
	require.NoError(t, err)
	_, err = e.Run(context.Background(), &scriptedAlgo{initialize: shortCallSetup(-1)})
	assert.Error(t, err)
}

func TestEngine_RunIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, newTestEngine(t).RunID(), newTestEngine(t).RunID())
}

func TestEngine_CustomConfig(t *testing.T) {
	s, err := DefaultScenario()
	require.NoError(t, err)
	e := NewEngine(s, nil, nil, Config{Cash: decimal.NewFromInt(50000), FeePerContract: decimal.RequireFromString("0.65")})

	result, err := e.Run(context.Background(), &scriptedAlgo{initialize: shortCallSetup(-1)})
	require.NoError(t, err)
	assert.Equal(t, "$0.65", result.Statistics[StatTotalFees])
	assert.Equal(t, "$9.35", result.Statistics[StatNetProfit])
	assert.Equal(t, "50009.35", result.Statistics[StatEndEquity])
}
