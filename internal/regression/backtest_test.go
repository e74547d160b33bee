package regression

import (
	"context"
	"errors"
	"testing"
	"time"

	backtest "github.com/eddiefleurent/spx_expiry_regression/internal/mock"
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacktest_ShortCallExpiresWorthless(t *testing.T) {
	scenario, err := backtest.DefaultScenario()
	require.NoError(t, err)

	eng := backtest.NewEngine(scenario, nil, nil)
	check := New(nil)

	result, err := eng.Run(context.Background(), check)
	require.NoError(t, err)
	require.NotNil(t, result)

	exp, err := check.Expectations()
	require.NoError(t, err)
	assert.NoError(t, exp.Verify(result))

	assert.Equal(t, models.StateTerminated, check.State())
	assert.False(t, eng.Portfolio().Invested())
	assert.Equal(t, 0, eng.Portfolio().Quantity(check.Contract()))

	require.Len(t, result.Fills, 2)
	sell, buy := result.Fills[0], result.Fills[1]

	assert.Equal(t, models.OrderDirectionSell, sell.Direction)
	assert.Equal(t, -1, sell.FillQuantity)
	assert.True(t, sell.FillPrice.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, "2021-01-05 09:31", sell.Time.Format("2006-01-02 15:04"))

	assert.Equal(t, models.OrderDirectionBuy, buy.Direction)
	assert.Equal(t, 1, buy.FillQuantity)
	assert.True(t, buy.FillPrice.IsZero())
	assert.False(t, buy.IsAssignment)
	assert.Equal(t, "2021-01-16", buy.Time.Format("2006-01-02"))

	ticket := check.Ticket()
	require.NotNil(t, ticket)
	assert.Equal(t, models.OrderStatusFilled, ticket.Status)
	assert.Equal(t, -1, ticket.QuantityFilled)
}

func TestBacktest_InTheMoneyExpiryIsAssigned(t *testing.T) {
	scenario, err := backtest.DefaultScenario()
	require.NoError(t, err)

	// Close the index above the strike on expiry day.
	for i, b := range scenario.Bars {
		if b.Symbol.Value == "SPX" && b.Time.Format("2006-01-02") == "2021-01-15" {
			scenario.Bars[i].Close = decimal.NewFromInt(4300)
		}
	}

	eng := backtest.NewEngine(scenario, nil, nil)
	check := New(nil)

	_, err = eng.Run(context.Background(), check)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedAssignment), "got %v", err)
	assert.Equal(t, models.StateFailed, check.State())
}

func TestBacktest_MissingExpectedExpiry(t *testing.T) {
	scenario, err := backtest.DefaultScenario()
	require.NoError(t, err)

	// Without the January 15 4250 call the chain resolves to the 4275.
	var contracts []models.Symbol
	for _, c := range scenario.Contracts {
		if c.Value != "SPX   210115C04250000" {
			contracts = append(contracts, c)
		}
	}
	scenario.Contracts = contracts

	eng := backtest.NewEngine(scenario, nil, nil)
	check := New(nil)

	_, err = eng.Run(context.Background(), check)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContractMismatch), "got %v", err)
	assert.Contains(t, err.Error(), "4275.00")
}

func TestBacktest_Cancelled(t *testing.T) {
	scenario, err := backtest.DefaultScenario()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = backtest.NewEngine(scenario, nil, nil).Run(ctx, New(nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBacktest_ShortWindowSkipsOrder(t *testing.T) {
	scenario, err := backtest.DefaultScenario()
	require.NoError(t, err)

	cfg := DefaultConfig
	cfg.End = time.Date(2021, time.January, 4, 0, 0, 0, 0, time.UTC)

	eng := backtest.NewEngine(scenario, nil, nil)
	check := New(nil, cfg)

	result, err := eng.Run(context.Background(), check)
	require.NoError(t, err)
	assert.Empty(t, result.Fills)
	assert.Equal(t, 2, result.DataPoints)
	assert.Equal(t, models.StateTerminated, check.State())
}
