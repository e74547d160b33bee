package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStaticProvider(t *testing.T) {
	contracts := []models.Symbol{
		models.NewOptionSymbol("SPX", models.OptionRightCall, models.OptionStyleEuropean, 4275, date(2021, 1, 15)),
		models.NewOptionSymbol("SPX", models.OptionRightCall, models.OptionStyleEuropean, 4250, date(2021, 1, 15)),
		models.NewOptionSymbol("SPX", models.OptionRightCall, models.OptionStyleEuropean, 3600, date(2020, 12, 18)),
		models.NewOptionSymbol("NDX", models.OptionRightCall, models.OptionStyleEuropean, 13000, date(2021, 1, 15)),
	}
	p := NewStaticProvider(contracts)

	got, err := p.OptionChain(context.Background(), "spx", date(2021, 1, 4))
	require.NoError(t, err)
	require.Len(t, got, 2, "expired December contract must be excluded")
	assert.Equal(t, 4250.0, got[0].Strike)
	assert.Equal(t, 4275.0, got[1].Strike)

	_, err = p.OptionChain(context.Background(), "RUT", date(2021, 1, 4))
	assert.ErrorIs(t, err, ErrNoChain)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.OptionChain(ctx, "SPX", date(2021, 1, 4))
	assert.ErrorIs(t, err, context.Canceled)
}

func newTradierServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var chainCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/markets/options/expirations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "SPX", r.URL.Query().Get("symbol"))
		_, _ = io.WriteString(w, `{"expirations":{"date":["2020-12-18","2021-01-15","2021-02-19"]}}`)
	})
	mux.HandleFunc("/markets/options/chains", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&chainCalls, 1)
		switch r.URL.Query().Get("expiration") {
		case "2021-01-15":
			_, _ = io.WriteString(w, `{"options":{"option":[
				{"symbol":"SPX210115C04250000","option_type":"call","strike":4250,"expiration_date":"2021-01-15","underlying":"SPX","root_symbol":"SPX"},
				{"symbol":"SPX210115P03700000","option_type":"put","strike":3700,"expiration_date":"2021-01-15","underlying":"SPX","root_symbol":"SPX"}
			]}}`)
		case "2021-02-19":
			// a single contract is returned as an object, not an array
			_, _ = io.WriteString(w, `{"options":{"option":
				{"symbol":"","option_type":"call","strike":4300,"expiration_date":"2021-02-19","underlying":"SPX","root_symbol":"SPX"}}}`)
		default:
			http.Error(w, "unexpected expiration", http.StatusBadRequest)
		}
	})
	return httptest.NewServer(mux), &chainCalls
}

func TestTradierProvider_OptionChain(t *testing.T) {
	srv, calls := newTradierServer(t)
	defer srv.Close()

	p := NewTradierProvider("test-key", srv.URL+"/", true, quietLogger()).WithConcurrency(2)
	got, err := p.OptionChain(context.Background(), "SPX", date(2021, 1, 4))
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls), "expired 2020-12-18 expiration must not be requested")
	assert.Equal(t, "SPX   210115P03700000", got[0].Value)
	assert.Equal(t, "SPX   210115C04250000", got[1].Value)
	assert.Equal(t, models.OptionStyleEuropean, got[1].Style)
	assert.Equal(t, "SPX   210219C04300000", got[2].Value)
}

func TestTradierProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewTradierProvider("k", srv.URL, false, quietLogger())
	_, err := p.OptionChain(context.Background(), "SPX", date(2021, 1, 4))
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Contains(t, err.Error(), "429")
}

func TestTradierProvider_NoExpirations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"expirations":null}`)
	}))
	defer srv.Close()

	p := NewTradierProvider("k", srv.URL, false, quietLogger())
	_, err := p.OptionChain(context.Background(), "SPX", date(2021, 1, 4))
	assert.ErrorIs(t, err, ErrNoChain)
}

type failingProvider struct {
	calls int
}

func (f *failingProvider) OptionChain(ctx context.Context, underlying string, at time.Time) ([]models.Symbol, error) {
	f.calls++
	return nil, fmt.Errorf("server error %d", f.calls)
}

func TestCircuitBreakerProvider_Trips(t *testing.T) {
	inner := &failingProvider{}
	cb := NewCircuitBreakerProviderWithSettings(inner, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	}, quietLogger())

	for i := 0; i < 3; i++ {
		_, err := cb.OptionChain(context.Background(), "SPX", date(2021, 1, 4))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.OptionChain(context.Background(), "SPX", date(2021, 1, 4))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the provider")
}

func TestCircuitBreakerProvider_PassesThrough(t *testing.T) {
	static := NewStaticProvider([]models.Symbol{
		models.NewOptionSymbol("SPX", models.OptionRightCall, models.OptionStyleEuropean, 4250, date(2021, 1, 15)),
	})
	cb := NewCircuitBreakerProvider(static, quietLogger())
	got, err := cb.OptionChain(context.Background(), "SPX", date(2021, 1, 4))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
