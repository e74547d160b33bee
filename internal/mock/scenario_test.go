package mock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultScenario(t *testing.T) {
	s, err := DefaultScenario()
	require.NoError(t, err)

	assert.Equal(t, "spx_2021_01", s.Name)
	assert.Equal(t, "America/New_York", s.Location.String())
	assert.Equal(t, 9*time.Hour+30*time.Minute, s.MarketOpen)
	assert.Equal(t, 16*time.Hour, s.MarketClose)
	assert.True(t, s.Holidays["2021-01-18"])
	require.Len(t, s.Indices, 1)
	assert.Equal(t, "SPX", s.Indices[0].Value)
	assert.Len(t, s.Contracts, 9)
	assert.Len(t, s.Bars, 10)

	for i := 1; i < len(s.Bars); i++ {
		assert.False(t, s.Bars[i].Time.Before(s.Bars[i-1].Time), "bars must be time ordered")
	}

	sym, ok := s.HasIndex("spx")
	assert.True(t, ok)
	assert.Equal(t, models.SecurityTypeIndex, sym.SecurityType)
	_, ok = s.HasIndex("NDX")
	assert.False(t, ok)
}

func TestDefaultScenario_ContractsAreEuropean(t *testing.T) {
	s, err := DefaultScenario()
	require.NoError(t, err)
	for _, c := range s.Contracts {
		assert.Equal(t, models.OptionStyleEuropean, c.Style, c.Value)
		assert.Equal(t, models.SecurityTypeIndexOption, c.SecurityType, c.Value)
	}
}

func TestScenarioChainProvider(t *testing.T) {
	s, err := DefaultScenario()
	require.NoError(t, err)

	chain, err := s.ChainProvider().OptionChain(context.Background(), "SPX", time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, chain, 9)

	chain, err = s.ChainProvider().OptionChain(context.Background(), "SPX", time.Date(2021, 1, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, chain, 3, "January contracts have expired")
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "name: x\nvenue: cboe\n"},
		{"bad holiday", "holidays: [2021-13-01]\n"},
		{"close before open", "market_open: \"16:00\"\nmarket_close: \"09:30\"\n"},
		{"bad right", "indices: [SPX]\ncontracts:\n  - { root: SPX, right: straddle, strike: 4250, expiry: 2021-01-15 }\n"},
		{"bad strike", "indices: [SPX]\ncontracts:\n  - { root: SPX, right: call, strike: 0, expiry: 2021-01-15 }\n"},
		{"unlisted underlying", "indices: [NDX]\ncontracts:\n  - { root: SPX, right: call, strike: 4250, expiry: 2021-01-15 }\n"},
		{"bad bar price", "indices: [SPX]\nbars:\n  - { time: \"2021-01-04 09:31\", symbol: SPX, close: abc }\n"},
		{"bad bar symbol", "indices: [SPX]\nbars:\n  - { time: \"2021-01-04 09:31\", symbol: FOO, close: \"1\" }\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseScenario_InvalidIsWrapped(t *testing.T) {
	_, err := ParseScenario([]byte("holidays: [nope]\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidScenario))
}

func TestParseScenario_Defaults(t *testing.T) {
	s, err := ParseScenario([]byte("indices: [SPX]\n"))
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, s.MarketOpen)
	assert.Equal(t, 16*time.Hour, s.MarketClose)
	assert.NotNil(t, s.Location)
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("")
	require.NoError(t, err)
	assert.Equal(t, "spx_2021_01", s.Name)

	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: custom\nindices: [SPX]\n"), 0o600))
	s, err = LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
