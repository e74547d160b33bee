// Package mock provides a deterministic backtest engine that replays a YAML
// scenario of index and option bars through an engine.Algorithm.
package mock

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/eddiefleurent/spx_expiry_regression/internal/chain"
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v3"
)

//go:embed scenarios/spx_2021_01.yaml
var defaultScenario []byte

// ErrInvalidScenario is returned for scenarios that fail validation.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is the replayable market: calendar, listed contracts and bars.
type Scenario struct {
	Location    *time.Location
	Name        string
	Indices     []models.Symbol
	Contracts   []models.Symbol
	Bars        []models.Bar
	Holidays    map[string]bool
	MarketOpen  time.Duration
	MarketClose time.Duration
}

type scenarioFile struct {
	Name        string         `yaml:"name"`
	Timezone    string         `yaml:"timezone"`
	MarketOpen  string         `yaml:"market_open"`
	MarketClose string         `yaml:"market_close"`
	Holidays    []string       `yaml:"holidays"`
	Indices     []string       `yaml:"indices"`
	Contracts   []contractFile `yaml:"contracts"`
	Bars        []barFile      `yaml:"bars"`
}

type contractFile struct {
	Root   string  `yaml:"root"`
	Right  string  `yaml:"right"`
	Style  string  `yaml:"style"`
	Expiry string  `yaml:"expiry"`
	Strike float64 `yaml:"strike"`
}

type barFile struct {
	Time   string `yaml:"time"`
	Symbol string `yaml:"symbol"`
	Close  string `yaml:"close"`
}

// DefaultScenario returns the embedded SPX January 2021 scenario.
func DefaultScenario() (*Scenario, error) {
	return ParseScenario(defaultScenario)
}

// LoadScenario reads a scenario file. An empty path selects the embedded default.
func LoadScenario(path string) (*Scenario, error) {
	if path == "" {
		return DefaultScenario()
	}
	data, err := os.ReadFile(path) // #nosec G304 -- scenario path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var raw scenarioFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}

	s := &Scenario{
		Name:     raw.Name,
		Location: loadLocation(raw.Timezone),
		Holidays: make(map[string]bool, len(raw.Holidays)),
	}

	var err error
	if s.MarketOpen, err = parseClock(raw.MarketOpen, "09:30"); err != nil {
		return nil, fmt.Errorf("%w: market_open: %v", ErrInvalidScenario, err)
	}
	if s.MarketClose, err = parseClock(raw.MarketClose, "16:00"); err != nil {
		return nil, fmt.Errorf("%w: market_close: %v", ErrInvalidScenario, err)
	}
	if s.MarketClose <= s.MarketOpen {
		return nil, fmt.Errorf("%w: market_close must be after market_open", ErrInvalidScenario)
	}

	for _, h := range raw.Holidays {
		d, err := time.Parse("2006-01-02", h)
		if err != nil {
			return nil, fmt.Errorf("%w: holiday %q: %v", ErrInvalidScenario, h, err)
		}
		s.Holidays[d.Format("2006-01-02")] = true
	}

	indexSet := make(map[string]bool)
	for _, ticker := range raw.Indices {
		sym := models.NewIndexSymbol(ticker)
		indexSet[sym.Value] = true
		s.Indices = append(s.Indices, sym)
	}

	for i, c := range raw.Contracts {
		sym, err := c.toSymbol()
		if err != nil {
			return nil, fmt.Errorf("%w: contract %d: %v", ErrInvalidScenario, i, err)
		}
		if !indexSet[sym.Underlying] {
			return nil, fmt.Errorf("%w: contract %s: underlying %s is not a listed index",
				ErrInvalidScenario, sym.Value, sym.Underlying)
		}
		s.Contracts = append(s.Contracts, sym)
	}

	for i, b := range raw.Bars {
		bar, err := b.toBar(s.Location, indexSet)
		if err != nil {
			return nil, fmt.Errorf("%w: bar %d: %v", ErrInvalidScenario, i, err)
		}
		s.Bars = append(s.Bars, bar)
	}
	sort.SliceStable(s.Bars, func(i, j int) bool { return s.Bars[i].Time.Before(s.Bars[j].Time) })

	return s, nil
}

// ChainProvider serves the scenario's listed contracts.
func (s *Scenario) ChainProvider() chain.Provider {
	return chain.NewStaticProvider(s.Contracts)
}

// HasIndex reports whether ticker is one of the scenario's indices.
func (s *Scenario) HasIndex(ticker string) (models.Symbol, bool) {
	for _, idx := range s.Indices {
		if strings.EqualFold(idx.Value, ticker) {
			return idx, true
		}
	}
	return models.Symbol{}, false
}

func (c contractFile) toSymbol() (models.Symbol, error) {
	expiry, err := time.Parse("2006-01-02", c.Expiry)
	if err != nil {
		return models.Symbol{}, fmt.Errorf("expiry %q: %w", c.Expiry, err)
	}
	if c.Strike <= 0 {
		return models.Symbol{}, fmt.Errorf("strike must be > 0, got %.2f", c.Strike)
	}

	var right models.OptionRight
	switch strings.ToLower(c.Right) {
	case "call":
		right = models.OptionRightCall
	case "put":
		right = models.OptionRightPut
	default:
		return models.Symbol{}, fmt.Errorf("right must be call or put, got %q", c.Right)
	}

	style := models.StyleForRoot(c.Root)
	switch strings.ToLower(c.Style) {
	case "":
	case "european":
		style = models.OptionStyleEuropean
	case "american":
		style = models.OptionStyleAmerican
	default:
		return models.Symbol{}, fmt.Errorf("style must be european or american, got %q", c.Style)
	}

	return models.NewOptionSymbol(c.Root, right, style, c.Strike, expiry), nil
}

func (b barFile) toBar(loc *time.Location, indices map[string]bool) (models.Bar, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", b.Time, loc)
	if err != nil {
		return models.Bar{}, fmt.Errorf("time %q: %w", b.Time, err)
	}
	price, err := decimal.NewFromString(b.Close)
	if err != nil {
		return models.Bar{}, fmt.Errorf("close %q: %w", b.Close, err)
	}

	var sym models.Symbol
	if indices[strings.ToUpper(strings.TrimSpace(b.Symbol))] {
		sym = models.NewIndexSymbol(b.Symbol)
	} else if sym, err = models.ParseOCC(b.Symbol); err != nil {
		return models.Bar{}, err
	}
	return models.Bar{Time: t, Symbol: sym, Close: price}, nil
}

func parseClock(s, fallback string) (time.Duration, error) {
	if s == "" {
		s = fallback
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func loadLocation(name string) *time.Location {
	if name == "" {
		name = "America/New_York"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// Fallback to EST if timezone loading fails
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}
