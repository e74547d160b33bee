package regression

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/eddiefleurent/spx_expiry_regression/internal/engine"
	yaml "gopkg.in/yaml.v3"
)

// OrderListHashKey is the statistic holding the hash of the canonical order lines.
const OrderListHashKey = "Order List Hash"

//go:embed expectations.yaml
var defaultExpectations []byte

// Expectations is the contract a completed run is compared against.
type Expectations struct {
	Statistics     map[string]string `yaml:"statistics" json:"statistics"`
	Languages      []string          `yaml:"languages" json:"languages"`
	Orders         []string          `yaml:"orders" json:"orders"`
	DataPoints     int               `yaml:"data_points" json:"data_points"`
	HistoryLookups int               `yaml:"history_lookups" json:"history_lookups"`
	CanRunLocally  bool              `yaml:"can_run_locally" json:"can_run_locally"`
}

// DefaultExpectations decodes the embedded contract for the default configuration.
func DefaultExpectations() (*Expectations, error) {
	return ParseExpectations(defaultExpectations)
}

// LoadExpectations reads a contract from a YAML file.
func LoadExpectations(path string) (*Expectations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read expectations file: %w", err)
	}
	return ParseExpectations(data)
}

// ParseExpectations decodes a contract, rejecting unknown fields.
func ParseExpectations(data []byte) (*Expectations, error) {
	var exp Expectations
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&exp); err != nil {
		return nil, fmt.Errorf("failed to parse expectations: %w", err)
	}
	if exp.DataPoints < 0 || exp.HistoryLookups < 0 {
		return nil, errors.New("expectations: counts must not be negative")
	}
	if exp.Statistics == nil {
		exp.Statistics = make(map[string]string)
	}
	return &exp, nil
}

// Expectations returns the reporting contract recorded for the default
// configuration. A check built with any other Config has none.
func (c *Check) Expectations() (*Expectations, error) {
	if !sameConfig(c.config, DefaultConfig) {
		return nil, ErrNoExpectations
	}
	return DefaultExpectations()
}

func sameConfig(a, b Config) bool {
	return a.Start.Equal(b.Start) && a.End.Equal(b.End) && a.ExpectedExpiry.Equal(b.ExpectedExpiry) &&
		a.Underlying == b.Underlying && a.Right == b.Right && a.ExpectedStyle == b.ExpectedStyle &&
		a.Resolution == b.Resolution && a.StrikeThreshold == b.StrikeThreshold &&
		a.ExpectedStrike == b.ExpectedStrike && a.ExpiryMonth == b.ExpiryMonth &&
		a.ExpiryYear == b.ExpiryYear && a.OrderQuantity == b.OrderQuantity && a.OrderOffset == b.OrderOffset
}

// Verify compares a run result with the contract and reports every difference.
func (e *Expectations) Verify(result *engine.Result) error {
	if result == nil {
		return fmt.Errorf("%w: no result", ErrStatisticsMismatch)
	}

	var diffs []string
	if result.DataPoints != e.DataPoints {
		diffs = append(diffs, fmt.Sprintf("data points: got %d, expected %d", result.DataPoints, e.DataPoints))
	}
	if result.HistoryLookups != e.HistoryLookups {
		diffs = append(diffs, fmt.Sprintf("history lookups: got %d, expected %d", result.HistoryLookups, e.HistoryLookups))
	}
	if len(e.Orders) > 0 {
		diffs = append(diffs, orderDiffs(e.Orders, result.Orders)...)
	}
	diffs = append(diffs, statisticDiffs(e.Statistics, result.Statistics)...)

	if len(diffs) > 0 {
		return fmt.Errorf("%w: %s", ErrStatisticsMismatch, strings.Join(diffs, "; "))
	}
	return nil
}

// CompareStatistics checks actual against every expected key by exact string match.
func CompareStatistics(expected, actual map[string]string) error {
	if diffs := statisticDiffs(expected, actual); len(diffs) > 0 {
		return fmt.Errorf("%w: %s", ErrStatisticsMismatch, strings.Join(diffs, "; "))
	}
	return nil
}

func statisticDiffs(expected, actual map[string]string) []string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var diffs []string
	for _, k := range keys {
		got, ok := actual[k]
		switch {
		case !ok:
			diffs = append(diffs, fmt.Sprintf("%s: missing, expected %q", k, expected[k]))
		case got != expected[k]:
			diffs = append(diffs, fmt.Sprintf("%s: got %q, expected %q", k, got, expected[k]))
		}
	}
	return diffs
}

func orderDiffs(expected, actual []string) []string {
	var diffs []string
	if len(expected) != len(actual) {
		diffs = append(diffs, fmt.Sprintf("orders: got %d, expected %d", len(actual), len(expected)))
	}
	for i := 0; i < len(expected) && i < len(actual); i++ {
		if expected[i] != actual[i] {
			diffs = append(diffs, fmt.Sprintf("order %d: got %q, expected %q", i+1, actual[i], expected[i]))
		}
	}
	return diffs
}
