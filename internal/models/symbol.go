// Package models provides the instrument, order, market-data and lifecycle types
// shared by the regression check and the engines that drive it.
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// SecurityType classifies an instrument.
type SecurityType string

// Security types understood by the engine boundary.
const (
	SecurityTypeIndex        SecurityType = "index"
	SecurityTypeIndexOption  SecurityType = "index_option"
	SecurityTypeEquity       SecurityType = "equity"
	SecurityTypeEquityOption SecurityType = "equity_option"
)

// OptionRight is the right conferred by an option contract.
type OptionRight string

// Option rights.
const (
	OptionRightCall OptionRight = "call"
	OptionRightPut  OptionRight = "put"
)

// OptionStyle is the exercise style of an option contract.
type OptionStyle string

// Option styles.
const (
	OptionStyleEuropean OptionStyle = "european"
	OptionStyleAmerican OptionStyle = "american"
)

// StrikeMatchEpsilon is the tolerance used when comparing strikes.
const StrikeMatchEpsilon = 1e-3

const optionContractMultiplier = 100

// indexRoots maps option roots on cash-settled indices to their underlying index.
var indexRoots = map[string]string{
	"SPX":  "SPX",
	"SPXW": "SPX",
	"XSP":  "XSP",
	"NDX":  "NDX",
	"NDXP": "NDX",
	"RUT":  "RUT",
	"RUTW": "RUT",
	"VIX":  "VIX",
	"VIXW": "VIX",
	"DJX":  "DJX",
}

// Symbol identifies an index or an option contract. Two symbols are the same
// instrument when their Value is equal.
type Symbol struct {
	Expiry       time.Time    `json:"expiry,omitempty" yaml:"expiry,omitempty"`
	Value        string       `json:"value" yaml:"value"`
	Underlying   string       `json:"underlying,omitempty" yaml:"underlying,omitempty"`
	Root         string       `json:"root,omitempty" yaml:"root,omitempty"`
	SecurityType SecurityType `json:"security_type" yaml:"security_type"`
	Right        OptionRight  `json:"right,omitempty" yaml:"right,omitempty"`
	Style        OptionStyle  `json:"style,omitempty" yaml:"style,omitempty"`
	Strike       float64      `json:"strike,omitempty" yaml:"strike,omitempty"`
}

// NewIndexSymbol returns the symbol for a cash index such as SPX.
func NewIndexSymbol(ticker string) Symbol {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	return Symbol{
		Value:        ticker,
		Underlying:   ticker,
		SecurityType: SecurityTypeIndex,
	}
}

// NewOptionSymbol builds an option contract symbol. The expiry is normalized to a
// calendar date and the Value is the OCC ticker.
func NewOptionSymbol(root string, right OptionRight, style OptionStyle, strike float64, expiry time.Time) Symbol {
	root = strings.ToUpper(strings.TrimSpace(root))
	underlying, isIndex := indexRoots[root]
	secType := SecurityTypeIndexOption
	if !isIndex {
		underlying = root
		secType = SecurityTypeEquityOption
	}
	expiry = DateOf(expiry)
	return Symbol{
		Value:        OCCTicker(root, right, strike, expiry),
		Underlying:   underlying,
		Root:         root,
		SecurityType: secType,
		Right:        right,
		Style:        style,
		Strike:       strike,
		Expiry:       expiry,
	}
}

// OCCTicker formats the 21 character OCC option symbol: root padded to six
// characters, YYMMDD, C or P, and the strike times 1000 in eight digits.
func OCCTicker(root string, right OptionRight, strike float64, expiry time.Time) string {
	flag := "C"
	if right == OptionRightPut {
		flag = "P"
	}
	return fmt.Sprintf("%-6s%s%s%08d", root, expiry.Format("060102"), flag, int(math.Round(strike*1000)))
}

// ParseOCC parses an OCC option ticker. Padding between root and date is optional.
// The exercise style is inferred from the root: options on cash indices are European.
func ParseOCC(ticker string) (Symbol, error) {
	t := strings.TrimSpace(ticker)
	if len(t) < 16 {
		return Symbol{}, fmt.Errorf("invalid OCC symbol %q: too short", ticker)
	}
	tail := t[len(t)-15:]
	root := strings.TrimSpace(t[:len(t)-15])
	if root == "" {
		return Symbol{}, fmt.Errorf("invalid OCC symbol %q: missing root", ticker)
	}

	expiry, err := time.Parse("060102", tail[:6])
	if err != nil {
		return Symbol{}, fmt.Errorf("invalid OCC symbol %q: expiry: %w", ticker, err)
	}

	var right OptionRight
	switch tail[6] {
	case 'C':
		right = OptionRightCall
	case 'P':
		right = OptionRightPut
	default:
		return Symbol{}, fmt.Errorf("invalid OCC symbol %q: right %q", ticker, tail[6])
	}

	milli, err := strconv.Atoi(tail[7:])
	if err != nil {
		return Symbol{}, fmt.Errorf("invalid OCC symbol %q: strike: %w", ticker, err)
	}

	return NewOptionSymbol(root, right, StyleForRoot(root), float64(milli)/1000, expiry), nil
}

// StyleForRoot returns the exercise style listed for an option root.
func StyleForRoot(root string) OptionStyle {
	if _, ok := indexRoots[strings.ToUpper(root)]; ok {
		return OptionStyleEuropean
	}
	return OptionStyleAmerican
}

// IsIndex reports whether ticker names a cash index with listed index options.
func IsIndex(ticker string) bool {
	u, ok := indexRoots[strings.ToUpper(ticker)]
	return ok && u == strings.ToUpper(ticker)
}

// IsOption reports whether the symbol is an option contract.
func (s Symbol) IsOption() bool {
	return s.SecurityType == SecurityTypeIndexOption || s.SecurityType == SecurityTypeEquityOption
}

// Equal reports whether both symbols reference the same instrument.
func (s Symbol) Equal(other Symbol) bool {
	return s.Value == other.Value
}

// IsZero reports whether the symbol was never resolved.
func (s Symbol) IsZero() bool {
	return s.Value == ""
}

// SameContract compares the full contract identity field by field.
func (s Symbol) SameContract(other Symbol) bool {
	return s.Underlying == other.Underlying &&
		s.Right == other.Right &&
		s.Style == other.Style &&
		math.Abs(s.Strike-other.Strike) < StrikeMatchEpsilon &&
		SameDate(s.Expiry, other.Expiry)
}

// ContractMultiplier returns the number of underlying units per contract.
func (s Symbol) ContractMultiplier() int64 {
	if s.IsOption() {
		return optionContractMultiplier
	}
	return 1
}

// Describe renders a human readable identity, used in error messages.
func (s Symbol) Describe() string {
	if !s.IsOption() {
		return s.Value
	}
	return fmt.Sprintf("%s %s %s %.2f %s", s.Underlying, s.Style, s.Right, s.Strike, s.Expiry.Format("2006-01-02"))
}

func (s Symbol) String() string {
	return s.Value
}

// DateOf truncates t to midnight UTC of its calendar date in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether a and b fall on the same calendar date, each read in its own location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
