package engine

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
)

type dateRuleKind int

const (
	dateRuleTomorrow dateRuleKind = iota
	dateRuleOn
)

// DateRule selects the trading day on which a scheduled action fires.
type DateRule struct {
	date time.Time
	kind dateRuleKind
}

// Tomorrow fires once on the first trading day after the run's start date.
func Tomorrow() DateRule {
	return DateRule{kind: dateRuleTomorrow}
}

// On fires once on the given calendar date.
func On(date time.Time) DateRule {
	return DateRule{kind: dateRuleOn, date: date}
}

// Resolve returns the day the rule fires on, in the calendar's location.
func (r DateRule) Resolve(cal Calendar, start time.Time) (time.Time, error) {
	switch r.kind {
	case dateRuleTomorrow:
		return cal.NextTradingDay(start), nil
	case dateRuleOn:
		if !cal.IsTradingDay(r.date) {
			return time.Time{}, fmt.Errorf("date rule: %s is not a trading day", r.date.Format("2006-01-02"))
		}
		return r.date, nil
	default:
		return time.Time{}, fmt.Errorf("date rule: unknown kind %d", r.kind)
	}
}

func (r DateRule) String() string {
	if r.kind == dateRuleOn {
		return "On(" + r.date.Format("2006-01-02") + ")"
	}
	return "Tomorrow"
}

type timeRuleKind int

const (
	timeRuleAfterMarketOpen timeRuleKind = iota
	timeRuleBeforeMarketClose
	timeRuleAt
)

// TimeRule selects the time of day at which a scheduled action fires.
type TimeRule struct {
	Symbol models.Symbol
	offset time.Duration
	kind   timeRuleKind
}

// AfterMarketOpen fires offset after the symbol's market opens.
func AfterMarketOpen(symbol models.Symbol, offset time.Duration) TimeRule {
	return TimeRule{kind: timeRuleAfterMarketOpen, Symbol: symbol, offset: offset}
}

// BeforeMarketClose fires offset before the symbol's market closes.
func BeforeMarketClose(symbol models.Symbol, offset time.Duration) TimeRule {
	return TimeRule{kind: timeRuleBeforeMarketClose, Symbol: symbol, offset: offset}
}

// At fires at a fixed time of day in the exchange time zone.
func At(hour, minute int) TimeRule {
	return TimeRule{kind: timeRuleAt, offset: time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute}
}

// Resolve returns the instant on day at which the rule fires.
func (r TimeRule) Resolve(cal Calendar, day time.Time) time.Time {
	switch r.kind {
	case timeRuleBeforeMarketClose:
		return cal.MarketClose(day).Add(-r.offset)
	case timeRuleAt:
		open := cal.MarketOpen(day)
		y, m, d := open.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, open.Location()).Add(r.offset)
	default:
		return cal.MarketOpen(day).Add(r.offset)
	}
}

func (r TimeRule) String() string {
	switch r.kind {
	case timeRuleBeforeMarketClose:
		return fmt.Sprintf("BeforeMarketClose(%s, %s)", r.Symbol, r.offset)
	case timeRuleAt:
		return fmt.Sprintf("At(%s)", r.offset)
	default:
		return fmt.Sprintf("AfterMarketOpen(%s, %s)", r.Symbol, r.offset)
	}
}
