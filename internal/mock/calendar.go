package mock

import (
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/engine"
)

// Calendar is a weekday calendar with holidays and a single regular session.
type Calendar struct {
	loc      *time.Location
	holidays map[string]bool
	open     time.Duration
	close    time.Duration
}

// Ensure Calendar implements engine.Calendar at compile time.
var _ engine.Calendar = (*Calendar)(nil)

// NewCalendar builds the calendar described by a scenario.
func NewCalendar(s *Scenario) *Calendar {
	return &Calendar{
		loc:      s.Location,
		holidays: s.Holidays,
		open:     s.MarketOpen,
		close:    s.MarketClose,
	}
}

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Midnight returns 00:00 exchange time on day's calendar date.
func (c *Calendar) Midnight(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// IsTradingDay reports whether day's calendar date is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(day time.Time) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[day.Format("2006-01-02")]
}

// NextTradingDay returns midnight of the first trading day strictly after day.
func (c *Calendar) NextTradingDay(day time.Time) time.Time {
	next := c.Midnight(day).AddDate(0, 0, 1)
	for !c.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MarketOpen returns the session open on day's calendar date.
func (c *Calendar) MarketOpen(day time.Time) time.Time {
	return c.Midnight(day).Add(c.open)
}

// MarketClose returns the session close on day's calendar date.
func (c *Calendar) MarketClose(day time.Time) time.Time {
	return c.Midnight(day).Add(c.close)
}
