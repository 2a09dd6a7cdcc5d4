// Package calendar answers trading-day questions for the mainland
// exchanges: weekends plus an exchange holiday set, evaluated in the
// exchange timezone.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openfinance/datacenter/internal/errs"
)

// searchBound caps directional trading-day searches. The longest
// exchange closure on record is under two weeks; 30 days is ample.
const searchBound = 30

const dateLayout = "2006-01-02"

// Calendar holds the holiday set for one exchange timezone.
type Calendar struct {
	loc      *time.Location
	holidays map[string]struct{}
}

// New builds a calendar over the given holiday dates (YYYY-MM-DD).
// An unknown timezone name falls back to fixed UTC+8.
func New(timezone string, holidays []string) *Calendar {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.FixedZone("CST", 8*3600)
	}
	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		set[h] = struct{}{}
	}
	return &Calendar{loc: loc, holidays: set}
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// AddHolidays merges more holiday dates in.
func (c *Calendar) AddHolidays(dates []string) {
	for _, d := range dates {
		c.holidays[d] = struct{}{}
	}
}

// IsTradingDay reports whether t falls on a trading day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[t.Format(dateLayout)]
	return !holiday
}

// LatestTradingDay returns the most recent trading day at or before t.
func (c *Calendar) LatestTradingDay(t time.Time) (time.Time, error) {
	day := midnight(t.In(c.loc))
	for i := 0; i <= searchBound; i++ {
		if c.IsTradingDay(day) {
			return day, nil
		}
		day = day.AddDate(0, 0, -1)
	}
	return time.Time{}, fmt.Errorf("no trading day within %d days before %s", searchBound, t.Format(dateLayout))
}

// PreviousTradingDay returns the last trading day strictly before t.
func (c *Calendar) PreviousTradingDay(t time.Time) (time.Time, error) {
	return c.LatestTradingDay(midnight(t.In(c.loc)).AddDate(0, 0, -1))
}

// NextTradingDay returns the first trading day strictly after t.
func (c *Calendar) NextTradingDay(t time.Time) (time.Time, error) {
	day := midnight(t.In(c.loc))
	for i := 0; i < searchBound; i++ {
		day = day.AddDate(0, 0, 1)
		if c.IsTradingDay(day) {
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("no trading day within %d days after %s", searchBound, t.Format(dateLayout))
}

// TradingDaysBetween returns trading days in [start, end], ascending.
func (c *Calendar) TradingDaysBetween(start, end time.Time) []time.Time {
	var out []time.Time
	day := midnight(start.In(c.loc))
	last := midnight(end.In(c.loc))
	for !day.After(last) {
		if c.IsTradingDay(day) {
			out = append(out, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// RecentTradingDays returns the n most recent trading days at or before
// t, ascending.
func (c *Calendar) RecentTradingDays(t time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	day := midnight(t.In(c.loc))
	for steps := 0; len(out) < n && steps < n*3+searchBound; steps++ {
		if c.IsTradingDay(day) {
			out = append(out, day)
		}
		day = day.AddDate(0, 0, -1)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// LoadHolidays pulls closed dates from the trade_calendar table, where
// is_open = 0 marks an exchange holiday.
func LoadHolidays(ctx context.Context, db *sqlx.DB, exchange string) ([]string, error) {
	var dates []string
	err := db.SelectContext(ctx, &dates,
		`SELECT to_char(cal_date, 'YYYY-MM-DD') FROM trade_calendar
		 WHERE exchange = $1 AND is_open = 0 ORDER BY cal_date`, exchange)
	if err != nil {
		return nil, errs.E(errs.CategoryStorage, "load holidays", err)
	}
	return dates, nil
}

// TradingDaysFromDB infers trading days in [start, end] from stored
// quotes: a date with at least minSymbols distinct codes in stock_quote
// counts as a trading day. Useful when no authoritative calendar covers
// the range. minSymbols <= 0 defaults to 100.
func TradingDaysFromDB(ctx context.Context, db *sqlx.DB, start, end time.Time, minSymbols int) ([]time.Time, error) {
	if minSymbols <= 0 {
		minSymbols = 100
	}
	var days []time.Time
	err := db.SelectContext(ctx, &days,
		`SELECT trade_date FROM stock_quote
		 WHERE trade_date BETWEEN $1 AND $2
		 GROUP BY trade_date HAVING COUNT(DISTINCT code) >= $3
		 ORDER BY trade_date`, start, end, minSymbols)
	if err != nil {
		return nil, errs.E(errs.CategoryStorage, "infer trading days", err)
	}
	return days, nil
}

// FromDB builds a calendar seeded from the trade_calendar table.
func FromDB(ctx context.Context, db *sqlx.DB, timezone, exchange string) (*Calendar, error) {
	holidays, err := LoadHolidays(ctx, db, exchange)
	if err != nil {
		return nil, err
	}
	return New(timezone, holidays), nil
}
