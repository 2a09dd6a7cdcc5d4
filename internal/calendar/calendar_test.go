package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// National Day closure 2024: Oct 1 (Tue) through Oct 7 (Mon).
func nationalDay() *Calendar {
	return New("Asia/Shanghai", []string{
		"2024-10-01", "2024-10-02", "2024-10-03", "2024-10-04", "2024-10-07",
	})
}

func date(y int, m time.Month, d int, loc *time.Location) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func TestIsTradingDay(t *testing.T) {
	c := nationalDay()
	loc := c.Location()

	assert.True(t, c.IsTradingDay(date(2024, 9, 30, loc)), "Monday before the closure")
	assert.False(t, c.IsTradingDay(date(2024, 10, 1, loc)), "holiday")
	assert.False(t, c.IsTradingDay(date(2024, 10, 5, loc)), "Saturday")
	assert.False(t, c.IsTradingDay(date(2024, 10, 7, loc)), "holiday Monday")
	assert.True(t, c.IsTradingDay(date(2024, 10, 8, loc)), "first day back")
}

func TestLatestTradingDaySpansClosure(t *testing.T) {
	c := nationalDay()
	loc := c.Location()

	got, err := c.LatestTradingDay(date(2024, 10, 5, loc))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 9, 30, loc), got)

	got, err = c.LatestTradingDay(date(2024, 9, 30, loc))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 9, 30, loc), got, "a trading day is its own latest")
}

func TestPreviousAndNextTradingDay(t *testing.T) {
	c := nationalDay()
	loc := c.Location()

	prev, err := c.PreviousTradingDay(date(2024, 10, 8, loc))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 9, 30, loc), prev)

	next, err := c.NextTradingDay(date(2024, 9, 30, loc))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 10, 8, loc), next)
}

func TestNextTradingDayBound(t *testing.T) {
	// Every weekday for two months marked closed exhausts the bound.
	var holidays []string
	day := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		holidays = append(holidays, day.Format("2006-01-02"))
		day = day.AddDate(0, 0, 1)
	}
	c := New("UTC", holidays)

	_, err := c.NextTradingDay(date(2024, 10, 1, time.UTC))
	assert.Error(t, err)
}

func TestTradingDaysBetween(t *testing.T) {
	c := nationalDay()
	loc := c.Location()

	days := c.TradingDaysBetween(date(2024, 9, 27, loc), date(2024, 10, 9, loc))
	require.Len(t, days, 4)
	assert.Equal(t, date(2024, 9, 27, loc), days[0])
	assert.Equal(t, date(2024, 9, 30, loc), days[1])
	assert.Equal(t, date(2024, 10, 8, loc), days[2])
	assert.Equal(t, date(2024, 10, 9, loc), days[3])
}

func TestRecentTradingDays(t *testing.T) {
	c := nationalDay()
	loc := c.Location()

	days := c.RecentTradingDays(date(2024, 10, 8, loc), 3)
	require.Len(t, days, 3)
	assert.Equal(t, date(2024, 9, 27, loc), days[0])
	assert.Equal(t, date(2024, 9, 30, loc), days[1])
	assert.Equal(t, date(2024, 10, 8, loc), days[2])
}

func TestUnknownTimezoneFallsBack(t *testing.T) {
	c := New("Not/AZone", nil)
	_, offset := time.Now().In(c.Location()).Zone()
	assert.Equal(t, 8*3600, offset)
}

func TestLoadHolidays(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"to_char"}).
		AddRow("2024-10-01").
		AddRow("2024-10-02")
	mock.ExpectQuery("SELECT to_char\\(cal_date").
		WithArgs("SSE").
		WillReturnRows(rows)

	dates, err := LoadHolidays(context.Background(), sqlx.NewDb(db, "sqlmock"), "SSE")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-10-01", "2024-10-02"}, dates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradingDaysFromDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"trade_date"}).
		AddRow(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)).
		AddRow(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	mock.ExpectQuery("SELECT trade_date FROM stock_quote").
		WithArgs(start, end, 100).
		WillReturnRows(rows)

	days, err := TradingDaysFromDB(context.Background(), sqlx.NewDb(db, "sqlmock"), start, end, 0)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), days[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
