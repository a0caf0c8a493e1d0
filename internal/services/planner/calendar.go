package planner

import (
	"fmt"
	"time"

	"RegimeDesk/internal/domain/models"
)

var defaultHolidays = []string{
	"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27",
	"2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25",
	"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17", "2025-04-18",
	"2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27",
	"2025-12-25",
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
	"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
	"2027-01-01", "2027-01-18", "2027-02-15", "2027-03-26", "2027-05-31",
	"2027-06-18", "2027-07-05", "2027-09-06", "2027-11-25", "2027-12-24",
}

var defaultEarlyCloses = []string{
	"2024-07-03", "2024-11-29", "2024-12-24",
	"2025-07-03", "2025-11-28", "2025-12-24",
	"2026-11-27", "2026-12-24",
	"2027-11-26",
}

// Calendar knows exchange holidays and the regular session in New York.
type Calendar struct {
	holidays    map[time.Time]bool
	earlyCloses map[time.Time]bool
	loc         *time.Location
}

// NewCalendar builds a calendar from YYYY-MM-DD holidays. An empty list
// falls back to the built-in exchange schedule.
func NewCalendar(holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load exchange timezone: %w", err)
	}
	if len(holidays) == 0 {
		holidays = defaultHolidays
	}
	c := &Calendar{
		holidays:    make(map[time.Time]bool, len(holidays)),
		earlyCloses: make(map[time.Time]bool, len(defaultEarlyCloses)),
		loc:         loc,
	}
	for _, h := range holidays {
		day, err := time.Parse("2006-01-02", h)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", h, err)
		}
		c.holidays[day] = true
	}
	for _, h := range defaultEarlyCloses {
		day, _ := time.Parse("2006-01-02", h)
		c.earlyCloses[day] = true
	}
	return c, nil
}

func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[models.DateOf(t)]
}

func (c *Calendar) IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday && !c.IsHoliday(t)
}

// IsRegularSession reports whether options trade at t.
func (c *Calendar) IsRegularSession(t time.Time) bool {
	et := t.In(c.loc)
	if !c.IsTradingDay(et) {
		return false
	}
	mins := et.Hour()*60 + et.Minute()
	closeAt := 16 * 60
	if c.earlyCloses[models.DateOf(et)] {
		closeAt = 13 * 60
	}
	return mins >= 9*60+30 && mins < closeAt
}

// PriorTradingDay walks back from day until it lands on a trading day.
func (c *Calendar) PriorTradingDay(day time.Time) time.Time {
	d := models.DateOf(day)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// WeeklyExpiration is the first Friday strictly after the evaluation date,
// moved to the prior trading day when the exchange is closed that Friday.
func (c *Calendar) WeeklyExpiration(from time.Time) time.Time {
	d := models.DateOf(from.In(c.loc))
	days := (int(time.Friday) - int(d.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return c.PriorTradingDay(d.AddDate(0, 0, days))
}

// AnchorExpiration is the first monthly (third Friday) expiration at least
// minDays after from.
func (c *Calendar) AnchorExpiration(from time.Time, minDays int) time.Time {
	earliest := models.DateOf(from.In(c.loc)).AddDate(0, 0, minDays)
	y, m, _ := earliest.Date()
	for {
		tf := thirdFriday(y, m)
		if !tf.Before(earliest) {
			return c.PriorTradingDay(tf)
		}
		m++
		if m > time.December {
			m = time.January
			y++
		}
	}
}

func thirdFriday(y int, m time.Month) time.Time {
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}
