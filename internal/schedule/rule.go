package schedule

import (
	"slices"
	"strings"
	"time"
)

// Rule is a schedule attached to a task. It is implemented by OneShot,
// Recurring and Cron only.
type Rule interface {
	Kind() Kind
	isRule()
}

// Kind names the dialect of a Rule.
type Kind string

const (
	KindOnce      Kind = "once"
	KindRecurring Kind = "recurring"
	KindCron      Kind = "cron"
)

// Frequency is the unit a Recurring rule repeats in.
type Frequency string

const (
	Minutely Frequency = "MINUTELY"
	Hourly   Frequency = "HOURLY"
	Daily    Frequency = "DAILY"
	Weekly   Frequency = "WEEKLY"
	Monthly  Frequency = "MONTHLY"
	Yearly   Frequency = "YEARLY"
)

// ParseFrequency resolves a case-insensitive frequency name. The empty string
// resolves to Daily.
func ParseFrequency(name string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(name)))
	switch f {
	case "":
		return Daily, nil
	case Minutely, Hourly, Daily, Weekly, Monthly, Yearly:
		return f, nil
	}
	return "", configError("unknown frequency %q", name)
}

// Date is a civil calendar date with no time or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the civil date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Valid reports whether d exists on the calendar.
func (d Date) Valid() bool {
	if d.Month < time.January || d.Month > time.December || d.Day < 1 {
		return false
	}
	return d.Day <= daysIn(d.Year, d.Month)
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	return d.ordinal() < o.ordinal()
}

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool {
	return d.ordinal() > o.ordinal()
}

func (d Date) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
}

// ordinal counts days since the Unix epoch in the proleptic Gregorian
// calendar. UTC is used so the count is unaffected by DST.
func (d Date) ordinal() int64 {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// weekday is only meaningful for valid dates.
func (d Date) weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

// TimeOfDay is a wall-clock hour and minute.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Valid reports whether t is a real wall-clock time.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return time.Date(2000, 1, 1, t.Hour, t.Minute, 0, 0, time.UTC).Format("15:04")
}

// OneShot fires exactly once at Date and Time.
type OneShot struct {
	Date Date
	Time TimeOfDay
}

func (OneShot) Kind() Kind { return KindOnce }
func (OneShot) isRule()    {}

// Recurring repeats every Interval units of Frequency at Time, optionally
// filtered by weekday, day of month and month and bounded by dates.
type Recurring struct {
	Frequency   Frequency
	Interval    int
	Time        TimeOfDay
	EndTime     *TimeOfDay
	DaysOfWeek  []time.Weekday
	DayOfMonth  *int
	MonthOfYear *time.Month
	StartDate   *Date
	EndDate     *Date
}

func (Recurring) Kind() Kind { return KindRecurring }
func (Recurring) isRule()    {}

// Normalize returns a copy of r with the default frequency applied and
// DaysOfWeek sorted and deduplicated. Sunday given as 7 becomes 0. An empty
// DaysOfWeek becomes nil, meaning no weekday filter.
func (r Recurring) Normalize() Recurring {
	if r.Frequency == "" {
		r.Frequency = Daily
	}
	if len(r.DaysOfWeek) == 0 {
		r.DaysOfWeek = nil
	} else {
		days := make([]time.Weekday, 0, len(r.DaysOfWeek))
		for _, d := range r.DaysOfWeek {
			if d == 7 {
				d = time.Sunday
			}
			days = append(days, d)
		}
		slices.Sort(days)
		r.DaysOfWeek = slices.Compact(days)
	}
	return r
}

// Check validates r without searching.
func (r Recurring) Check() error {
	if _, err := ParseFrequency(string(r.Frequency)); err != nil {
		return err
	}
	if r.Interval < 1 {
		return configError("interval must be at least 1, got %d", r.Interval)
	}
	if !r.Time.Valid() {
		return configError("invalid time %02d:%02d", r.Time.Hour, r.Time.Minute)
	}
	if r.EndTime != nil && !r.EndTime.Valid() {
		return configError("invalid end time %02d:%02d", r.EndTime.Hour, r.EndTime.Minute)
	}
	for _, d := range r.DaysOfWeek {
		if d < time.Sunday || d > 7 {
			return configError("day of week %d out of range 0-6", d)
		}
	}
	if r.DayOfMonth != nil && (*r.DayOfMonth < 1 || *r.DayOfMonth > 31) {
		return configError("day of month %d out of range 1-31", *r.DayOfMonth)
	}
	if r.MonthOfYear != nil && (*r.MonthOfYear < time.January || *r.MonthOfYear > time.December) {
		return configError("month %d out of range 1-12", *r.MonthOfYear)
	}
	if r.StartDate != nil && !r.StartDate.Valid() {
		return configError("start date %d-%02d-%02d does not exist", r.StartDate.Year, r.StartDate.Month, r.StartDate.Day)
	}
	if r.EndDate != nil && !r.EndDate.Valid() {
		return configError("end date %d-%02d-%02d does not exist", r.EndDate.Year, r.EndDate.Month, r.EndDate.Day)
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return configError("end date %s is before start date %s", r.EndDate, r.StartDate)
	}
	return nil
}

// Cron fires on every instant matched by a five or six field cron expression.
type Cron struct {
	Expression string
}

func (Cron) Kind() Kind { return KindCron }
func (Cron) isRule()    {}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
