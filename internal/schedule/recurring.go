package schedule

import (
	"slices"
	"time"
)

// Matches reports whether instant is an occurrence of r. reference supplies
// the start date when r has none. Seconds of instant are ignored; callers
// scan on minute boundaries.
//
// r must have passed Check; Matches normalizes it but does not validate.
func (r Recurring) Matches(instant, reference time.Time) bool {
	r = r.Normalize()
	return r.matches(instant, r.startDate(reference))
}

func (r Recurring) startDate(reference time.Time) Date {
	if r.StartDate != nil {
		return *r.StartDate
	}
	return DateOf(reference)
}

// matches expects a normalized rule and a resolved start date.
func (r Recurring) matches(instant time.Time, start Date) bool {
	if r.Interval < 1 {
		return false
	}

	date := DateOf(instant)
	if date.Before(start) {
		return false
	}
	if r.EndDate != nil && date.After(*r.EndDate) {
		return false
	}

	hour, minute, _ := instant.Clock()
	switch r.Frequency {
	case Minutely:
		return r.matchesMinutely(instant, hour*60+minute)
	case Hourly:
		return r.matchesHourly(instant, hour, minute)
	}

	if hour != r.Time.Hour || minute != r.Time.Minute {
		return false
	}
	if r.DaysOfWeek != nil && !r.onWeekday(instant.Weekday()) {
		return false
	}

	switch r.Frequency {
	case Daily:
		return aligned(date.ordinal()-start.ordinal(), r.Interval)
	case Weekly:
		weeks := (weekStart(date) - weekStart(start)) / 7
		if !aligned(weeks, r.Interval) {
			return false
		}
		if r.DaysOfWeek == nil {
			return instant.Weekday() == start.weekday()
		}
		return true
	case Monthly:
		months := int64(date.Year-start.Year)*12 + int64(date.Month-start.Month)
		if !aligned(months, r.Interval) {
			return false
		}
		return date.Day == r.dayOfMonth(start)
	case Yearly:
		if !aligned(int64(date.Year-start.Year), r.Interval) {
			return false
		}
		month := start.Month
		if r.MonthOfYear != nil {
			month = *r.MonthOfYear
		}
		return date.Month == month && date.Day == r.dayOfMonth(start)
	}
	return false
}

func (r Recurring) matchesMinutely(instant time.Time, minutes int) bool {
	startMinutes := r.Time.minutes()
	endMinutes := 23*60 + 59
	if r.EndTime != nil {
		endMinutes = r.EndTime.minutes()
	}
	if minutes < startMinutes || minutes > endMinutes {
		return false
	}
	if (minutes-startMinutes)%r.Interval != 0 {
		return false
	}
	return r.DaysOfWeek == nil || r.onWeekday(instant.Weekday())
}

func (r Recurring) matchesHourly(instant time.Time, hour, minute int) bool {
	startHour := r.Time.Hour
	endHour := 23
	if r.EndTime != nil {
		endHour = r.EndTime.Hour
	}
	if minute != r.Time.Minute {
		return false
	}
	if hour < startHour || hour > endHour {
		return false
	}
	if (hour-startHour)%r.Interval != 0 {
		return false
	}
	return r.DaysOfWeek == nil || r.onWeekday(instant.Weekday())
}

func (r Recurring) onWeekday(d time.Weekday) bool {
	_, found := slices.BinarySearch(r.DaysOfWeek, d)
	return found
}

func (r Recurring) dayOfMonth(start Date) int {
	if r.DayOfMonth != nil {
		return *r.DayOfMonth
	}
	return start.Day
}

// weekStart returns the ordinal of the Sunday on or before d.
func weekStart(d Date) int64 {
	return d.ordinal() - int64(d.weekday())
}

func aligned(units int64, interval int) bool {
	return units >= 0 && units%int64(interval) == 0
}

// Anchor fixes the start date of a Recurring rule that has none to the civil
// date of reference, so later searches from other references keep the same
// interval and weekday alignment. A rule whose end date is already before
// that date is left as is. Other rules are returned unchanged.
func Anchor(rule Rule, reference time.Time) Rule {
	r, ok := rule.(Recurring)
	if !ok || r.StartDate != nil {
		return rule
	}
	start := DateOf(reference)
	if r.EndDate != nil && r.EndDate.Before(start) {
		return rule
	}
	r.StartDate = &start
	return r
}
