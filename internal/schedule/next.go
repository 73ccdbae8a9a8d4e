package schedule

import (
	"fmt"
	"time"
)

const (
	// Search bounds. They guarantee termination for rules that can never
	// match; they are not tuning knobs.
	recurringSearchMinutes = 60 * 24 * 366 * 3
	cronSearchMinutes      = 60 * 24 * 365 * 3
)

// NextRun returns the first instant strictly after reference at which rule
// fires. All calendar arithmetic happens in reference's location.
//
// A OneShot rule always yields its own date and time, even when that is not
// after reference.
func NextRun(rule Rule, reference time.Time) (time.Time, error) {
	switch r := rule.(type) {
	case OneShot:
		return r.instant(reference.Location())
	case Recurring:
		return r.next(reference)
	case Cron:
		return r.next(reference)
	case nil:
		return time.Time{}, configError("rule is required")
	}
	return time.Time{}, configError("unsupported rule %T", rule)
}

// NextRunBestEffort is NextRun for draft previews: when NextRun fails it
// returns reference plus one minute along with the error. The instant is not
// authoritative and must never be stored; callers that validate rules must
// surface the error instead.
func NextRunBestEffort(rule Rule, reference time.Time) (time.Time, error) {
	next, err := NextRun(rule, reference)
	if err != nil {
		return reference.Add(time.Minute), err
	}
	return next, nil
}

// NextRuns returns up to n consecutive run instants after reference. A
// OneShot rule yields at most one instant. The error is that of the first
// failed step; instants found before it are returned. n <= 0 yields an empty
// slice.
func NextRuns(rule Rule, reference time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return []time.Time{}, nil
	}
	runs := make([]time.Time, 0, n)
	cursor := reference
	for len(runs) < n {
		next, err := NextRun(rule, cursor)
		if err != nil {
			return runs, err
		}
		runs = append(runs, next)
		if rule.Kind() == KindOnce {
			break
		}
		cursor = next
	}
	return runs, nil
}

func (r OneShot) instant(loc *time.Location) (time.Time, error) {
	if r.Date == (Date{}) {
		return time.Time{}, configError("one-shot rule requires a date")
	}
	if !r.Date.Valid() {
		return time.Time{}, configError("date %d-%02d-%02d does not exist", r.Date.Year, r.Date.Month, r.Date.Day)
	}
	if !r.Time.Valid() {
		return time.Time{}, configError("invalid time %02d:%02d", r.Time.Hour, r.Time.Minute)
	}
	return time.Date(r.Date.Year, r.Date.Month, r.Date.Day, r.Time.Hour, r.Time.Minute, 0, 0, loc), nil
}

func (r Recurring) next(reference time.Time) (time.Time, error) {
	if err := r.Check(); err != nil {
		return time.Time{}, err
	}
	r = r.Normalize()
	start := r.startDate(reference)

	y, mo, d := reference.Date()
	h, mi, _ := reference.Clock()
	t := time.Date(y, mo, d, h, mi, 0, 0, reference.Location()).Add(time.Minute)
	for i := 0; i < recurringSearchMinutes; i++ {
		if r.matches(t, start) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("%w: %s rule has no occurrence within 3 years of %s",
		ErrNoNextRun, r.Frequency, reference.Format(time.RFC3339))
}

func (r Cron) next(reference time.Time) (time.Time, error) {
	fs, err := ParseCron(r.Expression)
	if err != nil {
		return time.Time{}, err
	}
	return fs.Next(reference)
}

// Next returns the first instant strictly after reference matched by fs,
// in reference's location.
func (fs *CronFieldSet) Next(reference time.Time) (time.Time, error) {
	loc := reference.Location()
	y, mo, d := reference.Date()
	h, mi, s := reference.Clock()
	cursor := time.Date(y, mo, d, h, mi, s, 0, loc).Add(time.Second)

	second := cursor.Second()
	minute := cursor.Add(-time.Duration(second) * time.Second)
	for i := 0; i < cronSearchMinutes; i++ {
		if sec := fs.Seconds.next(second); sec >= 0 && sec < 60 {
			candidate := minute.Add(time.Duration(sec) * time.Second)
			if fs.Matches(candidate) {
				return candidate, nil
			}
		}
		minute = minute.Add(time.Minute)
		second = 0
	}
	return time.Time{}, fmt.Errorf("%w: cron expression has no occurrence within 3 years of %s",
		ErrNoNextRun, reference.Format(time.RFC3339))
}
