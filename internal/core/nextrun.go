package core

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"cronplan/internal/schedule"
)

// ruleSchedule drives a robfig cron entry from a schedule.Rule.
type ruleSchedule struct {
	rule    schedule.Rule
	onError func(error)
}

var _ cron.Schedule = ruleSchedule{}

// Next returns the zero time, which robfig treats as "never", when the rule
// has no run strictly after t. A one-shot rule in the past therefore never
// fires again.
func (s ruleSchedule) Next(t time.Time) time.Time {
	next, err := schedule.NextRun(s.rule, t)
	if err != nil {
		if s.onError != nil {
			s.onError(err)
		}
		return time.Time{}
	}
	if !next.After(t) {
		return time.Time{}
	}
	return next
}

// NextRunAt computes the authoritative next run of rule after now, in UTC
// for storage. It rejects rules that can never fire again, including
// one-shot rules whose time has passed.
func NextRunAt(rule schedule.Rule, now time.Time) (time.Time, error) {
	next, err := schedule.NextRun(rule, now)
	if err != nil {
		return time.Time{}, err
	}
	if !next.After(now) {
		return time.Time{}, fmt.Errorf("%w: one-shot time %s has passed", schedule.ErrNoNextRun, schedule.FormatInstant(next))
	}
	return next.UTC(), nil
}
