package schedule

import (
	"errors"
	"strings"
	"time"
)

// Validate parses expression without searching. It returns nil for a valid
// expression and the *CronError otherwise.
func Validate(expression string) error {
	_, err := ParseCron(expression)
	return err
}

// ValidationMessage returns a human-readable problem with expression, or ""
// when it is valid.
func ValidationMessage(expression string) string {
	err := Validate(expression)
	if err == nil {
		return ""
	}
	return Describe(err)
}

// Describe turns a schedule error into a message fit for a form field.
func Describe(err error) string {
	var cronErr *CronError
	if errors.As(err, &cronErr) {
		msg := cronErr.Msg
		if cronErr.Field != "" {
			msg = cronErr.Field + " field: " + msg
		}
		if cronErr.Token != "" {
			msg += " in " + strings.TrimSpace(cronErr.Token)
		}
		return "Invalid cron expression: " + msg
	}
	switch {
	case errors.Is(err, ErrNoNextRun):
		return "This schedule never runs: " + strings.TrimPrefix(err.Error(), ErrNoNextRun.Error()+": ")
	case errors.Is(err, ErrRuleConfig):
		return "Invalid schedule: " + strings.TrimPrefix(err.Error(), ErrRuleConfig.Error()+": ")
	}
	return err.Error()
}

// ValidateRule checks rule the way rule-creation callers need: configuration
// and cron syntax first, then a search so that rules which can never fire are
// rejected up front instead of being stored with no next run.
func ValidateRule(rule Rule, reference time.Time) error {
	switch r := rule.(type) {
	case Cron:
		if err := Validate(r.Expression); err != nil {
			return err
		}
	case Recurring:
		if err := r.Check(); err != nil {
			return err
		}
	}
	_, err := NextRun(rule, reference)
	return err
}
