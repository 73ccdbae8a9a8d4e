package schedule

import (
	"errors"
	"fmt"
)

var (
	ErrCronSyntax     = errors.New("cron syntax error")
	ErrCronRange      = errors.New("cron value out of range")
	ErrCronEmptyField = errors.New("cron field is empty")
)

var (
	ErrRuleConfig = errors.New("invalid schedule rule")
	ErrNoNextRun  = errors.New("no next run found")
)

// CronError describes a cron parse failure. Field is empty for errors that
// concern the whole expression, such as a wrong field count.
type CronError struct {
	Field string
	Token string
	Msg   string
	Err   error
}

func (e *CronError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cron: %s", e.Msg)
	}
	if e.Token == "" {
		return fmt.Sprintf("cron: %s field: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("cron: %s field: %s (%q)", e.Field, e.Msg, e.Token)
}

func (e *CronError) Unwrap() error {
	return e.Err
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRuleConfig, fmt.Sprintf(format, args...))
}
