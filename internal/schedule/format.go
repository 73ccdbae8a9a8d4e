package schedule

import "time"

// FormatInstant renders t as an RFC 3339 timestamp with t's own offset.
func FormatInstant(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, configError("invalid date %q, want YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// ParseTimeOfDay parses an HH:MM wall-clock time.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, configError("invalid time %q, want HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}
