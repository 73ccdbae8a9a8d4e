package schedule

import (
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// FieldSet is a set of integers in 0-63.
type FieldSet uint64

// Has reports whether v is a member.
func (s FieldSet) Has(v int) bool { return v >= 0 && v < 64 && s&(1<<uint(v)) != 0 }

func (s *FieldSet) set(v int) { *s |= 1 << uint(v) }

// Values lists the members in ascending order.
func (s FieldSet) Values() []int {
	values := make([]int, 0, bits.OnesCount64(uint64(s)))
	for v := 0; v < 64; v++ {
		if s.Has(v) {
			values = append(values, v)
		}
	}
	return values
}

// next returns the smallest member >= v, or -1.
func (s FieldSet) next(v int) int {
	if v < 0 {
		v = 0
	}
	if v >= 64 {
		return -1
	}
	rest := uint64(s) >> uint(v)
	if rest == 0 {
		return -1
	}
	return v + bits.TrailingZeros64(rest)
}

// CronFieldSet is a parsed cron expression.
type CronFieldSet struct {
	Seconds     FieldSet
	Minutes     FieldSet
	Hours       FieldSet
	DaysOfMonth FieldSet
	Months      FieldSet
	DaysOfWeek  FieldSet

	// DomWildcard and DowWildcard record whether the day-of-month and
	// day-of-week fields were literally * or ?. They select between AND and
	// OR day matching.
	DomWildcard bool
	DowWildcard bool
}

type cronField struct {
	name     string
	min, max int
	aliases  map[string]int
	// sundaySeven accepts 7 as a second spelling of Sunday.
	sundaySeven bool
}

var (
	secondField = cronField{name: "second", min: 0, max: 59}
	minuteField = cronField{name: "minute", min: 0, max: 59}
	hourField   = cronField{name: "hour", min: 0, max: 23}
	domField    = cronField{name: "day-of-month", min: 1, max: 31}
	monthField  = cronField{name: "month", min: 1, max: 12, aliases: map[string]int{
		"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
		"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
	}}
	dowField = cronField{name: "day-of-week", min: 0, max: 7, sundaySeven: true, aliases: map[string]int{
		"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
	}}
)

// ParseCron parses a six field cron expression
// (second minute hour day-of-month month day-of-week) or the legacy five
// field form without seconds, which fires at second 0.
func ParseCron(expression string) (*CronFieldSet, error) {
	tokens := strings.Fields(expression)
	switch len(tokens) {
	case 6:
	case 5:
		tokens = append([]string{"0"}, tokens...)
	default:
		return nil, &CronError{
			Msg: "field count: expected 5 or 6 fields, got " + strconv.Itoa(len(tokens)),
			Err: ErrCronSyntax,
		}
	}

	fs := &CronFieldSet{}
	var err error
	if fs.Seconds, err = secondField.parse(tokens[0]); err != nil {
		return nil, err
	}
	if fs.Minutes, err = minuteField.parse(tokens[1]); err != nil {
		return nil, err
	}
	if fs.Hours, err = hourField.parse(tokens[2]); err != nil {
		return nil, err
	}
	if fs.DaysOfMonth, err = domField.parse(tokens[3]); err != nil {
		return nil, err
	}
	if fs.Months, err = monthField.parse(tokens[4]); err != nil {
		return nil, err
	}
	if fs.DaysOfWeek, err = dowField.parse(tokens[5]); err != nil {
		return nil, err
	}
	if fs.DaysOfWeek.Has(7) {
		fs.DaysOfWeek &^= 1 << 7
		fs.DaysOfWeek.set(0)
	}
	fs.DomWildcard = isWildcard(tokens[3])
	fs.DowWildcard = isWildcard(tokens[5])
	return fs, nil
}

// Matches reports whether t, in its own location, satisfies every field.
// When both day fields are restricted a day matches if either one does.
func (fs *CronFieldSet) Matches(t time.Time) bool {
	hour, minute, second := t.Clock()
	if !fs.Seconds.Has(second) || !fs.Minutes.Has(minute) || !fs.Hours.Has(hour) {
		return false
	}
	if !fs.Months.Has(int(t.Month())) {
		return false
	}
	return fs.dayMatches(t)
}

func (fs *CronFieldSet) dayMatches(t time.Time) bool {
	domMatch := fs.DaysOfMonth.Has(t.Day())
	dowMatch := fs.DaysOfWeek.Has(int(t.Weekday()))
	switch {
	case fs.DomWildcard && fs.DowWildcard:
		return true
	case fs.DomWildcard:
		return dowMatch
	case fs.DowWildcard:
		return domMatch
	default:
		return domMatch || dowMatch
	}
}

func isWildcard(token string) bool {
	return token == "*" || token == "?"
}

func (f cronField) parse(token string) (FieldSet, error) {
	if token == "" {
		return 0, f.errorf(token, ErrCronEmptyField, "no values")
	}
	var set FieldSet
	for _, part := range strings.Split(token, ",") {
		if part == "" {
			return 0, f.errorf(token, ErrCronEmptyField, "empty list element")
		}
		partSet, err := f.parsePart(part)
		if err != nil {
			return 0, err
		}
		set |= partSet
	}
	if set == 0 {
		return 0, f.errorf(token, ErrCronEmptyField, "no values")
	}
	return set, nil
}

// parsePart handles one of *, ?, V, A-B, each with an optional /N.
func (f cronField) parsePart(part string) (FieldSet, error) {
	base, stepText, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, ok := atoi(stepText)
		if !ok {
			return 0, f.errorf(part, ErrCronSyntax, "invalid step")
		}
		if n < 1 {
			return 0, f.errorf(part, ErrCronSyntax, "step must be at least 1")
		}
		step = n
	}

	var lo, hi int
	switch {
	case isWildcard(base):
		lo, hi = f.min, f.top()
	case strings.Contains(base, "-"):
		startText, endText, _ := strings.Cut(base, "-")
		var err error
		if lo, err = f.value(startText, part); err != nil {
			return 0, err
		}
		if hi, err = f.value(endText, part); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, f.errorf(part, ErrCronRange, "range start "+strconv.Itoa(lo)+" > end "+strconv.Itoa(hi))
		}
	default:
		v, err := f.value(base, part)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
		if hasStep {
			hi = f.top()
		}
	}

	var set FieldSet
	for v := lo; v <= hi; v += step {
		set.set(v)
	}
	return set, nil
}

// value resolves a number or alias and checks it against the field bounds.
func (f cronField) value(text, part string) (int, error) {
	v, ok := atoi(text)
	if !ok {
		alias, found := f.aliases[strings.ToUpper(text)]
		if !found {
			return 0, f.errorf(part, ErrCronSyntax, "invalid value "+strconv.Quote(text))
		}
		v = alias
	}
	if v < f.min || v > f.max {
		return 0, f.errorf(part, ErrCronRange,
			"value "+strconv.Itoa(v)+" out of range "+strconv.Itoa(f.min)+"-"+strconv.Itoa(f.top()))
	}
	return v, nil
}

// top is the largest canonical value; 7 is only an alias for Sunday.
func (f cronField) top() int {
	if f.sundaySeven {
		return f.max - 1
	}
	return f.max
}

func (f cronField) errorf(token string, kind error, msg string) error {
	return &CronError{Field: f.name, Token: token, Msg: msg, Err: kind}
}

// atoi accepts only unsigned decimal digits.
func atoi(text string) (int, bool) {
	if text == "" || len(text) > 9 {
		return 0, false
	}
	n := 0
	for _, c := range text {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
