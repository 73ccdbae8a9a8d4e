package schedule

import (
	"strconv"
	"strings"
	"time"
)

// RuleSpec is the serialized form of a Rule as it appears in API payloads,
// the tasks table and rule files.
type RuleSpec struct {
	Kind        Kind   `json:"kind" yaml:"kind"`
	Expression  string `json:"expression,omitempty" yaml:"expression,omitempty"`
	Date        string `json:"date,omitempty" yaml:"date,omitempty"`
	Time        string `json:"time,omitempty" yaml:"time,omitempty"`
	Frequency   string `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Interval    int    `json:"interval,omitempty" yaml:"interval,omitempty"`
	EndTime     string `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	DaysOfWeek  []int  `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	DayOfMonth  *int   `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
	MonthOfYear *int   `json:"month_of_year,omitempty" yaml:"month_of_year,omitempty"`
	StartDate   string `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// Rule converts the spec into a Rule. It checks shape and field formats but
// does not search; see ValidateRule.
func (s RuleSpec) Rule() (Rule, error) {
	switch Kind(strings.ToLower(string(s.Kind))) {
	case KindCron:
		expr := strings.TrimSpace(s.Expression)
		if expr == "" {
			return nil, configError("cron rule requires an expression")
		}
		return Cron{Expression: expr}, nil
	case KindOnce:
		if s.Date == "" {
			return nil, configError("one-shot rule requires a date")
		}
		date, err := ParseDate(s.Date)
		if err != nil {
			return nil, err
		}
		tod, err := s.timeOfDay()
		if err != nil {
			return nil, err
		}
		return OneShot{Date: date, Time: tod}, nil
	case KindRecurring:
		return s.recurring()
	case "":
		return nil, configError("rule kind is required")
	}
	return nil, configError("unknown rule kind %q", s.Kind)
}

func (s RuleSpec) recurring() (Rule, error) {
	freq, err := ParseFrequency(s.Frequency)
	if err != nil {
		return nil, err
	}
	if s.Interval < 1 {
		return nil, configError("recurring rule requires an interval of at least 1")
	}
	r := Recurring{Frequency: freq, Interval: s.Interval, DayOfMonth: s.DayOfMonth}
	if r.Time, err = s.timeOfDay(); err != nil {
		return nil, err
	}
	if s.EndTime != "" {
		end, err := ParseTimeOfDay(s.EndTime)
		if err != nil {
			return nil, err
		}
		r.EndTime = &end
	}
	if len(s.DaysOfWeek) > 0 {
		r.DaysOfWeek = make([]time.Weekday, 0, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			r.DaysOfWeek = append(r.DaysOfWeek, time.Weekday(d))
		}
	}
	if s.MonthOfYear != nil {
		m := time.Month(*s.MonthOfYear)
		r.MonthOfYear = &m
	}
	if s.StartDate != "" {
		d, err := ParseDate(s.StartDate)
		if err != nil {
			return nil, err
		}
		r.StartDate = &d
	}
	if s.EndDate != "" {
		d, err := ParseDate(s.EndDate)
		if err != nil {
			return nil, err
		}
		r.EndDate = &d
	}
	if err := r.Check(); err != nil {
		return nil, err
	}
	return r.Normalize(), nil
}

// timeOfDay defaults to midnight when no time is given.
func (s RuleSpec) timeOfDay() (TimeOfDay, error) {
	if s.Time == "" {
		return TimeOfDay{}, nil
	}
	return ParseTimeOfDay(s.Time)
}

// SpecOf returns the serialized form of rule.
func SpecOf(rule Rule) RuleSpec {
	switch r := rule.(type) {
	case Cron:
		return RuleSpec{Kind: KindCron, Expression: r.Expression}
	case OneShot:
		return RuleSpec{Kind: KindOnce, Date: r.Date.String(), Time: r.Time.String()}
	case Recurring:
		spec := RuleSpec{
			Kind:       KindRecurring,
			Frequency:  string(r.Frequency),
			Interval:   r.Interval,
			Time:       r.Time.String(),
			DayOfMonth: r.DayOfMonth,
		}
		if r.EndTime != nil {
			spec.EndTime = r.EndTime.String()
		}
		for _, d := range r.DaysOfWeek {
			spec.DaysOfWeek = append(spec.DaysOfWeek, int(d))
		}
		if r.MonthOfYear != nil {
			m := int(*r.MonthOfYear)
			spec.MonthOfYear = &m
		}
		if r.StartDate != nil {
			spec.StartDate = r.StartDate.String()
		}
		if r.EndDate != nil {
			spec.EndDate = r.EndDate.String()
		}
		return spec
	}
	return RuleSpec{}
}

// Summary is a short one-line description of rule for listings.
func Summary(rule Rule) string {
	switch r := rule.(type) {
	case Cron:
		return "cron " + r.Expression
	case OneShot:
		return "once at " + r.Date.String() + " " + r.Time.String()
	case Recurring:
		freq := r.Frequency
		if freq == "" {
			freq = Daily
		}
		var b strings.Builder
		b.WriteString(strings.ToLower(string(freq)))
		if r.Interval > 1 {
			b.WriteString(" every ")
			b.WriteString(strconv.Itoa(r.Interval))
		}
		b.WriteString(" at ")
		b.WriteString(r.Time.String())
		if len(r.DaysOfWeek) > 0 {
			names := make([]string, 0, len(r.DaysOfWeek))
			for _, d := range r.DaysOfWeek {
				names = append(names, time.Weekday(int(d)%7).String()[:3])
			}
			b.WriteString(" on ")
			b.WriteString(strings.Join(names, ","))
		}
		return b.String()
	}
	return ""
}
