// Package schedule computes the next run of a task's schedule rule.
//
// A rule is one of three kinds:
//
//   - OneShot fires once at a calendar date and time of day.
//   - Recurring repeats by frequency (MINUTELY through YEARLY) and interval,
//     optionally filtered by weekdays, day of month and month, and bounded by
//     start and end dates.
//   - Cron uses a six field expression
//     (second minute hour day-of-month month day-of-week) or the five field
//     form without seconds.
//
// Cron fields accept lists, ranges, steps, * and ?, and three-letter month
// and weekday names. Day-of-week 7 is Sunday. When both day-of-month and
// day-of-week are restricted a day matches if either does.
//
// NextRun scans forward from a reference instant in the reference's own
// location and gives up after about three years, returning ErrNoNextRun.
// Nothing in the package holds state; every function is safe for concurrent
// use.
package schedule
