// Package scheduler implements the DST-aware one-shot and recurring fire
// engine: schedule storage, next-occurrence computation, and at-least-once
// firing with per-schedule deduplication.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Frequency enumerates the recurrence kinds a schedule entry may declare.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// MonthlyConstraint refines a monthly anchor day.
type MonthlyConstraint string

const (
	ConstraintNextSaturday MonthlyConstraint = "next-saturday"
	ConstraintNextSunday   MonthlyConstraint = "next-sunday"
	ConstraintNextWeekend  MonthlyConstraint = "next-weekend"
	ConstraintNextWeekday  MonthlyConstraint = "next-weekday"
)

// Recurrence describes how a schedule repeats.
type Recurrence struct {
	Frequency      Frequency
	Interval       int
	DaysOfWeek     []time.Weekday
	DayOfMonth     int
	AnchorDay      int
	Constraint     MonthlyConstraint
	Cron           string
	EndDate        *time.Time
	MaxOccurrences int
}

// cronParser mirrors the teacher's parser configuration: optional seconds
// field, standard five-field cron otherwise, descriptor shorthand allowed.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron fails fast at schedule-creation time, matching the contract
// that cron is validated before a schedule is ever persisted.
func ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// Entry is the persisted schedule record.
type Entry struct {
	ID         string
	OwnerID    string
	NextFireAt time.Time
	Recurrence *Recurrence
	Timezone   string
	LocalTime  string // "HH:MM", authoritative when Recurrence+Timezone set
	Data       map[string]any
	CreatedAt  time.Time
	FireCount  int

	// firedIDs is the trimmed dedup list of fireIds already emitted for this
	// schedule, most-recent last.
	firedIDs []string
}

// Due pairs a selected entry with the idempotency key for this occurrence.
type Due struct {
	Entry  Entry
	FireID string
}

// FireID computes the stable idempotency key "{id}:{nextFireAt.epochMs}".
func FireID(id string, nextFireAt time.Time) string {
	return fmt.Sprintf("%s:%d", id, nextFireAt.UnixMilli())
}

var (
	// ErrScheduleLimitExceeded is returned by Schedule when the owner quota
	// has been reached.
	ErrScheduleLimitExceeded = errors.New("scheduler: schedule limit exceeded for owner")
	// ErrInvalidSchedule covers malformed recurrence/time specs.
	ErrInvalidSchedule = errors.New("scheduler: invalid schedule")
)

// localClock resolves a time.Location for an entry, defaulting to UTC.
func localClock(e Entry) (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(e.Timezone)
}

// applyLocalTime re-applies the entry's authoritative HH:MM after a frequency
// advance so DST transitions do not drift the displayed local time.
func applyLocalTime(t time.Time, localTime string, loc *time.Location) (time.Time, error) {
	if localTime == "" {
		return t, nil
	}
	var hh, mm int
	if _, err := fmt.Sscanf(localTime, "%d:%d", &hh, &mm); err != nil {
		return time.Time{}, fmt.Errorf("%w: bad localTime %q", ErrInvalidSchedule, localTime)
	}
	in := t.In(loc)
	return time.Date(in.Year(), in.Month(), in.Day(), hh, mm, 0, 0, loc), nil
}

func daysInMonth(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// applyMonthlyConstraint nudges an anchor date forward to satisfy the
// declared constraint.
func applyMonthlyConstraint(t time.Time, constraint MonthlyConstraint) time.Time {
	switch constraint {
	case ConstraintNextSaturday, ConstraintNextWeekend:
		for t.Weekday() != time.Saturday {
			t = t.AddDate(0, 0, 1)
		}
		return t
	case ConstraintNextSunday:
		for t.Weekday() != time.Sunday {
			t = t.AddDate(0, 0, 1)
		}
		return t
	case ConstraintNextWeekday:
		if t.Weekday() == time.Saturday {
			return t.AddDate(0, 0, 2)
		}
		if t.Weekday() == time.Sunday {
			return t.AddDate(0, 0, 1)
		}
		return t
	default:
		return t
	}
}

// nextMonthly computes the next monthly occurrence anchored on
// r.AnchorDay/r.Constraint, clamping the anchor to the month's day count.
func nextMonthly(from time.Time, r Recurrence, loc *time.Location) time.Time {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	candidate := time.Date(from.Year(), from.Month(), 1, from.Hour(), from.Minute(), from.Second(), 0, loc)
	candidate = candidate.AddDate(0, interval, 0)
	anchor := r.AnchorDay
	if anchor < 1 {
		anchor = 1
	}
	dim := daysInMonth(candidate.Year(), candidate.Month(), loc)
	if anchor > dim {
		anchor = dim
	}
	candidate = time.Date(candidate.Year(), candidate.Month(), anchor, from.Hour(), from.Minute(), from.Second(), 0, loc)
	if r.Constraint != "" {
		candidate = applyMonthlyConstraint(candidate, r.Constraint)
	}
	return candidate
}

// nextWeekly picks the smallest day-of-week strictly after the current day in
// the same week, else jumps to the first allowed day `interval` weeks ahead.
func nextWeekly(from time.Time, r Recurrence) time.Time {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	if len(r.DaysOfWeek) == 0 {
		return from.AddDate(0, 0, 7*interval)
	}
	allowed := make(map[time.Weekday]bool, len(r.DaysOfWeek))
	for _, d := range r.DaysOfWeek {
		allowed[d] = true
	}
	cur := from.Weekday()
	for offset := 1; offset <= 7; offset++ {
		d := (cur + time.Weekday(offset)) % 7
		if allowed[d] && offset < 7 {
			return from.AddDate(0, 0, offset)
		}
	}
	// no day strictly after the current one this week: jump interval weeks
	// ahead to the first allowed day.
	weekStart := from.AddDate(0, 0, -int(cur)+7*interval)
	for offset := 0; offset < 7; offset++ {
		d := (weekStart.Weekday() + time.Weekday(offset)) % 7
		if allowed[d] {
			return weekStart.AddDate(0, 0, offset)
		}
	}
	return from.AddDate(0, 0, 7*interval)
}

// nextCustomCron delegates to robfig/cron; its output is authoritative (no
// subsequent time-of-day reapplication).
func nextCustomCron(from time.Time, expr string, loc *time.Location) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return sched.Next(from.In(loc)), nil
}

// NextOccurrence computes the next fire time strictly after "after",
// applying DST-safe localTime reapplication and recursing when the naive
// advance isn't strictly in the future. It reports ok=false when the
// recurrence has ended (maxOccurrences reached or endDate crossed).
func NextOccurrence(e Entry, after time.Time) (next time.Time, ok bool, err error) {
	if e.Recurrence == nil {
		return time.Time{}, false, nil
	}
	if e.Recurrence.MaxOccurrences > 0 && e.FireCount >= e.Recurrence.MaxOccurrences {
		return time.Time{}, false, nil
	}
	if e.Recurrence.EndDate != nil && !after.Before(*e.Recurrence.EndDate) {
		return time.Time{}, false, nil
	}

	loc, err := localClock(e)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	base := e.NextFireAt
	if base.IsZero() {
		base = after
	}
	base = base.In(loc)

	const maxAdvances = 64
	for i := 0; i < maxAdvances; i++ {
		var candidate time.Time
		switch e.Recurrence.Frequency {
		case FrequencyDaily:
			interval := e.Recurrence.Interval
			if interval < 1 {
				interval = 1
			}
			candidate = base.AddDate(0, 0, interval)
		case FrequencyWeekly:
			candidate = nextWeekly(base, *e.Recurrence)
		case FrequencyMonthly:
			candidate = nextMonthly(base, *e.Recurrence, loc)
		case FrequencyCustom:
			c, cerr := nextCustomCron(base, e.Recurrence.Cron, loc)
			if cerr != nil {
				// cron parse failures after creation should not happen given
				// fail-fast validation; treat as ended per the failure model.
				return time.Time{}, false, nil
			}
			candidate = c
		default:
			return time.Time{}, false, fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, e.Recurrence.Frequency)
		}

		if e.Timezone != "" && e.LocalTime != "" && e.Recurrence.Frequency != FrequencyCustom {
			reapplied, aerr := applyLocalTime(candidate, e.LocalTime, loc)
			if aerr != nil {
				return time.Time{}, false, aerr
			}
			candidate = reapplied
		}

		if e.Recurrence.EndDate != nil && candidate.After(*e.Recurrence.EndDate) {
			return time.Time{}, false, nil
		}

		if candidate.After(after) {
			return candidate.UTC(), true, nil
		}
		base = candidate
	}
	return time.Time{}, false, fmt.Errorf("%w: could not advance past %v", ErrInvalidSchedule, after)
}
