package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/cogloop/core/internal/cogerr"
)

// Recurrence grammar (spec.md §4.9, §6): one of daily|weekdays|weekly|
// monthly|hourly|interval:<N_minutes>, N_minutes in [1, 1440].
const (
	RecurrenceDaily    = "daily"
	RecurrenceWeekdays = "weekdays"
	RecurrenceWeekly   = "weekly"
	RecurrenceMonthly  = "monthly"
	RecurrenceHourly   = "hourly"
)

// NextOccurrence computes the next due_at for a recurring ScheduledItem,
// given the occurrence that just fired. window_start/window_end (HH:MM)
// only constrain hourly recurrence; interval:N adds N minutes.
func NextOccurrence(firedAt time.Time, recurrence, windowStart, windowEnd string) (time.Time, error) {
	if n, ok, err := parseInterval(recurrence); err != nil {
		return time.Time{}, err
	} else if ok {
		return firedAt.Add(time.Duration(n) * time.Minute), nil
	}

	switch recurrence {
	case RecurrenceDaily:
		return firedAt.AddDate(0, 0, 1), nil
	case RecurrenceWeekly:
		return firedAt.AddDate(0, 0, 7), nil
	case RecurrenceMonthly:
		return firedAt.AddDate(0, 1, 0), nil
	case RecurrenceWeekdays:
		next := firedAt.AddDate(0, 0, 1)
		for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	case RecurrenceHourly:
		next := firedAt.Add(time.Hour)
		return clampToWindow(next, windowStart, windowEnd), nil
	default:
		return time.Time{}, cogerr.Validationf("scheduler.NextOccurrence", "unrecognized recurrence %q", recurrence)
	}
}

func parseInterval(recurrence string) (int, bool, error) {
	rest, ok := strings.CutPrefix(recurrence, "interval:")
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false, cogerr.Validationf("scheduler.parseInterval", "invalid interval %q: %w", recurrence, err)
	}
	if n < 1 || n > 1440 {
		return 0, false, cogerr.Validationf("scheduler.parseInterval", "interval %d outside [1,1440]", n)
	}
	return n, true, nil
}

// clampToWindow pushes t forward to window_start if it falls before it, or
// to the next day's window_start if it falls past window_end. Both bounds
// are HH:MM in t's location; an unset window leaves t unconstrained.
func clampToWindow(t time.Time, windowStart, windowEnd string) time.Time {
	if windowStart == "" || windowEnd == "" {
		return t
	}
	start, errS := parseClock(t, windowStart)
	end, errE := parseClock(t, windowEnd)
	if errS != nil || errE != nil {
		return t
	}
	if t.Before(start) {
		return start
	}
	if t.After(end) {
		return start.AddDate(0, 0, 1)
	}
	return t
}

func parseClock(ref time.Time, hhmm string) (time.Time, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return time.Time{}, cogerr.Validationf("scheduler.parseClock", "invalid HH:MM %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, cogerr.Validationf("scheduler.parseClock", "invalid hour in %q: %w", hhmm, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, cogerr.Validationf("scheduler.parseClock", "invalid minute in %q: %w", hhmm, err)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, ref.Location()), nil
}
