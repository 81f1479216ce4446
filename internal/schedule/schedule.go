// Package schedule computes when a command is next due. It is pure: no
// clocks are read and no state is touched, so callers can invoke it
// repeatedly and idempotently with their own notion of "now".
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"trayrunner/internal/config"
)

// parser matches config.ValidateCron: standard five-field cron plus
// descriptors (@hourly, @daily, ...).
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Next returns the command's next due instant.
//
// ok is false when the command never becomes due on its own: it is
// disabled, or its schedule mode is MANUAL/APP_START/SYSTEM_START (those
// run once on an external trigger, not on a clock).
//
// lastStart is the start time of the most recent run, or the zero value
// when the command has never run. grace is the missed-schedule window:
// ticks missed by less than grace are still returned (and will therefore
// fire immediately), while older ticks are skipped one by one so downtime
// never produces a backlog of runs.
func Next(cmd *config.Command, lastStart, now time.Time, grace time.Duration) (next time.Time, ok bool, err error) {
	if cmd.Disabled {
		return time.Time{}, false, nil
	}
	if grace < 0 {
		grace = 0
	}
	horizon := now.Add(-grace)

	switch cmd.ScheduleMode {
	case config.SchedulePeriod:
		return nextPeriod(cmd.Period(), lastStart, now, horizon), true, nil

	case config.ScheduleCron:
		t, err := nextCron(cmd.CronExpr, lastStart, now, horizon)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil

	default:
		return time.Time{}, false, nil
	}
}

// Missed reports whether a scheduled tick was skipped outright: the first
// tick after lastStart is already in the past. Unlike Next it applies no
// grace re-anchoring, so it answers "did downtime swallow a run" rather
// than "when is the next one". Commands that never ran have no tick to
// miss, and MANUAL/start-trigger modes never miss.
func Missed(cmd *config.Command, lastStart, now time.Time) (bool, error) {
	if cmd.Disabled || lastStart.IsZero() {
		return false, nil
	}
	switch cmd.ScheduleMode {
	case config.SchedulePeriod:
		return !lastStart.Add(cmd.Period()).After(now), nil

	case config.ScheduleCron:
		sched, err := parser.Parse(cmd.CronExpr)
		if err != nil {
			return false, fmt.Errorf("cron %q: %w", cmd.CronExpr, err)
		}
		t := sched.Next(lastStart.In(time.Local))
		return !t.IsZero() && !t.After(now), nil

	default:
		return false, nil
	}
}

// nextPeriod keeps the run grid anchored at lastStart: the result is always
// lastStart plus a whole number of periods, and at least horizon.
func nextPeriod(period time.Duration, lastStart, now, horizon time.Time) time.Time {
	if lastStart.IsZero() {
		// Never run: due immediately.
		return now
	}
	next := lastStart.Add(period)
	if next.Before(horizon) {
		// Self-heal after downtime: jump to the first grid slot at or
		// after the horizon instead of firing the whole backlog.
		steps := horizon.Sub(next) / period
		next = next.Add(steps * period)
		if next.Before(horizon) {
			next = next.Add(period)
		}
	}
	return next
}

// nextCron evaluates the expression in the machine's local time zone (cron
// fields are wall-clock-relative) and returns the resulting absolute
// instant. The instant itself is time-zone agnostic; only the grid is local.
func nextCron(expr string, lastStart, now, horizon time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	anchor := lastStart
	if anchor.IsZero() {
		anchor = now
	}
	next := sched.Next(anchor.In(time.Local))
	for !next.IsZero() && next.Before(horizon) {
		// Skip missed ticks the same way PERIOD does.
		next = sched.Next(next)
	}
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron %q: no upcoming activation", expr)
	}
	return next, nil
}
