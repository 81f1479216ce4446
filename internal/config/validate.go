package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// cronParser matches the scheduler's grammar: standard five-field cron
// plus descriptors like @hourly. Validation and evaluation must agree.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron reports whether expr parses under the scheduler's grammar.
func ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

var ErrDuplicateID = errors.New("duplicate command id")

// Validate checks the whole configuration. It is invoked at load time and
// before committing watcher reloads, so configuration errors surface at
// save time rather than mid-schedule.
func (c *Config) Validate() error {
	ids := make(map[string]struct{}, len(c.Commands))
	names := make(map[string]struct{}, len(c.Commands))
	for i, cmd := range c.Commands {
		if cmd == nil {
			return fmt.Errorf("commands[%d]: null command", i)
		}
		if err := cmd.Validate(); err != nil {
			return fmt.Errorf("commands[%d] (%s): %w", i, cmd.Name, err)
		}
		if _, dup := ids[cmd.ID]; dup {
			return fmt.Errorf("commands[%d] (%s): %w: %s", i, cmd.Name, ErrDuplicateID, cmd.ID)
		}
		ids[cmd.ID] = struct{}{}
		if _, dup := names[cmd.Name]; dup {
			return fmt.Errorf("commands[%d]: duplicate command name %q", i, cmd.Name)
		}
		names[cmd.Name] = struct{}{}
	}

	if _, err := c.Engine.PollIntervalDuration(); err != nil {
		return err
	}
	if _, err := c.Engine.StopGraceDuration(); err != nil {
		return err
	}
	if _, err := c.Engine.ReanchorGraceDuration(); err != nil {
		return err
	}

	switch a := strings.TrimSpace(c.Notifications.Adapter); a {
	case "", "log", "none", "nop":
	case "telegram":
		if strings.TrimSpace(c.Notifications.Telegram.Token) == "" || c.Notifications.Telegram.ChatID == 0 {
			return errors.New("notifications: telegram adapter requires token and chat_id")
		}
	default:
		return fmt.Errorf("notifications: unknown adapter %q", a)
	}
	return nil
}

// Validate checks a single command's execution and schedule spec.
func (c *Command) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if c.MaxLogCount < 0 {
		return errors.New("max_log_count must be >= 1")
	}

	switch c.RunMode {
	case RunModeCommand, "":
		if strings.TrimSpace(c.Command) == "" {
			return errors.New("run_mode COMMAND requires a command")
		}
	case RunModeScript:
		if strings.TrimSpace(c.Script) == "" {
			return errors.New("run_mode SCRIPT requires a script body")
		}
	default:
		return fmt.Errorf("unknown run_mode %q", c.RunMode)
	}

	switch c.ScheduleMode {
	case SchedulePeriod, "":
		if c.PeriodSeconds < 1 {
			return errors.New("schedule_mode PERIOD requires period_seconds >= 1")
		}
	case ScheduleCron:
		if strings.TrimSpace(c.CronExpr) == "" {
			return errors.New("schedule_mode CRON requires cron_expr")
		}
		if err := ValidateCron(c.CronExpr); err != nil {
			return fmt.Errorf("invalid cron_expr %q: %w", c.CronExpr, err)
		}
	case ScheduleAppStart, ScheduleSystemStart, ScheduleManual:
	default:
		return fmt.Errorf("unknown schedule_mode %q", c.ScheduleMode)
	}

	seen := make(map[string]struct{}, len(c.Environment))
	for _, kv := range c.Environment {
		k := strings.TrimSpace(kv.Key)
		if k == "" {
			return errors.New("environment keys must be non-empty")
		}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate environment key %q", k)
		}
		seen[k] = struct{}{}
	}
	return nil
}
