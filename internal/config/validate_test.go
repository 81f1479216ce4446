package config

import (
	"strings"
	"testing"
)

func validCommand(name string) *Command {
	cmd := NewCommand(name)
	cmd.Command = "echo hello"
	return cmd
}

func TestCommandValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Command)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Command) {}},
		{name: "missing name", mutate: func(c *Command) { c.Name = " " }, wantErr: "name is required"},
		{name: "missing id", mutate: func(c *Command) { c.ID = "" }, wantErr: "id is required"},
		{name: "command required", mutate: func(c *Command) { c.Command = "" }, wantErr: "requires a command"},
		{name: "script required", mutate: func(c *Command) {
			c.RunMode = RunModeScript
			c.Script = ""
		}, wantErr: "requires a script body"},
		{name: "unknown run mode", mutate: func(c *Command) { c.RunMode = "BATCH" }, wantErr: "unknown run_mode"},
		{name: "period must be positive", mutate: func(c *Command) { c.PeriodSeconds = 0 }, wantErr: "period_seconds"},
		{name: "cron requires expr", mutate: func(c *Command) {
			c.ScheduleMode = ScheduleCron
			c.CronExpr = ""
		}, wantErr: "requires cron_expr"},
		{name: "cron must parse", mutate: func(c *Command) {
			c.ScheduleMode = ScheduleCron
			c.CronExpr = "61 * * * *"
		}, wantErr: "invalid cron_expr"},
		{name: "cron descriptor ok", mutate: func(c *Command) {
			c.ScheduleMode = ScheduleCron
			c.CronExpr = "@hourly"
		}},
		{name: "manual needs no schedule fields", mutate: func(c *Command) {
			c.ScheduleMode = ScheduleManual
			c.PeriodSeconds = 0
		}},
		{name: "unknown schedule mode", mutate: func(c *Command) { c.ScheduleMode = "SOMETIMES" }, wantErr: "unknown schedule_mode"},
		{name: "empty env key", mutate: func(c *Command) {
			c.Environment = []EnvVar{{Key: " ", Value: "x"}}
		}, wantErr: "environment keys"},
		{name: "duplicate env key", mutate: func(c *Command) {
			c.Environment = []EnvVar{{Key: "A", Value: "1"}, {Key: "A", Value: "2"}}
		}, wantErr: "duplicate environment key"},
		{name: "negative max_log_count", mutate: func(c *Command) { c.MaxLogCount = -1 }, wantErr: "max_log_count"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cmd := validCommand("check")
			tt.mutate(cmd)
			err := cmd.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidateDuplicates(t *testing.T) {
	t.Parallel()
	a := validCommand("same")
	b := validCommand("same")
	cfg := Default()
	cfg.Commands = []*Command{a, b}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate command name") {
		t.Fatalf("Validate() = %v, want duplicate name error", err)
	}

	b.Name = "other"
	b.ID = a.ID
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate command id") {
		t.Fatalf("Validate() = %v, want %v", err, ErrDuplicateID)
	}
}

func TestConfigValidateNotifications(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Notifications.Adapter = "pager"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unknown adapter") {
		t.Fatalf("Validate() = %v, want unknown adapter error", err)
	}

	cfg.Notifications.Adapter = "telegram"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "token and chat_id") {
		t.Fatalf("Validate() = %v, want telegram credentials error", err)
	}

	cfg.Notifications.Telegram.Token = "123:abc"
	cfg.Notifications.Telegram.ChatID = 42
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestConfigValidateEngineDurations(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Engine.PollInterval = "soon"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "poll_interval") {
		t.Fatalf("Validate() = %v, want poll_interval error", err)
	}
}
