package config

import (
	"time"
)

// SchemaVersion is the current on-disk config schema. Older files are
// upgraded in place by the migration table in migrate.go.
const SchemaVersion = 2

// Config is the persisted application configuration: global defaults plus
// the ordered command list. Durations are Go duration strings ("500ms",
// "10s", "1m").
type Config struct {
	Version int `json:"version,omitempty"`

	Logging       LoggingConfig       `json:"logging,omitempty"`
	Notifications NotificationsConfig `json:"notifications,omitempty"`
	Engine        EngineConfig        `json:"engine,omitempty"`

	// Global defaults that command-level tri-states fall back to.
	RunInShell                   bool `json:"run_in_shell,omitempty"`
	IncludeOutputInNotifications bool `json:"include_output_in_notifications,omitempty"`
	ShowCompleteNotifications    bool `json:"show_complete_notifications,omitempty"`
	ShowErrorNotifications       bool `json:"show_error_notifications,omitempty"`

	// LogsDir is where per-command run logs are kept. Defaults to
	// "logs" next to the config file.
	LogsDir string `json:"logs_dir,omitempty"`

	Commands []*Command `json:"commands,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"`
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// ConsoleEnabled defaults to true when the field is omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}

// NotificationsConfig controls the outbound notification pipeline.
type NotificationsConfig struct {
	// Adapter is "log", "telegram" or "none". Empty means "log".
	Adapter    string `json:"adapter,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Burst      int    `json:"burst,omitempty"`

	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

// EngineConfig tunes the execution engine's timing knobs.
type EngineConfig struct {
	// PollInterval is the recurring worker's "not yet due" re-check period.
	PollInterval string `json:"poll_interval,omitempty"`
	// StopGrace is how long a cancelled child process gets between the
	// graceful termination request and the force kill.
	StopGrace string `json:"stop_grace,omitempty"`
	// ReanchorGrace is the missed-schedule window: ticks missed by less
	// than this still fire immediately instead of being skipped.
	ReanchorGrace string `json:"reanchor_grace,omitempty"`
}

const (
	defaultPollInterval  = time.Second
	defaultStopGrace     = 5 * time.Second
	defaultReanchorGrace = 10 * time.Second
)

func (e EngineConfig) PollIntervalDuration() (time.Duration, error) {
	return ParseDurationOrDefault("engine.poll_interval", e.PollInterval, defaultPollInterval)
}

func (e EngineConfig) StopGraceDuration() (time.Duration, error) {
	return ParseDurationOrDefault("engine.stop_grace", e.StopGrace, defaultStopGrace)
}

func (e EngineConfig) ReanchorGraceDuration() (time.Duration, error) {
	return ParseDurationOrDefault("engine.reanchor_grace", e.ReanchorGrace, defaultReanchorGrace)
}

// Default returns the configuration used when no config file exists yet.
func Default() *Config {
	return &Config{
		Version:                      SchemaVersion,
		IncludeOutputInNotifications: true,
		ShowErrorNotifications:       true,
	}
}

// applyDefaults fills omitted per-command fields with the stock defaults so
// hand-written configs stay terse.
func (c *Config) applyDefaults() {
	for _, cmd := range c.Commands {
		if cmd == nil {
			continue
		}
		if cmd.RunMode == "" {
			cmd.RunMode = RunModeCommand
		}
		if cmd.ScheduleMode == "" {
			cmd.ScheduleMode = SchedulePeriod
		}
		if cmd.ScheduleMode == SchedulePeriod && cmd.PeriodSeconds == 0 {
			cmd.PeriodSeconds = DefaultPeriodSeconds
		}
		if cmd.MaxLogCount == 0 {
			cmd.MaxLogCount = DefaultMaxLogCount
		}
		if cmd.ScriptInterpreter == "" {
			cmd.ScriptInterpreter = DefaultInterpreter
		}
	}
}

// CommandByID finds a command in the configuration by its id.
func (c *Config) CommandByID(id string) *Command {
	for _, cmd := range c.Commands {
		if cmd.ID == id {
			return cmd
		}
	}
	return nil
}
