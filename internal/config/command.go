package config

import (
	"time"

	"github.com/google/uuid"
)

// RunMode selects how a command's work is expressed: a shell invocation
// string or an inline script body run through an interpreter.
type RunMode string

const (
	RunModeCommand RunMode = "COMMAND"
	RunModeScript  RunMode = "SCRIPT"
)

// ScheduleMode is the policy governing when a command becomes due.
type ScheduleMode string

const (
	SchedulePeriod      ScheduleMode = "PERIOD"
	ScheduleCron        ScheduleMode = "CRON"
	ScheduleAppStart    ScheduleMode = "APP_START"
	ScheduleSystemStart ScheduleMode = "SYSTEM_START"
	ScheduleManual      ScheduleMode = "MANUAL"
)

// TriState is a three-valued boolean: YES, NO, or inherit the global default.
// The empty string means "inherit" so omitted JSON fields do the right thing.
type TriState string

const (
	TriInherit TriState = ""
	TriYes     TriState = "YES"
	TriNo      TriState = "NO"
)

// Resolve coalesces the tri-state against the global default: the
// command-level override wins when set, otherwise def.
func (t TriState) Resolve(def bool) bool {
	switch t {
	case TriYes:
		return true
	case TriNo:
		return false
	default:
		return def
	}
}

// EnvVar is one command-scoped environment variable. Kept as an ordered
// list (not a map) so the configured order survives serialization.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Command is one user-defined, independently schedulable unit of work.
//
// The id is immutable after creation; the name is unique but user-editable.
// Statistics are mutated only at run boundaries by the command's worker,
// through Manager.Mutate.
type Command struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
	MaxLogCount int    `json:"max_log_count,omitempty"`

	WorkingDirectory  string  `json:"working_directory,omitempty"`
	RunMode           RunMode `json:"run_mode,omitempty"`
	Command           string  `json:"command,omitempty"`
	ScriptInterpreter string  `json:"script_interpreter,omitempty"`
	Script            string  `json:"script,omitempty"`

	ScheduleMode         ScheduleMode `json:"schedule_mode,omitempty"`
	PeriodSeconds        int          `json:"period_seconds,omitempty"`
	CronExpr             string       `json:"cron_expr,omitempty"`
	RunAtStartup         bool         `json:"run_at_startup,omitempty"`
	RunAtStartupIfMissed bool         `json:"run_at_startup_if_missing_previous_run,omitempty"`
	StartupDelaySeconds  int          `json:"startup_delay_seconds,omitempty"`

	RunInShell                   TriState `json:"run_in_shell,omitempty"`
	IncludeOutputInNotifications TriState `json:"include_output_in_notifications,omitempty"`
	ShowCompleteNotifications    TriState `json:"show_complete_notifications,omitempty"`
	ShowErrorNotifications       TriState `json:"show_error_notifications,omitempty"`

	Environment []EnvVar `json:"environment,omitempty"`

	Stats Stats `json:"stats,omitempty"`
}

// NewCommand returns a command with a fresh id and the stock defaults.
func NewCommand(name string) *Command {
	return &Command{
		ID:                uuid.NewString(),
		Name:              name,
		MaxLogCount:       DefaultMaxLogCount,
		RunMode:           RunModeCommand,
		ScheduleMode:      SchedulePeriod,
		PeriodSeconds:     DefaultPeriodSeconds,
		ScriptInterpreter: DefaultInterpreter,
	}
}

const (
	DefaultMaxLogCount   = 100
	DefaultPeriodSeconds = 600
	DefaultInterpreter   = "/bin/sh"
)

// Period returns the PERIOD schedule interval, clamped to at least one second.
func (c *Command) Period() time.Duration {
	secs := c.PeriodSeconds
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// StartupDelay returns the optional delay applied before the first run.
func (c *Command) StartupDelay() time.Duration {
	if c.StartupDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(c.StartupDelaySeconds) * time.Second
}

// LogBound returns the run history bound, defaulting when unset.
func (c *Command) LogBound() int {
	if c.MaxLogCount < 1 {
		return DefaultMaxLogCount
	}
	return c.MaxLogCount
}

// Environ renders the command environment as KEY=VALUE pairs in configured order.
func (c *Command) Environ() []string {
	if len(c.Environment) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Environment))
	for _, kv := range c.Environment {
		out = append(out, kv.Key+"="+kv.Value)
	}
	return out
}

// Stats holds a command's rolling run statistics. Counters only grow;
// durations are tracked in seconds over successful (exit 0) runs.
type Stats struct {
	TotalRuns  int `json:"total_runs,omitempty"`
	OkRuns     int `json:"ok_runs,omitempty"`
	ErrorRuns  int `json:"error_runs,omitempty"`
	FailedRuns int `json:"failed_runs,omitempty"`

	LastSuccessfulRunAt *time.Time `json:"last_successful_run_at,omitempty"`
	LastErrorRunAt      *time.Time `json:"last_error_run_at,omitempty"`
	LastFailRunAt       *time.Time `json:"last_fail_run_at,omitempty"`

	MinDurationSeconds float64 `json:"min_duration_seconds,omitempty"`
	MaxDurationSeconds float64 `json:"max_duration_seconds,omitempty"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds,omitempty"`
}

// RunResult is the already-classified outcome of one completed run, as fed
// into the statistics. Aborted runs never reach this point.
type RunResult struct {
	Status   string // SUCCESS, ERROR or FAILED
	Start    time.Time
	Duration time.Duration
}

// Apply folds one run result into the rolling statistics. Duration
// aggregates (min/max/incremental mean) only track SUCCESS runs.
func (s *Stats) Apply(r RunResult) {
	s.TotalRuns++
	start := r.Start
	switch r.Status {
	case "FAILED":
		s.FailedRuns++
		s.LastFailRunAt = &start
	case "ERROR":
		s.ErrorRuns++
		s.LastErrorRunAt = &start
	case "SUCCESS":
		s.OkRuns++
		s.LastSuccessfulRunAt = &start
		secs := r.Duration.Seconds()
		if s.OkRuns == 1 {
			s.MinDurationSeconds = secs
			s.MaxDurationSeconds = secs
			s.AvgDurationSeconds = secs
			return
		}
		if secs < s.MinDurationSeconds {
			s.MinDurationSeconds = secs
		}
		if secs > s.MaxDurationSeconds {
			s.MaxDurationSeconds = secs
		}
		s.AvgDurationSeconds += (secs - s.AvgDurationSeconds) / float64(s.OkRuns)
	}
}

// Reset clears all rolling statistics.
func (s *Stats) Reset() { *s = Stats{} }
