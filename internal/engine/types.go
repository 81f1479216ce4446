package engine

import (
	"context"
	"errors"
	"time"

	"trayrunner/internal/runner"
)

// Runner abstracts process execution so tests can substitute a stub.
// *runner.Runner is the production implementation.
type Runner interface {
	Execute(ctx context.Context, spec runner.Spec) runner.Outcome
}

// Notifier is the external notification sink. Implementations must be
// fire-and-forget; the engine never waits on delivery.
type Notifier interface {
	Notify(title, message string)
}

// Hooks are optional callbacks into the external UI layer.
type Hooks struct {
	// OnStatusChanged fires after every run and after every worker
	// start/stop, so the UI can refresh live status.
	OnStatusChanged func()
}

// Config tunes the engine's timing behavior.
type Config struct {
	// PollInterval is the recurring worker's "not yet due" re-check period.
	PollInterval time.Duration
	// ReanchorGrace is the missed-schedule window passed to the scheduler:
	// ticks missed by less than this still fire immediately.
	ReanchorGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ReanchorGrace < 0 {
		c.ReanchorGrace = 0
	}
	return c
}

// State is a worker's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of one live worker, for UI display.
type Snapshot struct {
	CommandID string     `json:"command_id"`
	Name      string     `json:"name"`
	State     State      `json:"state"`
	OneShot   bool       `json:"one_shot"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

var (
	// ErrBusy is returned by RunNow when a run for the command is already
	// in flight; at most one live child process per command id.
	ErrBusy = errors.New("engine: command is currently executing")
	// ErrNotStarted is returned when the manager is used before Start.
	ErrNotStarted = errors.New("engine: manager not started")
)
