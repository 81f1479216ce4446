package runlog

import (
	"time"

	"github.com/google/uuid"
)

// Status is the persisted classification of a run. RUNNING is a transient
// marker written before the process completes, so a crash mid-run stays
// observable in the history.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
	StatusFailed  Status = "FAILED"
)

// Entry is one execution record in a command's run history.
type Entry struct {
	UUID      string     `json:"uuid"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	PID      int  `json:"pid,omitempty"`
	ExitCode *int `json:"exit_code,omitempty"`

	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	FailMessage string `json:"fail_message,omitempty"`
	StackTrace  string `json:"stack_trace,omitempty"`
}

// NewRunning returns the transient marker entry for a run starting now.
func NewRunning(start time.Time) Entry {
	return Entry{
		UUID:      uuid.NewString(),
		Status:    StatusRunning,
		StartTime: start,
	}
}

// Duration is derived from the recorded bounds; undefined while RUNNING.
func (e Entry) Duration() (time.Duration, bool) {
	if e.EndTime == nil {
		return 0, false
	}
	return e.EndTime.Sub(e.StartTime), true
}

// Terminal reports whether the entry reached a final status.
func (e Entry) Terminal() bool { return e.Status != StatusRunning }
