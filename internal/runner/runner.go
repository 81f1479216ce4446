// Package runner spawns and supervises one child process per call. It owns
// no shared mutable state, so a single Runner is safe to use concurrently
// for different commands.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/shlex"

	logx "trayrunner/pkg/logx"
)

// Spec describes one execution. Exactly one of Command and Script is set
// (the config layer validates this).
type Spec struct {
	// Command is a shell invocation string (COMMAND mode).
	Command string
	// Script is an inline script body materialized to a temp file (SCRIPT mode).
	Script string
	// Interpreter runs the materialized script. On non-Windows platforms a
	// script with a shebang runs directly and the interpreter is unused.
	Interpreter string

	RunInShell bool
	WorkingDir string
	// Env is extra KEY=VALUE pairs layered over the process environment.
	Env []string
}

// Kind classifies the raw result of a spawn attempt. Mapping an exit code
// to success/error is the caller's business, not the runner's.
type Kind int

const (
	// KindCompleted means the process ran to completion (any exit code).
	KindCompleted Kind = iota
	// KindLaunchFailed means the process could not be spawned at all.
	KindLaunchFailed
	// KindAborted means cancellation terminated the run.
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindLaunchFailed:
		return "launch_failed"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the result of one execution, before classification into a
// persisted run status.
type Outcome struct {
	Kind        Kind
	PID         int
	ExitCode    int
	Stdout      string // trimmed; empty means no output
	Stderr      string // trimmed; empty means no output
	FailMessage string // set for KindLaunchFailed
}

// Runner executes Specs as child processes with cooperative cancellation.
type Runner struct {
	log logx.Logger

	// TermGrace is how long a cancelled process gets to exit after the
	// graceful termination request before it is force-killed.
	TermGrace time.Duration
}

func New(log logx.Logger) *Runner {
	return &Runner{
		log:       log,
		TermGrace: 5 * time.Second,
	}
}

// Execute runs the spec to completion or cancellation. It never returns an
// error: every failure mode is encoded in the Outcome so the caller can
// classify and persist it.
func (r *Runner) Execute(ctx context.Context, spec Spec) Outcome {
	workDir := resolveWorkingDir(spec.WorkingDir)

	argv, cleanup, err := r.buildArgv(spec)
	if cleanup != nil {
		// The temp script must go away on every exit path.
		defer cleanup()
	}
	if err != nil {
		return Outcome{Kind: KindLaunchFailed, FailMessage: err.Error()}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), spec.Env...)
	setSysProcAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Outcome{Kind: KindLaunchFailed, FailMessage: err.Error()}
	}
	pid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	aborted := false
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		aborted = true
		r.log.Debug("run cancelled; terminating child", logx.Int("pid", pid))
		terminate(cmd)
		select {
		case waitErr = <-done:
		case <-time.After(r.termGrace()):
			r.log.Warn("child ignored termination; killing", logx.Int("pid", pid))
			kill(cmd)
			// Drain output: Wait returns once the process (and its pipes) are gone.
			waitErr = <-done
		}
	}

	if aborted {
		return Outcome{
			Kind:   KindAborted,
			PID:    pid,
			Stdout: strings.TrimSpace(stdout.String()),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}

	exitCode := 0
	if waitErr != nil {
		ee, ok := waitErr.(*exec.ExitError)
		if !ok {
			// Wait itself failed (e.g. I/O error); the process never
			// produced a usable result.
			return Outcome{Kind: KindLaunchFailed, PID: pid, FailMessage: waitErr.Error()}
		}
		exitCode = ee.ExitCode()
	}

	return Outcome{
		Kind:     KindCompleted,
		PID:      pid,
		ExitCode: exitCode,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
	}
}

func (r *Runner) termGrace() time.Duration {
	if r.TermGrace <= 0 {
		return 5 * time.Second
	}
	return r.TermGrace
}

// buildArgv turns the spec into an argv. For SCRIPT mode it materializes
// the body to an executable temp file and returns a cleanup func that
// removes it.
func (r *Runner) buildArgv(spec Spec) (argv []string, cleanup func(), err error) {
	if spec.Script != "" {
		path, err := writeScript(spec.Script)
		if err != nil {
			return nil, nil, fmt.Errorf("materialize script: %w", err)
		}
		cleanup = func() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				r.log.Warn("temp script not removed", logx.String("path", path), logx.Err(rmErr))
			}
		}
		if runtime.GOOS == "windows" {
			interp, err := shlex.Split(spec.Interpreter)
			if err != nil || len(interp) == 0 {
				return nil, cleanup, fmt.Errorf("invalid interpreter %q", spec.Interpreter)
			}
			return append(interp, path), cleanup, nil
		}
		return []string{path}, cleanup, nil
	}

	if runtime.GOOS == "windows" {
		return []string{"powershell", "-Command", spec.Command}, nil, nil
	}
	if spec.RunInShell {
		return []string{"/bin/sh", "-c", spec.Command}, nil, nil
	}
	argv, err = shlex.Split(spec.Command)
	if err != nil {
		return nil, nil, fmt.Errorf("split command: %w", err)
	}
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("empty command")
	}
	return argv, nil, nil
}

// writeScript materializes the script body to a private executable temp
// file, prepending a shebang when missing (non-Windows).
func writeScript(body string) (string, error) {
	f, err := os.CreateTemp("", "trayrunner-*.script")
	if err != nil {
		return "", err
	}
	path := f.Name()

	if runtime.GOOS != "windows" && !strings.HasPrefix(body, "#!") {
		body = "#!/bin/sh\n" + body
	}
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, 0o700); err != nil {
			_ = os.Remove(path)
			return "", err
		}
	}
	return path, nil
}

// resolveWorkingDir falls back to the user's home directory when the
// configured directory is unset or missing; a bad working directory must
// never abort the run outright.
func resolveWorkingDir(dir string) string {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}
