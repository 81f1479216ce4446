package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"trayrunner/internal/config"
	"trayrunner/internal/runlog"
	"trayrunner/internal/runner"
	"trayrunner/internal/schedule"
	"trayrunner/pkg/logx"
)

// worker owns the full run lifecycle of a single command. Exactly one
// goroutine (run) mutates its scheduling state; the manager only signals
// it through stopCh/kickCh and waits on doneCh.
type worker struct {
	m   *Manager
	cmd *config.Command
	log logx.Logger

	// oneShot workers execute once as soon as the startup delay elapses
	// and exit (autostart and manual triggers); recurring workers loop on
	// the command's schedule until stopped.
	oneShot bool

	stopCh chan struct{}
	doneCh chan struct{}
	kickCh chan struct{}

	stopOnce sync.Once

	mu   sync.Mutex
	st   State
	next *time.Time

	// pendingKick is only touched by the worker goroutine.
	pendingKick bool
}

func newWorker(m *Manager, cmd *config.Command, oneShot bool) *worker {
	return &worker{
		m:       m,
		cmd:     cmd,
		log:     m.log.With(logx.String("command", cmd.Name)),
		oneShot: oneShot,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		kickCh:  make(chan struct{}, 1),
	}
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *worker) state() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st
}

func (w *worker) setState(s State) {
	w.mu.Lock()
	w.st = s
	w.mu.Unlock()
}

func (w *worker) setNext(t *time.Time) {
	w.mu.Lock()
	w.next = t
	w.mu.Unlock()
}

func (w *worker) snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Snapshot{
		CommandID: w.cmd.ID,
		Name:      w.cmd.Name,
		State:     w.st,
		OneShot:   w.oneShot,
	}
	if w.next != nil {
		t := *w.next
		s.NextRunAt = &t
	}
	return s
}

func (w *worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.m.deregister(w)
	defer w.setState(StateStopped)

	w.setState(StateWaiting)
	if d := w.cmd.StartupDelay(); d > 0 {
		w.log.Debug("delaying first run", logx.Duration("delay", d))
		if !w.sleep(ctx, d) {
			return
		}
	}

	if w.oneShot {
		w.execute(ctx)
		return
	}
	w.loop(ctx)
}

func (w *worker) loop(ctx context.Context) {
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		due, err := w.due(first)
		if err != nil {
			// A schedule that no longer parses is a configuration
			// problem, not a transient one. Record it and park.
			w.recordScheduleFailure(err)
			return
		}
		first = false

		if w.pendingKick {
			w.pendingKick = false
			due = true
		}

		if due {
			start, done := w.execute(ctx)
			if done {
				return
			}
			if !w.advance(start) {
				return
			}
			continue
		}

		if !w.sleepPoll(ctx) {
			return
		}
	}
}

// due reports whether the command should run now, computing and caching
// the next scheduled instant when none is cached yet.
func (w *worker) due(first bool) (bool, error) {
	if first && w.cmd.RunAtStartup {
		return true, nil
	}

	w.mu.Lock()
	next := w.next
	w.mu.Unlock()
	now := time.Now()

	if next == nil {
		var lastStart time.Time
		if last, ok := w.m.store.Last(w.cmd.ID); ok {
			lastStart = last.StartTime
		}

		if first && w.cmd.RunAtStartupIfMissed {
			// Checked against the raw tick, before grace re-anchoring
			// pushes a long-missed tick back into the future.
			missed, err := schedule.Missed(w.cmd, lastStart, now)
			if err != nil {
				return false, err
			}
			if missed {
				w.log.Info("schedule missed while down; running now",
					logx.Time("last_run", lastStart))
				return true, nil
			}
		}

		t, ok, err := schedule.Next(w.cmd, lastStart, now, w.m.cfg.ReanchorGrace)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		w.setNext(&t)
		next = &t
		w.log.Debug("next run scheduled", logx.Time("at", t))
	}

	return !next.After(now), nil
}

// advance recomputes the schedule after a run, anchored at that run's
// start time. Returns false when the worker should exit.
func (w *worker) advance(lastStart time.Time) bool {
	t, ok, err := schedule.Next(w.cmd, lastStart, time.Now(), w.m.cfg.ReanchorGrace)
	if err != nil {
		w.recordScheduleFailure(err)
		return false
	}
	if !ok {
		// Autostart commands with no recurring schedule stop here.
		w.setNext(nil)
		return false
	}
	w.setNext(&t)
	w.log.Debug("next run scheduled", logx.Time("at", t))
	return true
}

func (w *worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-t.C:
		return true
	}
}

func (w *worker) sleepPoll(ctx context.Context) bool {
	t := time.NewTimer(w.m.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-w.kickCh:
		w.pendingKick = true
		return true
	case <-t.C:
		return true
	}
}

// execute performs one full run: RUNNING entry, process execution,
// terminal transition, statistics and notification. done is true when
// the run was aborted by a stop request and the worker must exit.
func (w *worker) execute(ctx context.Context) (start time.Time, done bool) {
	g := w.m.cfgm.Get()
	runInShell := w.cmd.RunInShell.Resolve(g.RunInShell)
	includeOutput := w.cmd.IncludeOutputInNotifications.Resolve(g.IncludeOutputInNotifications)
	notifyOK := w.cmd.ShowCompleteNotifications.Resolve(g.ShowCompleteNotifications)
	notifyErr := w.cmd.ShowErrorNotifications.Resolve(g.ShowErrorNotifications)

	entry := runlog.NewRunning(time.Now().UTC())
	start = entry.StartTime
	w.setState(StateRunning)
	if err := w.m.store.Append(w.cmd.ID, w.cmd.LogBound(), entry); err != nil {
		w.log.Warn("run log write failed", logx.Err(err))
	}
	w.m.statusChanged()

	spec := runner.Spec{
		RunInShell: runInShell,
		WorkingDir: w.cmd.WorkingDirectory,
		Env:        w.cmd.Environ(),
	}
	if w.cmd.RunMode == config.RunModeScript {
		spec.Script = w.cmd.Script
		spec.Interpreter = w.cmd.ScriptInterpreter
	} else {
		spec.Command = w.cmd.Command
	}

	// A stop request must abort the child promptly even while the
	// scheduler context stays alive.
	runCtx, cancel := context.WithCancel(ctx)
	unwatch := make(chan struct{})
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-unwatch:
		}
	}()
	out := w.m.run.Execute(runCtx, spec)
	close(unwatch)
	cancel()
	w.setState(StateWaiting)

	if out.Kind == runner.KindAborted {
		// The run never completed; it leaves no trace in the log or
		// the statistics.
		if err := w.m.store.Remove(w.cmd.ID, entry.UUID); err != nil {
			w.log.Warn("run log cleanup failed", logx.Err(err))
		}
		w.log.Info("run aborted", logx.Int("pid", out.PID))
		w.m.statusChanged()
		return start, true
	}

	end := time.Now().UTC()
	entry.EndTime = &end
	entry.PID = out.PID
	switch out.Kind {
	case runner.KindLaunchFailed:
		entry.Status = runlog.StatusFailed
		entry.FailMessage = out.FailMessage
	default:
		code := out.ExitCode
		entry.ExitCode = &code
		entry.Stdout = out.Stdout
		entry.Stderr = out.Stderr
		if code == 0 {
			entry.Status = runlog.StatusSuccess
		} else {
			entry.Status = runlog.StatusError
		}
	}
	if err := w.m.store.Append(w.cmd.ID, w.cmd.LogBound(), entry); err != nil {
		w.log.Warn("run log write failed", logx.Err(err))
	}

	dur := end.Sub(entry.StartTime)
	w.applyStats(entry, dur)

	switch entry.Status {
	case runlog.StatusSuccess:
		w.log.Info("run finished",
			logx.Int("pid", out.PID), logx.Int("exit_code", out.ExitCode),
			logx.Duration("took", dur))
		if notifyOK {
			w.notify(entry, dur, includeOutput)
		}
	case runlog.StatusError:
		w.log.Warn("run finished with error",
			logx.Int("pid", out.PID), logx.Int("exit_code", out.ExitCode),
			logx.Duration("took", dur))
		if notifyErr {
			w.notify(entry, dur, includeOutput)
		}
	case runlog.StatusFailed:
		w.log.Error("run failed to launch", logx.String("reason", out.FailMessage))
		if notifyErr {
			w.notify(entry, dur, includeOutput)
		}
	}

	w.m.statusChanged()
	return start, false
}

// recordScheduleFailure persists a FAILED entry for a command whose
// schedule cannot be evaluated, so the failure is visible in the log.
func (w *worker) recordScheduleFailure(err error) {
	w.log.Error("schedule evaluation failed", logx.Err(err))
	now := time.Now().UTC()
	entry := runlog.NewRunning(now)
	entry.Status = runlog.StatusFailed
	entry.EndTime = &now
	entry.FailMessage = err.Error()
	entry.StackTrace = string(debug.Stack())
	if werr := w.m.store.Append(w.cmd.ID, w.cmd.LogBound(), entry); werr != nil {
		w.log.Warn("run log write failed", logx.Err(werr))
	}
	w.applyStats(entry, 0)

	g := w.m.cfgm.Get()
	if w.cmd.ShowErrorNotifications.Resolve(g.ShowErrorNotifications) {
		w.notify(entry, 0, false)
	}
	w.setNext(nil)
	w.m.statusChanged()
}

func (w *worker) applyStats(entry runlog.Entry, dur time.Duration) {
	err := w.m.cfgm.Mutate(func(cfg *config.Config) error {
		c := cfg.CommandByID(w.cmd.ID)
		if c == nil {
			return nil
		}
		c.Stats.Apply(config.RunResult{
			Status:   string(entry.Status),
			Start:    entry.StartTime,
			Duration: dur,
		})
		return nil
	})
	if err != nil {
		w.log.Warn("statistics not persisted", logx.Err(err))
	}
}

func (w *worker) notify(entry runlog.Entry, dur time.Duration, includeOutput bool) {
	if w.m.notif == nil {
		return
	}
	w.m.notif.Notify(w.cmd.Name, resultMessage(entry, dur, includeOutput))
}

func resultMessage(entry runlog.Entry, dur time.Duration, includeOutput bool) string {
	if entry.Status == runlog.StatusFailed {
		return fmt.Sprintf("Command failed to run (%s).", entry.FailMessage)
	}
	code := 0
	if entry.ExitCode != nil {
		code = *entry.ExitCode
	}
	msg := fmt.Sprintf("Command exited with code %d (took %.2f seconds).", code, dur.Seconds())
	if includeOutput {
		if entry.Stdout != "" {
			msg += "\n\nStandard output: " + entry.Stdout
		}
		if entry.Stderr != "" {
			msg += "\n\nError output: " + entry.Stderr
		}
	}
	return msg
}
