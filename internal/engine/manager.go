package engine

import (
	"context"
	"sort"
	"sync"

	"trayrunner/internal/config"
	"trayrunner/internal/runlog"
	"trayrunner/internal/runtime/supervisor"
	"trayrunner/pkg/logx"
)

// Deps are the engine's collaborators.
type Deps struct {
	Config   *config.Manager
	Store    *runlog.Store
	Runner   Runner
	Notifier Notifier
	Hooks    Hooks
	Log      logx.Logger
}

// Manager owns the registry of live command workers. It guarantees at
// most one worker, and therefore at most one child process, per command
// id at any time.
type Manager struct {
	cfg   Config
	cfgm  *config.Manager
	store *runlog.Store
	run   Runner
	notif Notifier
	hooks Hooks
	log   logx.Logger

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	workers map[string]*worker
}

func New(cfg Config, deps Deps) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		cfgm:    deps.Config,
		store:   deps.Store,
		run:     deps.Runner,
		notif:   deps.Notifier,
		hooks:   deps.Hooks,
		log:     deps.Log,
		workers: make(map[string]*worker),
	}
}

// Start binds the manager to its lifetime context. Workers started
// afterwards are cancelled when ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sup == nil {
		m.sup = supervisor.New(ctx, supervisor.WithLogger(m.log))
	}
}

// ReconcileAll aligns the worker registry with the current configuration.
// The autostart flags say how this process was launched; they gate the
// SYSTEM_START and APP_START one-shot triggers.
func (m *Manager) ReconcileAll(systemAutostart, appAutostart bool) {
	for _, cmd := range m.cfgm.Get().Commands {
		m.Reconcile(cmd, systemAutostart, appAutostart)
	}
}

// Reconcile stops any existing worker for the command and starts the
// worker its current definition calls for, if any.
func (m *Manager) Reconcile(cmd *config.Command, systemAutostart, appAutostart bool) {
	m.Stop(cmd.ID)
	if cmd.Disabled {
		m.log.Debug("command disabled", logx.String("command", cmd.Name))
		return
	}

	switch cmd.ScheduleMode {
	case config.SchedulePeriod, config.ScheduleCron:
		m.startWorker(cmd, false)
	case config.ScheduleSystemStart:
		if systemAutostart {
			m.startWorker(cmd, true)
		}
	case config.ScheduleAppStart:
		if appAutostart {
			m.startWorker(cmd, true)
		}
	case config.ScheduleManual:
		// Runs only through RunNow.
	}
}

// RunNow triggers an immediate run. A waiting recurring worker is kicked;
// an idle command gets a one-shot worker. Returns ErrBusy when a run is
// already in flight.
func (m *Manager) RunNow(cmd *config.Command) error {
	m.mu.Lock()
	if m.sup == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if w, ok := m.workers[cmd.ID]; ok {
		if w.state() == StateRunning || w.oneShot {
			m.mu.Unlock()
			return ErrBusy
		}
		select {
		case w.kickCh <- struct{}{}:
		default:
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.startWorker(cmd, true)
}

func (m *Manager) startWorker(cmd *config.Command, oneShot bool) error {
	m.mu.Lock()
	if m.sup == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if _, ok := m.workers[cmd.ID]; ok {
		// Reconcile stops before starting, so this only happens on a
		// racing RunNow. Keep the existing worker.
		m.mu.Unlock()
		return ErrBusy
	}
	w := newWorker(m, cmd, oneShot)
	m.workers[cmd.ID] = w
	sup := m.sup
	m.mu.Unlock()

	m.log.Info("worker started",
		logx.String("command", cmd.Name),
		logx.String("schedule_mode", string(cmd.ScheduleMode)),
		logx.Bool("one_shot", oneShot))
	sup.Go0("worker:"+cmd.Name, w.run)
	m.statusChanged()
	return nil
}

// Stop signals the command's worker and waits until it has fully exited,
// including termination of any child process.
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	w := m.workers[id]
	m.mu.Unlock()
	if w == nil {
		return
	}
	w.stop()
	<-w.doneCh
	m.log.Info("worker stopped", logx.String("command", w.cmd.Name))
	m.statusChanged()
}

// StopAll stops every worker: signal all first, then join all, so
// shutdown latency is bounded by the slowest worker rather than the sum.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ws := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		ws = append(ws, w)
	}
	m.mu.Unlock()

	for _, w := range ws {
		w.stop()
	}
	for _, w := range ws {
		<-w.doneCh
	}
	if len(ws) > 0 {
		m.log.Info("all workers stopped", logx.Int("count", len(ws)))
		m.statusChanged()
	}
}

// Running returns snapshots of all live workers, ordered by command name.
func (m *Manager) Running() []Snapshot {
	m.mu.Lock()
	ws := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		ws = append(ws, w)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) deregister(w *worker) {
	m.mu.Lock()
	if m.workers[w.cmd.ID] == w {
		delete(m.workers, w.cmd.ID)
	}
	m.mu.Unlock()
}

func (m *Manager) statusChanged() {
	if m.hooks.OnStatusChanged != nil {
		m.hooks.OnStatusChanged()
	}
}
