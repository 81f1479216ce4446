// Package app assembles the config manager, logging, run log store,
// notification pipeline and execution engine into one runnable unit.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"

	"trayrunner/internal/config"
	"trayrunner/internal/engine"
	"trayrunner/internal/notify"
	"trayrunner/internal/runlog"
	"trayrunner/internal/runner"
	"trayrunner/internal/runtime/supervisor"
	"trayrunner/pkg/logx"
)

// Options come from the command line.
type Options struct {
	ConfigPath string
	// SystemAutostart marks this launch as coming from a login/boot unit,
	// enabling SYSTEM_START commands.
	SystemAutostart bool
	// AppAutostart enables APP_START commands. Normal interactive launches
	// set this; RunNow-only tooling does not.
	AppAutostart bool
}

type App struct {
	opts Options

	cfgm  *config.Manager
	logs  *logx.Service
	log   logx.Logger
	store *runlog.Store
	notif *notify.Service
	eng   *engine.Manager

	sup *supervisor.Supervisor
}

// New loads (or creates) the configuration and builds every component.
// Nothing is running yet; call Start.
func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("component", "config")))

	logsDir := cfg.LogsDir
	if logsDir == "" {
		logsDir = filepath.Join(filepath.Dir(opts.ConfigPath), "logs")
	}
	store := runlog.NewStore(logsDir, log.With(logx.String("component", "runlog")))

	notif := notify.New(notify.Config{
		QueueSize:  cfg.Notifications.QueueSize,
		RatePerSec: cfg.Notifications.RatePerSec,
		Burst:      cfg.Notifications.Burst,
	}, buildAdapter(cfg.Notifications, log), log.With(logx.String("component", "notify")))

	stopGrace, err := cfg.Engine.StopGraceDuration()
	if err != nil {
		return nil, err
	}
	pollInterval, err := cfg.Engine.PollIntervalDuration()
	if err != nil {
		return nil, err
	}
	reanchorGrace, err := cfg.Engine.ReanchorGraceDuration()
	if err != nil {
		return nil, err
	}

	run := runner.New(log.With(logx.String("component", "runner")))
	run.TermGrace = stopGrace

	engLog := log.With(logx.String("component", "engine"))
	eng := engine.New(engine.Config{
		PollInterval:  pollInterval,
		ReanchorGrace: reanchorGrace,
	}, engine.Deps{
		Config:   cfgm,
		Store:    store,
		Runner:   run,
		Notifier: notif,
		Hooks: engine.Hooks{
			OnStatusChanged: func() { engLog.Trace("status changed") },
		},
		Log: engLog,
	})

	return &App{
		opts:  opts,
		cfgm:  cfgm,
		logs:  logs,
		log:   log,
		store: store,
		notif: notif,
		eng:   eng,
	}, nil
}

func buildAdapter(cfg config.NotificationsConfig, log logx.Logger) notify.Adapter {
	switch cfg.Adapter {
	case "none":
		return notify.NopAdapter{}
	case "telegram":
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		})
		if err != nil {
			log.Error("telegram adapter unavailable, falling back to log", logx.Err(err))
			return notify.LogAdapter{Log: log.With(logx.String("component", "notify"))}
		}
		return tg
	default:
		return notify.LogAdapter{Log: log.With(logx.String("component", "notify"))}
	}
}

// Start launches the engine workers, the config file watcher and the
// notification pipeline.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.notif.Start(a.sup.Context())
	a.eng.Start(a.sup.Context())
	a.eng.ReconcileAll(a.opts.SystemAutostart, a.opts.AppAutostart)

	updates := a.cfgm.Subscribe(1)
	a.sup.Go("config-watch", a.cfgm.Watch)
	a.sup.Go0("config-apply", func(ctx context.Context) {
		a.applyUpdates(ctx, updates)
	})

	a.log.Info("started",
		logx.String("config", a.cfgm.Path()),
		logx.String("logs_dir", a.store.Dir()),
		logx.Int("commands", len(a.cfgm.Get().Commands)))
	return nil
}

// Stop shuts everything down: workers first (so their final statistics
// still reach the config file), then the watcher and the notifier.
func (a *App) Stop(ctx context.Context) error {
	a.eng.StopAll()
	a.notif.Stop(ctx)

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	a.log.Info("stopped")
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}

// RunNow triggers an immediate run of the command with the given id.
func (a *App) RunNow(id string) error {
	cmd := a.cfgm.Get().CommandByID(id)
	if cmd == nil {
		return fmt.Errorf("unknown command id %q", id)
	}
	return a.eng.RunNow(cmd)
}

// Running exposes the engine's live worker snapshots.
func (a *App) Running() []engine.Snapshot { return a.eng.Running() }

// applyUpdates reacts to externally edited configuration: reconfigures
// logging and reconciles only the commands whose definitions changed.
func (a *App) applyUpdates(ctx context.Context, updates chan *config.Config) {
	defer a.cfgm.Unsubscribe(updates)

	prev := fingerprints(a.cfgm.Get())
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.applyLogging(cfg.Logging)
			next := fingerprints(cfg)

			for id := range prev {
				if _, still := next[id]; !still {
					a.log.Info("command removed", logx.String("id", id))
					a.eng.Stop(id)
				}
			}
			for _, cmd := range cfg.Commands {
				if prev[cmd.ID] != next[cmd.ID] {
					a.log.Info("command changed, reconciling",
						logx.String("command", cmd.Name))
					// Autostart triggers fire only at launch.
					a.eng.Reconcile(cmd, false, false)
				}
			}
			prev = next
		}
	}
}

func (a *App) applyLogging(cfg config.LoggingConfig) {
	err := a.logs.Apply(logx.Config{
		Level:   cfg.Level,
		Console: cfg.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.File.Enabled,
			Path:    cfg.File.Path,
		},
	})
	if err != nil {
		a.log.Warn("logging reconfiguration failed", logx.Err(err))
	}
}

// fingerprints hashes each command's definition, excluding run statistics,
// so stat updates written by the engine never look like edits.
func fingerprints(cfg *config.Config) map[string]uint64 {
	out := make(map[string]uint64, len(cfg.Commands))
	for _, cmd := range cfg.Commands {
		c := *cmd
		c.Stats = config.Stats{}
		b, err := json.Marshal(&c)
		if err != nil {
			continue
		}
		h := fnv.New64a()
		h.Write(b)
		out[cmd.ID] = h.Sum64()
	}
	return out
}

// WaitHealthy blocks until the supervisor reports an error or ctx ends.
// Used by callers that want to surface background failures.
func (a *App) WaitHealthy(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Wait(ctx)
}
