// Package app wires together every CloudGather component into one running
// process: config, logging, the Task Store, the run-history store, the
// OpenList client, and the scheduler core. The sequence is config load,
// then logging service, then storage, then the scheduler, with Start/Stop
// following bounded shutdown steps so no single component can stall the
// others.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloudgather/internal/history"
	"cloudgather/internal/logring"
	"cloudgather/internal/openlist"
	"cloudgather/internal/scheduler"
	"cloudgather/internal/store"
	"cloudgather/internal/strmworker"
	"cloudgather/internal/syncworker"

	"cloudgather/internal/domain"
	"cloudgather/internal/fsx"
	logx "cloudgather/pkg/logx"
)

// App is the top-level runtime. One instance per process.
type App struct {
	cfgPath string
	cfgm    *ConfigManager

	log  logx.Logger
	logs *logx.Service
	ring *logring.Store

	store *store.Store
	hist  *history.Store
	sched *scheduler.Scheduler

	sup *Supervisor
}

// NewApp loads config.yaml at cfgPath, opens the Task Store and run-history
// store, builds the logging service, and constructs the Scheduler Core. The
// returned App is not started yet; call Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ring := logring.NewStore(cfg.Logging.Ring.Capacity)
	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			SaveDays: cfg.Logging.File.SaveDays,
		},
		Ring: logx.RingConfig{
			Enabled:  cfg.Logging.Ring.Enabled,
			Capacity: cfg.Logging.Ring.Capacity,
		},
	}, ring)
	log = log.With(logx.String("comp", "app"))

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	stabilityDelay, err := parseDurationField("stabilityDelay", cfg.StabilityDelay)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		ring:    ring,
		store:   st,
		hist:    hist,
	}

	sched := scheduler.New(scheduler.Config{
		ConcurrentRunCap: cfg.ConcurrentRunCap,
	}, st, log.With(logx.String("comp", "scheduler")),
		a.runSync(stabilityDelay),
		a.runStrm(),
	)
	a.sched = sched

	return a, nil
}

// runSync builds the scheduler.SyncRunner: resolve the OpenList-independent
// deps, load/save the sync-tree cache around internal/syncworker.Run, and
// record the outcome in internal/history.
func (a *App) runSync(stabilityDelay time.Duration) scheduler.SyncRunner {
	return func(ctx context.Context, task domain.SyncTask, kind domain.RunKind) (domain.Stats, error) {
		started := time.Now()
		taskLog := a.log.ForTask(task.ID).With(logx.String("comp", "syncworker"))

		cache, err := a.store.LoadSyncCache(task.ID)
		if err != nil {
			taskLog.Error("load sync cache failed", logx.Err(err))
			return domain.Stats{}, err
		}

		res := syncworker.Run(ctx, &task, kind, cache, syncworker.Deps{
			FS:             fsx.NewOS(),
			Log:            taskLog,
			StabilityDelay: stabilityDelay,
			OnProgress: func(p domain.Progress) {
				a.store.MutateSync(task.ID, func(t *domain.SyncTask) { t.Progress = p })
			},
		})

		if res.Cache != nil {
			if err := a.store.SaveSyncCache(res.Cache); err != nil {
				taskLog.Error("save sync cache failed", logx.Err(err))
			}
		}
		if res.Err != nil {
			taskLog.Warn("sync run finished with error", logx.Err(res.Err))
		}

		a.recordHistory(ctx, task.ID, domain.KindSync, kind, started, res.Stats, res.Err)
		return res.Stats, res.Err
	}
}

// runStrm builds the scheduler.StrmRunner analogously, resolving a fresh
// OpenList client from the current Global Settings on every run so a
// settings change (credentials, base URL) takes effect on the next fire
// without a restart.
func (a *App) runStrm() scheduler.StrmRunner {
	return func(ctx context.Context, task domain.StrmTask, kind domain.RunKind) (domain.Stats, error) {
		started := time.Now()
		taskLog := a.log.ForTask(task.ID).With(logx.String("comp", "strmworker"))

		settings := a.store.Settings()
		client := openlist.New(openlist.Config{
			BaseURL:     settings.OpenList.BaseURL,
			PublicURL:   settings.OpenList.PublicURL,
			Username:    settings.OpenList.Username,
			Password:    store.DecodePassword(settings.OpenList.PasswordBlob),
			HashedLogin: settings.OpenList.HashedLogin,
			RetryCount:  settings.RetryCount,
		})

		cache, err := a.store.LoadStrmCache(task.ID)
		if err != nil {
			taskLog.Error("load strm cache failed", logx.Err(err))
			return domain.Stats{}, err
		}

		res := strmworker.Run(ctx, &task, kind, cache, strmworker.Deps{
			FS:         fsx.NewOS(),
			Client:     client,
			Extensions: settings.Extensions,
			Log:        taskLog,
			OnProgress: func(p domain.Progress) {
				a.store.MutateStrm(task.ID, func(t *domain.StrmTask) { t.Progress = p })
			},
		})

		if res.Cache != nil {
			if err := a.store.SaveStrmCache(res.Cache); err != nil {
				taskLog.Error("save strm cache failed", logx.Err(err))
			}
		}
		if res.Err != nil {
			taskLog.Warn("strm run finished with error", logx.Err(res.Err))
		}

		a.recordHistory(ctx, task.ID, domain.KindStrm, kind, started, res.Stats, res.Err)
		return res.Stats, res.Err
	}
}

func (a *App) recordHistory(ctx context.Context, taskID string, taskKind domain.TaskKind, runKind domain.RunKind, started time.Time, stats domain.Stats, runErr error) {
	errStr := ""
	if runErr != nil {
		errStr = runErr.Error()
	}
	run := history.Run{
		TaskID:    taskID,
		TaskKind:  taskKind,
		RunKind:   runKind,
		StartedAt: started,
		Duration:  time.Since(started),
		Stats:     stats,
		Error:     errStr,
	}
	if err := a.hist.Append(ctx, run); err != nil {
		a.log.Warn("append run history failed", logx.String("taskId", taskID), logx.Err(err))
	}
}

// Scheduler exposes the Scheduler Core for manual-trigger callers (the
// out-of-scope control surface would hang its HTTP handlers off this).
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Store exposes the Task Store.
func (a *App) Store() *store.Store { return a.store }

// Start begins the scheduler loop plus the supervised background goroutines
// (config hot-reload, liveness watchdog ping).
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(false))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.ConcurrentRunCap < 0 {
			return fmt.Errorf("concurrentRunCap must be >= 0")
		}
		if _, err := parseDurationField("stabilityDelay", cfg.StabilityDelay); err != nil {
			return err
		}
		return nil
	})

	a.sched.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				sections, attrs := SummarizeConfigChange(last, newCfg)
				last = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled:  newCfg.Logging.File.Enabled,
						Path:     newCfg.Logging.File.Path,
						SaveDays: newCfg.Logging.File.SaveDays,
					},
					Ring: logx.RingConfig{
						Enabled:  newCfg.Logging.Ring.Enabled,
						Capacity: newCfg.Logging.Ring.Capacity,
					},
				})
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("watchdog.notify", watchdogLoop)

	a.log.Info("app started")
	return nil
}

// Stop cancels the supervisor context, stops the scheduler, and closes the
// store handles. Each step is bounded so one stuck component can't stall
// shutdown indefinitely.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		a.log.Warn("scheduler stop deadline reached, continuing shutdown")
	}

	if err := a.sup.Wait(stopCtx); err != nil {
		a.log.Warn("supervisor wait returned error", logx.Err(err))
	}

	if err := a.hist.Close(); err != nil {
		a.log.Warn("close history store failed", logx.Err(err))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		return a.logs.Close()
	}
	return nil
}
