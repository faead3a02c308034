// Package app wires the engine together: config, logging, storage, the job
// registry, the evaluator, capture supervision and the HTTP API, all under one
// goroutine supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"streamvault/internal/capture"
	"streamvault/internal/clock"
	"streamvault/internal/config"
	"streamvault/internal/detect"
	"streamvault/internal/eventbus"
	"streamvault/internal/evaluator"
	"streamvault/internal/httpapi"
	"streamvault/internal/job"
	"streamvault/internal/metrics"
	runsup "streamvault/internal/runtime/supervisor"
	"streamvault/internal/schedule"
	"streamvault/internal/status"
	"streamvault/internal/storage"
	logx "streamvault/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log    logx.Logger
	logSvc *logx.Service

	clk clock.Clock
	bus eventbus.Bus
	sup *runsup.Supervisor

	st    storage.Store
	store *schedule.Store
	reg   *job.Registry
	caps  *capture.Service
	eval  *evaluator.Service
	rep   *status.Reporter
	met   *metrics.Metrics

	cron *cron.Cron
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.Logging.ToLogx())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	clk := clock.System()
	bus := eventbus.New()

	st, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var schedPersist schedule.Persister
	var jobPersist job.Persister
	if st != nil {
		schedPersist = st
		jobPersist = st
	}

	store := schedule.NewStore(clk, schedPersist, log.With(logx.String("comp", "schedules")))
	reg := job.NewRegistry(clk, jobPersist, bus, log.With(logx.String("comp", "jobs")))
	rep := status.NewReporter(store, reg, bus, clk)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logSvc:  logSvc,
		clk:     clk,
		bus:     bus,
		st:      st,
		store:   store,
		reg:     reg,
		rep:     rep,
		met:     metrics.Init("streamvault", nil),
	}, nil
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the app run context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = runsup.NewSupervisor(ctx, runsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	// Seed in-memory state from persistence; jobs that were live when the
	// previous process died come back as failed/crash and the evaluator
	// auto-resumes them if their window is still open.
	if a.st != nil {
		schedules, err := a.st.ListSchedules(ctx)
		if err != nil {
			return fmt.Errorf("load schedules: %w", err)
		}
		a.store.Load(schedules)

		jobs, err := a.st.ListJobs(ctx)
		if err != nil {
			return fmt.Errorf("load jobs: %w", err)
		}
		reconciled := a.reg.Load(ctx, jobs)
		a.log.Info("state loaded",
			logx.Int("schedules", len(schedules)),
			logx.Int("jobs", len(jobs)),
			logx.Int("reconciled", len(reconciled)))
	}

	probeTimeout, _ := config.ParseDurationField("capture.probe_timeout", cfg.Capture.ProbeTimeout)
	progressInterval, _ := config.ParseDurationField("capture.progress_interval", cfg.Capture.ProgressInterval)

	det := detect.NewHTTP(nil, a.log.With(logx.String("comp", "detect")))
	ffm := capture.NewFFmpeg(cfg.Capture.FFmpegBin, a.log.With(logx.String("comp", "ffmpeg")))
	a.caps = capture.NewService(capture.Config{
		OutputDir:        cfg.Capture.Dir(),
		ProbeTimeout:     probeTimeout,
		ProgressInterval: progressInterval,
	}, a.reg, det, ffm, a.clk, a.sup, a.log.With(logx.String("comp", "capture")))

	tick, err := cfg.Evaluator.TickInterval()
	if err != nil {
		return err
	}
	a.eval = evaluator.New(evaluator.Config{
		Tick:          tick,
		MaxConcurrent: cfg.Evaluator.JobCap(),
	}, a.store, a.reg, a.caps, a.clk, a.bus, a.log.With(logx.String("comp", "evaluator")))

	a.sup.GoRestart("evaluator", a.eval.Run, runsup.WithPublishFirstError(true))
	a.sup.Go0("metrics.feed", func(c context.Context) { a.met.Feed(c, a.bus, a.reg) })

	if cfg.Retention.IsEnabled() {
		if err := a.startRetention(cfg); err != nil {
			return err
		}
	}

	if cfg.Server.IsEnabled() {
		handlers := httpapi.NewHandlers(a.store, a.reg, a.caps, a.eval, a.rep, a.bus, a.Err,
			a.log.With(logx.String("comp", "http")))
		router := httpapi.NewRouter(handlers, a.log.With(logx.String("comp", "http")))
		srv := httpapi.NewServer(cfg.Server.ListenAddr(), router, a.log.With(logx.String("comp", "http")))
		a.sup.Go("http", srv.Run)
	}

	a.watchConfig()

	a.log.Info("engine started",
		logx.Duration("tick", tick),
		logx.Int("job_cap", cfg.Evaluator.JobCap()),
		logx.Bool("http", cfg.Server.IsEnabled()),
		logx.Bool("storage", a.st != nil))
	return nil
}

// watchConfig runs the fsnotify watcher and applies hot-reloadable settings:
// logging and evaluator tuning. Server address and storage driver changes need
// a restart and are only logged.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg

				a.logSvc.Apply(newCfg.Logging.ToLogx())

				tick, err := newCfg.Evaluator.TickInterval()
				if err == nil {
					a.eval.Reconfigure(evaluator.Config{
						Tick:          tick,
						MaxConcurrent: newCfg.Evaluator.JobCap(),
					})
				}

				for _, s := range sections {
					if s == "server" || s == "storage" {
						a.log.Warn("config section needs a restart to apply", logx.String("section", s))
					}
				}
				if len(sections) > 0 {
					a.log.Info("config reloaded",
						append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)
}

func (a *App) startRetention(cfg *config.Config) error {
	maxAge, err := cfg.Retention.Age()
	if err != nil {
		return err
	}

	a.cron = cron.New()
	_, err = a.cron.AddFunc(cfg.Retention.Spec(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		a.pruneJobs(ctx, maxAge)
	})
	if err != nil {
		return fmt.Errorf("retention.cron: %w", err)
	}
	a.cron.Start()
	return nil
}

// pruneJobs drops terminal job records older than maxAge from the registry and
// from persistence. Non-terminal jobs are never touched.
func (a *App) pruneJobs(ctx context.Context, maxAge time.Duration) {
	cutoff := a.clk.Now().Add(-maxAge)
	var ids []string
	for _, j := range a.reg.ListAll() {
		if j.State.Terminal() && !j.EndedAt.IsZero() && j.EndedAt.Before(cutoff) {
			ids = append(ids, j.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	removed := a.reg.Remove(ids)
	if a.st != nil {
		if _, err := a.st.DeleteJobs(ctx, ids); err != nil {
			a.log.Warn("retention prune not persisted", logx.Err(err))
		}
	}
	a.log.Info("old jobs pruned",
		logx.Int("removed", removed),
		logx.Time("cutoff", cutoff))
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so every loop starts unwinding. In-flight
	// captures see a cancelled context and exit without a terminal transition;
	// the next start reconciles them to failed/crash.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	if a.cron != nil {
		step("retention", 2*time.Second, func(c context.Context) error {
			select {
			case <-a.cron.Stop().Done():
			case <-c.Done():
				return c.Err()
			}
			return nil
		})
	}

	step("supervisor", 8*time.Second, a.sup.Wait)

	if a.st != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.st.Close() })
	}

	a.log.Info("stopped")
	a.logSvc.Close()
	return nil
}

func storageConfig(cfg *config.Config) storage.Config {
	sc := storage.Config{Driver: "sqlite", Path: "./streamvault.db"}
	if cfg.Storage == nil {
		return sc
	}
	if strings.TrimSpace(cfg.Storage.Driver) != "" {
		sc.Driver = cfg.Storage.Driver
	}
	if strings.TrimSpace(cfg.Storage.Path) != "" {
		sc.Path = cfg.Storage.Path
	}
	if bt, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err == nil {
		sc.BusyTimeout = bt
	}
	return sc
}
