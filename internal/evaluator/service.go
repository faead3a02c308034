// Package evaluator drives the schedule evaluation loop: on every tick it
// decides, per enabled schedule, whether a new download job must be created,
// and hands fresh jobs to the capture layer.
package evaluator

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"streamvault/internal/clock"
	"streamvault/internal/eventbus"
	"streamvault/internal/job"
	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

// EventAutoResume is published when the evaluator replaces a dead monitored
// job inside an open window.
const EventAutoResume = "evaluator.autoresume"

// Launcher starts supervision of a freshly created job.
type Launcher interface {
	Launch(j job.DownloadJob)
}

// Config controls the evaluation loop.
type Config struct {
	Tick          time.Duration // default 30s
	MaxConcurrent int           // max non-terminal jobs system-wide; 0 = unlimited
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	return c
}

// Service is the evaluation loop. It owns only evaluator runtime state (which
// windows were open last tick); everything durable lives in the store and the
// registry.
type Service struct {
	store *schedule.Store
	reg   *job.Registry
	lch   Launcher
	clk   clock.Clock
	bus   eventbus.Bus
	log   logx.Logger

	tick   atomic.Int64 // nanoseconds
	jobCap atomic.Int64

	// lastOcc remembers, per schedule, the start instant of the window
	// occurrence the evaluator last acted on. A differing occurrence start
	// means the window closed and reopened since, however many ticks were
	// missed in between. refreshed is set by Refresh and disables the
	// LastEvaluatedAt fallback used after a restart.
	mu        sync.Mutex
	lastOcc   map[string]time.Time
	refreshed bool
}

func New(cfg Config, store *schedule.Store, reg *job.Registry, lch Launcher, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		reg:     reg,
		lch:     lch,
		clk:     clk,
		bus:     bus,
		log:     log,
		lastOcc: map[string]time.Time{},
	}
	s.tick.Store(int64(cfg.Tick))
	s.jobCap.Store(int64(cfg.MaxConcurrent))
	return s
}

// Reconfigure applies a hot-reloaded tick and cap. The new tick takes effect
// after the current interval elapses.
func (s *Service) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	s.tick.Store(int64(cfg.Tick))
	s.jobCap.Store(int64(cfg.MaxConcurrent))
}

// Refresh drops all evaluator runtime state. Every open window looks freshly
// opened on the next tick, so schedules suppressed by a manual stop become
// eligible again.
func (s *Service) Refresh() {
	s.mu.Lock()
	s.lastOcc = map[string]time.Time{}
	s.refreshed = true
	s.mu.Unlock()
	s.log.Info("evaluator state refreshed")
}

// Run evaluates on every tick until ctx is cancelled. Intended to run under a
// goroutine supervisor.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("evaluator started", logx.Duration("tick", s.tickInterval()))
	timer := time.NewTimer(s.tickInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("evaluator stopped")
			return nil
		case <-timer.C:
			s.TickNow(ctx)
			timer.Reset(s.tickInterval())
		}
	}
}

// TickNow runs one evaluation pass over all schedules. One misbehaving
// schedule never takes down the loop: evaluation panics are confined to that
// schedule and logged.
func (s *Service) TickNow(ctx context.Context) {
	now := s.clk.Now()
	for _, sch := range s.store.List() {
		s.evaluateIsolated(ctx, sch, now)
	}
}

func (s *Service) evaluateIsolated(ctx context.Context, sch schedule.Schedule, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("schedule evaluation panicked",
				logx.String("schedule", sch.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	s.evaluate(ctx, sch, now)
}

func (s *Service) evaluate(ctx context.Context, sch schedule.Schedule, now time.Time) {
	defer s.store.Touch(ctx, sch.ID, now)

	if !sch.Enabled {
		s.forget(sch.ID)
		return
	}

	if !sch.WindowOpenAt(now) {
		return
	}
	occ := sch.OccurrenceStart(now)
	justOpened := s.newOccurrence(sch.ID, occ)
	if justOpened && s.evaluatedBeforeRestart(sch, occ) {
		// The previous process already acted on this occurrence, so a restart
		// mid-window must not treat it as freshly opened: a manual stop from
		// before the restart keeps suppressing, a crash still resumes below.
		justOpened = false
	}

	mon, exists := s.reg.Monitored(sch.ID)

	var create, resume bool
	switch {
	case justOpened:
		// A fresh occurrence: anything terminal (manual stops included) is
		// history, only a live job blocks creation.
		create = !exists || mon.State.Terminal()
	case !exists:
		// Open window with no monitored job at all (state was refreshed or the
		// schedule was re-enabled mid-window).
		create = true
	case mon.State.Terminal() && mon.StopReason != job.StopManual:
		// The monitored job died mid-window: auto-resume. A manual stop
		// suppresses resumption until the window closes and reopens.
		create = true
		resume = true
	}
	if !create {
		s.noteOccurrence(sch.ID, occ)
		return
	}

	// A cap deferral leaves the occurrence unrecorded so the next tick still
	// treats it as fresh.
	if limit := int(s.jobCap.Load()); limit > 0 && s.reg.CountActive() >= limit {
		s.log.Warn("job creation deferred: concurrency cap reached",
			logx.String("schedule", sch.ID),
			logx.Int("cap", limit))
		return
	}
	s.noteOccurrence(sch.ID, occ)

	j := s.reg.Create(ctx, job.Spec{
		ScheduleID: sch.ID,
		TargetURL:  sch.TargetURL,
		NamePrefix: sch.NamePrefix,
		Capture:    sch.Capture,
	})
	if resume {
		s.log.Info("auto-resuming recording",
			logx.String("schedule", sch.ID),
			logx.String("job", j.ID),
			logx.String("prev_job", mon.ID),
			logx.String("prev_reason", string(mon.StopReason)))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventAutoResume, Data: j})
		}
	} else {
		s.log.Info("window open, starting recording",
			logx.String("schedule", sch.ID),
			logx.String("job", j.ID))
	}
	s.lch.Launch(j)
}

func (s *Service) tickInterval() time.Duration {
	return time.Duration(s.tick.Load())
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.lastOcc, id)
	s.mu.Unlock()
}

// newOccurrence reports whether occ is an occurrence the evaluator has not
// acted on yet. noteOccurrence marks it as acted on.
func (s *Service) newOccurrence(id string, occ time.Time) bool {
	s.mu.Lock()
	prev, seen := s.lastOcc[id]
	s.mu.Unlock()
	return !seen || !prev.Equal(occ)
}

// evaluatedBeforeRestart reports whether the persisted evaluation tick proves
// a previous process already evaluated the occurrence. Only consulted for
// schedules this process has never acted on, and never after Refresh.
func (s *Service) evaluatedBeforeRestart(sch schedule.Schedule, occ time.Time) bool {
	s.mu.Lock()
	_, seen := s.lastOcc[sch.ID]
	refreshed := s.refreshed
	s.mu.Unlock()
	if seen || refreshed {
		return false
	}
	return !sch.LastEvaluatedAt.IsZero() && !sch.LastEvaluatedAt.Before(occ)
}

func (s *Service) noteOccurrence(id string, occ time.Time) {
	s.mu.Lock()
	s.lastOcc[id] = occ
	s.mu.Unlock()
}
