package evaluator

import (
	"context"
	"sync"
	"testing"
	"time"

	"streamvault/internal/clock"
	"streamvault/internal/job"
	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

// launchRecorder stands in for the capture service.
type launchRecorder struct {
	mu       sync.Mutex
	launched []job.DownloadJob
}

func (l *launchRecorder) Launch(j job.DownloadJob) {
	l.mu.Lock()
	l.launched = append(l.launched, j)
	l.mu.Unlock()
}

func (l *launchRecorder) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

var day0 = time.Date(2026, time.August, 24, 13, 59, 0, 0, time.UTC)

type fixture struct {
	clk   *clock.Fake
	store *schedule.Store
	reg   *job.Registry
	lch   *launchRecorder
	svc   *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := clock.NewFake(day0)
	store := schedule.NewStore(clk, nil, logx.Nop())
	reg := job.NewRegistry(clk, nil, nil, logx.Nop())
	lch := &launchRecorder{}
	return &fixture{
		clk:   clk,
		store: store,
		reg:   reg,
		lch:   lch,
		svc:   New(cfg, store, reg, lch, clk, nil, logx.Nop()),
	}
}

func (f *fixture) addSchedule(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.Add(context.Background(), schedule.Schedule{
		ID:         id,
		TargetURL:  "https://example.com/live",
		Window:     schedule.Window{Start: schedule.TimeOfDay{Hour: 14}, End: schedule.TimeOfDay{Hour: 14, Minute: 5}},
		Recurrence: schedule.Recurrence{Kind: schedule.Daily},
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("add schedule: %v", err)
	}
}

// restart rebuilds store, registry and evaluator from the surviving records,
// the way a new process seeds itself from persistence.
func (f *fixture) restart(t *testing.T) {
	t.Helper()
	store := schedule.NewStore(f.clk, nil, logx.Nop())
	store.Load(f.store.List())
	reg := job.NewRegistry(f.clk, nil, nil, logx.Nop())
	reg.Load(context.Background(), f.reg.ListAll())
	f.store = store
	f.reg = reg
	f.lch = &launchRecorder{}
	f.svc = New(Config{}, store, reg, f.lch, f.clk, nil, logx.Nop())
}

// kill drives the schedule's monitored job to failed/crash.
func (f *fixture) kill(t *testing.T, scheduleID string) {
	t.Helper()
	ctx := context.Background()
	mon, ok := f.reg.Monitored(scheduleID)
	if !ok {
		t.Fatal("no monitored job to kill")
	}
	f.reg.Transition(ctx, mon.ID, job.StateProbing, job.StopNone)
	f.reg.Transition(ctx, mon.ID, job.StateActive, job.StopNone)
	if _, err := f.reg.Transition(ctx, mon.ID, job.StateFailed, job.StopCrash); err != nil {
		t.Fatalf("kill: %v", err)
	}
}

func TestEvaluatorWindowLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.addSchedule(t, "s")
	ctx := context.Background()

	// 13:59, window closed.
	f.svc.TickNow(ctx)
	if f.lch.count() != 0 {
		t.Fatal("nothing should start before the window opens")
	}

	// 14:00, window opens: one job.
	f.clk.Advance(time.Minute)
	f.svc.TickNow(ctx)
	if f.lch.count() != 1 {
		t.Fatalf("launched = %d, want 1", f.lch.count())
	}

	// 14:01, job still live: no duplicate.
	f.clk.Advance(time.Minute)
	f.svc.TickNow(ctx)
	if f.lch.count() != 1 {
		t.Fatalf("launched = %d, want still 1", f.lch.count())
	}

	// Job crashes mid-window: next tick auto-resumes.
	f.kill(t, "s")
	f.clk.Advance(time.Minute)
	f.svc.TickNow(ctx)
	if f.lch.count() != 2 {
		t.Fatalf("launched = %d, want 2 after crash", f.lch.count())
	}

	// The schedule's evaluation time is kept current.
	got, _ := f.store.Get("s")
	if !got.LastEvaluatedAt.Equal(f.clk.Now()) {
		t.Fatalf("LastEvaluatedAt = %v, want %v", got.LastEvaluatedAt, f.clk.Now())
	}

	// 14:05, window closed: crash no longer resumes.
	f.kill(t, "s")
	f.clk.Advance(3 * time.Minute)
	f.svc.TickNow(ctx)
	if f.lch.count() != 2 {
		t.Fatalf("launched = %d, want no starts after close", f.lch.count())
	}
}

func TestEvaluatorManualStopSuppresses(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.addSchedule(t, "s")
	ctx := context.Background()

	f.clk.Advance(time.Minute) // 14:00
	f.svc.TickNow(ctx)
	if f.lch.count() != 1 {
		t.Fatalf("launched = %d, want 1", f.lch.count())
	}

	// Operator stops the recording.
	mon, _ := f.reg.Monitored("s")
	f.reg.Transition(ctx, mon.ID, job.StateProbing, job.StopNone)
	if _, err := f.reg.Transition(ctx, mon.ID, job.StateStoppedManual, job.StopManual); err != nil {
		t.Fatalf("manual stop: %v", err)
	}

	// Remaining ticks of the open window must not restart it.
	for i := 0; i < 3; i++ {
		f.clk.Advance(time.Minute)
		f.svc.TickNow(ctx)
	}
	if f.lch.count() != 1 {
		t.Fatalf("launched = %d, manual stop must suppress restarts", f.lch.count())
	}

	// Next day's occurrence records again.
	f.clk.Advance(24 * time.Hour)
	f.clk.Set(f.clk.Now().Truncate(24 * time.Hour).Add(14 * time.Hour))
	f.svc.TickNow(ctx)
	if f.lch.count() != 2 {
		t.Fatalf("launched = %d, want a fresh job on the next occurrence", f.lch.count())
	}
}

func TestEvaluatorRestartKeepsManualStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.addSchedule(t, "s")
	ctx := context.Background()

	f.clk.Advance(time.Minute) // 14:00
	f.svc.TickNow(ctx)
	if f.lch.count() != 1 {
		t.Fatalf("launched = %d, want 1", f.lch.count())
	}

	mon, _ := f.reg.Monitored("s")
	f.reg.Transition(ctx, mon.ID, job.StateProbing, job.StopNone)
	if _, err := f.reg.Transition(ctx, mon.ID, job.StateStoppedManual, job.StopManual); err != nil {
		t.Fatalf("manual stop: %v", err)
	}
	f.clk.Advance(time.Minute) // 14:01, persists the evaluation time
	f.svc.TickNow(ctx)

	// The process restarts mid-window. The persisted evaluation time proves
	// the occurrence was already handled, so the manual stop keeps holding.
	f.restart(t)
	f.clk.Advance(time.Minute) // 14:02
	f.svc.TickNow(ctx)
	if f.lch.count() != 0 {
		t.Fatalf("launched = %d, manual stop must survive a restart", f.lch.count())
	}

	// The next occurrence is unaffected.
	f.clk.Advance(24 * time.Hour)
	f.clk.Set(f.clk.Now().Truncate(24 * time.Hour).Add(14 * time.Hour))
	f.svc.TickNow(ctx)
	if f.lch.count() != 1 {
		t.Fatalf("launched = %d, want a fresh job on the next occurrence", f.lch.count())
	}
}

func TestEvaluatorRestartResumesCrashedJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.addSchedule(t, "s")
	ctx := context.Background()

	f.clk.Advance(time.Minute) // 14:00
	f.svc.TickNow(ctx)
	if f.lch.count() != 1 {
		t.Fatalf("launched = %d, want 1", f.lch.count())
	}

	// The process dies with the job still live; reloading the registry
	// reconciles it to failed/crash, which must still auto-resume.
	f.restart(t)
	f.clk.Advance(time.Minute) // 14:01
	f.svc.TickNow(ctx)
	if f.lch.count() != 1 {
		t.Fatalf("launched = %d, want a resume after restart", f.lch.count())
	}
	mon, ok := f.reg.Monitored("s")
	if !ok || mon.State != job.StateCreated {
		t.Fatalf("monitored = %+v, want the replacement job", mon)
	}
}

func TestEvaluatorRefreshClearsSuppression(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.addSchedule(t, "s")
	ctx := context.Background()

	f.clk.Advance(time.Minute)
	f.svc.TickNow(ctx)
	mon, _ := f.reg.Monitored("s")
	f.reg.Transition(ctx, mon.ID, job.StateProbing, job.StopNone)
	f.reg.Transition(ctx, mon.ID, job.StateStoppedManual, job.StopManual)

	f.clk.Advance(time.Minute)
	f.svc.TickNow(ctx)
	if f.lch.count() != 1 {
		t.Fatal("suppressed before refresh")
	}

	f.svc.Refresh()
	f.clk.Advance(time.Minute)
	f.svc.TickNow(ctx)
	if f.lch.count() != 2 {
		t.Fatalf("launched = %d, refresh must re-arm open windows", f.lch.count())
	}
}

func TestEvaluatorDisabledSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.addSchedule(t, "s")
	ctx := context.Background()

	if _, err := f.store.Update(ctx, "s", func(s *schedule.Schedule) { s.Enabled = false }); err != nil {
		t.Fatalf("disable: %v", err)
	}

	f.clk.Advance(time.Minute)
	f.svc.TickNow(ctx)
	if f.lch.count() != 0 {
		t.Fatal("disabled schedules never start jobs")
	}
}

func TestEvaluatorConcurrencyCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{MaxConcurrent: 1})
	f.addSchedule(t, "a")
	f.addSchedule(t, "b")
	ctx := context.Background()

	f.clk.Advance(time.Minute)
	f.svc.TickNow(ctx)
	if f.lch.count() != 1 {
		t.Fatalf("launched = %d, cap of 1 must defer the second schedule", f.lch.count())
	}

	// Capacity frees up: the deferred schedule starts on a later tick.
	live := f.reg.ListActive()
	f.reg.Transition(ctx, live[0].ID, job.StateProbing, job.StopNone)
	f.reg.Transition(ctx, live[0].ID, job.StateStoppedManual, job.StopManual)
	f.clk.Advance(time.Minute)
	f.svc.TickNow(ctx)
	if f.lch.count() != 2 {
		t.Fatalf("launched = %d, want deferred schedule started", f.lch.count())
	}
}
