package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamvault/internal/clock"
	"streamvault/internal/eventbus"
	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

// Persister is the slice of the storage layer the registry writes through to.
type Persister interface {
	SaveJob(ctx context.Context, j DownloadJob) error
}

// record pairs a job with its own mutex so mutations on one job never
// serialize against mutations on another.
type record struct {
	mu  sync.Mutex
	job DownloadJob
}

// Registry owns every DownloadJob record. All mutations of a single job are
// linearized behind the record mutex; the registry mutex only guards the
// id maps and the per-schedule monitored pointer.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*record
	order     []string          // creation order
	monitored map[string]string // scheduleID -> jobID of the monitored job

	clk     clock.Clock
	persist Persister
	bus     eventbus.Bus
	log     logx.Logger
}

func NewRegistry(clk clock.Clock, persist Persister, bus eventbus.Bus, log logx.Logger) *Registry {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		jobs:      map[string]*record{},
		monitored: map[string]string{},
		clk:       clk,
		persist:   persist,
		bus:       bus,
		log:       log,
	}
}

// Spec describes the job to create. ScheduleID empty means a direct download.
type Spec struct {
	ScheduleID string
	TargetURL  string
	NamePrefix string
	Capture    schedule.CaptureParams
}

// Create atomically creates a job in StateCreated with a fresh id. When the
// job belongs to a schedule it becomes that schedule's monitored job and the
// flag on the previous monitored job (if any) is cleared; the previous job's
// own state is left untouched.
func (r *Registry) Create(ctx context.Context, spec Spec) DownloadJob {
	j := DownloadJob{
		ID:         uuid.NewString(),
		ScheduleID: spec.ScheduleID,
		TargetURL:  spec.TargetURL,
		NamePrefix: spec.NamePrefix,
		Capture:    spec.Capture,
		State:      StateCreated,
		StopReason: StopNone,
		CreatedAt:  r.clk.Now(),
		Monitored:  spec.ScheduleID != "",
	}

	var demoted *DownloadJob

	r.mu.Lock()
	rec := &record{job: j}
	r.jobs[j.ID] = rec
	r.order = append(r.order, j.ID)
	if spec.ScheduleID != "" {
		if prevID, ok := r.monitored[spec.ScheduleID]; ok {
			if prev, ok := r.jobs[prevID]; ok {
				prev.mu.Lock()
				prev.job.Monitored = false
				cp := prev.job
				prev.mu.Unlock()
				demoted = &cp
			}
		}
		r.monitored[spec.ScheduleID] = j.ID
	}
	r.mu.Unlock()

	r.save(ctx, j)
	if demoted != nil {
		r.save(ctx, *demoted)
	}
	r.log.Debug("job created",
		logx.String("job", j.ID),
		logx.String("schedule", spec.ScheduleID),
		logx.String("url", spec.TargetURL))
	return j
}

// Transition moves a job to newState, failing with ErrInvalidTransition if
// the state machine forbids it and ErrNotFound for unknown ids. Terminal
// states stamp EndedAt; entering StateActive stamps StartedAt.
func (r *Registry) Transition(ctx context.Context, jobID string, newState State, reason StopReason) (DownloadJob, error) {
	rec, err := r.lookup(jobID)
	if err != nil {
		return DownloadJob{}, err
	}

	rec.mu.Lock()
	from := rec.job.State
	if !legal(from, newState) {
		rec.mu.Unlock()
		return DownloadJob{}, fmt.Errorf("job %s: %s -> %s: %w", jobID, from, newState, ErrInvalidTransition)
	}
	rec.job.State = newState
	if newState == StateActive {
		rec.job.StartedAt = r.clk.Now()
	}
	if newState.Terminal() {
		rec.job.EndedAt = r.clk.Now()
		if reason != "" {
			rec.job.StopReason = reason
		}
	}
	cp := rec.job
	rec.mu.Unlock()

	r.save(ctx, cp)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: EventJobTransition, Data: TransitionEvent{Job: cp, From: from}})
	}
	r.log.Info("job transition",
		logx.String("job", jobID),
		logx.String("from", string(from)),
		logx.String("to", string(newState)),
		logx.String("reason", string(cp.StopReason)))
	return cp, nil
}

// SetPaths records the output locations chosen by the capture supervisor.
// Ignored once the job is terminal.
func (r *Registry) SetPaths(ctx context.Context, jobID, outputPath, thumbnailPath string) error {
	rec, err := r.lookup(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	if rec.job.State.Terminal() {
		rec.mu.Unlock()
		return nil
	}
	rec.job.OutputPath = outputPath
	rec.job.ThumbnailPath = thumbnailPath
	cp := rec.job
	rec.mu.Unlock()
	r.save(ctx, cp)
	return nil
}

// UpdateProgress advances the progress counters. Advisory only: an update
// racing a terminal transition is dropped silently, and counters never go
// backwards.
func (r *Registry) UpdateProgress(jobID string, bytesWritten int64, elapsed time.Duration) {
	rec, err := r.lookup(jobID)
	if err != nil {
		return
	}
	rec.mu.Lock()
	if !rec.job.State.Terminal() {
		if bytesWritten > rec.job.BytesWritten {
			rec.job.BytesWritten = bytesWritten
		}
		if elapsed > rec.job.Elapsed {
			rec.job.Elapsed = elapsed
		}
	}
	rec.mu.Unlock()
}

func (r *Registry) Get(jobID string) (DownloadJob, error) {
	rec, err := r.lookup(jobID)
	if err != nil {
		return DownloadJob{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job, nil
}

// Monitored returns the monitored job of a schedule, if any.
func (r *Registry) Monitored(scheduleID string) (DownloadJob, bool) {
	r.mu.RLock()
	id, ok := r.monitored[scheduleID]
	var rec *record
	if ok {
		rec = r.jobs[id]
	}
	r.mu.RUnlock()
	if rec == nil {
		return DownloadJob{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job, true
}

// ListActive returns all non-terminal jobs in creation order.
func (r *Registry) ListActive() []DownloadJob {
	return r.list(func(j DownloadJob) bool { return !j.State.Terminal() })
}

// ListForSchedule returns a schedule's job history in creation order.
func (r *Registry) ListForSchedule(scheduleID string) []DownloadJob {
	return r.list(func(j DownloadJob) bool { return j.ScheduleID == scheduleID })
}

// ListAll returns every known job in creation order.
func (r *Registry) ListAll() []DownloadJob {
	return r.list(func(DownloadJob) bool { return true })
}

// CountActive reports how many jobs are non-terminal (for the concurrency cap).
func (r *Registry) CountActive() int {
	return len(r.ListActive())
}

// Remove drops terminal jobs from the in-memory maps (retention pruning).
// Non-terminal jobs are never removed.
func (r *Registry) Remove(ids []string) int {
	removed := 0
	r.mu.Lock()
	for _, id := range ids {
		rec, ok := r.jobs[id]
		if !ok {
			continue
		}
		rec.mu.Lock()
		terminal := rec.job.State.Terminal()
		schedID := rec.job.ScheduleID
		rec.mu.Unlock()
		if !terminal {
			continue
		}
		delete(r.jobs, id)
		if schedID != "" && r.monitored[schedID] == id {
			delete(r.monitored, schedID)
		}
		removed++
	}
	if removed > 0 {
		kept := r.order[:0]
		for _, id := range r.order {
			if _, ok := r.jobs[id]; ok {
				kept = append(kept, id)
			}
		}
		r.order = kept
	}
	r.mu.Unlock()
	return removed
}

// Load seeds the registry from persisted records (process restart). Jobs left
// non-terminal by a previous process are reconciled to failed/crash so the
// evaluator's auto-resume rule can pick them up. Returns the reconciled jobs.
func (r *Registry) Load(ctx context.Context, jobs []DownloadJob) []DownloadJob {
	var reconciled []DownloadJob
	r.mu.Lock()
	for i := range jobs {
		j := jobs[i]
		if _, dup := r.jobs[j.ID]; dup {
			continue
		}
		if !j.State.Terminal() {
			j.State = StateFailed
			j.StopReason = StopCrash
			j.EndedAt = r.clk.Now()
			reconciled = append(reconciled, j)
		}
		r.jobs[j.ID] = &record{job: j}
		r.order = append(r.order, j.ID)
		if j.Monitored && j.ScheduleID != "" {
			r.monitored[j.ScheduleID] = j.ID
		}
	}
	r.mu.Unlock()

	for _, j := range reconciled {
		r.save(ctx, j)
		r.log.Warn("job reconciled after restart",
			logx.String("job", j.ID),
			logx.String("schedule", j.ScheduleID))
	}
	return reconciled
}

func (r *Registry) lookup(jobID string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return rec, nil
}

func (r *Registry) list(keep func(DownloadJob) bool) []DownloadJob {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.order))
	for _, id := range r.order {
		if rec, ok := r.jobs[id]; ok {
			recs = append(recs, rec)
		}
	}
	r.mu.RUnlock()

	out := make([]DownloadJob, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		j := rec.job
		rec.mu.Unlock()
		if keep(j) {
			out = append(out, j)
		}
	}
	return out
}

func (r *Registry) save(ctx context.Context, j DownloadJob) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveJob(ctx, j); err != nil {
		r.log.Warn("job not persisted", logx.String("job", j.ID), logx.Err(err))
	}
}
