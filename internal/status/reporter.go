// Package status assembles read-only snapshots of the whole engine for the
// API and for operators. It never mutates anything.
package status

import (
	"time"

	"streamvault/internal/clock"
	"streamvault/internal/eventbus"
	"streamvault/internal/job"
	"streamvault/internal/schedule"
)

// ScheduleStatus is one schedule plus its evaluated window state and the job
// the evaluator currently watches for it.
type ScheduleStatus struct {
	Schedule    schedule.Schedule `json:"schedule"`
	WindowOpen  bool              `json:"window_open"`
	NextOpening *time.Time        `json:"next_opening,omitempty"`
	Monitored   *job.DownloadJob  `json:"monitored_job,omitempty"`
}

// Snapshot is a point-in-time view of the engine.
type Snapshot struct {
	Now           time.Time         `json:"now"`
	Schedules     []ScheduleStatus  `json:"schedules"`
	ActiveJobs    []job.DownloadJob `json:"active_jobs"`
	DirectJobs    []job.DownloadJob `json:"direct_jobs"`
	TotalJobs     int               `json:"total_jobs"`
	EventsDropped uint64            `json:"events_dropped"`
}

type Reporter struct {
	store *schedule.Store
	reg   *job.Registry
	bus   eventbus.Bus
	clk   clock.Clock
}

func NewReporter(store *schedule.Store, reg *job.Registry, bus eventbus.Bus, clk clock.Clock) *Reporter {
	if clk == nil {
		clk = clock.System()
	}
	return &Reporter{store: store, reg: reg, bus: bus, clk: clk}
}

func (r *Reporter) Snapshot() Snapshot {
	now := r.clk.Now()
	all := r.reg.ListAll()

	snap := Snapshot{
		Now:       now,
		Schedules: []ScheduleStatus{},
		TotalJobs: len(all),
	}
	if r.bus != nil {
		snap.EventsDropped = r.bus.Dropped()
	}

	for _, sch := range r.store.List() {
		ss := ScheduleStatus{
			Schedule:   sch,
			WindowOpen: sch.WindowOpenAt(now),
		}
		if next := sch.NextOpening(now); !next.IsZero() {
			ss.NextOpening = &next
		}
		if mon, ok := r.reg.Monitored(sch.ID); ok {
			ss.Monitored = &mon
		}
		snap.Schedules = append(snap.Schedules, ss)
	}

	snap.ActiveJobs = []job.DownloadJob{}
	snap.DirectJobs = []job.DownloadJob{}
	for _, j := range all {
		if !j.State.Terminal() {
			snap.ActiveJobs = append(snap.ActiveJobs, j)
		}
		if j.ScheduleID == "" {
			snap.DirectJobs = append(snap.DirectJobs, j)
		}
	}
	return snap
}
