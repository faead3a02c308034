package storage

import (
	"context"
	"errors"
	"time"

	"streamvault/internal/job"
	"streamvault/internal/schedule"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file":   dependency-free JSON snapshot
//
// If Driver is "none", storage is disabled and nothing survives a restart.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API behind the schedule store and job registry.
// Records must survive process restart; reconciliation of non-terminal jobs
// happens in the registry, not here.
type Store interface {
	SaveSchedule(ctx context.Context, s schedule.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context) ([]schedule.Schedule, error)

	SaveJob(ctx context.Context, j job.DownloadJob) error
	ListJobs(ctx context.Context) ([]job.DownloadJob, error)
	// DeleteJobs removes job records by id (retention pruning).
	DeleteJobs(ctx context.Context, ids []string) (int, error)

	Close() error
}
