package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"streamvault/internal/job"
	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

// fileStore is a dependency-free persistence backend: a single JSON snapshot
// rewritten atomically (temp file + rename) on every mutation. Fine for the
// write rates this engine produces; use the sqlite driver for anything busier.
type fileStore struct {
	log  logx.Logger
	path string

	mu        sync.Mutex
	schedules map[string]schedule.Schedule
	jobs      map[string]job.DownloadJob
}

type fileSnapshot struct {
	Schedules []schedule.Schedule `json:"schedules"`
	Jobs      []job.DownloadJob   `json:"jobs"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{
		log:       log,
		path:      path,
		schedules: map[string]schedule.Schedule{},
		jobs:      map[string]job.DownloadJob{},
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fresh store
	case err != nil:
		return nil, err
	default:
		var snap fileSnapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			return nil, err
		}
		for _, s := range snap.Schedules {
			st.schedules[s.ID] = s
		}
		for _, j := range snap.Jobs {
			st.jobs[j.ID] = j
		}
	}
	return st, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) SaveSchedule(_ context.Context, sch schedule.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sch.ID] = sch
	return s.flushLocked()
}

func (s *fileStore) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
	return s.flushLocked()
}

func (s *fileStore) ListSchedules(_ context.Context) ([]schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schedule.Schedule, 0, len(s.schedules))
	for _, sch := range s.schedules {
		out = append(out, sch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fileStore) SaveJob(_ context.Context, j job.DownloadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return s.flushLocked()
}

func (s *fileStore) ListJobs(_ context.Context) ([]job.DownloadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job.DownloadJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fileStore) DeleteJobs(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.jobs[id]; ok {
			delete(s.jobs, id)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.flushLocked()
}

func (s *fileStore) flushLocked() error {
	snap := fileSnapshot{
		Schedules: make([]schedule.Schedule, 0, len(s.schedules)),
		Jobs:      make([]job.DownloadJob, 0, len(s.jobs)),
	}
	for _, sch := range s.schedules {
		snap.Schedules = append(snap.Schedules, sch)
	}
	for _, j := range s.jobs {
		snap.Jobs = append(snap.Jobs, j)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool {
		return snap.Schedules[i].CreatedAt.Before(snap.Schedules[j].CreatedAt)
	})
	sort.Slice(snap.Jobs, func(i, j int) bool {
		return snap.Jobs[i].CreatedAt.Before(snap.Jobs[j].CreatedAt)
	})

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
