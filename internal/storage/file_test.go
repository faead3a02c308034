package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"streamvault/internal/job"
	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

func openTestStore(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	created := time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)

	st := openTestStore(t, path)
	sch := schedule.Schedule{
		ID:         "sched-1",
		TargetURL:  "https://example.com/live",
		NamePrefix: "show",
		Window:     schedule.Window{Start: schedule.TimeOfDay{Hour: 14}, End: schedule.TimeOfDay{Hour: 16}},
		Recurrence: schedule.Recurrence{Kind: schedule.Daily},
		Capture:    schedule.CaptureParams{}.WithDefaults(),
		Enabled:    true,
		CreatedAt:  created,
	}
	if err := st.SaveSchedule(ctx, sch); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}

	jb := job.DownloadJob{
		ID:         "job-1",
		ScheduleID: "sched-1",
		TargetURL:  sch.TargetURL,
		State:      job.StateActive,
		Monitored:  true,
		CreatedAt:  created.Add(2 * time.Hour),
	}
	if err := st.SaveJob(ctx, jb); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	// Reopen: everything must survive, window times included.
	st2 := openTestStore(t, path)
	scheds, err := st2.ListSchedules(ctx)
	if err != nil || len(scheds) != 1 {
		t.Fatalf("ListSchedules: %v, %d records", err, len(scheds))
	}
	got := scheds[0]
	if got.ID != sch.ID || got.Window.Start != sch.Window.Start || !got.CreatedAt.Equal(created) {
		t.Fatalf("schedule round trip: %+v", got)
	}
	if got.Capture.Container != "mp4" {
		t.Fatalf("capture params lost: %+v", got.Capture)
	}

	jobs, err := st2.ListJobs(ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListJobs: %v, %d records", err, len(jobs))
	}
	if jobs[0].State != job.StateActive || !jobs[0].Monitored {
		t.Fatalf("job round trip: %+v", jobs[0])
	}
}

func TestFileStoreDelete(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	st := openTestStore(t, path)

	st.SaveSchedule(ctx, schedule.Schedule{ID: "s"})
	if err := st.DeleteSchedule(ctx, "s"); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}

	st.SaveJob(ctx, job.DownloadJob{ID: "a"})
	st.SaveJob(ctx, job.DownloadJob{ID: "b"})
	n, err := st.DeleteJobs(ctx, []string{"a", "ghost"})
	if err != nil || n != 1 {
		t.Fatalf("DeleteJobs = %d, %v", n, err)
	}

	st2 := openTestStore(t, path)
	if scheds, _ := st2.ListSchedules(ctx); len(scheds) != 0 {
		t.Fatalf("schedules after delete: %d", len(scheds))
	}
	jobs, _ := st2.ListJobs(ctx)
	if len(jobs) != 1 || jobs[0].ID != "b" {
		t.Fatalf("jobs after delete: %+v", jobs)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled storage: %v, %v", st, err)
	}
}

func TestListOrder(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	st := openTestStore(t, path)

	base := time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)
	st.SaveSchedule(ctx, schedule.Schedule{ID: "new", CreatedAt: base.Add(time.Hour)})
	st.SaveSchedule(ctx, schedule.Schedule{ID: "old", CreatedAt: base})

	scheds, _ := st.ListSchedules(ctx)
	if len(scheds) != 2 || scheds[0].ID != "old" {
		t.Fatalf("schedules must list oldest first: %+v", scheds)
	}
}
