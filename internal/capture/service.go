package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"streamvault/internal/clock"
	"streamvault/internal/job"
	runsup "streamvault/internal/runtime/supervisor"
	logx "streamvault/pkg/logx"
)

// Config controls capture supervision.
type Config struct {
	OutputDir        string
	ProbeTimeout     time.Duration // how long a probe may take; 0 = no bound
	ProgressInterval time.Duration // min spacing of registry progress writes
}

func (c Config) withDefaults() Config {
	if c.OutputDir == "" {
		c.OutputDir = "./downloads"
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 45 * time.Second
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = time.Second
	}
	return c
}

// Service launches one Supervisor per job and routes stop requests to the
// instance owning the targeted job id.
type Service struct {
	cfg Config
	reg *job.Registry
	det Detector
	cap Capturer
	clk clock.Clock
	run *runsup.Supervisor
	log logx.Logger

	mu   sync.Mutex
	sups map[string]*Supervisor
}

func NewService(cfg Config, reg *job.Registry, det Detector, cap Capturer, clk clock.Clock, run *runsup.Supervisor, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg.withDefaults(),
		reg:  reg,
		det:  det,
		cap:  cap,
		clk:  clk,
		run:  run,
		log:  log,
		sups: map[string]*Supervisor{},
	}
}

// Launch starts supervising a freshly created job. Fire-and-forget: the
// supervisor runs as its own goroutine and reports outcomes only through
// registry transitions.
func (s *Service) Launch(j job.DownloadJob) {
	sup := newSupervisor(j, s.cfg, s.reg, s.det, s.cap, s.clk, s.log)

	s.mu.Lock()
	s.sups[j.ID] = sup
	s.mu.Unlock()

	s.run.Go0("capture."+j.ID, func(ctx context.Context) {
		defer func() {
			s.mu.Lock()
			delete(s.sups, j.ID)
			s.mu.Unlock()
		}()
		sup.run(ctx)
	})
}

// Stop delivers a manual stop for jobID and returns the job record afterwards.
// Idempotent: stopping an already-terminal job is a no-op, not an error.
func (s *Service) Stop(ctx context.Context, jobID string) (job.DownloadJob, error) {
	j, err := s.reg.Get(jobID)
	if err != nil {
		return job.DownloadJob{}, err
	}
	if j.State.Terminal() {
		return j, nil
	}

	s.mu.Lock()
	sup := s.sups[jobID]
	s.mu.Unlock()

	if sup != nil {
		sup.Stop()
		select {
		case <-sup.Done():
		case <-ctx.Done():
			return job.DownloadJob{}, fmt.Errorf("stop %s: %w", jobID, ctx.Err())
		}
		return s.reg.Get(jobID)
	}

	// No live supervisor (job predates a restart, or the supervisor exited on
	// shutdown): settle the record directly.
	stopped, err := s.reg.Transition(ctx, jobID, job.StateStoppedManual, job.StopManual)
	if err != nil {
		// Lost a race with the job finishing; report the terminal record.
		return s.reg.Get(jobID)
	}
	return stopped, nil
}

// Supervising reports how many capture supervisors are currently live.
func (s *Service) Supervising() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sups)
}
