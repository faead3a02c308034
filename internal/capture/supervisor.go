package capture

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"streamvault/internal/clock"
	"streamvault/internal/job"
	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

// thumbnailTimeout bounds the still-frame extraction after a recording
// completes; a hung extractor must not hold the terminal transition hostage.
const thumbnailTimeout = 30 * time.Second

// Supervisor owns one job's lifecycle from probing through a terminal state.
// It is the only component that requests transitions for its job; the registry
// enforces the state machine underneath.
type Supervisor struct {
	jobID string
	reg   *job.Registry
	det   Detector
	cap   Capturer
	clk   clock.Clock
	log   logx.Logger

	outputDir        string
	probeTimeout     time.Duration
	progressInterval time.Duration

	stopRequested atomic.Bool
	stopOnce      sync.Once
	stop          chan struct{}
	done          chan struct{}
}

func newSupervisor(j job.DownloadJob, cfg Config, reg *job.Registry, det Detector, cap Capturer, clk clock.Clock, log logx.Logger) *Supervisor {
	return &Supervisor{
		jobID:            j.ID,
		reg:              reg,
		det:              det,
		cap:              cap,
		clk:              clk,
		log:              log.With(logx.String("job", j.ID)),
		outputDir:        cfg.OutputDir,
		probeTimeout:     cfg.ProbeTimeout,
		progressInterval: cfg.ProgressInterval,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// Stop requests a manual stop. Idempotent: a second call, or a call after the
// job reached a terminal state, is a no-op. The manual flag is set before the
// context is cancelled so the outcome can never race to FAILED.
func (s *Supervisor) Stop() {
	s.stopRequested.Store(true)
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed when the supervisor has finished and its job is terminal.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// run drives the job to a terminal state. Errors never escape: every failure
// is absorbed into the job record.
func (s *Supervisor) run(parent context.Context) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	j, err := s.reg.Get(s.jobID)
	if err != nil {
		s.log.Error("supervisor lost its job record", logx.Err(err))
		return
	}

	if _, err := s.reg.Transition(ctx, s.jobID, job.StateProbing, job.StopNone); err != nil {
		// Already stopped before we started (manual stop raced creation).
		s.log.Debug("probe transition rejected", logx.Err(err))
		return
	}

	res := s.probe(ctx, j)
	switch res.Outcome {
	case StreamNotFound:
		s.finish(job.StateFailed, job.StopError)
		s.log.Info("no stream found", logx.String("url", j.TargetURL))
		return
	case DetectFailed:
		s.finish(job.StateFailed, job.StopError)
		s.log.Warn("stream detection failed", logx.String("url", j.TargetURL), logx.String("reason", res.Reason))
		return
	case StreamFound:
		// fall through to capture
	}

	active, err := s.reg.Transition(ctx, s.jobID, job.StateActive, job.StopNone)
	if err != nil {
		s.log.Debug("active transition rejected", logx.Err(err))
		return
	}

	outName := schedule.OutputFileName(j.NamePrefix, active.StartedAt, j.Capture.Container)
	outputPath := filepath.Join(s.outputDir, outName)
	thumbPath := filepath.Join(s.outputDir, schedule.ThumbnailFileName(j.NamePrefix, active.StartedAt))
	if err := s.reg.SetPaths(ctx, s.jobID, outputPath, thumbPath); err != nil {
		s.log.Warn("paths not recorded", logx.Err(err))
	}

	s.log.Info("recording started",
		logx.String("stream", res.StreamURL),
		logx.String("output", outputPath))

	progress := make(chan Progress, 8)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pumpProgress(ctx, progress)
	}()

	capRes := s.cap.Capture(ctx, res.StreamURL, outputPath, j.Capture, progress)
	close(progress)
	<-pumpDone

	// The thumbnail path was recorded optimistically before capture; every
	// outcome but a completed recording clears it again so the record never
	// points at a file that was not created.
	switch {
	case s.stopRequested.Load():
		s.setPaths(outputPath, "")
		s.finish(job.StateStoppedManual, job.StopManual)
		s.log.Info("recording stopped by user")
	case capRes.Outcome == CaptureCompleted:
		s.makeThumbnail(outputPath, thumbPath)
		s.finish(job.StateCompleted, job.StopStreamEnded)
		s.log.Info("recording completed, stream ended")
	case capRes.Outcome == CaptureCancelled:
		// Cancelled without a stop request: the process is shutting down.
		// Leave the job for restart reconciliation to mark as crashed.
		s.setPaths(outputPath, "")
		s.log.Info("recording interrupted by shutdown")
	default:
		s.setPaths(outputPath, "")
		s.finish(job.StateFailed, job.StopCrash)
		s.log.Warn("capture crashed", logx.String("reason", capRes.Reason))
	}
}

// makeThumbnail renders a still from the finished recording when the capturer
// supports it. A failed extraction downgrades to a recording without a
// thumbnail and clears the recorded path.
func (s *Supervisor) makeThumbnail(outputPath, thumbPath string) {
	ext, ok := s.cap.(ThumbnailExtractor)
	if !ok {
		s.setPaths(outputPath, "")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), thumbnailTimeout)
	defer cancel()
	if err := ext.ExtractThumbnail(ctx, outputPath, thumbPath); err != nil {
		s.log.Warn("thumbnail extraction failed", logx.Err(err))
		s.setPaths(outputPath, "")
		return
	}
	s.log.Debug("thumbnail extracted", logx.String("thumbnail", thumbPath))
}

// setPaths rewrites the recorded paths on a fresh context; the run context is
// usually already cancelled by the time the outcome is known.
func (s *Supervisor) setPaths(outputPath, thumbPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.reg.SetPaths(ctx, s.jobID, outputPath, thumbPath); err != nil {
		s.log.Warn("paths not recorded", logx.Err(err))
	}
}

// probe asks the detection collaborator for a stream URL, bounded by the
// probe timeout. A manual stop during probing surfaces as DetectFailed here
// and is resolved by the stopRequested check in finish.
func (s *Supervisor) probe(ctx context.Context, j job.DownloadJob) DetectResult {
	pctx := ctx
	if s.probeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.probeTimeout)
		defer cancel()
	}
	return s.det.DetectStream(pctx, j.TargetURL, j.Capture)
}

// pumpProgress forwards capture progress into the registry, throttled so the
// registry sees at most one write per progress interval no matter how chatty
// the collaborator is.
func (s *Supervisor) pumpProgress(ctx context.Context, progress <-chan Progress) {
	interval := s.progressInterval
	if interval <= 0 {
		interval = time.Second
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)
	for p := range progress {
		if ctx.Err() != nil {
			// Drain remaining ticks without writing.
			continue
		}
		if !lim.Allow() {
			continue
		}
		s.reg.UpdateProgress(s.jobID, p.BytesWritten, p.Elapsed)
	}
}

// finish applies the terminal transition, preferring manual when a stop was
// requested at any point. An InvalidTransition here means the job is already
// terminal, which is fine (stop idempotence).
func (s *Supervisor) finish(state job.State, reason job.StopReason) {
	if s.stopRequested.Load() {
		state, reason = job.StateStoppedManual, job.StopManual
	}
	// Use a fresh context: the run context is often already cancelled and the
	// terminal state must still be persisted.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.reg.Transition(ctx, s.jobID, state, reason); err != nil {
		if !errors.Is(err, job.ErrInvalidTransition) {
			s.log.Error("terminal transition failed", logx.Err(err))
		}
	}
}
