package capture

import (
	"context"
	"time"

	"streamvault/internal/schedule"
)

// DetectOutcome tags the result of a stream probe. The set is closed so every
// call site handles all three cases.
type DetectOutcome int

const (
	StreamFound DetectOutcome = iota
	StreamNotFound
	DetectFailed
)

// DetectResult is the outcome of probing a page for a live stream.
// StreamURL is set only for StreamFound; Reason only for DetectFailed.
type DetectResult struct {
	Outcome   DetectOutcome
	StreamURL string
	Reason    string
}

// Detector is the browser/page-inspection collaborator boundary. Probing is
// synchronous from the caller's view and must honor ctx cancellation.
type Detector interface {
	DetectStream(ctx context.Context, pageURL string, params schedule.CaptureParams) DetectResult
}

// Progress is one advisory progress tick from a running capture.
type Progress struct {
	BytesWritten int64
	Elapsed      time.Duration
}

// CaptureOutcome tags how a capture run ended.
type CaptureOutcome int

const (
	CaptureCompleted CaptureOutcome = iota // stream ended naturally, clean exit
	CaptureCrashed                         // nonzero exit or runtime error
	CaptureCancelled                       // ctx cancelled before the stream ended
)

// CaptureResult is the terminal outcome of one capture run.
type CaptureResult struct {
	Outcome CaptureOutcome
	Reason  string
}

// Capturer is the media capture collaborator boundary. Capture blocks until
// the stream ends, the process fails, or ctx is cancelled. Progress ticks are
// sent best-effort on the progress channel (never blocking); the channel is
// not closed by the capturer.
type Capturer interface {
	Capture(ctx context.Context, streamURL, outputPath string, params schedule.CaptureParams, progress chan<- Progress) CaptureResult
}

// ThumbnailExtractor is implemented by capturers that can render a still from
// a finished recording. Capturers without it simply produce no thumbnail.
type ThumbnailExtractor interface {
	ExtractThumbnail(ctx context.Context, videoPath, thumbPath string) error
}
