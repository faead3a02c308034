package job

import (
	"errors"
	"time"

	"streamvault/internal/schedule"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// State is the download job lifecycle state.
type State string

const (
	StateCreated       State = "created"
	StateProbing       State = "probing"
	StateActive        State = "active"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateStoppedManual State = "stopped_manual"
)

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateStoppedManual:
		return true
	}
	return false
}

// legalNext enumerates the state machine:
// created -> probing -> active -> {completed, failed, stopped_manual},
// with created/probing also allowed to fail or be stopped directly.
var legalNext = map[State]map[State]bool{
	StateCreated: {
		StateProbing:       true,
		StateFailed:        true,
		StateStoppedManual: true,
	},
	StateProbing: {
		StateActive:        true,
		StateFailed:        true,
		StateStoppedManual: true,
	},
	StateActive: {
		StateCompleted:     true,
		StateFailed:        true,
		StateStoppedManual: true,
	},
}

func legal(from, to State) bool { return legalNext[from][to] }

// StopReason explains why a job reached a terminal state. It is the sole
// user-facing explanation for why a recording ended.
type StopReason string

const (
	StopNone        StopReason = "none"
	StopManual      StopReason = "manual"
	StopCrash       StopReason = "crash"
	StopStreamEnded StopReason = "stream_ended"
	StopError       StopReason = "error"
)

// DownloadJob is one recording attempt. The registry exclusively owns these
// records; everyone else works on copies.
type DownloadJob struct {
	ID         string `json:"id"`
	ScheduleID string `json:"schedule_id,omitempty"` // empty for direct downloads

	TargetURL  string                 `json:"target_url"`
	NamePrefix string                 `json:"name_prefix,omitempty"`
	Capture    schedule.CaptureParams `json:"capture"`

	OutputPath    string `json:"output_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`

	State      State      `json:"state"`
	StopReason StopReason `json:"stop_reason"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	BytesWritten int64         `json:"bytes_written"`
	Elapsed      time.Duration `json:"elapsed"`

	// Monitored marks the most recently created job of a schedule: the only
	// one the evaluator will auto-resume. Older still-running siblings keep
	// running but are never resumed if they fail.
	Monitored bool `json:"monitored"`
}

// TransitionEvent is published on the event bus after every accepted
// state transition.
type TransitionEvent struct {
	Job  DownloadJob `json:"job"`
	From State       `json:"from"`
}

// EventJobTransition is the bus event type carrying a TransitionEvent.
const EventJobTransition = "job.transition"
