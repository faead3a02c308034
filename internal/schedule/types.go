package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("schedule not found")
	ErrInvalidWindow = errors.New("invalid schedule window")
)

// TimeOfDay is a wall-clock time with minute granularity ("HH:MM").
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour, zero-padded or not).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad minute", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// MarshalJSON encodes the time as its "HH:MM" form, which is also what the
// API and the persistence layer accept back.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("time of day: %w", err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// minuteOfDay collapses the time to minutes since midnight.
func (t TimeOfDay) minuteOfDay() int { return t.Hour*60 + t.Minute }

// Window is the daily interval [Start, End) during which a schedule is
// eligible to probe and record. End earlier than Start means the window
// wraps past midnight (e.g. 23:00-01:00).
type Window struct {
	Start TimeOfDay `yaml:"start" json:"start"`
	End   TimeOfDay `yaml:"end" json:"end"`
}

func (w Window) Wraps() bool { return w.End.minuteOfDay() < w.Start.minuteOfDay() }

// Validate rejects degenerate windows. A window where start == end is
// meaningless (zero-length or full-day, depending on reading) and is refused
// at creation so it never reaches the evaluator.
func (w Window) Validate() error {
	if w.Start.minuteOfDay() == w.End.minuteOfDay() {
		return fmt.Errorf("%w: start %s equals end %s", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

// RecurrenceKind selects which calendar days a window applies.
type RecurrenceKind string

const (
	Once   RecurrenceKind = "once"
	Daily  RecurrenceKind = "daily"
	Weekly RecurrenceKind = "weekly"
)

// Recurrence is the rule for which days a schedule's window opens.
// Date is used by Once ("2006-01-02"); Weekdays by Weekly.
type Recurrence struct {
	Kind     RecurrenceKind `json:"kind"`
	Date     string         `json:"date,omitempty"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

func (r Recurrence) Validate() error {
	switch r.Kind {
	case Daily:
		return nil
	case Once:
		if _, err := time.Parse("2006-01-02", r.Date); err != nil {
			return fmt.Errorf("once recurrence: bad date %q: %w", r.Date, err)
		}
		return nil
	case Weekly:
		if len(r.Weekdays) == 0 {
			return errors.New("weekly recurrence: no weekdays")
		}
		for _, d := range r.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("weekly recurrence: bad weekday %d", d)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown recurrence kind %q", r.Kind)
	}
}

// appliesOn reports whether an occurrence may START on the given day.
// For wrapped windows the post-midnight tail belongs to the previous day's
// occurrence, which callers account for by passing that previous day.
func (r Recurrence) appliesOn(day time.Time) bool {
	switch r.Kind {
	case Daily:
		return true
	case Weekly:
		wd := day.Weekday()
		for _, d := range r.Weekdays {
			if d == wd {
				return true
			}
		}
		return false
	case Once:
		return day.Format("2006-01-02") == r.Date
	default:
		return false
	}
}

// CaptureParams are passed through to the capture collaborator.
type CaptureParams struct {
	Resolution string `json:"resolution"` // e.g. "1080p", "720p", "any"
	Framerate  string `json:"framerate"`  // e.g. "60", "30", "any"
	Format     string `json:"format"`     // "video" or "audio"
	Container  string `json:"container"`  // e.g. "mp4", "mkv", "mp3"
}

func (p CaptureParams) WithDefaults() CaptureParams {
	if p.Resolution == "" {
		p.Resolution = "1080p"
	}
	if p.Framerate == "" {
		p.Framerate = "any"
	}
	if p.Format == "" {
		p.Format = "video"
	}
	if p.Container == "" {
		if p.Format == "audio" {
			p.Container = "mp3"
		} else {
			p.Container = "mp4"
		}
	}
	return p
}

// Schedule is one archival rule: probe TargetURL during Window on the days
// Recurrence selects, and record whatever stream is found.
type Schedule struct {
	ID         string        `json:"id"`
	TargetURL  string        `json:"target_url"`
	NamePrefix string        `json:"name_prefix,omitempty"`
	Window     Window        `json:"window"`
	Recurrence Recurrence    `json:"recurrence"`
	Capture    CaptureParams `json:"capture"`
	Enabled    bool          `json:"enabled"`
	CreatedAt  time.Time     `json:"created_at"`

	// LastEvaluatedAt is the last tick the evaluator observed this schedule.
	// It lets a restarted evaluator tell a newly opened window from one that
	// was already open.
	LastEvaluatedAt time.Time `json:"last_evaluated_at,omitempty"`
}

func (s *Schedule) Validate() error {
	if strings.TrimSpace(s.TargetURL) == "" {
		return errors.New("target_url is required")
	}
	if err := s.Window.Validate(); err != nil {
		return err
	}
	return s.Recurrence.Validate()
}
