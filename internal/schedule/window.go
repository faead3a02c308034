package schedule

import "time"

// WindowOpenAt reports whether the schedule's window is open at now.
//
// The interval is half-open: a tick exactly at the start minute is inside,
// a tick exactly at the end minute is not. Wrapped windows (end < start)
// span two calendar days; the portion after midnight counts against the
// recurrence of the day the window started on.
func (s *Schedule) WindowOpenAt(now time.Time) bool {
	return windowOpenAt(s.Window, s.Recurrence, now)
}

func windowOpenAt(w Window, r Recurrence, now time.Time) bool {
	nowMin := now.Hour()*60 + now.Minute()
	start := w.Start.minuteOfDay()
	end := w.End.minuteOfDay()

	if !w.Wraps() {
		return nowMin >= start && nowMin < end && r.appliesOn(now)
	}

	// Wrapped: either in the evening head (today's occurrence) or the
	// post-midnight tail (yesterday's occurrence).
	if nowMin >= start {
		return r.appliesOn(now)
	}
	if nowMin < end {
		return r.appliesOn(now.AddDate(0, 0, -1))
	}
	return false
}

// OccurrenceStart identifies the window occurrence that is open at now: the
// instant the occurrence opened. For a wrapped window observed after midnight
// that is the previous day's start time. Only meaningful when WindowOpenAt(now)
// is true.
func (s *Schedule) OccurrenceStart(now time.Time) time.Time {
	start := s.Window.Start
	day := now
	if s.Window.Wraps() {
		nowMin := now.Hour()*60 + now.Minute()
		if nowMin < s.Window.End.minuteOfDay() {
			day = now.AddDate(0, 0, -1)
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), start.Hour, start.Minute, 0, 0, now.Location())
}

// NextOpening returns the next instant at or after now at which the window
// opens, or the zero time when the recurrence has no further occurrence
// (a Once schedule whose date has passed). Used only for status display.
func (s *Schedule) NextOpening(now time.Time) time.Time {
	start := s.Window.Start
	for i := 0; i < 8; i++ {
		day := now.AddDate(0, 0, i)
		open := time.Date(day.Year(), day.Month(), day.Day(), start.Hour, start.Minute, 0, 0, now.Location())
		if open.Before(now) {
			continue
		}
		if s.Recurrence.appliesOn(open) {
			return open
		}
	}
	if s.Recurrence.Kind == Once {
		return time.Time{}
	}
	// Weekly with a sparse set: scan further out.
	for i := 8; i < 15; i++ {
		day := now.AddDate(0, 0, i)
		open := time.Date(day.Year(), day.Month(), day.Day(), start.Hour, start.Minute, 0, 0, now.Location())
		if s.Recurrence.appliesOn(open) {
			return open
		}
	}
	return time.Time{}
}
