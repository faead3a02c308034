package schedule

import (
	"testing"
	"time"
)

// mon is a Monday.
var mon = time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC)

func at(base time.Time, days, hour, min int) time.Time {
	return base.AddDate(0, 0, days).Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func tod(h, m int) TimeOfDay { return TimeOfDay{Hour: h, Minute: m} }

func TestWindowOpenAtDaily(t *testing.T) {
	t.Parallel()
	sch := Schedule{
		Window:     Window{Start: tod(14, 0), End: tod(16, 0)},
		Recurrence: Recurrence{Kind: Daily},
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"minute before start", at(mon, 0, 13, 59), false},
		{"exactly at start", at(mon, 0, 14, 0), true},
		{"inside", at(mon, 0, 15, 30), true},
		{"minute before end", at(mon, 0, 15, 59), true},
		{"exactly at end", at(mon, 0, 16, 0), false},
		{"after", at(mon, 0, 20, 0), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := sch.WindowOpenAt(tt.now); got != tt.want {
				t.Fatalf("WindowOpenAt(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestWindowOpenAtWrapped(t *testing.T) {
	t.Parallel()
	sch := Schedule{
		Window:     Window{Start: tod(23, 0), End: tod(1, 0)},
		Recurrence: Recurrence{Kind: Daily},
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before evening head", at(mon, 0, 22, 59), false},
		{"evening head opens", at(mon, 0, 23, 0), true},
		{"just before midnight", at(mon, 0, 23, 59), true},
		{"past midnight tail", at(mon, 1, 0, 30), true},
		{"tail closes", at(mon, 1, 1, 0), false},
		{"midday", at(mon, 0, 12, 0), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := sch.WindowOpenAt(tt.now); got != tt.want {
				t.Fatalf("WindowOpenAt(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

// A weekly overnight window belongs to the weekday it starts on: the Monday
// 23:00-01:00 window is open early Tuesday, and the Tuesday tail must not
// open when only Tuesday is configured.
func TestWindowOpenAtWeeklyWrapped(t *testing.T) {
	t.Parallel()
	sch := Schedule{
		Window:     Window{Start: tod(23, 0), End: tod(1, 0)},
		Recurrence: Recurrence{Kind: Weekly, Weekdays: []time.Weekday{time.Monday}},
	}

	if !sch.WindowOpenAt(at(mon, 0, 23, 30)) {
		t.Fatal("Monday 23:30 should be open")
	}
	if !sch.WindowOpenAt(at(mon, 1, 0, 30)) {
		t.Fatal("Tuesday 00:30 belongs to Monday's occurrence")
	}
	if sch.WindowOpenAt(at(mon, 1, 23, 30)) {
		t.Fatal("Tuesday 23:30 is not a Monday occurrence")
	}
	if sch.WindowOpenAt(at(mon, 2, 0, 30)) {
		t.Fatal("Wednesday 00:30 tail follows a Tuesday start, not Monday")
	}
}

func TestWindowOpenAtOnce(t *testing.T) {
	t.Parallel()
	sch := Schedule{
		Window:     Window{Start: tod(22, 0), End: tod(2, 0)},
		Recurrence: Recurrence{Kind: Once, Date: "2026-08-24"},
	}

	if !sch.WindowOpenAt(at(mon, 0, 23, 0)) {
		t.Fatal("the once date's evening should be open")
	}
	if !sch.WindowOpenAt(at(mon, 1, 1, 0)) {
		t.Fatal("the tail past midnight still belongs to the once date")
	}
	if sch.WindowOpenAt(at(mon, 1, 23, 0)) {
		t.Fatal("the day after the once date should be closed")
	}
}

func TestWindowValidate(t *testing.T) {
	t.Parallel()
	if err := (Window{Start: tod(10, 0), End: tod(10, 0)}).Validate(); err == nil {
		t.Fatal("start == end must be rejected")
	}
	if err := (Window{Start: tod(23, 0), End: tod(1, 0)}).Validate(); err != nil {
		t.Fatalf("wrapped window should be valid: %v", err)
	}
}

func TestNextOpening(t *testing.T) {
	t.Parallel()
	weekly := Schedule{
		Window:     Window{Start: tod(14, 0), End: tod(16, 0)},
		Recurrence: Recurrence{Kind: Weekly, Weekdays: []time.Weekday{time.Friday}},
	}
	next := weekly.NextOpening(at(mon, 0, 9, 0))
	if next.Weekday() != time.Friday || next.Hour() != 14 {
		t.Fatalf("NextOpening = %v, want Friday 14:00", next)
	}

	past := Schedule{
		Window:     Window{Start: tod(14, 0), End: tod(16, 0)},
		Recurrence: Recurrence{Kind: Once, Date: "2026-08-20"},
	}
	if got := past.NextOpening(at(mon, 0, 9, 0)); !got.IsZero() {
		t.Fatalf("expired once schedule: NextOpening = %v, want zero", got)
	}
}
