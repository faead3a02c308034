package schedule

import (
	"testing"
	"time"
)

func TestOutputFileName(t *testing.T) {
	t.Parallel()
	started := time.Date(2026, time.August, 25, 21, 30, 5, 0, time.UTC) // a Tuesday

	tests := []struct {
		name   string
		prefix string
		ext    string
		want   string
	}{
		{"with prefix", "radio-show", "mp4", "radio-show-21-30-05-Tue-Aug.mp4"},
		{"no prefix", "", "mkv", "21-30-05-Tue-Aug.mkv"},
		{"no ext", "x", "", "x-21-30-05-Tue-Aug"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputFileName(tt.prefix, started, tt.ext); got != tt.want {
				t.Fatalf("OutputFileName = %q, want %q", got, tt.want)
			}
		})
	}

	if got := ThumbnailFileName("radio-show", started); got != "radio-show-21-30-05-Tue-Aug.jpg" {
		t.Fatalf("ThumbnailFileName = %q", got)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	got, err := ParseTimeOfDay("09:05")
	if err != nil {
		t.Fatalf("ParseTimeOfDay error: %v", err)
	}
	if got != (TimeOfDay{Hour: 9, Minute: 5}) {
		t.Fatalf("unexpected result: %+v", got)
	}

	for _, bad := range []string{"24:00", "12:60", "noon", "12", "-1:30"} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("ParseTimeOfDay(%q): expected error", bad)
		}
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	t.Parallel()
	b, err := TimeOfDay{Hour: 23, Minute: 7}.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	if string(b) != `"23:07"` {
		t.Fatalf("MarshalJSON = %s", b)
	}

	var got TimeOfDay
	if err := got.UnmarshalJSON([]byte(`"6:30"`)); err != nil {
		t.Fatalf("UnmarshalJSON error: %v", err)
	}
	if got != (TimeOfDay{Hour: 6, Minute: 30}) {
		t.Fatalf("round trip: %+v", got)
	}
}
