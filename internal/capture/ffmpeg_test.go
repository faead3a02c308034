package capture

import (
	"strings"
	"testing"

	"streamvault/internal/schedule"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		output  string
		params  schedule.CaptureParams
		want    []string
		notWant []string
	}{
		{
			name:   "mp4 stream copy fragmented",
			output: "/out/show.mp4",
			want:   []string{"-c", "copy", "-bsf:a", "aac_adtstoasc", "-movflags", "+frag_keyframe+empty_moov"},
		},
		{
			name:   "ts annex-b",
			output: "/out/show.ts",
			want:   []string{"-c", "copy", "-bsf:v", "h264_mp4toannexb"},
		},
		{
			name:    "mkv plain copy",
			output:  "/out/show.mkv",
			want:    []string{"-c", "copy"},
			notWant: []string{"-bsf:a", "-movflags"},
		},
		{
			name:    "mp3 audio encode",
			output:  "/out/show.mp3",
			want:    []string{"-vn", "-c:a", "libmp3lame", "-q:a", "2"},
			notWant: []string{"-c copy"},
		},
		{
			name:   "opus audio encode",
			output: "/out/show.opus",
			want:   []string{"-vn", "-c:a", "libopus", "-b:a", "128k"},
		},
		{
			name:   "audio format forces -vn for video container",
			output: "/out/show.mp4",
			params: schedule.CaptureParams{Format: "audio"},
			want:   []string{"-vn"},
		},
		{
			name:   "extension falls back to container param",
			output: "/out/show",
			params: schedule.CaptureParams{Container: "aac"},
			want:   []string{"-vn", "-c:a", "aac", "-b:a", "192k"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			args := buildArgs("https://cdn/x.m3u8", tt.output, tt.params)
			joined := " " + strings.Join(args, " ") + " "

			if args[len(args)-1] != tt.output || args[len(args)-2] != "-y" {
				t.Fatalf("argv must end with -y <output>: %v", args)
			}
			if !strings.Contains(joined, " -i https://cdn/x.m3u8 ") {
				t.Fatalf("input missing: %v", args)
			}
			for _, w := range tt.want {
				if !strings.Contains(joined, " "+w+" ") {
					t.Errorf("argv missing %q: %v", w, args)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(joined, " "+nw+" ") {
					t.Errorf("argv must not contain %q: %v", nw, args)
				}
			}
		})
	}
}

func TestCrashReason(t *testing.T) {
	t.Parallel()
	if got := crashReason(nil, "header junk\nConnection reset by peer"); got != "Connection reset by peer" {
		t.Fatalf("crashReason = %q", got)
	}
	if got := crashReason(errPlain("boom"), ""); got != "boom" {
		t.Fatalf("crashReason = %q", got)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
