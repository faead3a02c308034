package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

// audioContainers are the extensions treated as audio-only output.
var audioContainers = map[string]bool{
	"mp3": true, "aac": true, "m4a": true, "flac": true,
	"wav": true, "ogg": true, "opus": true, "wma": true,
}

// FFmpeg is the production Capturer: it shells out to ffmpeg, stream-copying
// video where the container allows it and re-encoding audio-only output.
// Progress is derived by polling the output file size once per second.
type FFmpeg struct {
	Bin string // ffmpeg binary, default "ffmpeg"
	log logx.Logger
}

func NewFFmpeg(bin string, log logx.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FFmpeg{Bin: bin, log: log}
}

func (f *FFmpeg) Capture(ctx context.Context, streamURL, outputPath string, params schedule.CaptureParams, progress chan<- Progress) CaptureResult {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return CaptureResult{Outcome: CaptureCrashed, Reason: err.Error()}
	}

	args := buildArgs(streamURL, outputPath, params)
	cmd := exec.CommandContext(ctx, f.Bin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return CaptureResult{Outcome: CaptureCrashed, Reason: err.Error()}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var size int64
			if fi, err := os.Stat(outputPath); err == nil {
				size = fi.Size()
			}
			select {
			case progress <- Progress{BytesWritten: size, Elapsed: time.Since(started)}:
			default:
			}
		case err := <-waitErr:
			if ctx.Err() != nil {
				return CaptureResult{Outcome: CaptureCancelled}
			}
			if err != nil {
				return CaptureResult{Outcome: CaptureCrashed, Reason: crashReason(err, stderr.String())}
			}
			return CaptureResult{Outcome: CaptureCompleted}
		}
	}
}

// ExtractThumbnail grabs a frame near the end of a finished capture.
func (f *FFmpeg) ExtractThumbnail(ctx context.Context, videoPath, thumbPath string) error {
	cmd := exec.CommandContext(ctx, f.Bin,
		"-loglevel", "error",
		"-sseof", "-3",
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "4",
		"-y", thumbPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("thumbnail: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// buildArgs assembles the ffmpeg argv for the output container. Video
// containers stream-copy; audio containers drop video and encode with a
// sensible codec for the extension.
func buildArgs(streamURL, outputPath string, params schedule.CaptureParams) []string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(outputPath), "."))
	if ext == "" {
		ext = strings.ToLower(params.Container)
	}

	args := []string{"-loglevel", "error", "-i", streamURL}

	if params.Format == "audio" || audioContainers[ext] {
		args = append(args, "-vn")
		switch ext {
		case "mp3":
			args = append(args, "-c:a", "libmp3lame", "-q:a", "2")
		case "aac", "m4a":
			args = append(args, "-c:a", "aac", "-b:a", "192k")
		case "flac":
			args = append(args, "-c:a", "flac")
		case "wav":
			args = append(args, "-c:a", "pcm_s16le")
		case "ogg":
			args = append(args, "-c:a", "libvorbis", "-q:a", "6")
		case "opus":
			args = append(args, "-c:a", "libopus", "-b:a", "128k")
		case "wma":
			args = append(args, "-c:a", "wmav2", "-b:a", "192k")
		}
	} else {
		switch ext {
		case "mp4", "m4v", "mov":
			// Fragmented output keeps the file playable if the capture dies
			// mid-stream.
			args = append(args,
				"-c", "copy",
				"-bsf:a", "aac_adtstoasc",
				"-movflags", "+frag_keyframe+empty_moov")
		case "ts":
			args = append(args, "-c", "copy", "-bsf:v", "h264_mp4toannexb")
		case "wmv":
			args = append(args, "-c:v", "wmv2", "-c:a", "wmav2")
		default:
			// mkv, webm, flv, avi and anything else: straight stream copy.
			args = append(args, "-c", "copy")
		}
	}

	return append(args, "-y", outputPath)
}

func crashReason(err error, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr != "" {
		// Last line is usually the actual ffmpeg error.
		lines := strings.Split(stderr, "\n")
		return lines[len(lines)-1]
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("ffmpeg exited with code %d", exitErr.ExitCode())
	}
	return err.Error()
}
