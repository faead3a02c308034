package config

import (
	"fmt"
	"strings"
	"time"

	logx "streamvault/pkg/logx"
)

// Config is the full on-disk configuration. YAML and JSON are both accepted;
// YAML is coerced to JSON so one strict decoder covers both.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Evaluator EvaluatorConfig `json:"evaluator"`
	Capture   CaptureConfig   `json:"capture"`
	Retention RetentionConfig `json:"retention"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	Addr    string `json:"addr,omitempty"`    // default "127.0.0.1:8750"
}

func (s ServerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func (s ServerConfig) ListenAddr() string {
	if strings.TrimSpace(s.Addr) == "" {
		return "127.0.0.1:8750"
	}
	return strings.TrimSpace(s.Addr)
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"` // trace|debug|info|warn|error
	Console *bool             `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// ToLogx maps the logging section onto the logx service config.
func (l LoggingConfig) ToLogx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console == nil || *l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
	}
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	storage: { driver: "sqlite", path: "./streamvault.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// EvaluatorConfig controls the schedule evaluation loop.
//
// Defaults (when fields are omitted/zero):
//   - tick: "30s"
//   - max_concurrent_jobs: 8 (0 disables the cap)
type EvaluatorConfig struct {
	Tick              string `json:"tick,omitempty"`
	MaxConcurrentJobs *int   `json:"max_concurrent_jobs,omitempty"`
}

func (e EvaluatorConfig) TickInterval() (time.Duration, error) {
	return ParseDurationOrDefault("evaluator.tick", e.Tick, 30*time.Second)
}

func (e EvaluatorConfig) JobCap() int {
	if e.MaxConcurrentJobs == nil {
		return 8
	}
	if *e.MaxConcurrentJobs < 0 {
		return 0
	}
	return *e.MaxConcurrentJobs
}

// CaptureConfig controls stream probing and the ffmpeg capture process.
type CaptureConfig struct {
	FFmpegBin        string `json:"ffmpeg_bin,omitempty"` // default "ffmpeg"
	OutputDir        string `json:"output_dir,omitempty"` // default "./downloads"
	ProbeTimeout     string `json:"probe_timeout,omitempty"`
	ProgressInterval string `json:"progress_interval,omitempty"`
}

func (c CaptureConfig) Dir() string {
	if strings.TrimSpace(c.OutputDir) == "" {
		return "./downloads"
	}
	return c.OutputDir
}

// RetentionConfig controls pruning of old terminal jobs.
//
// MaxAge bounds how long finished job records are kept; Cron is a standard
// 5-field cron expression for when the prune runs.
type RetentionConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	MaxAge  string `json:"max_age,omitempty"` // default "720h" (30 days)
	Cron    string `json:"cron,omitempty"`    // default "0 4 * * *"
}

func (r RetentionConfig) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

func (r RetentionConfig) Age() (time.Duration, error) {
	return ParseDurationOrDefault("retention.max_age", r.MaxAge, 720*time.Hour)
}

func (r RetentionConfig) Spec() string {
	if strings.TrimSpace(r.Cron) == "" {
		return "0 4 * * *"
	}
	return strings.TrimSpace(r.Cron)
}

// Validate checks everything that can be checked without touching the
// filesystem. Used directly and as the hot-reload validator hook.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := c.Evaluator.TickInterval(); err != nil {
		return err
	}
	if _, err := ParseDurationField("capture.probe_timeout", c.Capture.ProbeTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("capture.progress_interval", c.Capture.ProgressInterval); err != nil {
		return err
	}
	if _, err := c.Retention.Age(); err != nil {
		return err
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "sqlite", "sqlite3", "file":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
