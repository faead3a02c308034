package config

import (
	"strings"

	logx "streamvault/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus structured
// attrs for logging the reload.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Server.IsEnabled() != newCfg.Server.IsEnabled() ||
		oldCfg.Server.ListenAddr() != newCfg.Server.ListenAddr() {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.Bool("server.enabled", newCfg.Server.IsEnabled()),
			logx.String("server.addr", newCfg.Server.ListenAddr()))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled))
	}

	if !storageEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	if oldCfg.Evaluator.Tick != newCfg.Evaluator.Tick ||
		oldCfg.Evaluator.JobCap() != newCfg.Evaluator.JobCap() {
		changed = append(changed, "evaluator")
		attrs = append(attrs,
			logx.String("evaluator.tick", newCfg.Evaluator.Tick),
			logx.Int("evaluator.job_cap", newCfg.Evaluator.JobCap()))
	}

	if oldCfg.Capture != newCfg.Capture {
		changed = append(changed, "capture")
		attrs = append(attrs, logx.String("capture.output_dir", newCfg.Capture.Dir()))
	}

	if oldCfg.Retention.IsEnabled() != newCfg.Retention.IsEnabled() ||
		strings.TrimSpace(oldCfg.Retention.MaxAge) != strings.TrimSpace(newCfg.Retention.MaxAge) ||
		oldCfg.Retention.Spec() != newCfg.Retention.Spec() {
		changed = append(changed, "retention")
	}

	return changed, attrs
}

func storageEqual(a, b *StorageConfig) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
