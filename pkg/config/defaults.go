package config

import (
	"strings"
	"time"

	"github.com/xrootd-go/xrootd-core/internal/bytesize"
)

// GetDefaultConfig returns a Config populated entirely with defaults.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields with sensible defaults. Explicit
// values from the file/environment/flags are always preserved.
func ApplyDefaults(cfg *Config) {
	applyListenDefaults(&cfg.Listen)
	applyTimeoutsDefaults(&cfg.Timeouts)
	applyBufferPoolDefaults(&cfg.BufferPool)
	applyAsyncDefaults(&cfg.Async)
	if cfg.PageSize == 0 {
		cfg.PageSize = 4096
	}
	applyCheckpointDefaults(&cfg.Checkpoint)
	applyPgWriteDefaults(&cfg.PgWrite)
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyTelemetryDefaults(&cfg.Telemetry)
	applySecurityDefaults(&cfg.Security)
}

func applyListenDefaults(cfg *ListenConfig) {
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 1094 // the well-known XRootD data server port
	}
}

func applyTimeoutsDefaults(cfg *TimeoutsConfig) {
	if cfg.Idle == 0 {
		cfg.Idle = 10 * time.Minute
	}
	if cfg.Read == 0 {
		cfg.Read = 30 * time.Second
	}
	if cfg.Handshake == 0 {
		cfg.Handshake = 5 * time.Second
	}
}

func applyBufferPoolDefaults(cfg *BufferPoolConfig) {
	if cfg.MinSize == 0 {
		cfg.MinSize = 1 << 10
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 4 << 20
	}
	if cfg.MaxTotal == 0 {
		cfg.MaxTotal = 256 * bytesize.MiB
	}
	if cfg.RetentionWindow == 0 {
		cfg.RetentionWindow = 30 * time.Second
	}
}

func applyAsyncDefaults(cfg *AsyncConfig) {
	if cfg.SegSize == 0 {
		cfg.SegSize = 1 << 20
	}
	if cfg.MiniOSz == 0 {
		cfg.MiniOSz = 32 << 10
	}
	if cfg.MaxPerReq == 0 {
		cfg.MaxPerReq = 8
	}
}

func applyCheckpointDefaults(cfg *CheckpointConfig) {
	if cfg.MaxSlotSize == 0 {
		cfg.MaxSlotSize = 64 * bytesize.MiB
	}
}

func applyPgWriteDefaults(cfg *PgWriteConfig) {
	if cfg.MaxErrorsPerRequest == 0 {
		cfg.MaxErrorsPerRequest = 256 // spec.md §4.9 kXR_pgMaxEpr
	}
	if cfg.MaxErrorsPerFile == 0 {
		cfg.MaxErrorsPerFile = 4096 // spec.md §4.9 kXR_pgMaxEos
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":9090"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
		cfg.Insecure = true
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applySecurityDefaults(cfg *SecurityConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "allow-all"
	}
}
