package manifest

import (
	"strings"
	"time"

	"github.com/cohesix/root/internal/bytesize"
)

// ApplyDefaults fills unset fields with the values spec.md's end-to-end
// scenarios assume (msize=8192, walk_depth=8, 60s/90s auth cooldown, ...).
// Mirrors dittofs's pkg/config.ApplyDefaults: zero values are replaced,
// explicit values are preserved.
func ApplyDefaults(m *Manifest) {
	applyLoggingDefaults(&m.Logging)
	applyPumpDefaults(&m.Pump)
	applyConsoleDefaults(&m.Console)
	applySecure9PDefaults(&m.Secure9P)
	applyTelemetryDefaults(&m.Telemetry)
	applyTelemetryIngestDefaults(&m.TelemetryIngest)
	applyCASDefaults(&m.CAS)
	applyAuditDefaults(&m.Audit)
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

func applyPumpDefaults(cfg *PumpConfig) {
	if cfg.TickBudgetBytes == 0 {
		cfg.TickBudgetBytes = 64 * bytesize.KiB
	}
}

func applyConsoleDefaults(cfg *ConsoleConfig) {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.Auth.MaxFailures == 0 {
		cfg.Auth.MaxFailures = 2
	}
	if cfg.Auth.FailureWindow == 0 {
		cfg.Auth.FailureWindow = 60 * time.Second
	}
	if cfg.Auth.CooldownPeriod == 0 {
		cfg.Auth.CooldownPeriod = 90 * time.Second
	}
}

func applySecure9PDefaults(cfg *Secure9PConfig) {
	if cfg.Msize == 0 {
		cfg.Msize = 8192
	}
	if cfg.WalkDepth == 0 {
		cfg.WalkDepth = 8
	}
	if cfg.TagsPerSession == 0 {
		cfg.TagsPerSession = 16
	}
	if cfg.BatchFrames == 0 {
		cfg.BatchFrames = 8
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 64
	}
	if cfg.MaxFidsPerSession == 0 {
		cfg.MaxFidsPerSession = 128
	}
	if cfg.ShortWrite.Policy == "" {
		cfg.ShortWrite.Policy = "reject"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.RingBytesPerWorker == 0 {
		cfg.RingBytesPerWorker = 16 * bytesize.KiB
	}
}

func applyTelemetryIngestDefaults(cfg *TelemetryIngestConfig) {
	if cfg.MaxSegmentsPerDevice == 0 {
		cfg.MaxSegmentsPerDevice = 64
	}
	if cfg.EvictionPolicy == "" {
		cfg.EvictionPolicy = "refuse"
	}
}

func applyCASDefaults(cfg *CASConfig) {
	if cfg.Store.ChunkBytes == 0 {
		cfg.Store.ChunkBytes = 4 * bytesize.MiB
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = "/var/lib/cohesix/cas"
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.JournalBytes == 0 {
		cfg.JournalBytes = 1 * bytesize.MiB
	}
}

// DefaultManifest returns a Manifest with every default applied and no
// tickets configured. Useful for tests and for `cohesix-root` boot when the
// manifest file omits a section entirely.
func DefaultManifest() *Manifest {
	m := &Manifest{}
	ApplyDefaults(m)
	return m
}
