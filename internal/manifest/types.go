// Package manifest loads and validates the TOML manifest that configures a
// Cohesix root task at boot: Secure9P framing limits, telemetry ring sizing,
// sharding layout, CAS policy, ecosystem namespace gates, and ticket role
// secrets. The manifest is read once at boot; spec.md §4.3 and §9 both rule
// out hot reload, so there is no watcher here.
//
// Adapted from dittofs's pkg/config (viper + mapstructure decode hooks +
// go-playground/validator struct-tag validation), generalized from a
// filesystem server's store/share/adapter configuration to Cohesix's
// Secure9P/telemetry/CAS/ticket configuration.
package manifest

import (
	"time"

	"github.com/cohesix/root/internal/bytesize"
)

// Manifest is the fully decoded and validated root task configuration.
type Manifest struct {
	Logging         LoggingConfig         `mapstructure:"logging" validate:"required"`
	Pump            PumpConfig            `mapstructure:"pump"`
	Console         ConsoleConfig         `mapstructure:"console"`
	Secure9P        Secure9PConfig        `mapstructure:"secure9p" validate:"required"`
	Telemetry       TelemetryConfig       `mapstructure:"telemetry"`
	TelemetryIngest TelemetryIngestConfig `mapstructure:"telemetry_ingest"`
	Sharding        ShardingConfig        `mapstructure:"sharding"`
	Gpu             GpuConfig             `mapstructure:"gpu"`
	CAS             CASConfig             `mapstructure:"cas"`
	Audit           AuditConfig           `mapstructure:"audit"`
	Ecosystem       EcosystemConfig       `mapstructure:"ecosystem"`
	Tickets         []TicketConfig        `mapstructure:"tickets" validate:"dive"`
}

// LoggingConfig controls internal/logger at boot. Ambient: not named by
// spec.md, carried per SPEC_FULL.md §2.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output"`
}

// PumpConfig controls the cooperative event pump's per-tick budgets.
// Ambient: not named by spec.md, carried per SPEC_FULL.md §2/§7.
type PumpConfig struct {
	TickBudgetBytes bytesize.ByteSize `mapstructure:"tick_budget_bytes"`
}

// ConsoleConfig controls the dual serial+TCP console's timeouts and auth
// rate limiting (spec.md §4.8/§5's literal defaults, made configurable).
type ConsoleConfig struct {
	IdleTimeout time.Duration    `mapstructure:"idle_timeout"`
	Auth        ConsoleAuthLimit `mapstructure:"auth"`
}

// ConsoleAuthLimit is the leaky-bucket auth rate limiter policy
// (spec.md §5: "2 failures per 60s tolerated, 3rd triggers 90s cooldown").
type ConsoleAuthLimit struct {
	MaxFailures    int           `mapstructure:"max_failures" validate:"omitempty,min=1"`
	FailureWindow  time.Duration `mapstructure:"failure_window"`
	CooldownPeriod time.Duration `mapstructure:"cooldown_period"`
}

// Secure9PConfig holds the spec.md §6 manifest table's secure9p.* keys.
type Secure9PConfig struct {
	Msize             uint32           `mapstructure:"msize" validate:"required,gt=0,lte=8192"`
	WalkDepth         int              `mapstructure:"walk_depth" validate:"required,gt=0,lte=8"`
	TagsPerSession    int              `mapstructure:"tags_per_session" validate:"required,gt=0"`
	BatchFrames       int              `mapstructure:"batch_frames" validate:"required,gt=0"`
	MaxSessions       int              `mapstructure:"max_sessions" validate:"required,gt=0"`
	MaxFidsPerSession int              `mapstructure:"max_fids_per_session" validate:"required,gt=0"`
	ShortWrite        ShortWriteConfig `mapstructure:"short_write"`
}

// ShortWriteConfig is secure9p.short_write.policy.
type ShortWriteConfig struct {
	Policy string `mapstructure:"policy" validate:"omitempty,oneof=reject retry"`
}

// TelemetryConfig is telemetry.* from spec.md §6.
type TelemetryConfig struct {
	RingBytesPerWorker bytesize.ByteSize     `mapstructure:"ring_bytes_per_worker"`
	Cursor             TelemetryCursorConfig `mapstructure:"cursor"`
}

// TelemetryCursorConfig is telemetry.cursor.*.
type TelemetryCursorConfig struct {
	RetainOnBoot bool `mapstructure:"retain_on_boot"`
}

// TelemetryIngestConfig is telemetry_ingest.* from spec.md §6.
type TelemetryIngestConfig struct {
	MaxSegmentsPerDevice int    `mapstructure:"max_segments_per_device" validate:"omitempty,gt=0"`
	EvictionPolicy       string `mapstructure:"eviction_policy" validate:"omitempty,oneof=refuse evict-oldest"`
}

// ShardingConfig is sharding.* from spec.md §6.
type ShardingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	ShardBits         int  `mapstructure:"shard_bits" validate:"omitempty,gte=0,lte=16"`
	LegacyWorkerAlias bool `mapstructure:"legacy_worker_alias"`
}

// GpuConfig is gpu.* (SPEC_FULL.md §3/§5.4): the host-bridge directory
// holding one subdirectory per discovered GPU's manifest.toml, watched
// for new/changed manifests and mirrored onto /gpu/models/available/<id>.
type GpuConfig struct {
	ModelDir string `mapstructure:"model_dir"`
}

// CASConfig is cas.* from spec.md §6, plus the optional S3 mirror
// (SPEC_FULL.md §3/§5.10) that hydrates missing chunks from a remote
// bundle registry.
type CASConfig struct {
	Store   CASStoreConfig   `mapstructure:"store"`
	Delta   CASDeltaConfig   `mapstructure:"delta"`
	Signing CASSigningConfig `mapstructure:"signing"`
	Mirror  CASMirrorConfig  `mapstructure:"mirror"`
}

// CASStoreConfig is cas.store.*.
type CASStoreConfig struct {
	ChunkBytes bytesize.ByteSize `mapstructure:"chunk_bytes"`
	DBPath     string            `mapstructure:"db_path"`
}

// CASDeltaConfig is cas.delta.*.
type CASDeltaConfig struct {
	Enable bool `mapstructure:"enable"`
}

// CASSigningConfig is cas.signing.*.
type CASSigningConfig struct {
	Required bool `mapstructure:"required"`
}

// CASMirrorConfig configures the optional S3-compatible remote mirror.
type CASMirrorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Region  string `mapstructure:"region"`
	Prefix  string `mapstructure:"prefix"`
}

// AuditConfig controls the append-only audit journal ring and its optional
// durable export (gated by ecosystem.audit.enable).
type AuditConfig struct {
	JournalBytes bytesize.ByteSize `mapstructure:"journal_bytes"`
	ExportDSN    string            `mapstructure:"export_dsn"`
}

// EcosystemConfig is ecosystem.{host,policy,audit,models,cas}.enable from
// spec.md §6 — these gate whole namespace subtrees on or off.
type EcosystemConfig struct {
	Host   EcosystemGate `mapstructure:"host"`
	Policy EcosystemGate `mapstructure:"policy"`
	Audit  EcosystemGate `mapstructure:"audit"`
	Models EcosystemGate `mapstructure:"models"`
	CAS    EcosystemGate `mapstructure:"cas"`
}

// EcosystemGate is a single ecosystem.<name>.enable flag plus, where
// relevant, a durable-store DSN for that subtree.
type EcosystemGate struct {
	Enable    bool   `mapstructure:"enable"`
	ExportDSN string `mapstructure:"export_dsn"`
}

// TicketConfig is one entry of tickets[]: a role-to-secret mapping consumed
// by internal/ticket to build its per-role MAC keys.
type TicketConfig struct {
	Role   string `mapstructure:"role" validate:"required,oneof=queen regional-queen bare-metal-queen worker-heartbeat worker-gpu worker-bus worker-lora observer"`
	Secret string `mapstructure:"secret" validate:"required,min=16"`
}
