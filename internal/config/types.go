package config

// Config is the full daemon configuration.
//
// The file may be JSON or YAML (YAML is coerced to JSON before strict
// decoding, so unknown fields are rejected in both formats).
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Engine controls scheduling defaults for the roadmap engine.
	Engine EngineConfig `json:"engine,omitempty"`

	// Templates points at a roadmap template pack imported on startup.
	Templates TemplatesConfig `json:"templates,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Sweep    *SweepConfig    `json:"sweep,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Ops      *OpsConfig      `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"` // TRACE/DEBUG/INFO/WARN/ERROR
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// StorageConfig controls the SQLite persistence layer.
//
// Example:
//
//	"storage": { "path": "./roadmapd.db" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// EngineConfig controls roadmap engine defaults.
type EngineConfig struct {
	// DefaultDurationDays is used when a template task carries no duration.
	// 0 means the built-in default (3 days).
	DefaultDurationDays int `json:"default_duration_days,omitempty"`
}

type TemplatesConfig struct {
	// Path to a YAML template pack imported on startup. Empty disables import.
	Path string `json:"path,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier is disabled.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// SweepConfig controls the overdue-deadline sweeper.
type SweepConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (descriptors like "@hourly" allowed).
	Schedule string `json:"schedule,omitempty"` // default: "*/15 * * * *"
	Timezone string `json:"timezone,omitempty"` // default: UTC
}

// TelegramConfig configures the Telegram notification channel.
type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the target chat for notifications (group or channel id).
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// OpsConfig controls the optional ops HTTP server (health/status/pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
