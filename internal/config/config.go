// Package config defines the single injected configuration record for the
// reconciliation engine. There is no module-level mutable configuration
// state anywhere in this codebase; every component receives a *Config (or a
// narrower sub-struct of it) at construction time.
package config

import "fmt"

// Config is the root configuration record loaded once at process start and
// passed down to every component.
type Config struct {
	Store         StoreConfig         `mapstructure:"store"`
	Hardware      HardwareConfig      `mapstructure:"hardware"`
	Reconciler    ReconcilerConfig    `mapstructure:"reconciler"`
	StreamServer  StreamServerConfig  `mapstructure:"stream_server"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	HTTPHealth    HTTPHealthConfig    `mapstructure:"http_health"`
}

// HTTPHealthConfig controls the optional HTTP health endpoint used for
// container-orchestration liveness/readiness probes (the reconciler itself
// exposes no other network surface).
type HTTPHealthConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	BasicEndpoint    string `mapstructure:"basic_endpoint"`
	DetailedEndpoint string `mapstructure:"detailed_endpoint"`
	ReadyEndpoint    string `mapstructure:"ready_endpoint"`
	LiveEndpoint     string `mapstructure:"live_endpoint"`
	ReadTimeout      string `mapstructure:"read_timeout"`
	WriteTimeout     string `mapstructure:"write_timeout"`
	IdleTimeout      string `mapstructure:"idle_timeout"`
}

// StoreConfig controls the Settings Store's durable location.
type StoreConfig struct {
	// Directory holds the store's data file. Defaults to $RAVENS_PERCH_DIR
	// when that environment variable is set, matching the one surviving
	// install-time path from the original, pre-distillation project.
	Directory string `mapstructure:"directory"`
	FileName  string `mapstructure:"file_name"`
}

// HardwareConfig tunes the Hardware Probe.
type HardwareConfig struct {
	// CPUScoreOverride, when >0, bypasses live CPU scoring (useful for
	// fixture-driven tests that must pin an exact score).
	CPUScoreOverride int `mapstructure:"cpu_score_override"`
	// HardwareEncoderBonus is added to the raw CPU score when any of
	// {vaapi, v4l2m2m, rkmpp} is detected, producing the effective score.
	HardwareEncoderBonus int    `mapstructure:"hardware_encoder_bonus"`
	VAAPIRenderNode       string `mapstructure:"vaapi_render_node"`
	V4L2M2MDevice         string `mapstructure:"v4l2m2m_device"`
	RKMPPDevice           string `mapstructure:"rkmpp_device"`
}

// ReconcilerConfig tunes the control loop.
type ReconcilerConfig struct {
	TickInterval     float64 `mapstructure:"tick_interval"`     // seconds, default 10
	TickBudget       float64 `mapstructure:"tick_budget"`       // seconds, default 30
	APICallTimeout   float64 `mapstructure:"api_call_timeout"`  // seconds, default 5
	BackoffBase      float64 `mapstructure:"backoff_base"`      // seconds, default 1
	BackoffCap       float64 `mapstructure:"backoff_cap"`       // seconds, default 60
	DebounceInterval float64 `mapstructure:"debounce_interval"` // milliseconds, default 500
	PollInterval     float64 `mapstructure:"poll_interval"`     // seconds, default 2 (ingress fallback)
	MaxFanOut        int     `mapstructure:"max_fan_out"`       // bounded parallel API calls per tick
}

// StreamServerConfig describes the streaming server this core converges
// against (MediaMTX-shaped control API).
type StreamServerConfig struct {
	Host       string      `mapstructure:"host"`
	RTSPPort   int         `mapstructure:"rtsp_port"`
	HLSPort    int         `mapstructure:"hls_port"`
	WebRTCPort int         `mapstructure:"webrtc_port"`
	APIPort    int         `mapstructure:"api_port"`
	Codec      CodecConfig `mapstructure:"codec"`
}

// CodecConfig carries the software-encoder defaults used by the Command
// Synthesizer when encoder == "software".
type CodecConfig struct {
	VideoProfile string `mapstructure:"video_profile"`
	VideoLevel   string `mapstructure:"video_level"`
	Preset       string `mapstructure:"preset"`
}

// OrchestrationConfig describes the orchestration API (Moonraker-shaped).
type OrchestrationConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	BaseHost             string `mapstructure:"base_host"`
	SnapshotPathTemplate string `mapstructure:"snapshot_path_template"`
}

// LoggingConfig mirrors the logging package's own configuration shape.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	FileEnabled    bool   `mapstructure:"file_enabled"`
	FilePath       string `mapstructure:"file_path"`
	MaxFileSize    int    `mapstructure:"max_file_size"`
	BackupCount    int    `mapstructure:"backup_count"`
	ConsoleEnabled bool   `mapstructure:"console_enabled"`
}

// String renders a short debug summary, matching this codebase's habit of
// giving Config a human-readable String method instead of dumping the
// struct raw into logs.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{store=%s/%s stream_server=%s:%d orchestration=%s tick_interval=%.1fs log_level=%s}",
		c.Store.Directory, c.Store.FileName,
		c.StreamServer.Host, c.StreamServer.APIPort,
		c.Orchestration.BaseURL,
		c.Reconciler.TickInterval,
		c.Logging.Level,
	)
}
