package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ConfigLoader handles configuration loading using Viper.
type ConfigLoader struct {
	viper  *viper.Viper
	logger *logrus.Logger
}

// NewConfigLoader creates a new configuration loader.
func NewConfigLoader() *ConfigLoader {
	v := viper.New()

	v.SetConfigType("yaml")

	v.SetEnvPrefix("RAVENS_PERCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{
		viper:  v,
		logger: logrus.New(),
	}
}

// LoadConfig loads configuration from the specified file path.
func (cl *ConfigLoader) LoadConfig(configPath string) (*Config, error) {
	cl.viper.SetConfigFile(configPath)

	cl.setDefaults()

	if err := cl.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cl.logger.Warn("configuration file not found, using defaults")
		} else if os.IsNotExist(err) {
			cl.logger.Warn("configuration file not found, using defaults")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := cl.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cl.logger.Info("configuration loaded successfully")
	return &cfg, nil
}

// setDefaults sets every default value the reconciler needs to run with a
// bare config file (or none at all).
func (cl *ConfigLoader) setDefaults() {
	storeDir := os.Getenv("RAVENS_PERCH_DIR")
	if storeDir == "" {
		storeDir = "/var/lib/ravens-perch"
	}
	cl.viper.SetDefault("store.directory", storeDir)
	cl.viper.SetDefault("store.file_name", "cameras.json")

	cl.viper.SetDefault("hardware.cpu_score_override", 0)
	cl.viper.SetDefault("hardware.hardware_encoder_bonus", 2)
	cl.viper.SetDefault("hardware.vaapi_render_node", "/dev/dri/renderD128")
	cl.viper.SetDefault("hardware.v4l2m2m_device", "/dev/video11")
	cl.viper.SetDefault("hardware.rkmpp_device", "/dev/rga")

	cl.viper.SetDefault("reconciler.tick_interval", 10.0)
	cl.viper.SetDefault("reconciler.tick_budget", 30.0)
	cl.viper.SetDefault("reconciler.api_call_timeout", 5.0)
	cl.viper.SetDefault("reconciler.backoff_base", 1.0)
	cl.viper.SetDefault("reconciler.backoff_cap", 60.0)
	cl.viper.SetDefault("reconciler.debounce_interval", 500.0)
	cl.viper.SetDefault("reconciler.poll_interval", 2.0)
	cl.viper.SetDefault("reconciler.max_fan_out", 8)

	cl.viper.SetDefault("stream_server.host", "127.0.0.1")
	cl.viper.SetDefault("stream_server.rtsp_port", 8554)
	cl.viper.SetDefault("stream_server.hls_port", 8888)
	cl.viper.SetDefault("stream_server.webrtc_port", 8889)
	cl.viper.SetDefault("stream_server.api_port", 9997)
	cl.viper.SetDefault("stream_server.codec.video_profile", "baseline")
	cl.viper.SetDefault("stream_server.codec.video_level", "3.0")
	cl.viper.SetDefault("stream_server.codec.preset", "ultrafast")

	cl.viper.SetDefault("orchestration.base_url", "http://127.0.0.1:7125")
	cl.viper.SetDefault("orchestration.base_host", "127.0.0.1")
	cl.viper.SetDefault("orchestration.snapshot_path_template", "http://%s/cameras/snapshot/%s.jpg")

	cl.viper.SetDefault("logging.level", "info")
	cl.viper.SetDefault("logging.format", "text")
	cl.viper.SetDefault("logging.file_enabled", true)
	cl.viper.SetDefault("logging.file_path", "/var/log/ravens-perch/reconciler.log")
	cl.viper.SetDefault("logging.max_file_size", 10485760)
	cl.viper.SetDefault("logging.backup_count", 5)
	cl.viper.SetDefault("logging.console_enabled", true)

	cl.viper.SetDefault("http_health.enabled", false)
	cl.viper.SetDefault("http_health.host", "127.0.0.1")
	cl.viper.SetDefault("http_health.port", 8080)
	cl.viper.SetDefault("http_health.basic_endpoint", "/health")
	cl.viper.SetDefault("http_health.detailed_endpoint", "/health/detailed")
	cl.viper.SetDefault("http_health.ready_endpoint", "/health/ready")
	cl.viper.SetDefault("http_health.live_endpoint", "/health/live")
	cl.viper.SetDefault("http_health.read_timeout", "5s")
	cl.viper.SetDefault("http_health.write_timeout", "5s")
	cl.viper.SetDefault("http_health.idle_timeout", "60s")
}

// GetViper returns the underlying Viper instance for advanced usage.
func (cl *ConfigLoader) GetViper() *viper.Viper {
	return cl.viper
}
