// Package config provides YAML-based configuration loading for evycomm.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the node/application
	AppName string `mapstructure:"app_name"`

	// NodeName is the human-readable node identity; the mesh NodeID is
	// derived from it by hashing.
	NodeName string `mapstructure:"node_name"`

	// Capabilities advertised in discovery packets (e.g. inference, relay).
	Capabilities []string `mapstructure:"capabilities"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Mesh holds mesh protocol engine settings
	Mesh MeshConfig `mapstructure:"mesh"`

	// Queue holds reliable delivery queue settings
	Queue QueueConfig `mapstructure:"queue"`

	// Layers holds per-transport driver settings
	Layers LayersConfig `mapstructure:"layers"`

	// Routing holds classifier/scorer worker settings
	Routing RoutingConfig `mapstructure:"routing"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// RoutingConfig holds settings for the routing workers.
type RoutingConfig struct {
	// StatsUpdateS is the interval for folding measured send results back
	// into published layer capabilities.
	StatsUpdateS int `mapstructure:"stats_update_s"`
	// StatusPollS is the registry availability-probe interval.
	StatusPollS int `mapstructure:"status_poll_s"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName:      "evycomm-node",
		NodeName:     "evy-node-1",
		Capabilities: []string{"relay"},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/evycomm.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Mesh:    DefaultMesh(),
		Queue:   DefaultQueue(),
		Layers:  DefaultLayers(),
		Routing: RoutingConfig{StatsUpdateS: 60, StatusPollS: 60},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches common locations and supports environment overrides.
// Environment variables use the prefix EVYCOMM and `.`/`-` are replaced with
// `_`. Example: EVYCOMM_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EVYCOMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("node_name", cfg.NodeName)
	v.SetDefault("capabilities", cfg.Capabilities)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	// Mesh defaults
	v.SetDefault("mesh.discovery_interval_s", cfg.Mesh.DiscoveryIntervalS)
	v.SetDefault("mesh.neighbor_stale_s", cfg.Mesh.NeighborStaleS)
	v.SetDefault("mesh.route_refresh_s", cfg.Mesh.RouteRefreshS)
	v.SetDefault("mesh.default_ttl", cfg.Mesh.DefaultTTL)
	v.SetDefault("mesh.max_payload", cfg.Mesh.MaxPayload)
	v.SetDefault("mesh.dedup_window_s", cfg.Mesh.DedupWindowS)
	v.SetDefault("mesh.lat", cfg.Mesh.Lat)
	v.SetDefault("mesh.lon", cfg.Mesh.Lon)
	v.SetDefault("mesh.radio.driver", cfg.Mesh.Radio.Driver)
	v.SetDefault("mesh.radio.listen", cfg.Mesh.Radio.Listen)
	v.SetDefault("mesh.radio.bridge_addr", cfg.Mesh.Radio.BridgeAddr)
	// Queue defaults
	v.SetDefault("queue.max_attempts", cfg.Queue.MaxAttempts)
	v.SetDefault("queue.retry_delays_s", cfg.Queue.RetryDelaysS)
	v.SetDefault("queue.poll_interval_ms", cfg.Queue.PollIntervalMS)
	v.SetDefault("queue.audit_retention_s", cfg.Queue.AuditRetentionS)
	// Layer defaults
	v.SetDefault("layers.internet.enable", cfg.Layers.Internet.Enable)
	v.SetDefault("layers.internet.probe_url", cfg.Layers.Internet.ProbeURL)
	v.SetDefault("layers.internet.timeout_ms", cfg.Layers.Internet.TimeoutMS)
	v.SetDefault("layers.sms.enable", cfg.Layers.SMS.Enable)
	v.SetDefault("layers.sms.driver", cfg.Layers.SMS.Driver)
	v.SetDefault("layers.sms.gateway_url", cfg.Layers.SMS.GatewayURL)
	v.SetDefault("layers.sms.rate_per_min", cfg.Layers.SMS.RatePerMin)
	v.SetDefault("layers.short_range.enable", cfg.Layers.ShortRange.Enable)
	v.SetDefault("layers.short_range.driver", cfg.Layers.ShortRange.Driver)
	v.SetDefault("layers.short_range.listen", cfg.Layers.ShortRange.Listen)
	v.SetDefault("layers.short_range.peer_addr", cfg.Layers.ShortRange.PeerAddr)
	// Routing defaults
	v.SetDefault("routing.stats_update_s", cfg.Routing.StatsUpdateS)
	v.SetDefault("routing.status_poll_s", cfg.Routing.StatusPollS)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("EVYCOMM_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `evycomm`
		v.SetConfigName("evycomm")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".evycomm"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.NodeName) == "" {
		c.NodeName = "evy-node-1"
	}
	if err := c.Mesh.validate(); err != nil {
		return err
	}
	if err := c.Queue.validate(); err != nil {
		return err
	}
	if err := c.Layers.validate(); err != nil {
		return err
	}
	if c.Routing.StatsUpdateS <= 0 {
		c.Routing.StatsUpdateS = 60
	}
	if c.Routing.StatusPollS <= 0 {
		c.Routing.StatusPollS = 60
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
