// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/hostmon/internal/core"
)

// Capture source types.
const (
	SourcePcap     = "pcap"
	SourceAFPacket = "afpacket"
	SourceFile     = "file"
)

// Config is the top-level configuration.
// Maps to the `hostmon:` root key in YAML.
type Config struct {
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	GeoIP    GeoIPConfig    `mapstructure:"geoip" yaml:"geoip"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ─── Capture ───

// DefaultCaptureTimeout is the live read timeout. Live sources never block
// without one, since shutdown is observed between reads.
const DefaultCaptureTimeout = 10 * time.Second

// CaptureConfig selects and tunes the frame source.
type CaptureConfig struct {
	Source      string         `mapstructure:"source" yaml:"source"`       // pcap | afpacket | file
	Interface   string         `mapstructure:"interface" yaml:"interface"` // Empty = first device reported by libpcap
	File        string         `mapstructure:"file" yaml:"file"`           // pcap file for source=file
	Filter      string         `mapstructure:"filter" yaml:"filter"`       // BPF expression
	SnapLen     int            `mapstructure:"snaplen" yaml:"snaplen"`
	Promiscuous bool           `mapstructure:"promiscuous" yaml:"promiscuous"`
	Timeout     time.Duration  `mapstructure:"timeout" yaml:"timeout"`     // Read timeout, 0 = default for live sources
	LocalMAC    string         `mapstructure:"local_mac" yaml:"local_mac"` // Empty = interface hardware address
	QueueSize   int            `mapstructure:"queue_size" yaml:"queue_size"`
	Options     map[string]any `mapstructure:"options" yaml:"options,omitempty"` // Source-specific tuning
}

// ─── Resolver ───

// ResolverConfig tunes reverse hostname lookups.
type ResolverConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`       // 0 = unbounded
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"` // 0 = no cache
}

// ─── GeoIP ───

// GeoIPConfig enables country annotation of hosts.
type GeoIPConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Database  string `mapstructure:"database" yaml:"database"` // GeoLite2-Country.mmdb
	CacheSize int    `mapstructure:"cache_size" yaml:"cache_size"`
}

// ─── Report ───

// ReportConfig controls the periodic host table.
type ReportConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	HostnameWidth int           `mapstructure:"hostname_width" yaml:"hostname_width"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error / critical
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	Console ConsoleOutputConfig `mapstructure:"console" yaml:"console"`
	File    FileOutputConfig    `mapstructure:"file" yaml:"file"`
	Loki    LokiOutputConfig    `mapstructure:"loki" yaml:"loki"`
}

// ConsoleOutputConfig configures log output to stderr.
type ConsoleOutputConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string            `mapstructure:"endpoint" yaml:"endpoint"`
	Labels       map[string]string `mapstructure:"labels" yaml:"labels,omitempty"`
	BatchSize    int               `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `hostmon: ...`.
type configRoot struct {
	Hostmon Config `mapstructure:"hostmon" yaml:"hostmon"`
}

// Load loads configuration from path. An empty path yields the defaults,
// still subject to environment overrides.
// The YAML file uses `hostmon:` as root key; env vars use the HOSTMON_ prefix
// (e.g., HOSTMON_CAPTURE_INTERFACE).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `hostmon.` key prefix maps to `HOSTMON_` in env vars via the key
	// replacer (e.g., key "hostmon.log.level" → env "HOSTMON_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Hostmon

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "hostmon." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("hostmon.capture.source", SourcePcap)
	v.SetDefault("hostmon.capture.interface", "")
	v.SetDefault("hostmon.capture.file", "")
	v.SetDefault("hostmon.capture.filter", "tcp port 80 or tcp port 443")
	v.SetDefault("hostmon.capture.snaplen", 8192)
	v.SetDefault("hostmon.capture.promiscuous", true)
	v.SetDefault("hostmon.capture.timeout", DefaultCaptureTimeout)
	v.SetDefault("hostmon.capture.local_mac", "")
	v.SetDefault("hostmon.capture.queue_size", 4096)

	// Resolver defaults
	v.SetDefault("hostmon.resolver.timeout", "0s")
	v.SetDefault("hostmon.resolver.cache_size", 4096)

	// GeoIP defaults
	v.SetDefault("hostmon.geoip.enabled", false)
	v.SetDefault("hostmon.geoip.database", "")
	v.SetDefault("hostmon.geoip.cache_size", 65536)

	// Report defaults
	v.SetDefault("hostmon.report.interval", "5s")
	v.SetDefault("hostmon.report.hostname_width", 25)

	// Metrics defaults
	v.SetDefault("hostmon.metrics.enabled", false)
	v.SetDefault("hostmon.metrics.listen", ":9091")
	v.SetDefault("hostmon.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("hostmon.log.level", "info")
	v.SetDefault("hostmon.log.format", "text")
	v.SetDefault("hostmon.log.outputs.console.enabled", false)
	v.SetDefault("hostmon.log.outputs.file.enabled", true)
	v.SetDefault("hostmon.log.outputs.file.path", "logs/hostmon.log")
	v.SetDefault("hostmon.log.outputs.file.rotation.max_size_mb", 2)
	v.SetDefault("hostmon.log.outputs.file.rotation.max_age_days", 0)
	v.SetDefault("hostmon.log.outputs.file.rotation.max_backups", 1)
	v.SetDefault("hostmon.log.outputs.file.rotation.compress", false)
	v.SetDefault("hostmon.log.outputs.loki.enabled", false)
	v.SetDefault("hostmon.log.outputs.loki.endpoint", "")
	v.SetDefault("hostmon.log.outputs.loki.batch_size", 100)
	v.SetDefault("hostmon.log.outputs.loki.batch_timeout", "5s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// Every failure wraps core.ErrConfigInvalid.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "critical": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error/critical)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}
	if cfg.Log.Outputs.Loki.Enabled && cfg.Log.Outputs.Loki.Endpoint == "" {
		return invalid("log.outputs.loki.endpoint is required when loki output is enabled")
	}

	// ── Capture ──
	c := &cfg.Capture
	c.Source = strings.ToLower(c.Source)
	switch c.Source {
	case SourcePcap, SourceAFPacket:
	case SourceFile:
		if c.File == "" {
			return invalid("capture.file is required when capture.source=file")
		}
		if c.LocalMAC == "" {
			return invalid("capture.local_mac is required when capture.source=file")
		}
	default:
		return invalid("unsupported capture.source: %s (must be pcap/afpacket/file)", c.Source)
	}
	if c.LocalMAC != "" {
		if _, err := net.ParseMAC(c.LocalMAC); err != nil {
			return invalid("invalid capture.local_mac %q: %v", c.LocalMAC, err)
		}
	}
	if c.SnapLen <= 0 {
		return invalid("capture.snaplen must be positive, got %d", c.SnapLen)
	}
	if c.Timeout < 0 {
		return invalid("capture.timeout must not be negative")
	}
	if c.Timeout == 0 && c.Source != SourceFile {
		c.Timeout = DefaultCaptureTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}

	// ── Resolver ──
	if cfg.Resolver.Timeout < 0 {
		return invalid("resolver.timeout must not be negative")
	}
	if cfg.Resolver.CacheSize < 0 {
		return invalid("resolver.cache_size must not be negative")
	}

	// ── GeoIP ──
	if cfg.GeoIP.Enabled && cfg.GeoIP.Database == "" {
		return invalid("geoip.database is required when geoip.enabled=true")
	}

	// ── Report ──
	if cfg.Report.Interval <= 0 {
		return invalid("report.interval must be positive, got %s", cfg.Report.Interval)
	}
	if cfg.Report.HostnameWidth <= 0 {
		cfg.Report.HostnameWidth = 25
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}

// Dump renders the configuration as YAML under the `hostmon:` root key.
func (cfg *Config) Dump() ([]byte, error) {
	return yaml.Marshal(configRoot{Hostmon: *cfg})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
