package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/hostmon/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with empty path failed: %v", err)
	}

	if cfg.Capture.Source != SourcePcap {
		t.Errorf("Expected source pcap, got %s", cfg.Capture.Source)
	}
	if cfg.Capture.Filter != "tcp port 80 or tcp port 443" {
		t.Errorf("Unexpected default filter %q", cfg.Capture.Filter)
	}
	if cfg.Capture.SnapLen != 8192 {
		t.Errorf("Expected snaplen 8192, got %d", cfg.Capture.SnapLen)
	}
	if !cfg.Capture.Promiscuous {
		t.Error("Expected promiscuous mode by default")
	}
	if cfg.Capture.Timeout != 10*time.Second {
		t.Errorf("Expected capture timeout 10s, got %v", cfg.Capture.Timeout)
	}
	if cfg.Report.Interval != 5*time.Second {
		t.Errorf("Expected report interval 5s, got %v", cfg.Report.Interval)
	}
	if cfg.Report.HostnameWidth != 25 {
		t.Errorf("Expected hostname width 25, got %d", cfg.Report.HostnameWidth)
	}
	if cfg.Resolver.Timeout != 0 {
		t.Errorf("Expected unbounded resolver timeout, got %v", cfg.Resolver.Timeout)
	}
	if cfg.Resolver.CacheSize != 4096 {
		t.Errorf("Expected resolver cache 4096, got %d", cfg.Resolver.CacheSize)
	}
	if cfg.Metrics.Enabled || cfg.GeoIP.Enabled {
		t.Error("Expected metrics and geoip disabled by default")
	}

	file := cfg.Log.Outputs.File
	if !file.Enabled || file.Path != "logs/hostmon.log" {
		t.Errorf("Unexpected default file output %+v", file)
	}
	if file.Rotation.MaxSizeMB != 2 || file.Rotation.MaxBackups != 1 {
		t.Errorf("Expected 2 MB rotation with 1 backup, got %+v", file.Rotation)
	}
	if cfg.Log.Outputs.Console.Enabled {
		t.Error("Expected console output disabled by default")
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
hostmon:
  capture:
    source: afpacket
    interface: eth1
    filter: "tcp port 8080"
    snaplen: 1600
    promiscuous: false
    options:
      block_size: 1048576
      fanout_id: 7
  resolver:
    timeout: 2s
    cache_size: 0
  report:
    interval: 1s
    hostname_width: 40
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
  log:
    level: DEBUG
    format: json
    outputs:
      console:
        enabled: true
      file:
        enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capture.Source != SourceAFPacket || cfg.Capture.Interface != "eth1" {
		t.Errorf("Unexpected capture config %+v", cfg.Capture)
	}
	if cfg.Capture.Filter != "tcp port 8080" || cfg.Capture.SnapLen != 1600 || cfg.Capture.Promiscuous {
		t.Errorf("Unexpected capture tuning %+v", cfg.Capture)
	}
	if got := cfg.Capture.Options["fanout_id"]; got != 7 {
		t.Errorf("Expected options.fanout_id 7, got %v", got)
	}
	if cfg.Resolver.Timeout != 2*time.Second || cfg.Resolver.CacheSize != 0 {
		t.Errorf("Unexpected resolver config %+v", cfg.Resolver)
	}
	if cfg.Report.Interval != time.Second || cfg.Report.HostnameWidth != 40 {
		t.Errorf("Unexpected report config %+v", cfg.Report)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9100" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Unexpected metrics config %+v", cfg.Metrics)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level normalized to debug, got %s", cfg.Log.Level)
	}
	if !cfg.Log.Outputs.Console.Enabled || cfg.Log.Outputs.File.Enabled {
		t.Errorf("Unexpected log outputs %+v", cfg.Log.Outputs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err == nil {
		t.Fatal("Expected error for missing config file, got nil")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
hostmon:
  capture:
    interface: eth0
`)
	t.Setenv("HOSTMON_CAPTURE_INTERFACE", "wlan0")
	t.Setenv("HOSTMON_REPORT_INTERVAL", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capture.Interface != "wlan0" {
		t.Errorf("Expected interface wlan0 from env var, got %s", cfg.Capture.Interface)
	}
	if cfg.Report.Interval != 30*time.Second {
		t.Errorf("Expected interval 30s from env var, got %v", cfg.Report.Interval)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "log level",
			content: "hostmon:\n  log:\n    level: trace\n",
			want:    "invalid log level",
		},
		{
			name:    "log format",
			content: "hostmon:\n  log:\n    format: xml\n",
			want:    "invalid log format",
		},
		{
			name:    "source",
			content: "hostmon:\n  capture:\n    source: netmap\n",
			want:    "unsupported capture.source",
		},
		{
			name:    "file source without file",
			content: "hostmon:\n  capture:\n    source: file\n    local_mac: 02:00:00:00:00:01\n",
			want:    "capture.file is required",
		},
		{
			name:    "file source without mac",
			content: "hostmon:\n  capture:\n    source: file\n    file: dump.pcap\n",
			want:    "capture.local_mac is required",
		},
		{
			name:    "bad mac",
			content: "hostmon:\n  capture:\n    local_mac: not-a-mac\n",
			want:    "invalid capture.local_mac",
		},
		{
			name:    "snaplen",
			content: "hostmon:\n  capture:\n    snaplen: 0\n",
			want:    "capture.snaplen",
		},
		{
			name:    "interval",
			content: "hostmon:\n  report:\n    interval: 0s\n",
			want:    "report.interval",
		},
		{
			name:    "geoip without database",
			content: "hostmon:\n  geoip:\n    enabled: true\n",
			want:    "geoip.database",
		},
		{
			name:    "negative cache",
			content: "hostmon:\n  resolver:\n    cache_size: -1\n",
			want:    "resolver.cache_size",
		},
		{
			name:    "loki without endpoint",
			content: "hostmon:\n  log:\n    outputs:\n      loki:\n        enabled: true\n",
			want:    "loki.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected error wrapping ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadFileSource(t *testing.T) {
	path := writeConfig(t, `
hostmon:
  capture:
    source: FILE
    file: /tmp/dump.pcap
    local_mac: "02:00:00:00:00:01"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Capture.Source != SourceFile {
		t.Errorf("Expected source normalized to file, got %s", cfg.Capture.Source)
	}
}

func TestLoadZeroCaptureTimeout(t *testing.T) {
	for _, source := range []string{SourcePcap, SourceAFPacket} {
		path := writeConfig(t, `
hostmon:
  capture:
    source: `+source+`
    timeout: 0s
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if cfg.Capture.Timeout != DefaultCaptureTimeout {
			t.Errorf("%s: expected zero timeout replaced by %v, got %v", source, DefaultCaptureTimeout, cfg.Capture.Timeout)
		}
	}

	cfg := Config{}
	cfg.Log = LogConfig{Level: "info", Format: "text"}
	cfg.Capture = CaptureConfig{Source: SourceFile, File: "x.pcap", LocalMAC: "02:00:00:00:00:01", SnapLen: 1500}
	cfg.Report.Interval = time.Second
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		t.Fatalf("Unexpected validation error: %v", err)
	}
	if cfg.Capture.Timeout != 0 {
		t.Errorf("File replay should keep a zero timeout, got %v", cfg.Capture.Timeout)
	}
}

func TestDump(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	out, err := cfg.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	text := string(out)
	if !strings.HasPrefix(text, "hostmon:\n") {
		t.Errorf("Expected hostmon root key, got:\n%s", text)
	}
	if !strings.Contains(text, "interval: 5s") {
		t.Errorf("Expected durations rendered as strings, got:\n%s", text)
	}

	// The dump must load back into an identical configuration.
	var root configRoot
	if err := yaml.Unmarshal(out, &root); err != nil {
		t.Fatalf("Dump output is not valid YAML: %v", err)
	}
	if root.Hostmon.Capture.Filter != cfg.Capture.Filter {
		t.Errorf("Filter mismatch after round trip: %q vs %q", root.Hostmon.Capture.Filter, cfg.Capture.Filter)
	}
}
