// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"specgate/internal/gate"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
	if cfg.Audio.FrameSize() != 1024 {
		t.Errorf("default frame size = %d, want 1024", cfg.Audio.FrameSize())
	}
	if cfg.Pipeline.Threshold != gate.DefaultThreshold {
		t.Errorf("default threshold = %v", cfg.Pipeline.Threshold)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log:
  level: debug
  format: json
audio:
  sample_rate: 48000
  frames_per_buffer: 128
  input_channels: 2
  stall_timeout: 500ms
pipeline:
  mode: spectrum
  threshold: 0.25
  radix: 2
  poll_interval: 5ms
sinks:
  log: false
  websocket_addr: "127.0.0.1:8080"
  udp_target: "127.0.0.1:9090"
metrics:
  enabled: true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log section = %+v", cfg.Log)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.FrameSize() != 256 {
		t.Errorf("audio section = %+v", cfg.Audio)
	}
	if cfg.Audio.StallTimeout != 500*time.Millisecond {
		t.Errorf("stall_timeout = %v", cfg.Audio.StallTimeout)
	}
	if cfg.Pipeline.Mode != "spectrum" || cfg.Pipeline.Threshold != 0.25 || cfg.Pipeline.Radix != 2 {
		t.Errorf("pipeline section = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.PollInterval != 5*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Pipeline.PollInterval)
	}
	if cfg.Sinks.Log || cfg.Sinks.WebSocketAddr == "" || cfg.Sinks.UDPTarget == "" {
		t.Errorf("sinks section = %+v", cfg.Sinks)
	}
	// Unset keys keep their defaults.
	if cfg.Audio.InputDevice != -1 || cfg.Metrics.Addr == "" {
		t.Errorf("defaults lost: %+v %+v", cfg.Audio, cfg.Metrics)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"Frame size not power of four", func(c *Config) { c.Audio.FramesPerBuffer = 512 }, "not a power of 4"},
		{"Stereo breaks power of four", func(c *Config) { c.Audio.InputChannels = 2 }, "not a power of 4"},
		{"Bad radix", func(c *Config) { c.Pipeline.Radix = 8 }, "radix"},
		{"Negative threshold", func(c *Config) { c.Pipeline.Threshold = -0.1 }, "threshold"},
		{"Unknown mode", func(c *Config) { c.Pipeline.Mode = "waterfall" }, "mode"},
		{"Sample rate", func(c *Config) { c.Audio.SampleRate = 100 }, "sample_rate"},
		{"Channels", func(c *Config) { c.Audio.InputChannels = 0 }, "input_channels"},
		{"Device index", func(c *Config) { c.Audio.InputDevice = -3 }, "device"},
		{"Bit depth", func(c *Config) { c.Sinks.WAVBitDepth = 8 }, "wav_bit_depth"},
		{"Gain", func(c *Config) { c.Sinks.OutputGain = -1 }, "output_gain"},
		{"UDP target", func(c *Config) { c.Sinks.UDPTarget = "nowhere" }, "udp_target"},
		{"UDP frame over datagram limit", func(c *Config) {
			c.Sinks.UDPTarget = "127.0.0.1:9000"
			c.Audio.FramesPerBuffer = 16384
		}, "datagram limit"},
		{"No sinks", func(c *Config) { c.Sinks = SinksConfig{WAVBitDepth: 16} }, "no sink"},
		{"WAV in spectrum mode", func(c *Config) {
			c.Pipeline.Mode = "spectrum"
			c.Sinks.WAVPath = "out.wav"
		}, "reconstruct"},
		{"Metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}, "metrics.addr"},
		{"Log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"Poll interval", func(c *Config) { c.Pipeline.PollInterval = 0 }, "poll_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q missing %q", err.Error(), tt.substr)
			}
		})
	}
}

func TestValidate_RadixTwoAcceptsPowersOfTwo(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Pipeline.Radix = 2
	cfg.Audio.FramesPerBuffer = 512
	if err := cfg.Validate(); err != nil {
		t.Errorf("512 with radix 2 should be valid: %v", err)
	}
}

func TestValidate_UDPFrameLimitFollowsMode(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Sinks.UDPTarget = "127.0.0.1:9000"
	cfg.Audio.FramesPerBuffer = 4096
	if err := cfg.Validate(); err != nil {
		t.Fatalf("4096 samples fit one datagram: %v", err)
	}

	// A spectrum carries N/2+1 values: 8193 for 16384 samples.
	cfg.Audio.FramesPerBuffer = 16384
	cfg.Pipeline.Mode = "spectrum"
	if err := cfg.Validate(); err != nil {
		t.Errorf("16384-sample spectrum should fit one datagram: %v", err)
	}

	cfg.Audio.FramesPerBuffer = 65536
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("65536-sample spectrum should be rejected, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	cfg := Default()
	err := cfg.applyEnvOverrides(envMap(map[string]string{
		"ENV_LOG_LEVEL":          "DEBUG",
		"ENV_INPUT_DEVICE":       "3",
		"ENV_SAMPLE_RATE":        "48000",
		"ENV_PIPELINE_THRESHOLD": "0.5",
		"ENV_PIPELINE_MODE":      "spectrum",
		"ENV_PIPELINE_NORMALIZE": "true",
		"ENV_UDP_TARGET_ADDRESS": "10.0.0.1:9000",
		"ENV_TUI":                "1",
		"ENV_METRICS_ENABLED":    "true",
	}))
	if err != nil {
		t.Fatalf("applyEnvOverrides error: %v", err)
	}

	if cfg.Log.Level != "DEBUG" || cfg.Audio.InputDevice != 3 || cfg.Audio.SampleRate != 48000 {
		t.Errorf("overrides not applied: %+v %+v", cfg.Log, cfg.Audio)
	}
	if cfg.Pipeline.Threshold != 0.5 || cfg.Pipeline.Mode != "spectrum" || !cfg.Pipeline.NormalizeInverse {
		t.Errorf("pipeline overrides not applied: %+v", cfg.Pipeline)
	}
	if cfg.Sinks.UDPTarget != "10.0.0.1:9000" || !cfg.Sinks.TUI || !cfg.Metrics.Enabled {
		t.Errorf("sink overrides not applied: %+v %+v", cfg.Sinks, cfg.Metrics)
	}
}

func TestEnvOverrides_Malformed(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"ENV_INPUT_DEVICE":       "mic",
		"ENV_PIPELINE_THRESHOLD": "-1",
		"ENV_PLAYBACK":           "maybe",
	}
	for name, val := range tests {
		t.Run(name, func(t *testing.T) {
			err := Default().applyEnvOverrides(envMap(map[string]string{name: val}))
			if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), name) {
				t.Errorf("expected ErrInvalid mentioning %s, got %v", name, err)
			}
		})
	}
}
