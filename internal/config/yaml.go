// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"specgate/internal/frame"
	"specgate/internal/gate"
	"specgate/internal/sink/udp"
	"specgate/pkg/bitint"
)

// DefaultPath is the config file picked up when no path is given.
const DefaultPath = "config.yaml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Log      LogConfig      `yaml:"log"`      // Logging settings.
	Audio    AudioConfig    `yaml:"audio"`    // Capture and playback device settings.
	Pipeline PipelineConfig `yaml:"pipeline"` // Transform and gate settings.
	Sinks    SinksConfig    `yaml:"sinks"`    // Where delivered frames go.
	Metrics  MetricsConfig  `yaml:"metrics"`  // Prometheus endpoint.
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level        string `yaml:"level"`         // DEBUG, INFO, WARN, ERROR or FATAL.
	Format       string `yaml:"format"`        // "text" or "json".
	File         string `yaml:"file"`          // Rotating log file, empty for stdout only.
	MaxSizeMB    int    `yaml:"max_size_mb"`   // Rotate after this size.
	MaxBackups   int    `yaml:"max_backups"`   // Rotated files kept.
	MaxAgeDays   int    `yaml:"max_age_days"`  // Days rotated files are kept.
	ReportCaller bool   `yaml:"report_caller"` // Log file:line of each call site.
}

// AudioConfig holds settings related to audio input/output.
type AudioConfig struct {
	InputDevice     int           `yaml:"input_device"`      // PortAudio device index for input (-1 for default).
	OutputDevice    int           `yaml:"output_device"`     // PortAudio device index for playback (-1 for default).
	SampleRate      float64       `yaml:"sample_rate"`       // Sample rate in Hz.
	FramesPerBuffer int           `yaml:"frames_per_buffer"` // Frames per callback.
	InputChannels   int           `yaml:"input_channels"`    // Interleaved input channels.
	LowLatency      bool          `yaml:"low_latency"`       // Request low latency settings from PortAudio.
	StallTimeout    time.Duration `yaml:"stall_timeout"`     // Silence before the stream counts as stalled.
}

// FrameSize is the number of interleaved samples per frame.
func (a AudioConfig) FrameSize() int {
	return a.FramesPerBuffer * a.InputChannels
}

// PipelineConfig holds transform and gate settings.
type PipelineConfig struct {
	Mode             string         `yaml:"mode"`              // "reconstruct" or "spectrum".
	Threshold        gate.Threshold `yaml:"threshold"`         // Gate cutoff, 0 disables the gate.
	Radix            int            `yaml:"radix"`             // Frame size must be a power of this (2 or 4).
	NormalizeInverse bool           `yaml:"normalize_inverse"` // Divide the inverse transform by N.
	PollInterval     time.Duration  `yaml:"poll_interval"`     // Longest consumer sleep.
}

// SinksConfig selects the consumers of delivered frames.
type SinksConfig struct {
	TUI           bool    `yaml:"tui"`            // Terminal renderer.
	WebSocketAddr string  `yaml:"websocket_addr"` // Renderer feed listen address, empty disables.
	UDPTarget     string  `yaml:"udp_target"`     // Binary datagram target, empty disables.
	WAVPath       string  `yaml:"wav_path"`       // Recording of reconstructed frames, empty disables.
	WAVBitDepth   int     `yaml:"wav_bit_depth"`  // 16, 24 or 32.
	Playback      bool    `yaml:"playback"`       // Replay reconstructed frames on the output device.
	Log           bool    `yaml:"log"`            // Debug summary of every frame.
	OutputGain    float64 `yaml:"output_gain"`    // Gain for playback and WAV, 0 selects 1/round-trip gain.
}

// Any reports whether at least one sink is enabled.
func (s SinksConfig) Any() bool {
	return s.TUI || s.WebSocketAddr != "" || s.UDPTarget != "" || s.WAVPath != "" || s.Playback || s.Log
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:        "INFO",
			Format:       "text",
			MaxSizeMB:    10,
			MaxBackups:   3,
			MaxAgeDays:   7,
			ReportCaller: true,
		},
		Audio: AudioConfig{
			InputDevice:     -1, // -1 for default device.
			OutputDevice:    -1,
			SampleRate:      44100,
			FramesPerBuffer: 1024,
			InputChannels:   1,
			LowLatency:      false,
			StallTimeout:    2 * time.Second,
		},
		Pipeline: PipelineConfig{
			Mode:         "reconstruct",
			Threshold:    gate.DefaultThreshold,
			Radix:        4,
			PollInterval: 20 * time.Millisecond,
		},
		Sinks: SinksConfig{
			WAVBitDepth: 16,
			Log:         true,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it looks for DefaultPath in the working directory. If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is LoadConfig without validation, for callers that layer further
// overrides (command-line flags) on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and returns the first problem wrapped in
// ErrInvalid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return invalid("log.format %q must be text or json", c.Log.Format)
	}

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return invalid("audio.sample_rate %.0f out of range [8000, 192000]", c.Audio.SampleRate)
	}
	if c.Audio.InputChannels < 1 {
		return invalid("audio.input_channels must be at least 1, got %d", c.Audio.InputChannels)
	}
	if c.Audio.FramesPerBuffer < 1 {
		return invalid("audio.frames_per_buffer must be positive, got %d", c.Audio.FramesPerBuffer)
	}
	if c.Audio.InputDevice < -1 || c.Audio.OutputDevice < -1 {
		return invalid("device indices must be -1 (default) or a device ID")
	}

	switch strings.ToLower(c.Pipeline.Mode) {
	case "reconstruct", "spectrum":
	default:
		return invalid("pipeline.mode %q must be reconstruct or spectrum", c.Pipeline.Mode)
	}
	if c.Pipeline.Radix != 2 && c.Pipeline.Radix != 4 {
		return invalid("pipeline.radix must be 2 or 4, got %d", c.Pipeline.Radix)
	}
	if size := c.Audio.FrameSize(); !bitint.IsPowerOfRadix(size, c.Pipeline.Radix) {
		return invalid("frame size %d (frames_per_buffer x input_channels) is not a power of %d; try frames_per_buffer %d",
			size, c.Pipeline.Radix, bitint.NextPowerOfRadix(size, c.Pipeline.Radix)/c.Audio.InputChannels)
	}
	if err := c.Pipeline.Threshold.Validate(); err != nil {
		return invalid("pipeline.threshold: %v", err)
	}
	if c.Pipeline.PollInterval <= 0 {
		return invalid("pipeline.poll_interval must be positive")
	}

	switch c.Sinks.WAVBitDepth {
	case 16, 24, 32:
	default:
		return invalid("sinks.wav_bit_depth must be 16, 24 or 32, got %d", c.Sinks.WAVBitDepth)
	}
	if c.Sinks.OutputGain < 0 {
		return invalid("sinks.output_gain must not be negative")
	}
	if c.Sinks.UDPTarget != "" {
		if _, _, err := net.SplitHostPort(c.Sinks.UDPTarget); err != nil {
			return invalid("sinks.udp_target %q: %v", c.Sinks.UDPTarget, err)
		}
		values := c.Audio.FrameSize()
		if strings.EqualFold(c.Pipeline.Mode, "spectrum") {
			values = frame.HalfSize(values)
		}
		if values > udp.MaxValues {
			return invalid("sinks.udp_target: %d values per frame exceed the datagram limit of %d", values, udp.MaxValues)
		}
	}
	if (c.Sinks.Playback || c.Sinks.WAVPath != "") && strings.EqualFold(c.Pipeline.Mode, "spectrum") {
		return invalid("playback and WAV sinks need pipeline.mode reconstruct")
	}
	if !c.Sinks.Any() {
		return invalid("no sink enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// applyEnvOverrides applies ENV_* variables on top of the loaded values.
// Malformed values are errors rather than silently ignored.
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if val, ok := lookup(name); ok {
			*dst = val
		}
	}
	parse := func(name string, set func(string) error) error {
		val, ok := lookup(name)
		if !ok {
			return nil
		}
		if err := set(val); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, name, val, err)
		}
		return nil
	}
	boolVar := func(dst *bool) func(string) error {
		return func(s string) (err error) { *dst, err = strconv.ParseBool(s); return }
	}
	intVar := func(dst *int) func(string) error {
		return func(s string) (err error) { *dst, err = strconv.Atoi(s); return }
	}
	floatVar := func(dst *float64) func(string) error {
		return func(s string) (err error) { *dst, err = strconv.ParseFloat(s, 64); return }
	}

	// ENV_LOG_{...}
	str("ENV_LOG_LEVEL", &c.Log.Level)
	str("ENV_LOG_FILE", &c.Log.File)

	// ENV_PIPELINE_{...}
	str("ENV_PIPELINE_MODE", &c.Pipeline.Mode)

	// Sinks and metrics.
	str("ENV_WEBSOCKET_ADDR", &c.Sinks.WebSocketAddr)
	str("ENV_UDP_TARGET_ADDRESS", &c.Sinks.UDPTarget)
	str("ENV_WAV_PATH", &c.Sinks.WAVPath)
	str("ENV_METRICS_ADDR", &c.Metrics.Addr)

	for _, p := range []struct {
		name string
		set  func(string) error
	}{
		{"ENV_INPUT_DEVICE", intVar(&c.Audio.InputDevice)},
		{"ENV_OUTPUT_DEVICE", intVar(&c.Audio.OutputDevice)},
		{"ENV_SAMPLE_RATE", floatVar(&c.Audio.SampleRate)},
		{"ENV_FRAMES_PER_BUFFER", intVar(&c.Audio.FramesPerBuffer)},
		{"ENV_INPUT_CHANNELS", intVar(&c.Audio.InputChannels)},
		{"ENV_PIPELINE_RADIX", intVar(&c.Pipeline.Radix)},
		{"ENV_PIPELINE_NORMALIZE", boolVar(&c.Pipeline.NormalizeInverse)},
		{"ENV_PIPELINE_THRESHOLD", func(s string) (err error) {
			c.Pipeline.Threshold, err = gate.ParseThreshold(s)
			return
		}},
		{"ENV_TUI", boolVar(&c.Sinks.TUI)},
		{"ENV_PLAYBACK", boolVar(&c.Sinks.Playback)},
		{"ENV_METRICS_ENABLED", boolVar(&c.Metrics.Enabled)},
	} {
		if err := parse(p.name, p.set); err != nil {
			return err
		}
	}
	return nil
}
