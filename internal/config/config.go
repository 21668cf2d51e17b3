// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	applog "visualizer/internal/log"
	"visualizer/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration rejected before any goroutine starts.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration, loaded from YAML and
// refined by environment variables and command line flags.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug logging.
	LogLevel  string          `yaml:"log_level"` // "debug", "info", "warn", "error".
	Command   string          `yaml:"-"`         // One-off command selected on the CLI ("list", "devices").
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Smoothing SmoothingConfig `yaml:"smoothing"`
	Render    RenderConfig    `yaml:"render"`
	Transport TransportConfig `yaml:"transport"`
	Recording RecordingConfig `yaml:"recording"`
}

// AudioConfig selects the capture backend and the fixed stream format.
type AudioConfig struct {
	Backend      string  `yaml:"backend"`       // "portaudio", "wav" or "synthetic".
	Device       string  `yaml:"device"`        // "default", a PortAudio device index, or a WAV path.
	SampleRate   float64 `yaml:"sample_rate"`   // Hz.
	Channels     int     `yaml:"channels"`      // Captured channels; only the first is analyzed.
	FrameSize    int     `yaml:"frame_size"`    // N, samples per channel per frame (power of 2).
	SampleFormat string  `yaml:"sample_format"` // "int16" or "float32".
	LowLatency   bool    `yaml:"low_latency"`   // Request the device's low input latency.
	Realtime     bool    `yaml:"realtime"`      // Pace file and synthetic backends at the sample rate.
}

// AnalysisConfig controls the transform, bucketing and scaling.
type AnalysisConfig struct {
	BucketCount   int     `yaml:"bucket_count"`   // B, displayed buckets (<= N/2).
	Scaling       string  `yaml:"scaling"`        // "decibel" or "linear".
	Window        string  `yaml:"window"`         // Window function name, or "none".
	FloorDB       float64 `yaml:"floor_db"`       // Decibel mapped to 0.0.
	CeilingDB     float64 `yaml:"ceiling_db"`     // Decibel mapped to 1.0.
	LevelFloorDB  float64 `yaml:"level_floor_db"` // Loudness floor for the scalar level.
	Gain          float64 `yaml:"gain"`           // Input sensitivity, 0.1..10.
	GateThreshold float64 `yaml:"gate_threshold"` // Peak below this (0..1) is treated as silence.
}

// SmoothingConfig holds the EMA coefficients.
type SmoothingConfig struct {
	Alpha      float64 `yaml:"alpha"`       // Spectrum alpha in (0, 1].
	LevelAlpha float64 `yaml:"level_alpha"` // Level alpha in (0, 1].
}

// RenderConfig controls the consumer side.
type RenderConfig struct {
	FPS         int           `yaml:"fps"`          // Render ticks per second.
	TUI         bool          `yaml:"tui"`          // Show the terminal meter.
	LogInterval time.Duration `yaml:"log_interval"` // Log renderer period, 0 disables it.
}

// TransportConfig holds settings for network renderers.
type TransportConfig struct {
	WSEnabled        bool          `yaml:"ws_enabled"`
	WSAddr           string        `yaml:"ws_addr"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// RecordingConfig holds settings for the WAV recorder.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	BitDepth  int    `yaml:"bit_depth"` // 16 or 32.
}

// Load reads configuration from path. If path is empty it looks for
// "config.yaml" in the working directory and falls back to defaults when
// none exists. Environment overrides are applied after the file; the result
// is not validated so that CLI flags can still be layered on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err != nil {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Validate checks every field against the pipeline's limits and returns an
// error wrapping ErrInvalid that lists all problems found.
func (c *Config) Validate() error {
	var problems []error
	bad := func(format string, v ...any) {
		problems = append(problems, fmt.Errorf(format, v...))
	}

	switch c.Audio.Backend {
	case BackendPortAudio, BackendWAV, BackendSynthetic:
	default:
		bad("audio.backend %q is not one of portaudio, wav, synthetic", c.Audio.Backend)
	}
	if c.Audio.Backend == BackendWAV && (c.Audio.Device == "" || c.Audio.Device == DefaultDevice) {
		bad("audio.device must be a file path for the wav backend")
	}
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		bad("audio.sample_rate %.0f outside [%d, %d]", c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > MaxChannels {
		bad("audio.channels %d outside [1, %d]", c.Audio.Channels, MaxChannels)
	}
	n := c.Audio.FrameSize
	switch {
	case !bitint.IsPowerOfTwo(n):
		bad("audio.frame_size %d is not a power of 2 (nearest: %d)", n, bitint.NearestPowerOfTwo(n))
	case n < MinFrameSize || n > MaxFrameSize:
		bad("audio.frame_size %d outside [%d, %d]", n, MinFrameSize, MaxFrameSize)
	}
	switch c.Audio.SampleFormat {
	case FormatInt16, FormatFloat32:
	default:
		bad("audio.sample_format %q is not one of int16, float32", c.Audio.SampleFormat)
	}

	if c.Analysis.BucketCount < 1 || c.Analysis.BucketCount > n/2 {
		bad("analysis.bucket_count %d outside [1, frame_size/2 = %d]", c.Analysis.BucketCount, n/2)
	}
	switch c.Analysis.Scaling {
	case ScalingDecibel, ScalingLinear:
	default:
		bad("analysis.scaling %q is not one of decibel, linear", c.Analysis.Scaling)
	}
	if c.Analysis.FloorDB >= c.Analysis.CeilingDB {
		bad("analysis.floor_db %.1f must be below ceiling_db %.1f", c.Analysis.FloorDB, c.Analysis.CeilingDB)
	}
	if c.Analysis.LevelFloorDB >= 0 {
		bad("analysis.level_floor_db %.1f must be negative", c.Analysis.LevelFloorDB)
	}
	if c.Analysis.Gain < MinGain || c.Analysis.Gain > MaxGain {
		bad("analysis.gain %.2f outside [%.1f, %.1f]", c.Analysis.Gain, MinGain, MaxGain)
	}
	if c.Analysis.GateThreshold < 0 || c.Analysis.GateThreshold >= 1 {
		bad("analysis.gate_threshold %.3f outside [0, 1)", c.Analysis.GateThreshold)
	}

	if c.Smoothing.Alpha <= 0 || c.Smoothing.Alpha > 1 {
		bad("smoothing.alpha %.3f outside (0, 1]", c.Smoothing.Alpha)
	}
	if c.Smoothing.LevelAlpha <= 0 || c.Smoothing.LevelAlpha > 1 {
		bad("smoothing.level_alpha %.3f outside (0, 1]", c.Smoothing.LevelAlpha)
	}

	if c.Render.FPS < 1 || c.Render.FPS > MaxFPS {
		bad("render.fps %d outside [1, %d]", c.Render.FPS, MaxFPS)
	}
	if c.Render.LogInterval < 0 {
		bad("render.log_interval must not be negative")
	}

	if c.Transport.WSEnabled && c.Transport.WSAddr == "" {
		bad("transport.ws_addr must be set when the websocket renderer is enabled")
	}
	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			bad("transport.udp_target_address %q appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			bad("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 32 {
		bad("recording.bit_depth %d is not 16 or 32", c.Recording.BitDepth)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(problems...))
}

// FrameDuration is the wall-clock time covered by one frame.
func (c *Config) FrameDuration() time.Duration {
	return time.Duration(float64(c.Audio.FrameSize) / c.Audio.SampleRate * float64(time.Second))
}

// applyEnvOverrides applies ENV_* variables on top of file values.
func (c *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
			applog.Infof("configuration: Overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		applog.Infof("configuration: Overriding log_level from env: %s", val)
	}
	// ENV_DEVICE
	if val, ok := os.LookupEnv("ENV_DEVICE"); ok {
		c.Audio.Device = val
		applog.Infof("configuration: Overriding audio.device from env: %s", val)
	}
	// ENV_SCALING
	if val, ok := os.LookupEnv("ENV_SCALING"); ok {
		c.Analysis.Scaling = strings.ToLower(val)
		applog.Infof("configuration: Overriding analysis.scaling from env: %s", val)
	}

	// ENV_WS_{...} and ENV_UDP_{...} are specific to the transport layer.

	// ENV_WS_ADDR
	if val, ok := os.LookupEnv("ENV_WS_ADDR"); ok {
		c.Transport.WSEnabled = true
		c.Transport.WSAddr = val
		applog.Infof("configuration: Overriding transport.ws_addr from env: %s", val)
	}
	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = bVal
			applog.Infof("configuration: Overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		applog.Infof("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
			applog.Infof("configuration: Overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}
