// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the analysis pipeline.
const (
	// Capture defaults
	DefaultBackend      = BackendPortAudio
	DefaultDevice       = "default" // System default input or monitor source
	DefaultSampleRate   = 44100     // CD-quality audio
	DefaultChannels     = 2         // Stereo capture, first channel analyzed
	DefaultFrameSize    = 1024      // ~23ms per frame at 44.1kHz
	DefaultSampleFormat = FormatInt16
	DefaultLowLatency   = false

	// Analysis defaults
	DefaultBucketCount   = 128
	DefaultScaling       = ScalingDecibel
	DefaultWindow        = "hann"
	DefaultFloorDB       = -90.0
	DefaultCeilingDB     = 0.0
	DefaultLevelFloorDB  = -60.0
	DefaultGain          = 1.0
	DefaultGateThreshold = 0.0 // Gate disabled

	// Smoothing defaults
	DefaultAlpha      = 0.3
	DefaultLevelAlpha = 0.3

	// Render defaults
	DefaultFPS         = 60
	DefaultLogInterval = time.Second

	// Transport defaults
	DefaultWSAddr           = ":8080"
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond // ~30Hz

	// Recording defaults
	DefaultOutputDir = "./recordings"
	DefaultBitDepth  = 16

	// Hardware and processing limits
	MinSampleRate = 8000
	MaxSampleRate = 192000
	MinFrameSize  = 64
	MaxFrameSize  = 8192
	MaxChannels   = 8
	MinGain       = 0.1
	MaxGain       = 10.0
	MaxFPS        = 240
)

// Backend names.
const (
	BackendPortAudio = "portaudio"
	BackendWAV       = "wav"
	BackendSynthetic = "synthetic"
)

// Sample encodings requested from the backend.
const (
	FormatInt16   = "int16"
	FormatFloat32 = "float32"
)

// Scaling modes applied to magnitudes.
const (
	ScalingDecibel = "decibel"
	ScalingLinear  = "linear"
)

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:      DefaultBackend,
			Device:       DefaultDevice,
			SampleRate:   DefaultSampleRate,
			Channels:     DefaultChannels,
			FrameSize:    DefaultFrameSize,
			SampleFormat: DefaultSampleFormat,
			LowLatency:   DefaultLowLatency,
			Realtime:     true,
		},
		Analysis: AnalysisConfig{
			BucketCount:   DefaultBucketCount,
			Scaling:       DefaultScaling,
			Window:        DefaultWindow,
			FloorDB:       DefaultFloorDB,
			CeilingDB:     DefaultCeilingDB,
			LevelFloorDB:  DefaultLevelFloorDB,
			Gain:          DefaultGain,
			GateThreshold: DefaultGateThreshold,
		},
		Smoothing: SmoothingConfig{
			Alpha:      DefaultAlpha,
			LevelAlpha: DefaultLevelAlpha,
		},
		Render: RenderConfig{
			FPS:         DefaultFPS,
			LogInterval: DefaultLogInterval,
		},
		Transport: TransportConfig{
			WSAddr:           DefaultWSAddr,
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultOutputDir,
			BitDepth:  DefaultBitDepth,
		},
	}
}
