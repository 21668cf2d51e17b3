// SPDX-License-Identifier: MIT
/*
Package source abstracts where PCM frames come from. A Backend opens a
Source for a device identifier; the Source then hands out one fixed-size
frame per blocking Read until it fails or is closed.

Backends:
  - PortAudio: live capture from a sound card or monitor source.
  - WAVFile: a recorded file, optionally paced at the sample rate.
  - Synthetic: generated tones, for running without hardware.

Read errors are classified with the sentinel errors below so the capture
loop can tell a dropped buffer (ErrTransient) from a lost device (ErrCapture).
*/
package source

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrDeviceUnavailable is returned by Open when the device is missing,
	// busy, lacks permission or cannot provide the requested format.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrCapture marks a read failure that ends the session.
	ErrCapture = errors.New("capture failed")

	// ErrTransient marks a recoverable read condition such as an input
	// overflow. The frame content is unspecified and should be skipped.
	ErrTransient = errors.New("transient capture condition")

	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("source closed")
)

// DefaultDevice selects the system default input or monitor source.
const DefaultDevice = "default"

// SampleFormat is the PCM encoding requested from the backend.
type SampleFormat int

const (
	Int16 SampleFormat = iota
	Float32
)

func (s SampleFormat) String() string {
	switch s {
	case Int16:
		return "int16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(s))
	}
}

// ParseSampleFormat converts "int16" or "float32" (case-insensitive).
func ParseSampleFormat(name string) (SampleFormat, error) {
	switch strings.ToLower(name) {
	case "int16", "s16", "s16le":
		return Int16, nil
	case "float32", "f32", "float":
		return Float32, nil
	default:
		return Int16, fmt.Errorf("unknown sample format %q", name)
	}
}

// Format is fixed for the lifetime of a Source.
type Format struct {
	SampleRate float64      // Hz
	Channels   int          // Interleaved channels per frame
	FrameSize  int          // Samples per channel per frame (N)
	Encoding   SampleFormat // Sample encoding
}

// FrameDuration is the wall-clock time one frame covers.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(f.FrameSize) / f.SampleRate * float64(time.Second))
}

// Frame is one block of interleaved PCM. Only the slice matching
// Format.Encoding is allocated. Frames are reused across reads and must not
// be retained after the next Read.
type Frame struct {
	Format  Format
	Int16   []int16
	Float32 []float32
}

// NewFrame allocates a frame for format.
func NewFrame(format Format) *Frame {
	f := &Frame{Format: format}
	n := format.FrameSize * format.Channels
	switch format.Encoding {
	case Float32:
		f.Float32 = make([]float32, n)
	default:
		f.Int16 = make([]int16, n)
	}
	return f
}

// Len returns the number of samples per channel.
func (f *Frame) Len() int {
	return f.Format.FrameSize
}

// Sample returns sample i of the first channel normalized to [-1, 1].
// Int16 samples are divided by 32768; float samples are used as-is.
// Non-finite float samples read as silence.
func (f *Frame) Sample(i int) float64 {
	idx := i * f.Format.Channels
	if f.Format.Encoding == Float32 {
		v := float64(f.Float32[idx])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	}
	return float64(f.Int16[idx]) / 32768.0
}

// Clear zeroes the frame.
func (f *Frame) Clear() {
	clear(f.Int16)
	clear(f.Float32)
}

// Source is an open capture stream.
type Source interface {
	// Read blocks until frame is filled, the source fails, or it is closed.
	Read(frame *Frame) error
	// Close releases backend resources. It is safe to call more than once.
	Close() error
}

// Backend opens sources by device identifier.
type Backend interface {
	Open(device string, format Format) (Source, error)
	Devices() ([]DeviceDescriptor, error)
}

// DeviceDescriptor describes a device a Backend can open.
type DeviceDescriptor struct {
	ID                string
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

func (d DeviceDescriptor) String() string {
	if d.Default {
		return fmt.Sprintf("[%s] %s (default)", d.ID, d.Name)
	}
	return fmt.Sprintf("[%s] %s", d.ID, d.Name)
}

func validateFormat(format Format) error {
	switch {
	case format.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %.0f", ErrDeviceUnavailable, format.SampleRate)
	case format.Channels < 1:
		return fmt.Errorf("%w: channel count %d", ErrDeviceUnavailable, format.Channels)
	case format.FrameSize < 1:
		return fmt.Errorf("%w: frame size %d", ErrDeviceUnavailable, format.FrameSize)
	}
	return nil
}
