// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"visualizer/pkg/signal"
)

// Synthetic generates tones instead of capturing. The "default" device is a
// slowly pulsing three-tone demo; any other device is a comma-separated list
// of frequencies in Hz, e.g. "440,880".
type Synthetic struct {
	// Realtime paces reads to the frame duration, like a sound card would.
	Realtime bool
}

var _ Backend = (*Synthetic)(nil)

// NewSynthetic returns a tone generator backend.
func NewSynthetic(realtime bool) *Synthetic {
	return &Synthetic{Realtime: realtime}
}

// demoTones spread across the low, mid and high buckets.
var demoTones = []signal.Tone{
	{Frequency: 110, Amplitude: 0.35},
	{Frequency: 1000, Amplitude: 0.25},
	{Frequency: 6000, Amplitude: 0.1},
}

const demoPulseHz = 0.5

func (b *Synthetic) Devices() ([]DeviceDescriptor, error) {
	return []DeviceDescriptor{
		{ID: DefaultDevice, Name: "Synthetic demo (110 Hz, 1 kHz, 6 kHz, pulsing)", MaxInputChannels: MaxSyntheticChannels, Default: true},
		{ID: "440", Name: "Synthetic 440 Hz sine", MaxInputChannels: MaxSyntheticChannels},
		{ID: "220,440,880", Name: "Synthetic octave stack", MaxInputChannels: MaxSyntheticChannels},
	}, nil
}

// MaxSyntheticChannels bounds the channel count the generator will fill.
const MaxSyntheticChannels = 8

func (b *Synthetic) Open(device string, format Format) (Source, error) {
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	if format.Channels > MaxSyntheticChannels {
		return nil, fmt.Errorf("%w: %d channels, synthetic supports %d",
			ErrDeviceUnavailable, format.Channels, MaxSyntheticChannels)
	}

	s := &synthSource{
		format: format,
		mono:   make([]float32, format.FrameSize),
		mixed:  make([]float32, format.FrameSize*format.Channels),
		done:   make(chan struct{}),
	}

	if device == "" || device == DefaultDevice {
		s.tones = demoTones
		s.pulse = true
	} else {
		tones, err := parseTones(device, format.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		s.tones = tones
	}

	if b.Realtime {
		s.ticker = time.NewTicker(format.FrameDuration())
	}
	return s, nil
}

// parseTones reads "f1,f2,..." into equal-amplitude tones that sum to at most
// half scale.
func parseTones(list string, sampleRate float64) ([]signal.Tone, error) {
	fields := strings.Split(list, ",")
	tones := make([]signal.Tone, 0, len(fields))
	for _, field := range fields {
		hz, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tone frequency %q", field)
		}
		if hz <= 0 || hz >= sampleRate/2 {
			return nil, fmt.Errorf("tone %.1f Hz outside (0, %.0f) Hz", hz, sampleRate/2)
		}
		tones = append(tones, signal.Tone{Frequency: hz})
	}
	for i := range tones {
		tones[i].Amplitude = 0.5 / float64(len(tones))
	}
	return tones, nil
}

type synthSource struct {
	format Format
	tones  []signal.Tone
	pulse  bool
	ticker *time.Ticker
	done   chan struct{}

	mu     sync.Mutex
	offset int
	mono   []float32
	mixed  []float32
	closed bool
	once   sync.Once
}

func (s *synthSource) Read(frame *Frame) error {
	if s.ticker != nil {
		select {
		case <-s.ticker.C:
		case <-s.done:
			return ErrClosed
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	start := s.offset
	s.offset = signal.Mix(s.mono, s.format.SampleRate, s.tones, s.offset)
	if s.pulse {
		t := float64(start) / s.format.SampleRate
		env := float32(0.55 + 0.45*math.Sin(2*math.Pi*demoPulseHz*t))
		for i := range s.mono {
			s.mono[i] *= env
		}
	}

	signal.Interleave(s.mixed, s.mono, s.format.Channels)
	if s.format.Encoding == Float32 {
		copy(frame.Float32, s.mixed)
	} else {
		signal.ToInt16(frame.Int16, s.mixed)
	}
	return nil
}

func (s *synthSource) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.ticker != nil {
			s.ticker.Stop()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	return nil
}
