// SPDX-License-Identifier: MIT
package source

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio library seams, replaced in tests.
var (
	paLibInitialize             = portaudio.Initialize
	paLibTerminate              = portaudio.Terminate
	paLibDevicesFunc            = portaudio.Devices
	paLibDefaultInputDeviceFunc = portaudio.DefaultInputDevice
	paOpenStreamFunc            = func(p portaudio.StreamParameters, buffer any) (paStream, error) {
		return portaudio.OpenStream(p, buffer)
	}
)

// paStream is the subset of *portaudio.Stream used in blocking mode.
type paStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// Initialize sets up the PortAudio subsystem.
// This must be called before any PortAudio backend operation and paired with Terminate.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// PortAudio captures from a host audio device using blocking reads.
type PortAudio struct {
	// LowLatency requests the device's low input latency instead of the
	// high (more robust) one.
	LowLatency bool
}

var _ Backend = (*PortAudio)(nil)

// NewPortAudio returns a PortAudio backend. Initialize must have been called.
func NewPortAudio(lowLatency bool) *PortAudio {
	return &PortAudio{LowLatency: lowLatency}
}

// Devices lists input-capable devices, with the system default first.
func (b *PortAudio) Devices() ([]DeviceDescriptor, error) {
	infos, err := paDevices()
	if err != nil {
		return nil, err
	}

	descriptors := []DeviceDescriptor{{ID: DefaultDevice, Name: "System default input", Default: true}}
	if def, err := paLibDefaultInputDeviceFunc(); err == nil && def != nil {
		descriptors[0].Name = def.Name
		descriptors[0].MaxInputChannels = def.MaxInputChannels
		descriptors[0].DefaultSampleRate = def.DefaultSampleRate
	}

	for i, info := range infos {
		if info.MaxInputChannels == 0 {
			continue
		}
		descriptors = append(descriptors, DeviceDescriptor{
			ID:                strconv.Itoa(i),
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		})
	}
	return descriptors, nil
}

// InputDevice resolves a device identifier: "default" (or empty) is the
// system default input, a number is a PortAudio device index, anything else
// is matched case-insensitively against device names.
func InputDevice(device string) (*portaudio.DeviceInfo, error) {
	if device == "" || device == DefaultDevice {
		info, err := paLibDefaultInputDeviceFunc()
		if err != nil {
			return nil, err
		}
		return info, nil
	}

	devices, err := paDevices()
	if err != nil {
		return nil, err
	}

	if id, err := strconv.Atoi(device); err == nil {
		if id < 0 || id >= len(devices) {
			return nil, fmt.Errorf("invalid device ID: %d", id)
		}
		if devices[id].MaxInputChannels == 0 {
			return nil, fmt.Errorf("device %d (%s) does not support input", id, devices[id].Name)
		}
		return devices[id], nil
	}

	want := strings.ToLower(device)
	for _, info := range devices {
		if info.MaxInputChannels > 0 && strings.Contains(strings.ToLower(info.Name), want) {
			return info, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", device)
}

// Open starts a blocking input stream for device in the given format.
func (b *PortAudio) Open(device string, format Format) (Source, error) {
	if err := validateFormat(format); err != nil {
		return nil, err
	}

	info, err := InputDevice(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if info.MaxInputChannels < format.Channels {
		return nil, fmt.Errorf("%w: %s has %d input channels, need %d",
			ErrDeviceUnavailable, info.Name, info.MaxInputChannels, format.Channels)
	}

	latency := info.DefaultHighInputLatency
	if b.LowLatency {
		latency = info.DefaultLowInputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: format.Channels,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // Capture only
			Device:   nil,
		},
		FramesPerBuffer: format.FrameSize,
		SampleRate:      format.SampleRate,
	}

	s := &paSource{format: format, device: info.Name}
	var buffer any
	switch format.Encoding {
	case Float32:
		s.f32 = make([]float32, format.FrameSize*format.Channels)
		buffer = s.f32
	default:
		s.i16 = make([]int16, format.FrameSize*format.Channels)
		buffer = s.i16
	}

	stream, err := paOpenStreamFunc(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrDeviceUnavailable, info.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start %s: %w", ErrDeviceUnavailable, info.Name, err)
	}
	s.stream = stream
	return s, nil
}

type paSource struct {
	format Format
	device string
	i16    []int16
	f32    []float32

	mu     sync.Mutex
	stream paStream
	closed bool
}

// Read blocks inside PortAudio until one frame period of input is available.
func (s *paSource) Read(frame *Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	stream := s.stream
	s.mu.Unlock()

	if err := stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrCapture, s.device, err)
	}

	if s.format.Encoding == Float32 {
		copy(frame.Float32, s.f32)
	} else {
		copy(frame.Int16, s.i16)
	}
	return nil
}

// Close stops and closes the stream exactly once.
func (s *paSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	if err := errors.Join(stopErr, closeErr); err != nil {
		return fmt.Errorf("closing %s: %w", s.device, err)
	}
	return nil
}

// paDevices returns all PortAudio devices, never a nil slice on success.
func paDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := paLibDevicesFunc()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*portaudio.DeviceInfo{}
	}
	return devices, nil
}
