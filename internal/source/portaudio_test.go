// SPDX-License-Identifier: MIT
package source

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

// fakeStream fills the buffer bound at open with a ramp on every Read.
type fakeStream struct {
	buffer  any
	readErr error
	started bool
	stopped int
	closed  int
	reads   int
}

func (f *fakeStream) Start() error { f.started = true; return nil }
func (f *fakeStream) Stop() error  { f.stopped++; return nil }
func (f *fakeStream) Close() error { f.closed++; return nil }

func (f *fakeStream) Read() error {
	f.reads++
	if f.readErr != nil {
		return f.readErr
	}
	switch buf := f.buffer.(type) {
	case []int16:
		for i := range buf {
			buf[i] = int16(i)
		}
	case []float32:
		for i := range buf {
			buf[i] = float32(i) / float32(len(buf))
		}
	}
	return nil
}

var testDevices = []*portaudio.DeviceInfo{
	{Name: "HDA Intel PCH: ALC257 Analog", MaxInputChannels: 2, DefaultSampleRate: 44100,
		DefaultLowInputLatency: 5 * time.Millisecond, DefaultHighInputLatency: 20 * time.Millisecond},
	{Name: "HDMI Output", MaxOutputChannels: 8, DefaultSampleRate: 48000},
	{Name: "Monitor of Built-in Audio", MaxInputChannels: 2, DefaultSampleRate: 48000},
}

// mockPortAudio installs fake devices and a fake stream factory for the test.
func mockPortAudio(t *testing.T) *fakeStream {
	t.Helper()
	stream := &fakeStream{}

	origDevices, origDefault, origOpen := paLibDevicesFunc, paLibDefaultInputDeviceFunc, paOpenStreamFunc
	t.Cleanup(func() {
		paLibDevicesFunc, paLibDefaultInputDeviceFunc, paOpenStreamFunc = origDevices, origDefault, origOpen
	})

	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return testDevices, nil }
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) { return testDevices[0], nil }
	paOpenStreamFunc = func(p portaudio.StreamParameters, buffer any) (paStream, error) {
		stream.buffer = buffer
		return stream, nil
	}
	return stream
}

func testFormat(enc SampleFormat) Format {
	return Format{SampleRate: 44100, Channels: 2, FrameSize: 8, Encoding: enc}
}

func TestDevicesListsDefaultFirst(t *testing.T) {
	mockPortAudio(t)

	devices, err := NewPortAudio(false).Devices()
	if err != nil {
		t.Fatalf("Devices error: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("got %d devices, want default + 2 inputs", len(devices))
	}
	if !devices[0].Default || devices[0].ID != DefaultDevice {
		t.Errorf("first device = %+v, want default", devices[0])
	}
	for _, d := range devices[1:] {
		if d.Name == "HDMI Output" {
			t.Errorf("output-only device listed: %+v", d)
		}
	}
}

func TestInputDevice(t *testing.T) {
	mockPortAudio(t)

	tests := []struct {
		name     string
		device   string
		wantName string
		substr   string
	}{
		{"Default", "default", testDevices[0].Name, ""},
		{"Empty means default", "", testDevices[0].Name, ""},
		{"Index", "2", testDevices[2].Name, ""},
		{"Name match", "monitor", testDevices[2].Name, ""},
		{"Negative ID", "-2", "", "invalid device ID"},
		{"Too high ID", "12", "", "invalid device ID"},
		{"Non-input device", "1", "", "does not support input"},
		{"Unknown name", "usb", "", "no input device matching"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := InputDevice(tt.device)
			if tt.substr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.substr) {
					t.Errorf("InputDevice(%q) error = %v, want substring %q", tt.device, err, tt.substr)
				}
				return
			}
			if err != nil {
				t.Fatalf("InputDevice(%q) error: %v", tt.device, err)
			}
			if info.Name != tt.wantName {
				t.Errorf("InputDevice(%q) = %q, want %q", tt.device, info.Name, tt.wantName)
			}
		})
	}
}

func TestInputDevice_paDevicesError(t *testing.T) {
	mockPortAudio(t)
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("mock error")
	}

	_, err := InputDevice("1")
	if err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestOpenReadClose(t *testing.T) {
	for _, enc := range []SampleFormat{Int16, Float32} {
		t.Run(enc.String(), func(t *testing.T) {
			stream := mockPortAudio(t)
			format := testFormat(enc)

			src, err := NewPortAudio(true).Open("default", format)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !stream.started {
				t.Error("stream was not started")
			}

			frame := NewFrame(format)
			if err := src.Read(frame); err != nil {
				t.Fatalf("Read: %v", err)
			}
			// Second interleaved frame, first channel, is raw index 2.
			if enc == Int16 && frame.Int16[2] != 2 {
				t.Errorf("frame.Int16[2] = %d, want 2", frame.Int16[2])
			}
			if enc == Float32 && frame.Float32[2] == 0 {
				t.Error("float frame was not filled")
			}

			if err := src.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if err := src.Close(); err != nil {
				t.Fatalf("second Close: %v", err)
			}
			if stream.closed != 1 || stream.stopped != 1 {
				t.Errorf("stream stopped %d / closed %d times, want 1 / 1", stream.stopped, stream.closed)
			}

			reads := stream.reads
			if err := src.Read(frame); !errors.Is(err, ErrClosed) {
				t.Errorf("Read after Close = %v, want ErrClosed", err)
			}
			if stream.reads != reads {
				t.Error("Read after Close reached the backend")
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	t.Run("Too many channels", func(t *testing.T) {
		mockPortAudio(t)
		format := testFormat(Int16)
		format.Channels = 4
		_, err := NewPortAudio(false).Open("default", format)
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("Open error = %v, want ErrDeviceUnavailable", err)
		}
	})

	t.Run("Missing default device", func(t *testing.T) {
		mockPortAudio(t)
		paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) {
			return nil, fmt.Errorf("mock default input error")
		}
		_, err := NewPortAudio(false).Open("default", testFormat(Int16))
		if !errors.Is(err, ErrDeviceUnavailable) || !strings.Contains(err.Error(), "mock default input error") {
			t.Errorf("Open error = %v, want wrapped default input error", err)
		}
	})

	t.Run("Open stream fails", func(t *testing.T) {
		mockPortAudio(t)
		paOpenStreamFunc = func(portaudio.StreamParameters, any) (paStream, error) {
			return nil, portaudio.DeviceUnavailable
		}
		_, err := NewPortAudio(false).Open("default", testFormat(Int16))
		if !errors.Is(err, ErrDeviceUnavailable) || !errors.Is(err, portaudio.DeviceUnavailable) {
			t.Errorf("Open error = %v, want both sentinels", err)
		}
	})

	t.Run("Invalid format", func(t *testing.T) {
		mockPortAudio(t)
		_, err := NewPortAudio(false).Open("default", Format{})
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("Open error = %v, want ErrDeviceUnavailable", err)
		}
	})
}

func TestReadErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		readErr error
		want    error
	}{
		{"Overflow is transient", portaudio.InputOverflowed, ErrTransient},
		{"Device loss is fatal", portaudio.DeviceUnavailable, ErrCapture},
		{"Unknown error is fatal", fmt.Errorf("host error"), ErrCapture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := mockPortAudio(t)
			src, err := NewPortAudio(false).Open("default", testFormat(Int16))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer src.Close()

			stream.readErr = tt.readErr
			if err := src.Read(NewFrame(testFormat(Int16))); !errors.Is(err, tt.want) {
				t.Errorf("Read error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestErrorInitialize(t *testing.T) {
	orig := paLibInitialize
	defer func() { paLibInitialize = orig }()

	paLibInitialize = func() error { return nil }
	if err := Initialize(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	paLibInitialize = func() error { return fmt.Errorf("mock init error") }
	if err := Initialize(); err == nil || !strings.Contains(err.Error(), "mock init error") {
		t.Errorf("expected mock init error, got %v", err)
	}
}

func TestErrorTerminate(t *testing.T) {
	orig := paLibTerminate
	defer func() { paLibTerminate = orig }()

	paLibTerminate = func() error { return fmt.Errorf("mock term error") }
	if err := Terminate(); err == nil || !strings.Contains(err.Error(), "mock term error") {
		t.Errorf("expected mock term error, got %v", err)
	}
}

func TestNilDevices(t *testing.T) {
	orig := paLibDevicesFunc
	defer func() { paLibDevicesFunc = orig }()
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, nil
	}

	devices, err := paDevices()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if devices == nil || len(devices) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", devices)
	}
}
