// SPDX-License-Identifier: MIT
package record

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"visualizer/internal/source"
)

const (
	testSampleRate = 8000
	testFrameSize  = 16
)

func testFormat(enc source.SampleFormat) source.Format {
	return source.Format{SampleRate: testSampleRate, Channels: 2, FrameSize: testFrameSize, Encoding: enc}
}

func decode(t *testing.T, path string) ([]int, *wav.Decoder) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatalf("%s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer() error = %v", err)
	}
	return buf.Data, dec
}

func TestRecordingStartStop(t *testing.T) {
	format := testFormat(source.Int16)
	path := filepath.Join(t.TempDir(), "nested", "take.wav")
	r := New(format, 16, 4)

	if err := r.Start(path); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !r.Recording() {
		t.Error("Recording() = false after Start")
	}

	frame := source.NewFrame(format)
	for n := range 3 {
		for i := range frame.Int16 {
			frame.Int16[i] = int16(n*100 + i)
		}
		r.Tap(frame)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if r.Recording() {
		t.Error("Recording() = true after Stop")
	}
	if r.Written()+r.Dropped() != 3 {
		t.Errorf("Written + Dropped = %d, want 3", r.Written()+r.Dropped())
	}
	if r.Path() != path {
		t.Errorf("Path() = %q, want %q", r.Path(), path)
	}

	data, dec := decode(t, path)
	if dec.SampleRate != testSampleRate || dec.NumChans != 2 || dec.BitDepth != 16 {
		t.Errorf("header = %d Hz, %d ch, %d-bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if want := int(r.Written()) * testFrameSize * 2; len(data) != want {
		t.Fatalf("decoded %d samples, want %d", len(data), want)
	}
	if r.Dropped() == 0 && (data[0] != 0 || data[len(data)-1] != 200+testFrameSize*2-1) {
		t.Errorf("first, last sample = %d, %d", data[0], data[len(data)-1])
	}
}

func TestRecordingFloatFrames(t *testing.T) {
	format := testFormat(source.Float32)
	path := filepath.Join(t.TempDir(), "float.wav")
	r := New(format, 16, 2)
	if err := r.Start(path); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	frame := source.NewFrame(format)
	frame.Float32[0] = 0.5
	frame.Float32[1] = -2
	frame.Float32[2] = float32(math.NaN())
	frame.Float32[3] = 1
	r.Tap(frame)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	data, _ := decode(t, path)
	want := []int{int(math.Round(0.5 * math.MaxInt16)), math.MinInt16, 0, math.MaxInt16}
	for i, w := range want {
		if data[i] != w {
			t.Errorf("sample %d = %d, want %d", i, data[i], w)
		}
	}
}

func TestRecordingErrorCases(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		desc          string
		path          string
		recording     bool
		errorContains string
	}{
		{"Already recording", filepath.Join(dir, "again.wav"), true, "already recording"},
		{"Directory is a file", filepath.Join(blocker, "take.wav"), false, "recording directory"},
		{"Valid path", filepath.Join(dir, "ok.wav"), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			r := New(testFormat(source.Int16), 16, 1)
			if tt.recording {
				if err := r.Start(filepath.Join(dir, "first.wav")); err != nil {
					t.Fatalf("first Start() error = %v", err)
				}
			}
			defer r.Stop()

			err := r.Start(tt.path)
			if tt.errorContains == "" {
				if err != nil {
					t.Errorf("Start() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("Start() error = %v, want containing %q", err, tt.errorContains)
			}
		})
	}

	if err := New(testFormat(source.Int16), 16, 1).Stop(); err != nil {
		t.Errorf("Stop when not recording: %v", err)
	}
}

func TestRecordingAlreadyRecordingSentinel(t *testing.T) {
	r := New(testFormat(source.Int16), 16, 1)
	if err := r.Start(filepath.Join(t.TempDir(), "a.wav")); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	if err := r.Start(filepath.Join(t.TempDir(), "b.wav")); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Start() error = %v, want ErrAlreadyRecording", err)
	}
}

func TestTapDropsWhenPoolExhausted(t *testing.T) {
	format := testFormat(source.Int16)
	r := New(format, 16, 1)
	if err := r.Start(filepath.Join(t.TempDir(), "drop.wav")); err != nil {
		t.Fatal(err)
	}

	held := <-r.free
	r.Tap(source.NewFrame(format))
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}
	r.free <- held

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if r.Written() != 0 {
		t.Errorf("Written() = %d, want 0", r.Written())
	}
}

func TestTapIgnoredWhenStopped(t *testing.T) {
	format := testFormat(source.Int16)
	r := New(format, 16, 2)
	r.Tap(source.NewFrame(format))
	if len(r.free) != 2 || r.Dropped() != 0 {
		t.Errorf("Tap while stopped consumed a buffer (free %d, dropped %d)", len(r.free), r.Dropped())
	}
}

func TestRecording32Bit(t *testing.T) {
	format := testFormat(source.Int16)
	path := filepath.Join(t.TempDir(), "wide.wav")
	r := New(format, 32, 1)
	if err := r.Start(path); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	frame := source.NewFrame(format)
	frame.Int16[0] = -2
	frame.Int16[1] = 3
	r.Tap(frame)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	data, dec := decode(t, path)
	if dec.BitDepth != 32 {
		t.Errorf("BitDepth = %d, want 32", dec.BitDepth)
	}
	if r.Written() == 1 && (data[0] != -2<<16 || data[1] != 3<<16) {
		t.Errorf("samples = %d, %d, want %d, %d", data[0], data[1], -2<<16, 3<<16)
	}
}

func TestFileName(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	got := FileName("out", now)
	want := filepath.Join("out", "capture-20240309-140507.wav")
	if got != want {
		t.Errorf("FileName() = %q, want %q", got, want)
	}
}
