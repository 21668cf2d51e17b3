// SPDX-License-Identifier: MIT
// Package record writes captured frames to a WAV file without blocking the
// capture goroutine. Frames are copied into a fixed pool of buffers and
// encoded on a separate goroutine; when the pool is exhausted frames are
// dropped and counted.
package record

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "visualizer/internal/log"
	"visualizer/internal/source"
)

var logger = applog.For("record")

// ErrAlreadyRecording is returned by Start while a recording is open.
var ErrAlreadyRecording = errors.New("already recording")

const (
	// DefaultBitDepth is used when New is given an unsupported depth.
	DefaultBitDepth = 16
	// DefaultBuffers is the pool size used when New is given zero.
	DefaultBuffers = 32

	wavFormatPCM = 1
)

// Recorder implements capture.FrameTap.
type Recorder struct {
	format   source.Format
	bitDepth int

	mu        sync.RWMutex // Guards recording and the queue against Stop
	recording bool
	queue     chan []int
	free      chan []int

	file    *os.File
	encoder *wav.Encoder
	path    string
	done    chan error

	written atomic.Uint64
	dropped atomic.Uint64
}

// New creates a recorder for frames of format, written as 16 or 32-bit PCM.
// buffers bounds how many frames may wait for the encoder.
func New(format source.Format, bitDepth, buffers int) *Recorder {
	if buffers <= 0 {
		buffers = DefaultBuffers
	}
	if bitDepth != 16 && bitDepth != 32 {
		bitDepth = DefaultBitDepth
	}
	r := &Recorder{
		format:   format,
		bitDepth: bitDepth,
		free:     make(chan []int, buffers),
	}
	for range buffers {
		r.free <- make([]int, format.FrameSize*format.Channels)
	}
	return r
}

// FileName returns a timestamped recording path in dir.
func FileName(dir string, now time.Time) string {
	return filepath.Join(dir, "capture-"+now.Format("20060102-150405")+".wav")
}

// Start creates path (and its directory) and begins accepting frames.
func (r *Recorder) Start(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	r.file = file
	r.path = path
	r.encoder = wav.NewEncoder(file, int(r.format.SampleRate), r.bitDepth, r.format.Channels, wavFormatPCM)
	r.queue = make(chan []int, cap(r.free))
	r.done = make(chan error, 1)
	r.written.Store(0)
	r.dropped.Store(0)
	r.recording = true

	go r.write(r.queue, r.done)

	logger.Infof("Recording to %s (%.0f Hz, %d ch, %d-bit)", path, r.format.SampleRate, r.format.Channels, r.bitDepth)
	return nil
}

// Tap copies frame into a free buffer and queues it. It never blocks.
func (r *Recorder) Tap(frame *source.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return
	}

	var buf []int
	select {
	case buf = <-r.free:
	default:
		r.dropped.Add(1)
		return
	}

	if frame.Format.Encoding == source.Float32 {
		full := float64(math.MaxInt16)
		if r.bitDepth == 32 {
			full = math.MaxInt32
		}
		n := min(len(buf), len(frame.Float32))
		for i, v := range frame.Float32[:n] {
			buf[i] = quantize(v, full)
		}
	} else {
		shift := r.bitDepth - 16
		n := min(len(buf), len(frame.Int16))
		for i, v := range frame.Int16[:n] {
			buf[i] = int(v) << shift
		}
	}

	// Cannot block: queue and free share a capacity.
	r.queue <- buf
}

// quantize maps a [-1, 1] sample onto a signed integer of magnitude full.
func quantize(v float32, full float64) int {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return 0
	case f >= 1:
		return int(full)
	case f <= -1:
		return -int(full) - 1
	}
	return int(math.Round(f * full))
}

func (r *Recorder) write(queue <-chan []int, done chan<- error) {
	buffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: r.format.Channels,
			SampleRate:  int(r.format.SampleRate),
		},
		SourceBitDepth: r.bitDepth,
	}

	var err error
	for buf := range queue {
		if err == nil {
			buffer.Data = buf
			if err = r.encoder.Write(buffer); err != nil {
				logger.Errorf("Write failed, discarding remaining frames: %v", err)
			} else {
				r.written.Add(1)
			}
		}
		r.free <- buf
	}
	done <- err
}

// Stop drains queued frames, finalizes the WAV header and closes the file.
// It is a no-op when not recording.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil
	}
	r.recording = false
	close(r.queue)
	r.mu.Unlock()

	writeErr := <-r.done
	closeErr := r.encoder.Close()
	fileErr := r.file.Close()

	logger.Infof("Recorded %d frames to %s (%d dropped)", r.written.Load(), r.path, r.dropped.Load())

	r.encoder = nil
	r.file = nil
	return errors.Join(writeErr, closeErr, fileErr)
}

// Recording reports whether frames are currently accepted.
func (r *Recorder) Recording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Path is the file of the current or last recording.
func (r *Recorder) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.path
}

// Written is the number of frames encoded in the current or last recording.
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// Dropped is the number of frames discarded because the encoder fell behind.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}
