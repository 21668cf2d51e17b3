// SPDX-License-Identifier: MIT
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVFile replays a PCM WAV file. The device identifier is the file path.
type WAVFile struct {
	// Realtime paces reads to one frame per frame duration. Without it
	// frames are delivered as fast as the caller reads them.
	Realtime bool

	// Dir is scanned by Devices for *.wav files. Empty disables listing.
	Dir string
}

var _ Backend = (*WAVFile)(nil)

// NewWAVFile returns a WAV backend listing files from dir.
func NewWAVFile(realtime bool, dir string) *WAVFile {
	return &WAVFile{Realtime: realtime, Dir: dir}
}

// Devices lists WAV files in Dir. There is no default entry: a file must be
// named explicitly.
func (b *WAVFile) Devices() ([]DeviceDescriptor, error) {
	descriptors := []DeviceDescriptor{}
	if b.Dir == "" {
		return descriptors, nil
	}

	paths, err := filepath.Glob(filepath.Join(b.Dir, "*.wav"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		dec := wav.NewDecoder(f)
		if dec.IsValidFile() {
			descriptors = append(descriptors, DeviceDescriptor{
				ID:                path,
				Name:              filepath.Base(path),
				MaxInputChannels:  int(dec.NumChans),
				DefaultSampleRate: float64(dec.SampleRate),
			})
		}
		f.Close()
	}
	return descriptors, nil
}

// Open decodes the header of the file at device. The file's sample rate must
// match format.SampleRate; channels beyond the file's count read as silence.
func (b *WAVFile) Open(device string, format Format) (Source, error) {
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	if device == "" || device == DefaultDevice {
		return nil, fmt.Errorf("%w: wav backend needs a file path", ErrDeviceUnavailable)
	}

	f, err := os.Open(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrDeviceUnavailable, device)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, device, err)
	}
	if float64(dec.SampleRate) != format.SampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d Hz, need %.0f Hz",
			ErrDeviceUnavailable, device, dec.SampleRate, format.SampleRate)
	}
	if dec.WavAudioFormat != 1 {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not integer PCM (format %d)",
			ErrDeviceUnavailable, device, dec.WavAudioFormat)
	}

	fileChans := int(dec.NumChans)
	s := &wavSource{
		path:      device,
		file:      f,
		dec:       dec,
		format:    format,
		fileChans: fileChans,
		bitDepth:  int(dec.BitDepth),
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: fileChans, SampleRate: int(dec.SampleRate)},
			Data:   make([]int, format.FrameSize*fileChans),
		},
		done: make(chan struct{}),
	}
	if b.Realtime {
		s.ticker = time.NewTicker(format.FrameDuration())
	}
	return s, nil
}

type wavSource struct {
	path      string
	format    Format
	fileChans int
	bitDepth  int
	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	file   *os.File
	dec    *wav.Decoder
	buf    *audio.IntBuffer
	closed bool
	eof    bool
}

func (s *wavSource) Read(frame *Frame) error {
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
	if s.eof {
		return fmt.Errorf("%w: %s: %w", ErrCapture, s.path, io.EOF)
	}

	filled, err := s.fill()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCapture, s.path, err)
	}
	if filled == 0 {
		s.eof = true
		return fmt.Errorf("%w: %s: %w", ErrCapture, s.path, io.EOF)
	}
	if filled < len(s.buf.Data) {
		// Pad the final partial frame; the next Read reports end of file.
		clear(s.buf.Data[filled:])
		s.eof = true
	}

	s.convert(frame)
	return nil
}

// fill reads until the interleaved buffer is full or the file ends.
func (s *wavSource) fill() (int, error) {
	full := s.buf.Data
	filled := 0
	for filled < len(full) {
		s.buf.Data = full[filled:]
		n, err := s.dec.PCMBuffer(s.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			s.buf.Data = full
			return filled, err
		}
		if n == 0 {
			break
		}
		filled += n
	}
	s.buf.Data = full
	// Keep whole sample frames only.
	return filled - filled%s.fileChans, nil
}

// convert writes the decoded integers into frame in its own encoding.
func (s *wavSource) convert(frame *Frame) {
	scale := 1.0 / float64(int(1)<<(s.bitDepth-1))
	offset := 0
	if s.bitDepth == 8 {
		// 8-bit WAV is unsigned.
		offset = 128
	}

	outChans := s.format.Channels
	for i := range s.format.FrameSize {
		for c := range outChans {
			var v float64
			if c < s.fileChans {
				v = float64(s.buf.Data[i*s.fileChans+c]-offset) * scale
			}
			idx := i*outChans + c
			if s.format.Encoding == Float32 {
				frame.Float32[idx] = float32(v)
			} else {
				frame.Int16[idx] = int16(max(-32768, min(32767, v*32768)))
			}
		}
	}
}

// Close releases the file and unblocks a paced Read.
func (s *wavSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ticker != nil {
			s.ticker.Stop()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		err = s.file.Close()
	})
	return err
}
