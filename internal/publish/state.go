// SPDX-License-Identifier: MIT
// Package publish holds the latest smoothed spectrum and level, written by
// the capture goroutine and read by renderers at their own cadence.
package publish

import (
	"sync"
	"time"
)

// Snapshot is one consistent view of the published values.
type Snapshot struct {
	Spectrum  []float64 `json:"spectrum"`  // B values in [0, 1]
	Level     float64   `json:"level"`     // Smoothed level in [0, 1]
	Decibels  float64   `json:"decibels"`  // Smoothed level in dBFS
	Sequence  uint64    `json:"sequence"`  // Increments on every write
	Timestamp time.Time `json:"timestamp"` // Time of the last write
	Running   bool      `json:"running"`   // Capture loop is producing frames
}

// State guards the current snapshot. Writers replace the whole vector and
// scalar pair under the lock, so readers never observe a partial update.
type State struct {
	mu      sync.RWMutex
	snap    Snapshot
	floorDB float64
}

// New returns a State holding silence for buckets bins. floorDB is the
// decibel value reported for silence.
func New(buckets int, floorDB float64) *State {
	return &State{
		snap: Snapshot{
			Spectrum: make([]float64, buckets),
			Decibels: floorDB,
		},
		floorDB: floorDB,
	}
}

// Buckets returns the published vector length.
func (s *State) Buckets() int {
	return len(s.snap.Spectrum) // Fixed after New, no lock needed.
}

// Publish copies spectrum and the level pair in as the new current state.
// Extra spectrum values are dropped; missing ones read as zero.
func (s *State) Publish(spectrum []float64, level, decibels float64) {
	now := time.Now()

	s.mu.Lock()
	n := copy(s.snap.Spectrum, spectrum)
	clear(s.snap.Spectrum[n:])
	s.snap.Level = level
	s.snap.Decibels = decibels
	s.snap.Sequence++
	s.snap.Timestamp = now
	s.snap.Running = true
	s.mu.Unlock()
}

// Reset publishes silence: zero spectrum, zero level and the floor in dB.
func (s *State) Reset() {
	now := time.Now()

	s.mu.Lock()
	clear(s.snap.Spectrum)
	s.snap.Level = 0
	s.snap.Decibels = s.floorDB
	s.snap.Sequence++
	s.snap.Timestamp = now
	s.mu.Unlock()
}

// SetRunning flags whether a capture session is active.
func (s *State) SetRunning(running bool) {
	s.mu.Lock()
	s.snap.Running = running
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
// NOTE: This allocates a new spectrum slice on each call. Render loops should
// use SnapshotInto.
func (s *State) Snapshot() Snapshot {
	var out Snapshot
	s.SnapshotInto(&out)
	return out
}

// SnapshotInto copies the current state into dst, reusing dst.Spectrum when
// it has enough capacity.
func (s *State) SnapshotInto(dst *Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spectrum := dst.Spectrum
	if cap(spectrum) < len(s.snap.Spectrum) {
		spectrum = make([]float64, len(s.snap.Spectrum))
	}
	spectrum = spectrum[:len(s.snap.Spectrum)]
	copy(spectrum, s.snap.Spectrum)

	*dst = s.snap
	dst.Spectrum = spectrum
}
