// SPDX-License-Identifier: MIT
// Package smoothing applies exponential moving averages to successive
// spectra and levels so the display does not flicker.
package smoothing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrInvalidAlpha is returned for alpha outside (0, 1].
var ErrInvalidAlpha = errors.New("smoothing alpha must be in (0, 1]")

// ValidAlpha reports whether alpha is in (0, 1].
func ValidAlpha(alpha float64) bool {
	return alpha > 0 && alpha <= 1
}

// Blend writes alpha*in + (1-alpha)*prev into dst elementwise. dst may alias
// prev. All slices must have the same length.
func Blend(dst, prev, in []float64, alpha float64) {
	floats.ScaleTo(dst, 1-alpha, prev)
	floats.AddScaled(dst, alpha, in)
}

// Scalar is Blend for a single value.
func Scalar(prev, in, alpha float64) float64 {
	return alpha*in + (1-alpha)*prev
}

// State is the smoothing memory carried across frames. Its zero value is the
// all-zero spectrum and a level at the floor.
type State struct {
	Spectrum []float64
	Level    float64 // Normalized, 0 = floor

	alpha      float64
	levelAlpha float64
}

// NewState allocates memory for buckets bins.
func NewState(buckets int, alpha, levelAlpha float64) (*State, error) {
	if !ValidAlpha(alpha) {
		return nil, fmt.Errorf("%w: spectrum alpha %v", ErrInvalidAlpha, alpha)
	}
	if !ValidAlpha(levelAlpha) {
		return nil, fmt.Errorf("%w: level alpha %v", ErrInvalidAlpha, levelAlpha)
	}
	return &State{
		Spectrum:   make([]float64, buckets),
		alpha:      alpha,
		levelAlpha: levelAlpha,
	}, nil
}

// Update folds one analysis result into the memory in place.
func (s *State) Update(spectrum []float64, level float64) {
	Blend(s.Spectrum, s.Spectrum, spectrum, s.alpha)
	s.Level = Scalar(s.Level, level, s.levelAlpha)
}

// Reset returns the memory to silence.
func (s *State) Reset() {
	clear(s.Spectrum)
	s.Level = 0
}

// Decibels maps a normalized level back to dB given the level floor.
func Decibels(level, floorDB float64) float64 {
	if math.IsNaN(level) {
		return floorDB
	}
	return floorDB - level*floorDB
}
