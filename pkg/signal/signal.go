// SPDX-License-Identifier: MIT
//
// Package signal generates deterministic test signals. The synthetic capture
// backend and the analysis tests share these so both agree on what a
// "1 kHz tone at half scale" looks like.
package signal

import "math"

// Tone is a single sinusoidal component.
type Tone struct {
	Frequency float64 // Hz
	Amplitude float64 // Linear, 1.0 = full scale
	Phase     float64 // Radians
}

// Sine fills dst with a sine at frequency Hz and the given amplitude,
// starting at sample offset. It returns the next offset so callers can
// generate a continuous stream frame by frame.
func Sine(dst []float32, sampleRate, frequency, amplitude float64, offset int) int {
	for i := range dst {
		t := float64(offset+i) / sampleRate
		dst[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return offset + len(dst)
}

// Mix fills dst with the sum of tones, starting at sample offset, and
// returns the next offset. Sums outside [-1, 1] are hard clipped.
func Mix(dst []float32, sampleRate float64, tones []Tone, offset int) int {
	for i := range dst {
		t := float64(offset+i) / sampleRate
		var v float64
		for _, tone := range tones {
			v += tone.Amplitude * math.Sin(2*math.Pi*tone.Frequency*t+tone.Phase)
		}
		dst[i] = float32(max(-1, min(1, v)))
	}
	return offset + len(dst)
}

// Interleave copies mono into every channel of an interleaved dst.
// dst must hold len(mono)*channels samples.
func Interleave(dst, mono []float32, channels int) {
	for i, v := range mono {
		for c := range channels {
			dst[i*channels+c] = v
		}
	}
}

// ToInt16 converts normalized samples to signed 16-bit PCM with clipping.
func ToInt16(dst []int16, src []float32) {
	for i, v := range src {
		s := math.Round(float64(v) * math.MaxInt16)
		dst[i] = int16(max(math.MinInt16, min(math.MaxInt16, s)))
	}
}

// PeakIndex returns the index of the largest value in values[start:end].
// Out-of-range bounds are clamped.
func PeakIndex(values []float64, start, end int) int {
	if len(values) == 0 {
		return 0
	}
	start = max(start, 0)
	end = min(end, len(values))
	if start >= end {
		return start
	}

	peak := start
	for i := start + 1; i < end; i++ {
		if values[i] > values[peak] {
			peak = i
		}
	}
	return peak
}
