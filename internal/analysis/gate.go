// SPDX-License-Identifier: MIT
package analysis

import "math"

// Gate suppresses frames whose peak amplitude stays below a threshold.
// The threshold is held as an int32 fraction of full scale so the per-frame
// comparison stays integer.
type Gate struct {
	enabled   bool
	threshold int32
}

// NewGate returns a gate at threshold (0..1). Zero leaves it disabled.
func NewGate(threshold float64) Gate {
	var g Gate
	g.SetThreshold(threshold)
	if threshold > 0 {
		g.Enable()
	}
	return g
}

func (g *Gate) Enable() {
	g.enabled = true
}

func (g *Gate) Disable() {
	g.enabled = false
}

func (g *Gate) Enabled() bool {
	return g.enabled
}

// SetThreshold adjusts the gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	threshold = max(0, min(1, threshold))
	g.threshold = int32(threshold * float64(math.MaxInt32))
}

// Threshold returns the current threshold in the range 0.0-1.0.
func (g *Gate) Threshold() float64 {
	return float64(g.threshold) / float64(math.MaxInt32)
}

// Open reports whether a frame with the given normalized peak passes.
func (g *Gate) Open(peak float64) bool {
	if !g.enabled {
		return true
	}
	return int32(min(1, peak)*float64(math.MaxInt32)) > g.threshold
}
