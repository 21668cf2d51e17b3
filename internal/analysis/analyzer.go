// SPDX-License-Identifier: MIT
/*
Package analysis turns PCM frames into a bounded spectrum and a loudness level.

For every frame the Analyzer takes the first channel, applies gain, measures
RMS level, multiplies by the window, runs a real FFT of size N, and folds the
N/2+1 magnitudes into B buckets. Each bucket value is scaled to [0, 1] either
linearly or through a decibel floor/ceiling window.

An Analyzer owns all of its buffers and the FFT plan. It is not safe for
concurrent use: exactly one goroutine (the capture loop) drives it.
*/
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	applog "visualizer/internal/log"
	"visualizer/internal/source"
	"visualizer/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

var logger = applog.For("analysis")

// ErrInvalidConfig is returned by New for out-of-range parameters.
var ErrInvalidConfig = errors.New("invalid analyzer configuration")

// Epsilon keeps log10 finite for silent input.
const Epsilon = 1e-10

// Frame size limits for the transform plan.
const (
	MinFrameSize = 64
	MaxFrameSize = 8192
)

// Scaling selects how magnitudes map onto [0, 1].
type Scaling int

const (
	// Decibel maps 20*log10(mag/ref) from [FloorDB, CeilingDB] onto [0, 1].
	Decibel Scaling = iota
	// Linear divides by the full-scale reference and clamps.
	Linear
)

func (s Scaling) String() string {
	if s == Linear {
		return "linear"
	}
	return "decibel"
}

// ParseScaling converts "decibel" or "linear".
func ParseScaling(name string) (Scaling, error) {
	switch name {
	case "decibel", "db", "":
		return Decibel, nil
	case "linear":
		return Linear, nil
	default:
		return Decibel, fmt.Errorf("unknown scaling mode %q", name)
	}
}

// Config fixes the analyzer's shape for its lifetime.
type Config struct {
	FrameSize     int        // N, a power of two
	SampleRate    float64    // Hz
	BucketCount   int        // B, 1..N/2
	Window        WindowFunc // Window applied before the transform
	Scaling       Scaling    // Magnitude scaling
	FloorDB       float64    // Decibel scaling floor, maps to 0
	CeilingDB     float64    // Decibel scaling ceiling, maps to 1
	LevelFloorDB  float64    // Level floor in dBFS, maps to 0
	Gain          float64    // Input gain applied before analysis
	GateThreshold float64    // Peak below this (0..1) reads as silence; 0 disables
}

// DefaultConfig returns N=1024, B=128, Hann, decibel -90..0 dB, level floor -60 dB.
func DefaultConfig() Config {
	return Config{
		FrameSize:    1024,
		SampleRate:   44100,
		BucketCount:  128,
		Window:       Hann,
		Scaling:      Decibel,
		FloorDB:      -90,
		CeilingDB:    0,
		LevelFloorDB: -60,
		Gain:         1,
	}
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error
	if !bitint.IsPowerOfTwo(c.FrameSize) || c.FrameSize < MinFrameSize || c.FrameSize > MaxFrameSize {
		errs = append(errs, fmt.Errorf("frame size %d must be a power of two in [%d, %d]",
			c.FrameSize, MinFrameSize, MaxFrameSize))
	}
	if c.SampleRate <= 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		errs = append(errs, fmt.Errorf("sample rate %v must be positive", c.SampleRate))
	}
	if c.BucketCount < 1 || c.BucketCount > c.FrameSize/2 {
		errs = append(errs, fmt.Errorf("bucket count %d must be in [1, %d]", c.BucketCount, c.FrameSize/2))
	}
	if c.Scaling == Decibel && !(c.CeilingDB > c.FloorDB) {
		errs = append(errs, fmt.Errorf("ceiling %.1f dB must be above floor %.1f dB", c.CeilingDB, c.FloorDB))
	}
	if !(c.LevelFloorDB < 0) {
		errs = append(errs, fmt.Errorf("level floor %.1f dB must be negative", c.LevelFloorDB))
	}
	if !(c.Gain > 0) {
		errs = append(errs, fmt.Errorf("gain %v must be positive", c.Gain))
	}
	if c.GateThreshold < 0 || c.GateThreshold > 1 {
		errs = append(errs, fmt.Errorf("gate threshold %v must be in [0, 1]", c.GateThreshold))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Analyzer holds the FFT plan and every buffer used per frame.
type Analyzer struct {
	cfg  Config
	plan *fourier.FFT
	gate Gate

	window    []float64    // Window coefficients, immutable
	samples   []float64    // First-channel samples after gain
	input     []float64    // Windowed transform input
	coeffs    []complex128 // N/2+1 transform output
	magnitude []float64    // N/2+1 raw magnitudes
	spectrum  []float64    // B scaled bucket values
	edges     []int        // B+1 raw-bin bucket boundaries

	ref      float64 // Magnitude of a full-scale sine after windowing
	levelDB  float64
	levelNrm float64
}

// New validates cfg and allocates the plan and buffers.
func New(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := cfg.FrameSize
	bins := n/2 + 1
	win := cfg.Window.Coefficients(n)

	a := &Analyzer{
		cfg:       cfg,
		plan:      fourier.NewFFT(n),
		gate:      NewGate(cfg.GateThreshold),
		window:    win,
		samples:   make([]float64, n),
		input:     make([]float64, n),
		coeffs:    make([]complex128, bins),
		magnitude: make([]float64, bins),
		spectrum:  make([]float64, cfg.BucketCount),
		edges:     bucketEdges(bins, cfg.BucketCount),
		ref:       float64(n) * CoherentGain(win) / 2,
	}
	a.levelDB = cfg.LevelFloorDB

	logger.Debugf("Initializing analyzer (N: %d, B: %d, SampleRate: %.0f Hz, Window: %v, Scaling: %v)",
		n, cfg.BucketCount, cfg.SampleRate, cfg.Window, cfg.Scaling)
	return a, nil
}

// bucketEdges partitions bins raw bins into count contiguous ranges;
// bucket b spans [edges[b], edges[b+1]).
func bucketEdges(bins, count int) []int {
	edges := make([]int, count+1)
	for b := range edges {
		edges[b] = b * bins / count
	}
	return edges
}

// Analyze computes the scaled spectrum for frame. The returned slice is owned
// by the Analyzer and overwritten by the next call. Frames shorter than N are
// zero padded; extra samples are ignored. Analyze does not allocate.
func (a *Analyzer) Analyze(frame *source.Frame) []float64 {
	if a.plan == nil {
		return nil
	}

	n := min(frame.Len(), a.cfg.FrameSize)
	var peak float64
	for i := range n {
		s := frame.Sample(i) * a.cfg.Gain
		a.samples[i] = s
		peak = max(peak, math.Abs(s))
	}
	clear(a.samples[n:])

	if !a.gate.Open(peak) {
		a.silence()
		return a.spectrum
	}

	a.measureLevel()

	floats.MulTo(a.input, a.samples, a.window)
	a.plan.Coefficients(a.coeffs, a.input)
	for i, c := range a.coeffs {
		a.magnitude[i] = cmplx.Abs(c)
	}

	for b := range a.spectrum {
		m := floats.Max(a.magnitude[a.edges[b]:a.edges[b+1]])
		a.spectrum[b] = a.scale(m)
	}
	return a.spectrum
}

// measureLevel sets the RMS level of the current samples.
func (a *Analyzer) measureLevel() {
	rms := math.Sqrt(floats.Dot(a.samples, a.samples) / float64(a.cfg.FrameSize))
	db := 20 * math.Log10(rms+Epsilon)
	if math.IsNaN(db) {
		db = a.cfg.LevelFloorDB
	}
	a.levelDB = clamp(db, a.cfg.LevelFloorDB, 0)
	a.levelNrm = (a.levelDB - a.cfg.LevelFloorDB) / -a.cfg.LevelFloorDB
}

func (a *Analyzer) silence() {
	clear(a.spectrum)
	clear(a.magnitude)
	a.levelDB = a.cfg.LevelFloorDB
	a.levelNrm = 0
}

// scale maps a raw magnitude to [0, 1]. NaN maps to 0.
func (a *Analyzer) scale(mag float64) float64 {
	r := mag / a.ref
	var v float64
	if a.cfg.Scaling == Linear {
		v = r
	} else {
		db := 20 * math.Log10(r+Epsilon)
		v = (db - a.cfg.FloorDB) / (a.cfg.CeilingDB - a.cfg.FloorDB)
	}
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// Level returns the last frame's RMS level normalized to [0, 1] and in dBFS
// clamped to [LevelFloorDB, 0].
func (a *Analyzer) Level() (norm, db float64) {
	return a.levelNrm, a.levelDB
}

// Magnitudes returns the raw N/2+1 magnitudes of the last frame. The slice
// is owned by the Analyzer.
func (a *Analyzer) Magnitudes() []float64 {
	return a.magnitude
}

// BucketRange returns the raw bin range [lo, hi) covered by bucket b.
func (a *Analyzer) BucketRange(b int) (lo, hi int) {
	if b < 0 || b >= a.cfg.BucketCount {
		return 0, 0
	}
	return a.edges[b], a.edges[b+1]
}

// BinFrequency returns the center frequency (Hz) of raw bin k.
func (a *Analyzer) BinFrequency(k int) float64 {
	if k < 0 || k > a.cfg.FrameSize/2 {
		return 0
	}
	return float64(k) * a.cfg.SampleRate / float64(a.cfg.FrameSize)
}

// BucketFrequency returns the center frequency (Hz) of bucket b.
func (a *Analyzer) BucketFrequency(b int) float64 {
	lo, hi := a.BucketRange(b)
	if hi == 0 {
		return 0
	}
	return (a.BinFrequency(lo) + a.BinFrequency(hi-1)) / 2
}

// Config returns the configuration the analyzer was built with.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Close releases the plan and buffers. Analyze returns nil afterwards.
func (a *Analyzer) Close() error {
	if a.plan == nil {
		return nil
	}
	logger.Debugf("Releasing analyzer (N: %d)", a.cfg.FrameSize)
	a.plan = nil
	a.samples, a.input, a.coeffs, a.magnitude = nil, nil, nil, nil
	return nil
}
