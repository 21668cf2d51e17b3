// SPDX-License-Identifier: MIT
/*
Package capture runs the analysis pipeline on its own goroutine.

A Loop opens a Source, then repeatedly reads a frame, analyzes it, folds the
result into the smoothing memory and publishes it. Renderers never touch the
loop; they read the published state.

States:

	Stopped --Start--> Starting --open ok--> Running
	Starting --open failed--> Stopped (error returned to the caller)
	Running --fatal read error--> StoppingError --> Stopped (error on Events)
	Running --Stop--> Stopped

Stop is cooperative: the capture goroutine checks a flag once per cycle,
never mid-transform, then closes the Source itself. A Source is therefore
never read after it has been closed.
*/
package capture

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"visualizer/internal/analysis"
	applog "visualizer/internal/log"
	"visualizer/internal/publish"
	"visualizer/internal/smoothing"
	"visualizer/internal/source"
)

var logger = applog.For("capture")

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("capture loop already running")

	// ErrLoopClosed is returned by Start after Close.
	ErrLoopClosed = errors.New("capture loop closed")
)

// State of the loop.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	StoppingError
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case StoppingError:
		return "stopping-error"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Event reports a state change. Err is set when a session ends on a
// capture error or fails to open.
type Event struct {
	State State
	Err   error
	Time  time.Time
}

// FrameTap receives every successfully read frame on the capture goroutine.
// Implementations must not block and must not retain the frame.
type FrameTap interface {
	Tap(frame *source.Frame)
}

// Config wires a Loop to its collaborators. Analyzer, Smoothing and State
// are owned by the loop while a session runs.
type Config struct {
	Backend   source.Backend
	Device    string
	Format    source.Format
	Analyzer  *analysis.Analyzer
	Smoothing *smoothing.State
	State     *publish.State
	Taps      []FrameTap
}

// Stats counts frames over the loop's lifetime.
type Stats struct {
	Frames  uint64 // Frames analyzed and published
	Skipped uint64 // Frames dropped on transient read errors
}

const eventBuffer = 16

// Loop drives SampleSource -> Analyzer -> Smoother -> PublishedState.
type Loop struct {
	backend   source.Backend
	device    string
	format    source.Format
	analyzer  *analysis.Analyzer
	smooth    *smoothing.State
	published *publish.State
	taps      []FrameTap
	floorDB   float64

	events chan Event

	mu     sync.Mutex    // Serializes Start, Stop, Reset and Close.
	done   chan struct{} // Closed when the capture goroutine exits.
	closed bool

	state    atomic.Int32
	stopReq  atomic.Bool
	resetReq atomic.Bool
	frames   atomic.Uint64
	skipped  atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

// New checks that the collaborators agree on shape.
func New(cfg Config) (*Loop, error) {
	switch {
	case cfg.Backend == nil:
		return nil, errors.New("capture: backend is required")
	case cfg.Analyzer == nil:
		return nil, errors.New("capture: analyzer is required")
	case cfg.Smoothing == nil:
		return nil, errors.New("capture: smoothing state is required")
	case cfg.State == nil:
		return nil, errors.New("capture: published state is required")
	}

	acfg := cfg.Analyzer.Config()
	if cfg.Format.FrameSize != acfg.FrameSize {
		return nil, fmt.Errorf("capture: frame size %d does not match analyzer size %d",
			cfg.Format.FrameSize, acfg.FrameSize)
	}
	if len(cfg.Smoothing.Spectrum) != acfg.BucketCount || cfg.State.Buckets() != acfg.BucketCount {
		return nil, fmt.Errorf("capture: smoothing (%d) and published (%d) lengths must equal bucket count %d",
			len(cfg.Smoothing.Spectrum), cfg.State.Buckets(), acfg.BucketCount)
	}

	return &Loop{
		backend:   cfg.Backend,
		device:    cfg.Device,
		format:    cfg.Format,
		analyzer:  cfg.Analyzer,
		smooth:    cfg.Smoothing,
		published: cfg.State,
		taps:      cfg.Taps,
		floorDB:   acfg.LevelFloorDB,
		events:    make(chan Event, eventBuffer),
	}, nil
}

// Start opens the source and launches the capture goroutine. Open failures
// (typically source.ErrDeviceUnavailable) are returned and leave the loop
// Stopped. The goroutine also exits when ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLoopClosed
	}
	if l.running() {
		return ErrAlreadyRunning
	}

	l.setState(Starting, nil)
	logger.Infof("Opening %q (%.0f Hz, %d ch, N=%d, %v)",
		l.device, l.format.SampleRate, l.format.Channels, l.format.FrameSize, l.format.Encoding)

	src, err := l.backend.Open(l.device, l.format)
	if err != nil {
		l.setErr(err)
		l.setState(Stopped, err)
		return err
	}

	l.stopReq.Store(false)
	l.resetReq.Store(false)
	l.done = make(chan struct{})
	l.setErr(nil)
	l.published.SetRunning(true)
	l.setState(Running, nil)

	go l.run(ctx, src, l.done)
	return nil
}

// running reports whether a capture goroutine is alive. Callers hold l.mu.
func (l *Loop) running() bool {
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// run is the capture goroutine. It owns src, the analyzer and the smoothing
// memory until it closes done.
func (l *Loop) run(ctx context.Context, src source.Source, done chan struct{}) {
	defer close(done)

	// Keep the blocking read and transform on one OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	frame := source.NewFrame(l.format)
	var exitErr error

	for !l.stopReq.Load() && ctx.Err() == nil {
		if l.resetReq.CompareAndSwap(true, false) {
			l.smooth.Reset()
			l.published.Reset()
		}

		if err := src.Read(frame); err != nil {
			if errors.Is(err, source.ErrTransient) {
				l.skipped.Add(1)
				logger.Debugf("Skipping frame: %v", err)
				continue
			}
			exitErr = err
			break
		}

		l.process(frame)
	}

	if exitErr != nil {
		if !errors.Is(exitErr, source.ErrCapture) {
			exitErr = fmt.Errorf("%w: %w", source.ErrCapture, exitErr)
		}
		l.setState(StoppingError, nil)
		logger.Errorf("Capture ended: %v", exitErr)
	}

	if err := src.Close(); err != nil {
		logger.Warnf("Closing source: %v", err)
	}

	l.smooth.Reset()
	l.published.Reset()
	l.published.SetRunning(false)

	stats := l.Stats()
	logger.Infof("Capture stopped after %d frames (%d skipped)", stats.Frames, stats.Skipped)

	l.setErr(exitErr)
	l.setState(Stopped, exitErr)
}

// process is the per-frame hot path. It does not allocate.
func (l *Loop) process(frame *source.Frame) {
	spectrum := l.analyzer.Analyze(frame)
	level, _ := l.analyzer.Level()

	l.smooth.Update(spectrum, level)
	l.published.Publish(l.smooth.Spectrum, l.smooth.Level, smoothing.Decibels(l.smooth.Level, l.floorDB))

	for _, tap := range l.taps {
		tap.Tap(frame)
	}
	l.frames.Add(1)
}

// Stop requests the capture goroutine to exit after its current cycle and
// waits for it. Stopping a stopped loop is a no-op.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked()
}

func (l *Loop) stopLocked() error {
	if l.done == nil {
		return nil
	}
	l.stopReq.Store(true)
	<-l.done
	l.done = nil
	return nil
}

// Reset clears the smoothing memory and publishes silence. While running the
// capture goroutine applies it at the start of its next cycle.
func (l *Loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running() {
		l.resetReq.Store(true)
		return
	}
	l.smooth.Reset()
	l.published.Reset()
	l.setErr(nil)
}

// Close stops the loop and closes the Events channel.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	err := l.stopLocked()
	l.closed = true
	close(l.events)
	return err
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Events delivers state changes. Slow consumers miss events rather than
// stall capture. The channel is closed by Close.
func (l *Loop) Events() <-chan Event {
	return l.events
}

// Err returns the error that ended the last session, or nil.
func (l *Loop) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.lastErr
}

// Stats returns frame counters.
func (l *Loop) Stats() Stats {
	return Stats{Frames: l.frames.Load(), Skipped: l.skipped.Load()}
}

func (l *Loop) setErr(err error) {
	l.errMu.Lock()
	l.lastErr = err
	l.errMu.Unlock()
}

// setState records s and emits an event without blocking.
func (l *Loop) setState(s State, err error) {
	l.state.Store(int32(s))
	logger.Debugf("State -> %v", s)

	select {
	case l.events <- Event{State: s, Err: err, Time: time.Now()}:
	default:
	}
}
