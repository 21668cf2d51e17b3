// SPDX-License-Identifier: MIT
// Package render runs the consumer side of the pipeline: a periodic tick that
// takes a snapshot of the published state and hands it to each renderer.
// Renderers never perform audio I/O or analysis.
package render

import (
	"errors"
	"fmt"
	"sync"
	"time"

	applog "visualizer/internal/log"
	"visualizer/internal/publish"
)

var logger = applog.For("render")

// Renderer paints or forwards one snapshot. The snapshot's Spectrum is only
// valid for the duration of the call.
type Renderer interface {
	Render(snap publish.Snapshot) error
	Close() error
}

// Limiter gates work to at most once per interval. The zero value never
// limits. It is not safe for concurrent use.
type Limiter struct {
	Interval time.Duration
	last     time.Time
}

// Allow reports whether now is at least Interval past the last allowed call.
func (l *Limiter) Allow(now time.Time) bool {
	if l.Interval > 0 && !l.last.IsZero() && now.Sub(l.last) < l.Interval {
		return false
	}
	l.last = now
	return true
}

// Driver ticks at a fixed rate and renders the latest snapshot to every
// renderer. A renderer error is logged once until the renderer recovers.
type Driver struct {
	state     *publish.State
	interval  time.Duration
	renderers []Renderer

	snap    publish.Snapshot // Reused across ticks
	failing []bool
	frames  uint64

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	closeOnce sync.Once
	closeErr  error
}

// NewDriver returns a driver rendering state at fps frames per second.
func NewDriver(state *publish.State, fps int, renderers ...Renderer) (*Driver, error) {
	if state == nil {
		return nil, errors.New("render: published state is required")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("render: fps must be positive, got %d", fps)
	}
	return &Driver{
		state:     state,
		interval:  time.Second / time.Duration(fps),
		renderers: renderers,
		snap:      publish.Snapshot{Spectrum: make([]float64, state.Buckets())},
		failing:   make([]bool, len(renderers)),
	}, nil
}

// Interval is the time between ticks.
func (d *Driver) Interval() time.Duration {
	return d.interval
}

// Start launches the render goroutine. Calling Start while running is a no-op.
func (d *Driver) Start() {
	d.mu.Lock()
	if d.ticker != nil {
		d.mu.Unlock()
		logger.Warnf("Driver: Start called but already running.")
		return
	}

	d.ticker = time.NewTicker(d.interval)
	d.doneChan = make(chan struct{})
	d.stopOnce = sync.Once{}

	ticker := d.ticker
	doneChan := d.doneChan
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logger.Infof("Driver started (%d renderers, interval %s)", len(d.renderers), d.interval)
		for {
			select {
			case <-ticker.C:
				d.tick()
			case <-doneChan:
				return
			}
		}
	}()
}

// tick renders the current snapshot once.
func (d *Driver) tick() {
	d.state.SnapshotInto(&d.snap)
	for i, r := range d.renderers {
		if err := r.Render(d.snap); err != nil {
			if !d.failing[i] {
				logger.Warnf("Renderer %T failed: %v", r, err)
				d.failing[i] = true
			}
			continue
		}
		if d.failing[i] {
			logger.Infof("Renderer %T recovered", r)
			d.failing[i] = false
		}
	}
	d.frames++
}

// Stop ends the render goroutine and waits for it. Renderers stay open.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.ticker == nil {
		d.mu.Unlock()
		return
	}
	d.stopOnce.Do(func() {
		close(d.doneChan)
		d.ticker.Stop()
		d.ticker = nil
	})
	d.mu.Unlock()

	d.wg.Wait()
	logger.Debugf("Driver stopped after %d frames", d.frames)
}

// Close stops the driver, renders a final snapshot so renderers show the
// resting state, and closes every renderer. Only the first call has effect.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.Stop()
		d.tick()

		var errs []error
		for _, r := range d.renderers {
			if err := r.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%T: %w", r, err))
			}
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}
