// SPDX-License-Identifier: MIT
package render

import (
	"errors"
	"sync"
	"testing"
	"time"

	"visualizer/internal/publish"
)

type recorder struct {
	mu      sync.Mutex
	renders []publish.Snapshot
	fail    error
	closed  int
}

func (r *recorder) Render(snap publish.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Keep a private copy; the driver reuses the spectrum buffer.
	snap.Spectrum = append([]float64(nil), snap.Spectrum...)
	r.renders = append(r.renders, snap)
	return r.fail
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.renders)
}

func TestNewDriverValidates(t *testing.T) {
	if _, err := NewDriver(nil, 60); err == nil {
		t.Error("expected error for nil state")
	}
	if _, err := NewDriver(publish.New(4, -60), 0); err == nil {
		t.Error("expected error for zero fps")
	}
	d, err := NewDriver(publish.New(4, -60), 50)
	if err != nil {
		t.Fatal(err)
	}
	if d.Interval() != 20*time.Millisecond {
		t.Errorf("interval = %v, want 20ms", d.Interval())
	}
}

func TestTickRendersLatestSnapshot(t *testing.T) {
	state := publish.New(3, -60)
	a, b := &recorder{}, &recorder{}
	d, err := NewDriver(state, 60, a, b)
	if err != nil {
		t.Fatal(err)
	}

	state.Publish([]float64{0.1, 0.2, 0.3}, 0.4, -36)
	state.Publish([]float64{0.5, 0.6, 0.7}, 0.8, -12)
	d.tick()

	for _, r := range []*recorder{a, b} {
		if r.count() != 1 {
			t.Fatalf("renders = %d, want 1", r.count())
		}
		got := r.renders[0]
		if got.Sequence != 2 || got.Spectrum[2] != 0.7 || got.Level != 0.8 {
			t.Errorf("rendered %+v, want the second publish", got)
		}
	}
}

func TestFailingRendererDoesNotStopOthers(t *testing.T) {
	state := publish.New(2, -60)
	bad := &recorder{fail: errors.New("socket gone")}
	good := &recorder{}
	d, err := NewDriver(state, 60, bad, good)
	if err != nil {
		t.Fatal(err)
	}

	d.tick()
	d.tick()
	if good.count() != 2 || bad.count() != 2 {
		t.Errorf("renders good=%d bad=%d, want 2 each", good.count(), bad.count())
	}
	if !d.failing[0] || d.failing[1] {
		t.Errorf("failing = %v, want [true false]", d.failing)
	}

	bad.mu.Lock()
	bad.fail = nil
	bad.mu.Unlock()
	d.tick()
	if d.failing[0] {
		t.Error("renderer still marked failing after a successful render")
	}
}

func TestStartStopClose(t *testing.T) {
	state := publish.New(4, -60)
	r := &recorder{}
	d, err := NewDriver(state, 200, r)
	if err != nil {
		t.Fatal(err)
	}

	d.Start()
	d.Start() // No-op while running.

	deadline := time.Now().Add(2 * time.Second)
	for r.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("driver did not render")
		}
		time.Sleep(time.Millisecond)
	}

	d.Stop()
	d.Stop()
	n := r.count()
	time.Sleep(20 * time.Millisecond)
	if r.count() != n {
		t.Error("renders continued after Stop")
	}

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if r.closed != 1 {
		t.Errorf("renderer closed %d times, want 1", r.closed)
	}
	if r.count() != n+1 {
		t.Errorf("Close rendered %d final frames, want 1", r.count()-n)
	}
}

func TestLimiter(t *testing.T) {
	base := time.Unix(1000, 0)
	l := Limiter{Interval: 100 * time.Millisecond}

	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{50 * time.Millisecond, false},
		{99 * time.Millisecond, false},
		{100 * time.Millisecond, true},
		{150 * time.Millisecond, false},
		{250 * time.Millisecond, true},
	}
	for _, s := range steps {
		if got := l.Allow(base.Add(s.offset)); got != s.want {
			t.Errorf("Allow(+%v) = %v, want %v", s.offset, got, s.want)
		}
	}

	var open Limiter
	for range 3 {
		if !open.Allow(base) {
			t.Error("zero Limiter limited")
		}
	}
}

func TestTickHotPath(t *testing.T) {
	state := publish.New(128, -60)
	d, err := NewDriver(state, 60, nopRenderer{})
	if err != nil {
		t.Fatal(err)
	}
	d.tick()
	allocs := testing.AllocsPerRun(100, d.tick)
	if allocs > 0 {
		t.Errorf("Expected zero allocations per render tick, got %.1f", allocs)
	}
}

type nopRenderer struct{}

func (nopRenderer) Render(publish.Snapshot) error { return nil }
func (nopRenderer) Close() error                  { return nil }
