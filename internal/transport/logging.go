// SPDX-License-Identifier: MIT
package transport

import (
	"strings"
	"time"

	applog "visualizer/internal/log"
	"visualizer/internal/publish"
	"visualizer/internal/render"
	"visualizer/pkg/signal"
)

const meterWidth = 20

// LogRenderer writes a one-line summary of the snapshot to the log at most
// once per interval. It is the headless fallback when no other output is
// configured.
type LogRenderer struct {
	logger     *applog.Logger
	limiter    render.Limiter
	bucketFreq func(b int) float64
	meter      []byte
	closed     bool
}

// NewLogRenderer logs every interval. bucketFreq labels the peak bucket with
// its frequency in Hz; nil leaves it as an index.
func NewLogRenderer(interval time.Duration, bucketFreq func(b int) float64) *LogRenderer {
	return &LogRenderer{
		logger:     applog.For("meter"),
		limiter:    render.Limiter{Interval: interval},
		bucketFreq: bucketFreq,
		meter:      make([]byte, meterWidth),
	}
}

// Render logs the level meter and spectral peak when the interval has passed.
func (l *LogRenderer) Render(snap publish.Snapshot) error {
	if l.closed {
		return ErrClosed
	}
	if !l.limiter.Allow(time.Now()) {
		return nil
	}

	if !snap.Running {
		l.logger.Infof("[%s] idle", strings.Repeat(".", meterWidth))
		return nil
	}

	filled := int(snap.Level*meterWidth + 0.5)
	for i := range l.meter {
		if i < filled {
			l.meter[i] = '#'
		} else {
			l.meter[i] = '.'
		}
	}

	peak := signal.PeakIndex(snap.Spectrum, 0, len(snap.Spectrum))
	var peakValue float64
	if len(snap.Spectrum) > 0 {
		peakValue = snap.Spectrum[peak]
	}

	if l.bucketFreq != nil {
		l.logger.Infof("[%s] %6.1f dB  peak %7.0f Hz %.2f  seq %d",
			l.meter, snap.Decibels, l.bucketFreq(peak), peakValue, snap.Sequence)
	} else {
		l.logger.Infof("[%s] %6.1f dB  peak #%d %.2f  seq %d",
			l.meter, snap.Decibels, peak, peakValue, snap.Sequence)
	}
	return nil
}

// Close marks the renderer closed.
func (l *LogRenderer) Close() error {
	l.closed = true
	return nil
}
