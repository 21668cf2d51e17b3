// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"time"

	"visualizer/internal/publish"
	"visualizer/internal/render"
)

// Publisher renders snapshots as binary packets over UDP, at most once per
// interval. Unchanged snapshots (same sequence) are not resent.
type Publisher struct {
	sender  *Sender
	limiter render.Limiter

	sequenceNum uint32 // Monotonically increasing packet sequence number
	lastSnap    uint64 // Snapshot sequence of the last packet
	sent        bool
	failures    int

	packetBuffer []byte // Reused across packets
}

var _ render.Renderer = (*Publisher)(nil)

// DefaultInterval is used when the configured interval is not positive.
const DefaultInterval = 16 * time.Millisecond

// NewPublisher wraps sender. buckets sizes the packet buffer.
func NewPublisher(sender *Sender, interval time.Duration, buckets int) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("udp: sender cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultInterval // ~60Hz
		logger.Warnf("Invalid interval, defaulting to %s", interval)
	}
	logger.Infof("Publisher initialized (Interval: %s, Buckets: %d)", interval, buckets)

	return &Publisher{
		sender:       sender,
		limiter:      render.Limiter{Interval: interval},
		packetBuffer: make([]byte, 0, HeaderSize+4*buckets),
	}, nil
}

// Render packs and sends snap when the interval has passed.
func (p *Publisher) Render(snap publish.Snapshot) error {
	if p.sent && snap.Sequence == p.lastSnap {
		return nil
	}
	if !p.limiter.Allow(time.Now()) {
		return nil
	}

	p.sequenceNum++
	p.packetBuffer = AppendPacket(p.packetBuffer[:0], p.sequenceNum, snap.Timestamp.UnixNano(),
		float32(snap.Level), float32(snap.Decibels), snap.Spectrum)

	if err := p.sender.Send(p.packetBuffer); err != nil {
		p.failures++
		return err
	}
	p.lastSnap = snap.Sequence
	p.sent = true
	return nil
}

// Sequence returns the number of packets built so far.
func (p *Publisher) Sequence() uint32 {
	return p.sequenceNum
}

// Close closes the underlying sender.
func (p *Publisher) Close() error {
	if p.failures > 0 {
		logger.Warnf("%d packets failed to send", p.failures)
	}
	return p.sender.Close()
}
