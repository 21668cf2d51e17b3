// SPDX-License-Identifier: MIT
// Package transport holds the renderers that forward published snapshots out
// of the process: a WebSocket JSON broadcast and a periodic log line. The
// binary UDP renderer lives in transport/udp.
package transport

import (
	"errors"

	"visualizer/internal/render"
)

// ErrClosed is returned by Render after Close.
var ErrClosed = errors.New("transport closed")

// Compile-time checks for the renderer implementations.
var (
	_ render.Renderer = (*WebSocketRenderer)(nil)
	_ render.Renderer = (*LogRenderer)(nil)
)
