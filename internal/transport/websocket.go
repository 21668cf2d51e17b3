// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	applog "visualizer/internal/log"
	"visualizer/internal/publish"
	"visualizer/internal/render"

	"github.com/gorilla/websocket"
)

var wsLog = applog.For("websocket")

const (
	// WebSocketPath is the endpoint clients connect to.
	WebSocketPath = "/ws"

	writeTimeout    = time.Second
	broadcastBuffer = 16
)

// WebSocketRenderer broadcasts each snapshot as JSON to every connected
// client. Render only queues the message; a dedicated goroutine writes to
// clients, so a slow client never stalls the render tick.
//
// Thread Safety:
//   - Uses mutex for client map access
//   - Rate limits broadcasts with a render.Limiter
//   - Drops messages when the broadcast queue is full
type WebSocketRenderer struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan []byte
	server    *http.Server
	listener  net.Listener
	limiter   render.Limiter

	mu     sync.Mutex // Protects closed and sends on broadcast.
	closed bool
	wg     sync.WaitGroup
}

// NewWebSocketRenderer listens on addr and serves WebSocketPath. Snapshots
// are sent at most once per minInterval; zero sends every render.
func NewWebSocketRenderer(addr string, minInterval time.Duration) (*WebSocketRenderer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	w := &WebSocketRenderer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Visualizer pages may be served from anywhere
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, broadcastBuffer),
		listener:  listener,
		limiter:   render.Limiter{Interval: minInterval},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, w.handleWebSocket)
	w.server = &http.Server{Handler: mux}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		wsLog.Infof("Listening on %s%s", listener.Addr(), WebSocketPath)
		if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wsLog.Errorf("Server error: %v", err)
		}
	}()
	go func() {
		defer w.wg.Done()
		w.handleBroadcasts()
	}()

	return w, nil
}

// Addr returns the listening address.
func (w *WebSocketRenderer) Addr() net.Addr {
	return w.listener.Addr()
}

// ClientCount returns the number of connected clients.
func (w *WebSocketRenderer) ClientCount() int {
	w.clientsMu.Lock()
	defer w.clientsMu.Unlock()
	return len(w.clients)
}

// handleWebSocket upgrades the connection and registers the client. A reader
// goroutine discards client messages and unregisters the client on error.
func (w *WebSocketRenderer) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		wsLog.Warnf("Upgrade error: %v", err)
		return
	}

	w.clientsMu.Lock()
	w.clients[conn] = true
	total := len(w.clients)
	w.clientsMu.Unlock()
	wsLog.Infof("Client %s connected, total: %d", conn.RemoteAddr(), total)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				w.drop(conn)
				return
			}
		}
	}()
}

func (w *WebSocketRenderer) drop(conn *websocket.Conn) {
	w.clientsMu.Lock()
	_, known := w.clients[conn]
	delete(w.clients, conn)
	total := len(w.clients)
	w.clientsMu.Unlock()

	conn.Close()
	if known {
		wsLog.Infof("Client %s disconnected, total: %d", conn.RemoteAddr(), total)
	}
}

// handleBroadcasts writes queued messages to all clients until the queue is
// closed.
func (w *WebSocketRenderer) handleBroadcasts() {
	for msg := range w.broadcast {
		w.clientsMu.Lock()
		for client := range w.clients {
			client.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
				wsLog.Debugf("Error sending to %s: %v", client.RemoteAddr(), err)
				client.Close()
				delete(w.clients, client)
			}
		}
		w.clientsMu.Unlock()
	}
}

// Render queues snap for broadcast. Messages are dropped while no client is
// connected, when rate limited, or when the queue is full.
func (w *WebSocketRenderer) Render(snap publish.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.ClientCount() == 0 || !w.limiter.Allow(time.Now()) {
		return nil
	}

	msg, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	select {
	case w.broadcast <- msg:
	default:
		wsLog.Debugf("Broadcast queue full, dropping snapshot %d", snap.Sequence)
	}
	return nil
}

// Close disconnects every client and shuts the server down.
func (w *WebSocketRenderer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.broadcast)
	w.mu.Unlock()

	wsLog.Infof("Closing server")
	err := w.server.Close()

	w.clientsMu.Lock()
	for client := range w.clients {
		client.Close()
		delete(w.clients, client)
	}
	w.clientsMu.Unlock()

	w.wg.Wait()
	return err
}
