// SPDX-License-Identifier: MIT
package sink

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"specgate/internal/frame"
)

// WebSocketPath is where renderer clients connect.
const WebSocketPath = "/spectrum"

const (
	broadcastQueue = 64
	writeTimeout   = time.Second
)

// Message is the JSON document sent to renderer clients. Exactly one of
// Points or Samples is set.
type Message struct {
	Seq     uint64        `json:"seq"`
	Points  []frame.Point `json:"points,omitempty"`
	Samples []float32     `json:"samples,omitempty"`
}

// WebSocket broadcasts frames to every connected renderer client.
//
// Thread Safety:
//   - Writes copy the frame and queue it without blocking; a full queue drops
//     the frame, the renderer only cares about the latest one
//   - The write path never takes clientsMu, which the broadcaster holds
//     across slow client writes
//   - One goroutine owns all client writes
type WebSocket struct {
	log       *logrus.Entry
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	broadcast chan Message
	server    *http.Server
	listener  net.Listener
	seq       uint64
	dropped   atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var (
	_ SampleSink = (*WebSocket)(nil)
	_ PointSink  = (*WebSocket)(nil)
)

// NewWebSocket listens on addr and starts serving WebSocketPath.
func NewWebSocket(addr string, entry *logrus.Entry) (*WebSocket, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	ws := &WebSocket{
		log: entry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Renderers are served from anywhere on the local machine.
			},
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, broadcastQueue),
		listener:  ln,
		done:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, ws.handleWebSocket)
	ws.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ws.wg.Add(2)
	go func() {
		defer ws.wg.Done()
		entry.Infof("Starting WebSocket server on %s%s", ln.Addr(), WebSocketPath)
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Error("WebSocket server error")
		}
	}()
	go ws.handleBroadcasts()

	return ws, nil
}

// Addr returns the address the server listens on.
func (ws *WebSocket) Addr() net.Addr { return ws.listener.Addr() }

// Clients returns the number of connected clients.
func (ws *WebSocket) Clients() int {
	ws.clientsMu.Lock()
	defer ws.clientsMu.Unlock()
	return len(ws.clients)
}

// Dropped returns how many frames were dropped because the queue was full.
func (ws *WebSocket) Dropped() uint64 {
	return ws.dropped.Load()
}

func (ws *WebSocket) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	ws.clientsMu.Lock()
	ws.clients[conn] = struct{}{}
	total := len(ws.clients)
	ws.clientsMu.Unlock()
	ws.log.WithField("clients", total).Info("Client connected")

	// The read side only exists to notice the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				ws.removeClient(conn)
				return
			}
		}
	}()
}

func (ws *WebSocket) removeClient(conn *websocket.Conn) {
	ws.clientsMu.Lock()
	_, ok := ws.clients[conn]
	delete(ws.clients, conn)
	total := len(ws.clients)
	ws.clientsMu.Unlock()
	if ok {
		conn.Close()
		ws.log.WithField("clients", total).Info("Client disconnected")
	}
}

func (ws *WebSocket) handleBroadcasts() {
	defer ws.wg.Done()
	for {
		select {
		case <-ws.done:
			return
		case msg := <-ws.broadcast:
			ws.clientsMu.Lock()
			for client := range ws.clients {
				client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WriteJSON(msg); err != nil {
					ws.log.WithError(err).Warn("Error sending to client")
					client.Close()
					delete(ws.clients, client)
				}
			}
			ws.clientsMu.Unlock()
		}
	}
}

func (ws *WebSocket) enqueue(msg Message) {
	select {
	case ws.broadcast <- msg:
	default:
		ws.dropped.Add(1)
	}
}

// WriteSamples queues a reconstructed frame for broadcast.
func (ws *WebSocket) WriteSamples(samples []float32) error {
	ws.seq++
	ws.enqueue(Message{Seq: ws.seq, Samples: append([]float32(nil), samples...)})
	return nil
}

// WritePoints queues a spectrum for broadcast.
func (ws *WebSocket) WritePoints(points []frame.Point) error {
	ws.seq++
	ws.enqueue(Message{Seq: ws.seq, Points: append([]frame.Point(nil), points...)})
	return nil
}

// Close disconnects every client and shuts the server down.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		ws.log.Info("Closing WebSocket server")
		close(ws.done)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = ws.server.Shutdown(ctx)

		ws.clientsMu.Lock()
		for client := range ws.clients {
			client.Close()
		}
		ws.clients = make(map[*websocket.Conn]struct{})
		ws.clientsMu.Unlock()

		ws.wg.Wait()
	})
	return err
}
