package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seenimoa/riskfolio/internal/advisor"
	"github.com/seenimoa/riskfolio/internal/rag"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the REST routes only
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer; requests carry history.
	maxMessageSize = 64 << 10
)

// ============================================================
// Messages
// ============================================================

// WSMessage is a message sent over WebSocket connections.
//
// Client to server: "recommend" (data is a recommendation request), "ping".
// Server to client: "token", "done", "error", "pong", "store_updated".
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type wsInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsToken struct {
	Content string `json:"content"`
}

type wsDone struct {
	Sources []advisor.Source `json:"sources"`
	Version rag.Version      `json:"version"`
}

type wsError struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Status int    `json:"status"`
}

// ============================================================
// Hub
// ============================================================

// WSHub tracks connected clients and fans out broadcasts such as store
// updates.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	stopped    chan struct{}
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub       *WSHub
	send      chan WSMessage
	done      chan struct{}
	closeOnce sync.Once
	streaming atomic.Bool
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		stopped:    make(chan struct{}),
	}
}

func newWSClient(hub *WSHub) *WSClient {
	return &WSClient{hub: hub, send: make(chan WSMessage, 256), done: make(chan struct{})}
}

// Run starts the hub event loop. It returns when ctx is cancelled, closing
// every client.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow client; disconnect
					delete(h.clients, client)
					client.close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop message if broadcast channel is full
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	select {
	case h.register <- client:
	case <-h.stopped:
		client.close()
	}
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
		client.close()
	}
}

func (c *WSClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Send queues msg for the client. It reports false once the client is gone.
func (c *WSClient) Send(msg WSMessage) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

// ============================================================
// Connection handling
// ============================================================

// handleWebSocket upgrades the connection and streams recommendations.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.wsHub)
	s.wsHub.Register(client)

	// The request context ends when this handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	go wsWritePump(conn, client)
	go s.wsReadPump(ctx, cancel, conn, client)
}

// wsReadPump reads client requests until the connection drops.
func (s *Server) wsReadPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *WSClient) {
	defer func() {
		cancel()
		client.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(message, &msg); err != nil {
			client.Send(WSMessage{Type: "error", Data: wsError{Error: "invalid message", Status: http.StatusBadRequest}})
			continue
		}

		switch msg.Type {
		case "recommend":
			var req advisor.Request
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				client.Send(WSMessage{Type: "error", Data: wsError{Error: "invalid recommend request", Status: http.StatusBadRequest}})
				continue
			}
			if !client.streaming.CompareAndSwap(false, true) {
				client.Send(WSMessage{Type: "error", Data: wsError{Error: "a recommendation is already streaming", Status: http.StatusConflict}})
				continue
			}
			go func() {
				defer client.streaming.Store(false)
				s.streamRecommendation(ctx, client, req)
			}()
		case "ping":
			client.Send(WSMessage{Type: "pong"})
		default:
			client.Send(WSMessage{Type: "error", Data: wsError{Error: "unknown message type " + msg.Type, Status: http.StatusBadRequest}})
		}
	}
}

// streamRecommendation relays model tokens, then a "done" message carrying
// the cited sources.
func (s *Server) streamRecommendation(ctx context.Context, client *WSClient, req advisor.Request) {
	stream, err := s.advisor.Stream(ctx, req)
	if err != nil {
		status, field := errorStatus(err)
		client.Send(WSMessage{Type: "error", Data: wsError{Error: err.Error(), Field: field, Status: status}})
		return
	}

	failed := false
	for chunk := range stream.Chunks {
		if failed {
			continue
		}
		if chunk.Err != nil {
			failed = true
			status, _ := errorStatus(chunk.Err)
			client.Send(WSMessage{Type: "error", Data: wsError{Error: chunk.Err.Error(), Status: status}})
			continue
		}
		if chunk.Content == "" {
			continue
		}
		if !client.Send(WSMessage{Type: "token", Data: wsToken{Content: chunk.Content}}) {
			return
		}
	}
	if !failed {
		client.Send(WSMessage{Type: "done", Data: wsDone{Sources: stream.Sources, Version: stream.StoreVersion}})
	}
}

// wsWritePump is the connection's only writer.
func wsWritePump(conn *websocket.Conn, client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-client.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
