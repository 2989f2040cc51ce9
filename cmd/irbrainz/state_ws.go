package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// ============================================================================
// Status WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that reads status bus events and fans out
//
// Notes:
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - The initial message on connect is "state_init" with a DispatcherSnapshot.
//
// ============================================================================

// envelope is the wire format envelope for WS (and MQTT) messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, remove them after unlocking.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// closeStatus extracts a websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards incoming messages to detect disconnects and handle
// control frames. It unregisters the client on exit.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handlers
// ============================================================================

// StatusServer serves the status websocket and a JSON snapshot endpoint.
type StatusServer struct {
	logger   *slog.Logger
	hub      *Hub
	snapshot func() DispatcherSnapshot
}

// NewStatusServer constructs the status server components. Call Register on
// a router, start Hub().Run(ctx) and RunBroadcaster.
func NewStatusServer(logger *slog.Logger, snapshot func() DispatcherSnapshot, cfg HubConfig) *StatusServer {
	return &StatusServer{
		logger:   logger,
		hub:      NewHub(logger, cfg),
		snapshot: snapshot,
	}
}

func (s *StatusServer) Hub() *Hub { return s.hub }

// Register registers the handlers on the provided router.
func (s *StatusServer) Register(r chi.Router) {
	r.Get("/ws", s.handleWS)
	r.Get("/status", s.handleStatus)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

// handleWS upgrades and registers a client, then sends state_init.
func (s *StatusServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue state_init before registering so it is the first frame.
	now := time.Now().UTC()
	initMsg, err := json.Marshal(envelope{Type: "state_init", Ts: &now, Data: s.snapshot()})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
	} else {
		client.send <- initMsg
	}

	s.hub.register <- client

	// The pumps must outlive the request context: net/http cancels it as
	// soon as this handler returns.
	go client.writePump(context.Background())
	go client.readPump()
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster marshals status events and broadcasts them to all hub clients.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StatusEvent, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-src:
			ts := ev.At
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			msg, err := json.Marshal(envelope{Type: string(ev.Type), Ts: &ts, Data: ev.Data})
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
				continue
			}
			hub.BroadcastBytes(msg)
		}
	}
}
