package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Telemetry WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
//   - ConsoleState stays daemon-owned; the initial snapshot on connect goes
//     through the event loop (RequestStateSnapshot).
//   - Broadcasts originate from reducer-emitted ReduceResult.Broadcasts.
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//
// ============================================================================

type wsSpeedData struct {
	Speed float64 `json:"speed"`
}

type wsModesData struct {
	ModeFlags
	SpeedLimit float64 `json:"speed_limit"`
}

type wsSensorsData struct {
	Distances
	ReportedStatus AutopilotStatus `json:"reported_status,omitempty"`
}

type wsSweepData struct {
	Display float64 `json:"display"`
	Done    bool    `json:"done"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
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
	h.logger.Info("telemetry hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("telemetry hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			TelemetryClients.Set(float64(n))
			h.logger.Info("telemetry client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
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
	TelemetryClients.Set(0)
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

		TelemetryClients.Set(float64(n))
		if reason == "slow_client" {
			TelemetryDropped.WithLabelValues("slow_client").Inc()
		}
		h.logger.Info("telemetry client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
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
		TelemetryDropped.WithLabelValues("hub_queue_full").Inc()
		h.logger.Warn("telemetry hub broadcast queue full, dropping message", "bytes", len(msg))
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("ping error", err)
				return
			}
		}
	}
}

func (c *Client) logExit(what string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("telemetry client closed", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("telemetry client "+what, "remote_addr", c.remoteAddr, "error", err)
}

// readPump reads and discards incoming messages to detect disconnects and
// handle control frames. It exits on read error, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP Handler
// ============================================================================

type TelemetryServer struct {
	logger *slog.Logger
	hub    *Hub

	// Required for the initial snapshot request on connect.
	events chan<- Event
}

// NewTelemetryServer constructs the telemetry WS components. Call Register
// on a mux, start Hub().Run(ctx) and RunBroadcaster.
func NewTelemetryServer(logger *slog.Logger, events chan<- Event, cfg HubConfig) *TelemetryServer {
	return &TelemetryServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		events: events,
	}
}

func (s *TelemetryServer) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *TelemetryServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleTelemetryWS)
}

var upgrader = websocket.Upgrader{
	// The console runs on a closed pit network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTelemetryWS upgrades and registers a client, then sends state_init.
func (s *TelemetryServer) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("telemetry upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so broadcasts can reach the client.
	s.hub.register <- client

	// Pumps must outlive the request context; the hub and socket errors end them.
	go client.writePump(context.Background())
	go client.readPump()

	if s.events == nil {
		return
	}

	snap, err := requestSnapshot(r.Context(), s.events, defaultSnapshotRequestTimeout)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("telemetry snapshot request failed", "error", err)
		}
		return
	}

	now := time.Now().UTC()
	initMsg, err := json.Marshal(envelope{Type: "state_init", Ts: &now, Data: snap})
	if err != nil {
		s.logger.Warn("telemetry snapshot marshal failed", "error", err)
		return
	}

	// Enqueue init message; if client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// requestSnapshot round-trips a RequestStateSnapshot through the event loop.
func requestSnapshot(ctx context.Context, events chan<- Event, timeout time.Duration) (StateSnapshot, error) {
	reply := make(chan StateSnapshot, 1)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-waitCtx.Done():
		return StateSnapshot{}, waitCtx.Err()
	case events <- RequestStateSnapshot{Reply: reply}:
	}

	select {
	case <-waitCtx.Done():
		return StateSnapshot{}, waitCtx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads reducer-emitted StateBroadcast events, marshals them,
// and broadcasts them to all hub clients. speed_changed is rate-limited:
// the latest pending value is flushed at most once per coalesce window.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, window time.Duration, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}
	if window <= 0 {
		window = defaultTelemetryCoalesceWindow
	}

	var pending *wsOutboundEvent
	var timer *time.Timer
	var timerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		ts := ev.At
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		msg, err := json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
		if err != nil {
			logger.Warn("telemetry marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		if pending == nil {
			return
		}
		emit(*pending)
		pending = nil
	}

	stopTimer := func() {
		if timer != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			// Keep ticking only while updates keep arriving.
			timer = nil
			timerCh = nil

		case b, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("telemetry broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			// Latest wins; the timer is not reset on each update.
			if ev.Type == "speed_changed" {
				copyEv := ev
				pending = &copyEv
				if timer == nil {
					timer = time.NewTimer(window)
					timerCh = timer.C
				}
				continue
			}

			// Keep ordering: a pending speed goes out before the next event.
			flushPending()
			stopTimer()
			emit(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastSpeedChanged:
		return wsOutboundEvent{Type: "speed_changed", Data: wsSpeedData{Speed: ev.Speed}, At: ev.At}, true
	case BroadcastModesChanged:
		return wsOutboundEvent{Type: "modes_changed", Data: wsModesData{ModeFlags: ev.Modes, SpeedLimit: ev.SpeedLimit}, At: ev.At}, true
	case BroadcastControlsChanged:
		return wsOutboundEvent{Type: "controls_changed", Data: ev.Control, At: ev.At}, true
	case BroadcastAutopilotChanged:
		return wsOutboundEvent{Type: "autopilot_changed", Data: ev.Autopilot, At: ev.At}, true
	case BroadcastSensorsChanged:
		return wsOutboundEvent{Type: "sensors_changed", Data: wsSensorsData{Distances: ev.Distances, ReportedStatus: ev.ReportedStatus}, At: ev.At}, true
	case BroadcastVitalsChanged:
		return wsOutboundEvent{Type: "vitals_changed", Data: ev.Vitals, At: ev.At}, true
	case BroadcastTuningChanged:
		return wsOutboundEvent{Type: "tuning_changed", Data: ev.Values, At: ev.At}, true
	case BroadcastLinkChanged:
		return wsOutboundEvent{Type: "link_changed", Data: ev.Link, At: ev.At}, true
	case BroadcastSweepFrame:
		return wsOutboundEvent{Type: "sweep_frame", Data: wsSweepData{Display: ev.Display, Done: ev.Done}, At: ev.At}, true
	default:
		return wsOutboundEvent{}, false
	}
}
