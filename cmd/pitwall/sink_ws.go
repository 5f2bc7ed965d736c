package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsLinkFrame is the wire format of one command on the ws link.
type wsLinkFrame struct {
	Command string `json:"command"`
	Value   any    `json:"value"`
	Session string `json:"session"`
}

// wsSink sends commands as JSON text frames over a WebSocket. Incoming
// frames are read and discarded so close frames and broken connections are
// noticed; after that every Send returns ErrLinkClosed.
type wsSink struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	session string
	url     string
	logger  *slog.Logger
}

// dialWSLink returns a LinkDialer for ws:// and wss:// addresses.
func dialWSLink(logger *slog.Logger) LinkDialer {
	return func(ctx context.Context, addr string) (CommandSink, error) {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid link url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("invalid link url %q: scheme must be ws or wss", addr)
		}

		d := websocket.Dialer{
			HandshakeTimeout: 2 * time.Second,
		}
		conn, _, err := d.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
		}

		s := &wsSink{
			conn:    conn,
			session: uuid.NewString(),
			url:     u.Redacted(),
			logger:  logger.With("component", "link_ws"),
		}
		go s.readLoop()
		s.logger.Info("vehicle link connected", "url", s.url, "session", s.session)
		return s, nil
	}
}

func (s *wsSink) readLoop() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.mu.Lock()
			wasClosed := s.closed
			s.closed = true
			s.mu.Unlock()
			if !wasClosed {
				if code, text, ok := closeStatus(err); ok {
					s.logger.Info("vehicle link closed by peer", "code", code, "reason", text)
				} else {
					s.logger.Info("vehicle link read failed", "error", err)
				}
			}
			return
		}
	}
}

func (s *wsSink) Send(ctx context.Context, cmd LinkCommand) error {
	payload, err := json.Marshal(wsLinkFrame{Command: cmd.Name, Value: cmd.Value, Session: s.session})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrLinkClosed
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.closed = true
		_ = s.conn.Close()
		return fmt.Errorf("%w: %v", ErrLinkClosed, err)
	}
	return nil
}

// Close sends a close frame (best-effort) and closes the connection.
func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.closed = true
	}
	return s.conn.Close()
}
