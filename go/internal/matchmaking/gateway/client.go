package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"
)

var (
	// ErrNoIdentity is returned when connecting without a user ID
	ErrNoIdentity = errors.New("no user identity")
	// ErrNotConnected is returned by Send while no transport is open
	ErrNotConnected = errors.New("websocket not connected")
)

// ClientConfig holds configuration for the matchmaking WebSocket client
type ClientConfig struct {
	BaseURL          string // endpoint prefix; the user ID is appended as the last path segment
	ReconnectDelay   time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	Header           http.Header
}

// DefaultClientConfig returns default WebSocket client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:          "ws://127.0.0.1:8000/matchmaking/ws/matchmaking",
		ReconnectDelay:   3 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      90 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   64 * 1024,
	}
}

// Client owns the single realtime channel for one user identity. It dials,
// pumps inbound frames into Events, and redials after ReconnectDelay whenever
// the channel is lost for any reason other than a normal closure.
type Client struct {
	config ClientConfig
	dialer *websocket.Dialer
	clock  clockwork.Clock
	events chan Event

	mu     sync.Mutex
	userID int64
	conn   *websocket.Conn
	connID string
	cancel context.CancelFunc

	writeMu sync.Mutex
}

// NewClient creates a new matchmaking WebSocket client
func NewClient(config ClientConfig, clock clockwork.Clock) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		clock:  clock,
		events: make(chan Event, 256),
	}
}

// Events is the stream of transport events, in the order they happened
func (c *Client) Events() <-chan Event {
	return c.events
}

// Endpoint returns the socket URL for a user identity
func (c *Client) Endpoint(userID int64) string {
	return fmt.Sprintf("%s/%d", strings.TrimRight(c.config.BaseURL, "/"), userID)
}

// Connect starts the connection loop for userID. Connecting again with the same
// identity is a no-op; a different identity replaces the current transport.
func (c *Client) Connect(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrNoIdentity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		if c.userID == userID {
			return nil
		}
		c.disconnectLocked("identity changed")
	}

	// The loop outlives the caller's request context; it stops on Disconnect
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.userID = userID
	c.cancel = cancel

	go c.run(runCtx, userID)
	return nil
}

// Disconnect closes the transport with a normal closure and cancels any pending
// reconnection. No further events are emitted for the closed transport.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked("user disconnected")
}

func (c *Client) disconnectLocked(reason string) {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil

	if c.conn != nil {
		deadline := time.Now().Add(c.config.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			log.Debug().Err(err).Str("connection_id", c.connID).Msg("failed to send close frame")
		}
		c.conn.Close()
		log.Info().
			Str("connection_id", c.connID).
			Int64("user_id", c.userID).
			Str("reason", reason).
			Msg("WebSocket connection closed")
		c.conn = nil
		c.connID = ""
	}
	c.userID = 0
}

// Send writes one command to the open transport
func (c *Client) Send(cmd protocol.Command) error {
	c.mu.Lock()
	conn, connID := c.conn, c.connID
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", connID).
			Str("type", string(cmd.Type)).
			Msg("failed to write message to WebSocket")
		return fmt.Errorf("failed to write %s: %w", cmd.Type, err)
	}
	return nil
}

// run dials, pumps, and redials until ctx is cancelled or the server closes normally
func (c *Client) run(ctx context.Context, userID int64) {
	endpoint := c.Endpoint(userID)

	for {
		if !c.emit(ctx, Event{Type: EventConnecting}) {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, endpoint, c.config.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("url", endpoint).Msg("failed to dial matchmaking server")
			c.emit(ctx, Event{Type: EventError, Err: fmt.Errorf("dial: %w", err)})
			c.emit(ctx, Event{Type: EventClosed, Code: websocket.CloseAbnormalClosure, Reconnecting: true})
		} else {
			connID, ok := c.attach(ctx, conn)
			if !ok {
				conn.Close()
				return
			}

			log.Info().
				Str("connection_id", connID).
				Int64("user_id", userID).
				Msg("WebSocket connection established")
			c.emit(ctx, Event{Type: EventOpened, ConnectionID: connID})

			code, readErr := c.readPump(ctx, conn, connID)
			c.detach(conn)
			if ctx.Err() != nil {
				return
			}

			if code == websocket.CloseNormalClosure {
				log.Info().Str("connection_id", connID).Msg("server closed connection normally")
				c.stopIfCurrent(ctx)
				select {
				case c.events <- Event{Type: EventClosed, ConnectionID: connID, Code: code}:
				default:
					log.Warn().Str("connection_id", connID).Msg("event channel full, dropping close event")
				}
				return
			}

			log.Warn().
				Err(readErr).
				Str("connection_id", connID).
				Int("code", code).
				Dur("retry_in", c.config.ReconnectDelay).
				Msg("WebSocket connection lost")
			// 1006 is synthesized locally for a dropped connection, never sent by the server
			if !isCloseFrame(readErr) || code == websocket.CloseAbnormalClosure {
				c.emit(ctx, Event{Type: EventError, ConnectionID: connID, Err: readErr})
			}
			c.emit(ctx, Event{Type: EventClosed, ConnectionID: connID, Code: code, Reconnecting: true})
		}

		timer := c.clock.NewTimer(c.config.ReconnectDelay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// attach publishes conn as the live transport unless Disconnect won the race
func (c *Client) attach(ctx context.Context, conn *websocket.Conn) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil {
		return "", false
	}
	c.conn = conn
	c.connID = uuid.New().String()
	return c.connID, true
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
		c.connID = ""
	}
	conn.Close()
}

// stopIfCurrent forgets the identity after the server ended the session, so a
// later Connect with the same identity dials again
func (c *Client) stopIfCurrent(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() == nil && c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.userID = 0
	}
}

// readPump forwards inbound frames until the connection fails, and returns the close code
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, connID string) (int, error) {
	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline(conn)
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, err
			}
			return websocket.CloseAbnormalClosure, err
		}
		c.extendReadDeadline(conn)

		if msgType != websocket.TextMessage {
			log.Debug().Str("connection_id", connID).Int("message_type", msgType).Msg("ignoring non-text frame")
			continue
		}
		if !c.emit(ctx, Event{Type: EventMessage, ConnectionID: connID, Data: data}) {
			return websocket.CloseNormalClosure, ctx.Err()
		}
	}
}

func (c *Client) extendReadDeadline(conn *websocket.Conn) {
	if c.config.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}

func (c *Client) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func isCloseFrame(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
