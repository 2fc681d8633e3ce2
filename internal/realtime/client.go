package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/metrics"
)

// ConnState is the client connection lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by Send while the client has no connection.
var ErrNotConnected = errors.New("realtime client not connected")

// Settings tune the websocket transport.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	ReconnectDelay   time.Duration
	SendBuffer       int
}

// DefaultSettings returns the transport defaults.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		ReconnectDelay:   2 * time.Second,
		SendBuffer:       64,
	}
}

// Handler receives every message, including the synthetic connected and
// disconnected events.
type Handler func(Message)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSettings sets transport timing.
func WithSettings(s Settings) ClientOption {
	return func(c *Client) {
		c.settings = s
	}
}

// WithHeader sets headers sent with the websocket handshake.
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) {
		c.header = h
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// Client is the websocket side of the realtime channel for one project.
// Run keeps it connected, reconnecting after every failure.
//
// Thread-safety: Send and State are safe for concurrent use.
type Client struct {
	url      string
	handler  Handler
	settings Settings
	header   http.Header
	logger   *slog.Logger
	dialer   *websocket.Dialer

	mu    sync.Mutex
	state ConnState
	send  chan Message
}

// NewClient returns a client for the websocket at url.
func NewClient(url string, handler Handler, opts ...ClientOption) *Client {
	c := &Client{
		url:      url,
		handler:  handler,
		settings: DefaultSettings(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.settings.HandshakeTimeout,
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState, send chan Message) {
	c.mu.Lock()
	c.state = s
	c.send = send
	c.mu.Unlock()
	c.logger.Debug("realtime state", "url", c.url, "state", s)
}

// Send queues m for delivery. Messages are dropped, not buffered, while
// disconnected.
func (c *Client) Send(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrNotConnected
	}
	select {
	case c.send <- m:
		return nil
	default:
		return fmt.Errorf("realtime send buffer full, dropped %s", m.Type)
	}
}

// SendCreate broadcasts a new element on the channel matching its kind.
func (c *Client) SendCreate(e element.Element) error {
	return c.Send(CreateMessage(e))
}

// SendUpdate broadcasts a generator overlay update.
func (c *Client) SendUpdate(id string, p element.Patch) error {
	return c.Send(UpdateMessage(id, p))
}

// SendDelete broadcasts a generator overlay removal.
func (c *Client) SendDelete(id string) error {
	return c.Send(DeleteMessage(id))
}

// SendMediaUpdate broadcasts a live media change such as a drag position.
func (c *Client) SendMediaUpdate(id string, p element.Patch) error {
	return c.Send(MediaUpdateMessage(id, p))
}

// Run connects and serves until ctx is cancelled, reconnecting after
// ReconnectDelay whenever the connection drops or cannot be established.
func (c *Client) Run(ctx context.Context) error {
	first := true
	for {
		if !first {
			metrics.RecordReconnect()
		}
		first = false

		c.setState(StateConnecting, nil)
		ws, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			c.setState(StateDisconnected, nil)
			c.logger.Warn("realtime dial failed", "url", c.url, "error", err)
		} else {
			c.serve(ctx, ws)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.settings.ReconnectDelay):
		}
	}
}

// serve pumps one connection until it fails or ctx ends.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) {
	defer ws.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan Message, max(c.settings.SendBuffer, 1))
	c.setState(StateConnected, send)
	metrics.RealtimeConnectionOpened()
	c.handler(Message{Type: TypeConnected})
	defer func() {
		c.setState(StateDisconnected, nil)
		metrics.RealtimeConnectionClosed()
		c.handler(Message{Type: TypeDisconnected})
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		c.writePump(connCtx, ws, send)
	}()
	// The writer owns the write deadline and sends the close frame on
	// cancellation. Closing after it returns unblocks the reader.
	go func() {
		<-writerDone
		ws.Close()
	}()

	c.readPump(connCtx, ws)
	cancel()
	<-writerDone
}

func (c *Client) readPump(ctx context.Context, ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Info("realtime connection lost", "url", c.url, "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		m, err := DecodeMessage(data)
		if err != nil {
			c.logger.Warn("realtime message dropped", "url", c.url, "error", err)
			continue
		}
		if m.Type.Lifecycle() {
			continue
		}
		c.handler(m)
	}
}

func (c *Client) writePump(ctx context.Context, ws *websocket.Conn, send <-chan Message) {
	ping := time.NewTicker(c.settings.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-send:
			ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := ws.WriteJSON(m); err != nil {
				c.logger.Info("realtime write failed", "url", c.url, "error", err)
				return
			}
			metrics.RecordRealtimeMessage("out", string(m.Type))
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.settings.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
