package moonraker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/john/printer_remote/printer"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultCommandTimeout = 10 * time.Second

	emergencyStopPath   = "/printer/emergency_stop"
	restartPath         = "/printer/restart"
	firmwareRestartPath = "/printer/firmware_restart"
)

// Client is the Moonraker implementation of printer.Printer.
type Client struct {
	conn           printer.Connection
	baseURL        string
	http           *http.Client
	dialer         *websocket.Dialer
	logger         *slog.Logger
	commandTimeout time.Duration

	// socket is the single session owned by this client. closed is set by
	// Close; no command is started after it.
	sockMu sync.Mutex
	socket *Session
	closed bool

	inflight sync.WaitGroup
}

var _ printer.Printer = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithDialer sets the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCommandTimeout bounds each fire-and-forget control command.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.commandTimeout = d
		}
	}
}

// New creates a Moonraker client for conn. The connection's address is used as
// given; see BuildURL.
func New(conn printer.Connection, opts ...Option) *Client {
	c := &Client{
		conn:           conn,
		baseURL:        BuildURL(conn.Address, false),
		http:           &http.Client{Timeout: defaultRequestTimeout},
		dialer:         websocket.DefaultDialer,
		logger:         slog.Default(),
		commandTimeout: defaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("backend", string(printer.Moonraker), "address", conn.Address)
	return c
}

// Connection returns the connection this client was built for.
func (c *Client) Connection() printer.Connection {
	return c.conn
}

// TestConnection reports whether the server answers its base URL with a 2xx
// status. Transport failures and error statuses both report false.
func (c *Client) TestConnection(ctx context.Context) bool {
	if _, err := c.do(ctx, http.MethodGet, "", nil); err != nil {
		c.logger.DebugContext(ctx, "connection test failed", "error", err)
		return false
	}
	return true
}

// EmergencyStop asks the printer to halt immediately. It does not wait for
// the request to complete.
func (c *Client) EmergencyStop(ctx context.Context) {
	c.fire(ctx, emergencyStopPath)
}

// Restart asks the host software to restart. It does not wait for the request
// to complete.
func (c *Client) Restart(ctx context.Context) {
	c.fire(ctx, restartPath)
}

// FirmwareRestart asks the printer firmware to restart. It does not wait for
// the request to complete.
func (c *Client) FirmwareRestart(ctx context.Context) {
	c.fire(ctx, firmwareRestartPath)
}

// fire posts to path in the background. The request outlives ctx's
// cancellation but keeps its values.
func (c *Client) fire(ctx context.Context, path string) {
	c.sockMu.Lock()
	if c.closed {
		c.sockMu.Unlock()
		c.logger.WarnContext(ctx, "printer command dropped: client closed", "path", path)
		return
	}
	c.inflight.Add(1)
	c.sockMu.Unlock()

	go func() {
		defer c.inflight.Done()

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commandTimeout)
		defer cancel()

		if _, err := c.do(cctx, http.MethodPost, path, nil); err != nil {
			c.logger.WarnContext(cctx, "printer command failed", "path", path, "error", err)
			return
		}
		c.logger.DebugContext(cctx, "printer command sent", "path", path)
	}()
}

// Wait blocks until every control command issued so far has finished.
func (c *Client) Wait() {
	c.inflight.Wait()
}

// SocketURL returns the WebSocket endpoint for this client.
func (c *Client) SocketURL() string {
	return BuildURL(c.conn.Address, true) + socketPath
}

// OpenSocketConnection dials a new WebSocket session and makes it the
// client's current session. The previous session, if any, is closed.
func (c *Client) OpenSocketConnection(ctx context.Context) (printer.SocketSession, error) {
	header := http.Header{}
	if c.conn.APIKey != "" {
		header.Set(apiKeyHeader, c.conn.APIKey)
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.SocketURL(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %w", ErrTransport, c.SocketURL(), err)
	}

	sess := newSession(ws, c.logger)

	c.sockMu.Lock()
	prev := c.socket
	c.socket = sess
	c.sockMu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			c.logger.DebugContext(ctx, "closing replaced websocket session", "error", err)
		}
	}
	c.logger.InfoContext(ctx, "websocket session opened", "url", c.SocketURL())
	return sess, nil
}

// Socket returns the current session, or nil if none is open.
func (c *Client) Socket() *Session {
	c.sockMu.Lock()
	defer c.sockMu.Unlock()
	return c.socket
}

// Close closes the current session and waits for in-flight control commands.
// Control commands issued after Close are dropped.
func (c *Client) Close() error {
	c.sockMu.Lock()
	sess := c.socket
	c.socket = nil
	c.closed = true
	c.sockMu.Unlock()

	var err error
	if sess != nil {
		err = sess.Close()
	}
	c.inflight.Wait()
	return err
}
