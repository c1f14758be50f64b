// Package client provides a Go client for connecting to a remote jobcore
// instance over the wire protocol via WebSocket.
//
// Usage:
//
//	c, err := client.Dial("wss://api.example.com/wire",
//	    client.WithToken("jk_..."),
//	)
//	defer c.Close()
//
//	// Submit a job and watch its lifecycle.
//	res, err := c.Submit(ctx, "mail", "send-email", payload)
//	ch, err := c.WatchJob(ctx, res.JobID)
//	for evt := range ch {
//	    fmt.Printf("%s\n", evt.Type)
//	}
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/invenflow/jobcore/stream"
	"github.com/invenflow/jobcore/wire"
)

// Client is a wire-protocol client that talks to a remote jobcore server.
type Client struct {
	url              string
	token            string
	format           string
	logger           *slog.Logger
	handshakeTimeout time.Duration

	// Reconnection policy. Zero maxRedials disables redialing.
	redial     bool
	maxRedials int
	baseDelay  time.Duration

	conn      net.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	sessionID string

	// calls correlates in-flight request frames with their responses.
	calls sync.Map // frame id → chan *wire.Frame

	// watches routes event frames to per-channel subscribers.
	watches sync.Map // channel → chan *stream.Event
}

// Dial connects to a wire server and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a wire server with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:              url,
		format:           wire.CodecNameJSON,
		logger:           slog.Default(),
		handshakeTimeout: 10 * time.Second,
		maxRedials:       5,
		baseDelay:        time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("jobcore/client: dial: %w", err)
	}
	go c.receiveLoop()
	return c, nil
}

// connect opens the WebSocket and performs the auth handshake. The
// auth exchange happens before receiveLoop starts, so the response is
// read inline under a deadline.
func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	if err := c.authenticate(ctx, conn); err != nil {
		conn.Close() //nolint:errcheck
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) authenticate(ctx context.Context, conn net.Conn) error {
	authData, err := json.Marshal(wire.AuthRequest{Token: c.token, Format: c.format})
	if err != nil {
		return fmt.Errorf("marshal auth request: %w", err)
	}
	authFrame := &wire.Frame{
		ID:        wire.GenerateFrameID(),
		Type:      wire.FrameRequest,
		Method:    wire.MethodAuth,
		Token:     c.token,
		Data:      authData,
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(authFrame)
	if err != nil {
		return fmt.Errorf("marshal auth frame: %w", err)
	}
	if err := wsutil.WriteClientText(conn, raw); err != nil {
		return fmt.Errorf("write auth frame: %w", err)
	}

	// Bound the handshake by the shorter of the context deadline and
	// the configured handshake timeout.
	deadline := time.Now().Add(c.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	var resp wire.Frame
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unmarshal auth response: %w", err)
	}
	if resp.Type == wire.FrameErr {
		msg := "unknown error"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return fmt.Errorf("auth failed: %s", msg)
	}

	var authResp wire.AuthResponse
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &authResp); err != nil {
			c.logger.Warn("malformed auth response payload", slog.String("error", err.Error()))
		}
	}
	c.sessionID = authResp.SessionID
	c.logger.Info("wire client connected",
		slog.String("session_id", c.sessionID),
		slog.String("format", authResp.Format),
	)
	return nil
}

// receiveLoop reads frames off the socket and routes them until the
// connection dies or the client closes.
func (c *Client) receiveLoop() {
	for {
		if c.closed.Load() {
			return
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("wire client read error", slog.String("error", err.Error()))
			if c.redial {
				c.redialLoop()
			}
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("wire client: invalid frame", slog.String("error", err.Error()))
			continue
		}

		switch frame.Type {
		case wire.FrameResponse, wire.FrameErr:
			c.routeResponse(&frame)
		case wire.FrameEvent:
			c.routeEvent(&frame)
		case wire.FramePong:
			// Nothing to do.
		}
	}
}

func (c *Client) routeResponse(frame *wire.Frame) {
	val, ok := c.calls.Load(frame.CorrelID)
	if !ok {
		return
	}
	ch := val.(chan *wire.Frame) //nolint:errcheck // calls map only holds chan *wire.Frame
	select {
	case ch <- frame:
	default:
	}
}

func (c *Client) routeEvent(frame *wire.Frame) {
	val, ok := c.watches.Load(frame.Channel)
	if !ok {
		return
	}
	ch := val.(chan *stream.Event) //nolint:errcheck // watches map only holds chan *stream.Event
	var evt stream.Event
	if json.Unmarshal(frame.Data, &evt) != nil {
		return
	}
	select {
	case ch <- &evt:
	default:
		// Slow consumer; delivery is at-most-once by contract.
	}
}

// redialLoop reconnects with exponential backoff, capped at 30s.
func (c *Client) redialLoop() {
	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxRedials; attempt++ {
		c.logger.Info("wire client reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("wire client reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		c.logger.Info("wire client reconnected")
		go c.receiveLoop()
		return
	}
	c.logger.Error("wire client: redial attempts exhausted")
}

// call sends a request frame and blocks for the correlated response.
func (c *Client) call(ctx context.Context, method string, data any) (*wire.Frame, error) {
	frame := &wire.Frame{
		ID:        wire.GenerateFrameID(),
		Type:      wire.FrameRequest,
		Method:    method,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal request data: %w", err)
		}
		frame.Data = raw
	}

	respCh := make(chan *wire.Frame, 1)
	c.calls.Store(frame.ID, respCh)
	defer c.calls.Delete(frame.ID)

	if err := c.send(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == wire.FrameErr {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return nil, fmt.Errorf("wire error: %s", msg)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send JSON-encodes a frame and writes it under the write lock.
func (c *Client) send(frame *wire.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientText(c.conn, data)
}

// SessionID returns the session id assigned by the server during auth.
func (c *Client) SessionID() string { return c.sessionID }

// Close tears down the connection and closes all watch channels.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.watches.Range(func(key, val any) bool {
		ch := val.(chan *stream.Event) //nolint:errcheck // watches map only holds chan *stream.Event
		close(ch)
		c.watches.Delete(key)
		return true
	})

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
