package client

import (
	"log/slog"
	"time"
)

// Option configures a Client before it dials.
type Option func(*Client)

// WithToken sets the bearer token sent in the auth frame.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithFormat requests a frame format from the server: "json" (the
// default) or "msgpack".
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHandshakeTimeout bounds how long Dial waits for the server's
// auth response. Default 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// WithReconnect makes the client redial after a dropped connection,
// backing off exponentially from baseDelay up to maxRedials attempts.
// In-flight calls still fail; watches must be re-established.
func WithReconnect(maxRedials int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.redial = true
		c.maxRedials = maxRedials
		c.baseDelay = baseDelay
	}
}
