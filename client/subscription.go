package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invenflow/jobcore/stream"
	"github.com/invenflow/jobcore/wire"
)

// Subscribe subscribes to a stream topic and returns a channel of events.
// The channel is closed when the client disconnects or Unsubscribe is called.
//
// Topics follow the stream convention:
//   - "job:<jobID>"    — events for a specific job
//   - "queue:<name>"   — all events for a queue
//   - "tenant:<id>"    — all events for a tenant
//   - "jobs"           — all job lifecycle events
//   - "queues"         — all queue lifecycle events
//   - "firehose"       — everything
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan *stream.Event, error) {
	// Send subscribe request.
	_, err := c.call(ctx, wire.MethodSubscribe, wire.SubscribeRequest{
		Channel: channel,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", channel, err)
	}

	ch := make(chan *stream.Event, 64)
	c.watches.Store(channel, ch)

	return ch, nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.call(ctx, wire.MethodUnsubscribe, wire.UnsubscribeRequest{
		Channel: channel,
	})

	// Close and remove the local channel regardless.
	if val, ok := c.watches.LoadAndDelete(channel); ok {
		ch := val.(chan *stream.Event) //nolint:errcheck // subs map always stores chan *stream.Event
		close(ch)
	}

	return err
}

// WatchJob subscribes to lifecycle events for a specific job. This is a
// convenience method that subscribes to "job:<jobID>".
func (c *Client) WatchJob(ctx context.Context, jobID string) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, "job:"+jobID)
}

// WatchQueue subscribes to all events for a queue. This is a convenience
// method that subscribes to "queue:<name>".
func (c *Client) WatchQueue(ctx context.Context, queue string) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, "queue:"+queue)
}

// Stats retrieves broker and per-queue statistics from the server.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.call(ctx, wire.MethodStats, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
