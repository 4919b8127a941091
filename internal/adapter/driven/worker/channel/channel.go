// Package channel implements the control and payload channels spoken with
// a media worker over a pair of netstring framed streams.
package channel

import (
	"context"
	"encoding/json"
	"io"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/netstring"
	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// Channel is the control channel. Run must be running for requests to
// complete.
type Channel struct {
	*conn
	subs subscriptions[port.NotificationHandler]
}

var _ port.Channel = (*Channel)(nil)

// New reads worker messages from r and writes requests to w.
func New(r io.ReadCloser, w io.WriteCloser, opts ...Option) *Channel {
	o := defaultOptions("control")
	for _, opt := range opts {
		opt(&o)
	}
	return &Channel{conn: newConn(r, w, o)}
}

func (c *Channel) Request(ctx context.Context, method string, internal domain.Internal, data any) (json.RawMessage, error) {
	return c.request(ctx, method, func(id uint32) (frame, error) {
		msg, err := json.Marshal(requestEnvelope{ID: id, Method: method, Internal: internal, Data: data})
		return frame{msg: msg}, err
	})
}

// Subscribe routes notifications for targetID to h, replacing any handler
// already registered for it.
func (c *Channel) Subscribe(targetID string, h port.NotificationHandler) port.Subscription {
	token, replaced := c.subs.add(targetID, h)
	if replaced {
		c.logger.Warn().Str("target_id", targetID).Msg("replaced existing notification handler")
	}
	return &subscription{cancel: func() { c.subs.remove(targetID, token) }}
}

func (c *Channel) Run(ctx context.Context) error {
	return c.run(ctx, c.readOne)
}

func (c *Channel) readOne() error {
	f, err := c.r.ReadFrame()
	if err != nil {
		return err
	}

	msg := netstring.Parse(f)
	if msg.Kind != netstring.KindJSON {
		c.logWorker(msg)
		return nil
	}

	m, ok := c.decode(msg.Data)
	if !ok {
		return nil
	}
	if m.ID != nil {
		c.resolve(*m.ID, m)
		return nil
	}

	target, ok := c.notificationTarget(m)
	if !ok {
		return nil
	}
	h, ok := c.subs.get(target)
	if !ok {
		c.dropNoTarget(target, m.Event)
		return nil
	}
	c.metrics.notification(c.name, m.Event)
	h(m.Event, m.Data)
	return nil
}
