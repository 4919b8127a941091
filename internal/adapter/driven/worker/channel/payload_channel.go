package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/netstring"
	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// PayloadChannel carries messages that travel with a binary payload:
// every outgoing message and every incoming notification is a pair of
// frames. Responses are single frames.
type PayloadChannel struct {
	*conn
	subs subscriptions[port.PayloadNotificationHandler]
}

var _ port.PayloadChannel = (*PayloadChannel)(nil)

func NewPayload(r io.ReadCloser, w io.WriteCloser, opts ...Option) *PayloadChannel {
	o := defaultOptions("payload")
	for _, opt := range opts {
		opt(&o)
	}
	return &PayloadChannel{conn: newConn(r, w, o)}
}

func (c *PayloadChannel) Request(ctx context.Context, method string, internal domain.Internal, data any, payload []byte) (json.RawMessage, error) {
	return c.request(ctx, method, func(id uint32) (frame, error) {
		msg, err := json.Marshal(requestEnvelope{ID: id, Method: method, Internal: internal, Data: data})
		return frame{msg: msg, payload: payload, pair: true}, err
	})
}

// Notify sends a message the worker does not answer.
func (c *PayloadChannel) Notify(event string, internal domain.Internal, data any, payload []byte) error {
	if c.Closed() {
		return fmt.Errorf("notify %q: %w", event, domain.ErrChannelClosed)
	}
	msg, err := json.Marshal(notificationEnvelope{Event: event, Internal: internal, Data: data})
	if err != nil {
		return fmt.Errorf("notify %q: %w", event, err)
	}
	if err := c.w.WriteFramePair(msg, payload); err != nil {
		if errors.Is(err, netstring.ErrFrameTooLarge) {
			return fmt.Errorf("notify %q: %w", event, err)
		}
		return fmt.Errorf("notify %q: %w: %v", event, domain.ErrChannelClosed, err)
	}
	return nil
}

func (c *PayloadChannel) Subscribe(targetID string, h port.PayloadNotificationHandler) port.Subscription {
	token, replaced := c.subs.add(targetID, h)
	if replaced {
		c.logger.Warn().Str("target_id", targetID).Msg("replaced existing notification handler")
	}
	return &subscription{cancel: func() { c.subs.remove(targetID, token) }}
}

func (c *PayloadChannel) Run(ctx context.Context) error {
	return c.run(ctx, c.readOne)
}

func (c *PayloadChannel) readOne() error {
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
	if ok && m.ID != nil {
		c.resolve(*m.ID, m)
		return nil
	}

	// Anything that is not a response is a notification and owns the next
	// frame, even when its message could not be decoded.
	payload, err := c.r.ReadFrame()
	if err != nil {
		return fmt.Errorf("reading notification payload: %w", err)
	}
	if !ok {
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
	h(m.Event, m.Data, payload)
	return nil
}
