package port

import (
	"context"
	"encoding/json"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

// NotificationHandler receives every notification addressed to one target
// id. It runs on the channel's read goroutine and must not block.
type NotificationHandler func(event string, data json.RawMessage)

// PayloadNotificationHandler is the payload channel flavour of
// NotificationHandler. payload is only valid for the duration of the call
// unless copied.
type PayloadNotificationHandler func(event string, data json.RawMessage, payload []byte)

type Subscription interface {
	Unsubscribe()
}

// Channel is the control half of the worker link.
type Channel interface {
	Request(ctx context.Context, method string, internal domain.Internal, data any) (json.RawMessage, error)
	Subscribe(targetID string, handler NotificationHandler) Subscription
	// Run reads from the worker until the link ends.
	Run(ctx context.Context) error
	Closed() bool
	Close() error
}

// PayloadChannel pairs every message with a raw binary payload.
type PayloadChannel interface {
	Request(ctx context.Context, method string, internal domain.Internal, data any, payload []byte) (json.RawMessage, error)
	Notify(event string, internal domain.Internal, data any, payload []byte) error
	Subscribe(targetID string, handler PayloadNotificationHandler) Subscription
	Run(ctx context.Context) error
	Closed() bool
	Close() error
}
