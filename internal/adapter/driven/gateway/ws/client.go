package ws

import "github.com/Wyydra/ya-sfu/internal/core/domain"

// Client is one subscriber of the entity event stream.
type Client interface {
	ID() string
	SendEvent(event domain.Event) error
	Close() error
}
