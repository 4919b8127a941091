package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed is returned for every pending and future request once
	// the link to the worker is gone.
	ErrChannelClosed = errors.New("channel closed")
	// ErrEntityClosed is returned by methods of a closed entity. No request
	// is sent.
	ErrEntityClosed         = errors.New("entity closed")
	ErrProducerNotFound     = errors.New("producer not found")
	ErrDataProducerNotFound = errors.New("data producer not found")
	ErrNoSctpStreamID       = errors.New("no sctp stream id available")
	ErrRouterNotFound       = errors.New("router not found")
	// ErrNotDirect is returned when sending through an entity that does
	// not live on a direct transport.
	ErrNotDirect = errors.New("not on a direct transport")
)

// RequestError is a request the worker answered with accepted:false.
type RequestError struct {
	Method string
	// Kind is the worker's error class, e.g. "Error" or "TypeError".
	Kind   string
	Reason string
}

func (e *RequestError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("request %q rejected: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("request %q rejected: %s: %s", e.Method, e.Kind, e.Reason)
}
