package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// request sends method on behalf of an open entity and decodes the
// response data into T. An empty response leaves T zero.
func request[T any](ctx context.Context, l *lifecycle, ch port.Channel, method string, internal domain.Internal, data any) (T, error) {
	var out T
	if l.isClosed() {
		return out, errClosed(method)
	}

	raw, err := ch.Request(ctx, method, internal, data)
	if err != nil {
		return out, err
	}
	if err := decode(raw, &out); err != nil {
		return out, fmt.Errorf("%s: decoding response: %w", method, err)
	}
	return out, nil
}

// send is request for methods whose response carries nothing of interest.
func send(ctx context.Context, l *lifecycle, ch port.Channel, method string, internal domain.Internal, data any) error {
	_, err := request[json.RawMessage](ctx, l, ch, method, internal, data)
	return err
}

func decode(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func errClosed(op string) error {
	return fmt.Errorf("%s: %w", op, domain.ErrEntityClosed)
}

func errNotDirect(op string) error {
	return fmt.Errorf("%s: %w", op, domain.ErrNotDirect)
}

// notify sends a payload channel notification for an open entity.
func notify(l *lifecycle, ch port.PayloadChannel, event string, internal domain.Internal, data any, payload []byte) error {
	if l.isClosed() {
		return errClosed(event)
	}
	return ch.Notify(event, internal, data, payload)
}
