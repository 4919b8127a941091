package port

import (
	"context"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

type EventGateway interface {
	PublishEvent(ctx context.Context, event domain.Event) error
}
