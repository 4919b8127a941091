package port

import (
	"context"
	"encoding/json"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

type Router interface {
	ID() domain.RouterID
	Closed() bool
	Dump(ctx context.Context) (json.RawMessage, error)
	Close()
}

type RouterRepository interface {
	Save(ctx context.Context, router Router) error
	Get(ctx context.Context, id domain.RouterID) (Router, error)
	List(ctx context.Context) ([]Router, error)
	Delete(ctx context.Context, id domain.RouterID) error
}
