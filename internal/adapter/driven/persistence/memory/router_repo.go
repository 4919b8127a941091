package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// RouterRepository keeps live routers in memory.
type RouterRepository struct {
	mu      sync.Mutex
	routers map[domain.RouterID]port.Router
}

func NewRouterRepository() *RouterRepository {
	return &RouterRepository{
		routers: make(map[domain.RouterID]port.Router),
	}
}

func (r *RouterRepository) Save(ctx context.Context, router port.Router) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routers[router.ID()] = router
	return nil
}

func (r *RouterRepository) Get(ctx context.Context, id domain.RouterID) (port.Router, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	router, ok := r.routers[id]
	if !ok {
		return nil, fmt.Errorf("router %s: %w", id, domain.ErrRouterNotFound)
	}
	return router, nil
}

// List returns the routers ordered by id.
func (r *RouterRepository) List(ctx context.Context) ([]port.Router, error) {
	r.mu.Lock()
	out := make([]port.Router, 0, len(r.routers))
	for _, router := range r.routers {
		out = append(out, router)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b port.Router) int {
		return strings.Compare(a.ID().String(), b.ID().String())
	})
	return out, nil
}

func (r *RouterRepository) Delete(ctx context.Context, id domain.RouterID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routers[id]; !ok {
		return fmt.Errorf("router %s: %w", id, domain.ErrRouterNotFound)
	}
	delete(r.routers, id)
	return nil
}
