package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

type stubRouter struct {
	id domain.RouterID
}

func (r *stubRouter) ID() domain.RouterID { return r.id }

func (r *stubRouter) Closed() bool { return false }

func (r *stubRouter) Dump(context.Context) (json.RawMessage, error) { return nil, nil }

func (r *stubRouter) Close() {}

func TestRouterRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRouterRepository()

	a := &stubRouter{id: domain.NewRouterID()}
	b := &stubRouter{id: domain.NewRouterID()}
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))

	got, err := repo.Get(ctx, a.id)
	require.NoError(t, err)
	assert.Same(t, a, got)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Less(t, list[0].ID().String(), list[1].ID().String())

	require.NoError(t, repo.Delete(ctx, a.id))
	_, err = repo.Get(ctx, a.id)
	assert.ErrorIs(t, err, domain.ErrRouterNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, a.id), domain.ErrRouterNotFound)

	list, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
