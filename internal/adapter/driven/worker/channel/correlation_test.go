package channel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

func TestTableSkipsZeroAndOutstanding(t *testing.T) {
	tb := newTable()
	tb.next = math.MaxUint32 - 1

	id, _, err := tb.register()
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), id)

	id, _, err = tb.register()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id, "zero is never allocated")

	tb.slots[3] = make(chan response, 1)
	id, _, err = tb.register()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), id)

	id, _, err = tb.register()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), id, "outstanding id 3 is skipped")
}

func TestTableResolveOnce(t *testing.T) {
	tb := newTable()
	id, slot, err := tb.register()
	require.NoError(t, err)

	assert.True(t, tb.resolve(id, response{accepted: true}))
	assert.False(t, tb.resolve(id, response{accepted: true}))
	assert.True(t, (<-slot).accepted)
	assert.Zero(t, tb.len())
}

func TestTableClose(t *testing.T) {
	tb := newTable()
	var slots []<-chan response
	for i := 0; i < 5; i++ {
		_, slot, err := tb.register()
		require.NoError(t, err)
		slots = append(slots, slot)
	}

	assert.Equal(t, 5, tb.close())
	assert.Zero(t, tb.close())
	for _, slot := range slots {
		assert.ErrorIs(t, (<-slot).err, domain.ErrChannelClosed)
	}

	_, _, err := tb.register()
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

func TestSubscriptionsTokenOwnership(t *testing.T) {
	var s subscriptions[func() int]

	tok1, replaced := s.add("a", func() int { return 1 })
	assert.False(t, replaced)
	tok2, replaced := s.add("a", func() int { return 2 })
	assert.True(t, replaced)

	s.remove("a", tok1)
	h, ok := s.get("a")
	require.True(t, ok)
	assert.Equal(t, 2, h())

	s.remove("a", tok2)
	_, ok = s.get("a")
	assert.False(t, ok)
	assert.Zero(t, s.len())
}

func TestIncomingTarget(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"4f0c"`, "4f0c", true},
		{`4242`, "4242", true},
		{`null`, "", false},
		{``, "", false},
		{`""`, "", false},
	}
	for _, tt := range tests {
		m := incoming{TargetID: []byte(tt.raw)}
		got, ok := m.target()
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
