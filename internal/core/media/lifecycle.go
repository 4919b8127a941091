package media

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/rs/zerolog"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/event"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

type closeReason uint8

const (
	closeExplicit closeReason = iota
	// closeParent means the owning entity closed.
	closeParent
	// closePeer means the entity this one consumes from closed.
	closePeer
	// closeUnreachable means the handle was garbage collected.
	closeUnreachable
)

func (r closeReason) String() string {
	switch r {
	case closeParent:
		return "parent closed"
	case closePeer:
		return "peer closed"
	case closeUnreachable:
		return "unreachable"
	default:
		return "explicit"
	}
}

// lifecycle is the Open -> Closed state shared by every entity.
type lifecycle struct {
	closed atomic.Bool

	// children holds one parent-closed trigger per live child.
	children event.BagOnce[struct{}]
	onClose  event.BagOnce[struct{}]

	mu       sync.Mutex
	subs     []port.Subscription
	cleanups []func()
}

func (l *lifecycle) isClosed() bool {
	return l.closed.Load()
}

// track unsubscribes s when the entity closes.
func (l *lifecycle) track(s port.Subscription) {
	l.mu.Lock()
	if !l.closed.Load() {
		l.subs = append(l.subs, s)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	s.Unsubscribe()
}

// atClose runs fn when the entity closes.
func (l *lifecycle) atClose(fn func()) {
	l.mu.Lock()
	if !l.closed.Load() {
		l.cleanups = append(l.cleanups, fn)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	fn()
}

// shut moves the entity to Closed. Only the first caller gets true; it has
// unsubscribed, detached, cascaded to children and fired trigger followed
// by the close handlers by the time shut returns.
func (l *lifecycle) shut(trigger func()) bool {
	l.mu.Lock()
	if !l.closed.CompareAndSwap(false, true) {
		l.mu.Unlock()
		return false
	}
	subs, cleanups := l.subs, l.cleanups
	l.subs, l.cleanups = nil, nil
	l.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	for _, fn := range cleanups {
		fn()
	}
	l.children.Call(struct{}{})
	if trigger != nil {
		trigger()
	}
	l.onClose.Call(struct{}{})
	return true
}

// adopt registers child with parent so that closing parent calls
// parentClosed on child. The parent only keeps a weak reference.
func adopt[S any](parent, child *lifecycle, state *S, parentClosed func(*S)) {
	wp := weak.Make(state)
	id := parent.children.Add(func(struct{}) {
		if s := wp.Value(); s != nil {
			parentClosed(s)
		}
	})
	child.atClose(id.Remove)

	// The parent may have closed while the child was being created.
	if parent.isClosed() {
		parentClosed(state)
	}
}

// noArgs adapts a plain callback to a struct{} bag.
func noArgs(h func()) func(struct{}) {
	return func(struct{}) { h() }
}

// closeRemote tells the worker an entity is gone. It never blocks and
// keeps parent alive until the request completed.
func closeRemote(ch port.Channel, logger zerolog.Logger, method string, internal domain.Internal, parent any) {
	go func() {
		_, err := ch.Request(context.Background(), method, internal, nil)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrChannelClosed):
			logger.Debug().Err(err).Msg("close request not delivered")
		default:
			logger.Error().Err(err).Msg("close request failed")
		}
		runtime.KeepAlive(parent)
	}()
}
