// Package media holds the client side objects of a media worker: the
// worker itself and the routers, transports, producers and consumers it
// hosts. Every object mirrors one entity inside the worker and talks to
// it over the worker channels.
//
// Objects are closed explicitly, when their parent closes, when the
// entity they consume from closes, or when the last reference to them is
// dropped. Handlers registered on an object must not capture the object
// itself if the last case is relied on.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/event"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// Process is the OS process behind a worker.
type Process interface {
	Close() error
}

type WorkerConfig struct {
	PID            int
	Channel        port.Channel
	PayloadChannel port.PayloadChannel
	// Process is closed together with the worker when set.
	Process Process
	AppData domain.AppData
}

type Worker struct {
	pid            int
	channel        port.Channel
	payloadChannel port.PayloadChannel
	process        Process
	appData        domain.AppData
	logger         zerolog.Logger

	lc          lifecycle
	onNewRouter event.Bag[*Router]
	onDied      event.BagOnce[error]

	running     chan struct{}
	runningOnce sync.Once
	startOnce   sync.Once

	mu   sync.Mutex
	died error
}

func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		pid:            cfg.PID,
		channel:        cfg.Channel,
		payloadChannel: cfg.PayloadChannel,
		process:        cfg.Process,
		appData:        cfg.AppData,
		logger:         log.With().Int("worker_pid", cfg.PID).Logger(),
		running:        make(chan struct{}),
	}
	if w.appData == nil {
		w.appData = domain.AppData{}
	}

	w.lc.track(w.channel.Subscribe(strconv.Itoa(cfg.PID), func(event string, _ json.RawMessage) {
		switch event {
		case "running":
			w.runningOnce.Do(func() { close(w.running) })
		default:
			w.logger.Error().Str("event", event).Msg("unknown worker notification")
		}
	}))
	return w
}

// Start pumps both channels. When either stops while the worker is open
// the worker dies. Cancelling ctx closes the worker.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return pumpErr("control", w.channel.Run(gctx)) })
		g.Go(func() error { return pumpErr("payload", w.payloadChannel.Run(gctx)) })

		go func() {
			err := g.Wait()
			if w.lc.isClosed() {
				return
			}
			if ctx.Err() != nil {
				w.Close()
				return
			}
			w.logger.Error().Err(err).Msg("worker died")
			w.close(err)
		}()
	})
}

func pumpErr(name string, err error) error {
	if err == nil {
		return fmt.Errorf("%s channel: %w", name, domain.ErrChannelClosed)
	}
	return err
}

// WaitRunning blocks until the worker announced it is ready.
func (w *Worker) WaitRunning(ctx context.Context) error {
	select {
	case <-w.running:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) PID() int {
	return w.pid
}

func (w *Worker) AppData() domain.AppData {
	return w.appData
}

func (w *Worker) Closed() bool {
	return w.lc.isClosed()
}

// Died returns why the worker died, or nil if it did not.
func (w *Worker) Died() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.died
}

func (w *Worker) Dump(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &w.lc, w.channel, "worker.dump", domain.Internal{}, nil)
}

func (w *Worker) GetResourceUsage(ctx context.Context) (WorkerResourceUsage, error) {
	return request[WorkerResourceUsage](ctx, &w.lc, w.channel, "worker.getResourceUsage", domain.Internal{}, nil)
}

func (w *Worker) UpdateSettings(ctx context.Context, settings WorkerUpdateSettings) error {
	return send(ctx, &w.lc, w.channel, "worker.updateSettings", domain.Internal{}, settings)
}

func (w *Worker) CreateRouter(ctx context.Context, opts RouterOptions) (*Router, error) {
	id := domain.NewRouterID()
	internal := domain.Internal{RouterID: id.String()}
	if err := send(ctx, &w.lc, w.channel, "worker.createRouter", internal, nil); err != nil {
		return nil, err
	}

	r := newRouter(w, id, opts)
	w.onNewRouter.Call(r)
	return r, nil
}

// Close closes every router, the channels and the process.
func (w *Worker) Close() {
	w.close(nil)
}

func (w *Worker) close(cause error) {
	var trigger func()
	if cause != nil {
		trigger = func() {
			w.mu.Lock()
			w.died = cause
			w.mu.Unlock()
			w.onDied.Call(cause)
		}
	}
	if !w.lc.shut(trigger) {
		return
	}

	err := multierr.Combine(w.channel.Close(), w.payloadChannel.Close())
	if w.process != nil {
		err = multierr.Append(err, w.process.Close())
	}
	if err != nil && !errors.Is(err, domain.ErrChannelClosed) {
		w.logger.Warn().Err(err).Msg("closing worker")
	}
	w.logger.Debug().Msg("worker closed")
}

func (w *Worker) OnNewRouter(h func(*Router)) event.HandlerID {
	return w.onNewRouter.Add(h)
}

// OnDied fires once if the worker stops without being closed.
func (w *Worker) OnDied(h func(error)) event.HandlerID {
	return w.onDied.Add(h)
}

func (w *Worker) OnClose(h func()) event.HandlerID {
	return w.lc.onClose.Add(noArgs(h))
}
