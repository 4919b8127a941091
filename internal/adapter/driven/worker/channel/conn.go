package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/netstring"
	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

var errAlreadyRunning = errors.New("channel: already running")

// conn is the part shared by the control and the payload channel: the
// framed streams, the correlation table and the shutdown state.
type conn struct {
	name    string
	logger  zerolog.Logger
	metrics *Metrics

	rc io.ReadCloser
	wc io.WriteCloser
	r  *netstring.Reader
	w  *netstring.Writer

	pending *table

	running   atomic.Bool
	closing   atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newConn(r io.ReadCloser, w io.WriteCloser, o options) *conn {
	return &conn{
		name:    o.name,
		logger:  o.logger.With().Str("channel", o.name).Logger(),
		metrics: o.metrics,
		rc:      r,
		wc:      w,
		r:       netstring.NewReader(r),
		w:       netstring.NewWriter(w),
		pending: newTable(),
		done:    make(chan struct{}),
	}
}

// frame is what a request writes once it owns a correlation id.
type frame struct {
	msg     []byte
	payload []byte
	pair    bool
}

func (c *conn) request(ctx context.Context, method string, encode func(id uint32) (frame, error)) (json.RawMessage, error) {
	start := time.Now()

	id, slot, err := c.pending.register()
	if err != nil {
		c.metrics.observeRequest(c.name, method, outcomeClosed, start)
		return nil, fmt.Errorf("request %q: %w", method, err)
	}

	f, err := encode(id)
	if err != nil {
		c.pending.abandon(id)
		c.metrics.observeRequest(c.name, method, outcomeError, start)
		return nil, fmt.Errorf("request %q: %w", method, err)
	}

	c.metrics.addInFlight(c.name, 1)
	defer c.metrics.addInFlight(c.name, -1)

	if f.pair {
		err = c.w.WriteFramePair(f.msg, f.payload)
	} else {
		err = c.w.WriteFrame(f.msg)
	}
	if err != nil {
		c.pending.abandon(id)
		if errors.Is(err, netstring.ErrFrameTooLarge) {
			c.metrics.observeRequest(c.name, method, outcomeError, start)
			return nil, fmt.Errorf("request %q: %w", method, err)
		}
		c.metrics.observeRequest(c.name, method, outcomeClosed, start)
		return nil, fmt.Errorf("request %q: %w: %v", method, domain.ErrChannelClosed, err)
	}

	select {
	case res := <-slot:
		switch {
		case res.err != nil:
			c.metrics.observeRequest(c.name, method, outcomeClosed, start)
			return nil, fmt.Errorf("request %q: %w", method, res.err)
		case !res.accepted:
			c.metrics.observeRequest(c.name, method, outcomeRejected, start)
			return nil, &domain.RequestError{Method: method, Kind: res.kind, Reason: res.reason}
		default:
			c.metrics.observeRequest(c.name, method, outcomeOK, start)
			return res.data, nil
		}
	case <-ctx.Done():
		c.pending.abandon(id)
		c.metrics.observeRequest(c.name, method, outcomeCanceled, start)
		return nil, ctx.Err()
	}
}

func (c *conn) resolve(id uint32, m *incoming) {
	if !c.pending.resolve(id, m.toResponse()) {
		c.metrics.drop(c.name, dropUnknownResponse)
		c.logger.Debug().Uint32("id", id).Msg("response for unknown request dropped")
	}
}

// run pumps readOne until it fails. A stop caused by Close or a clean EOF
// returns nil.
func (c *conn) run(ctx context.Context, readOne func() error) error {
	if !c.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	var err error
	for err == nil {
		err = readOne()
	}
	c.shutdown()

	if c.closing.Load() || errors.Is(err, io.EOF) {
		return nil
	}
	c.logger.Error().Err(err).Msg("channel read failed")
	return fmt.Errorf("channel %s: %w", c.name, err)
}

func (c *conn) shutdown() {
	c.closed.Store(true)
	if n := c.pending.close(); n > 0 {
		c.logger.Debug().Int("pending", n).Msg("failed pending requests")
	}
	_ = c.closeStreams()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *conn) closeStreams() error {
	c.closeOnce.Do(func() {
		c.closeErr = multierr.Combine(c.wc.Close(), c.rc.Close())
	})
	return c.closeErr
}

// Close closes both streams and fails every pending request. It is
// idempotent and safe to call while Run is active.
func (c *conn) Close() error {
	c.closing.Store(true)
	err := c.closeStreams()
	c.shutdown()
	return err
}

func (c *conn) Closed() bool {
	return c.closed.Load()
}

// Done is closed once the channel has stopped.
func (c *conn) Done() <-chan struct{} {
	return c.done
}

func (c *conn) decode(data []byte) (*incoming, bool) {
	var m incoming
	if err := json.Unmarshal(data, &m); err != nil {
		c.metrics.drop(c.name, dropParse)
		c.logger.Error().Err(err).Msg("undecodable message dropped")
		return nil, false
	}
	return &m, true
}

// notificationTarget validates a notification and returns its target id.
func (c *conn) notificationTarget(m *incoming) (string, bool) {
	target, ok := m.target()
	if !ok || m.Event == "" {
		c.metrics.drop(c.name, dropParse)
		c.logger.Error().
			RawJSON("target_id", orNull(m.TargetID)).
			Str("event", m.Event).
			Msg("malformed notification dropped")
		return "", false
	}
	return target, true
}

func (c *conn) dropNoTarget(target, event string) {
	c.metrics.drop(c.name, dropNoTarget)
	c.logger.Debug().Str("target_id", target).Str("event", event).Msg("notification for unknown target dropped")
}

func (c *conn) logWorker(m netstring.Message) {
	line := string(m.Data)
	switch m.Kind {
	case netstring.KindDebug:
		c.logger.Debug().Str("source", "worker").Msg(line)
	case netstring.KindWarn:
		c.logger.Warn().Str("source", "worker").Msg(line)
	case netstring.KindError:
		c.logger.Error().Str("source", "worker").Msg(line)
	case netstring.KindDump:
		c.logger.Debug().Str("source", "worker").Str("kind", "dump").Msg(line)
	default:
		c.logger.Warn().Uint8("command", m.Command).Str("data", line).Msg("unexpected frame from worker")
	}
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
