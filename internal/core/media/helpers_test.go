package media_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/workertest"
	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/media"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	audioRtp = json.RawMessage(`{"codecs":[{"mimeType":"audio/opus","payloadType":100,"clockRate":48000,"channels":2}],"encodings":[{"ssrc":1111}]}`)
	loopback = domain.ListenIP{IP: "127.0.0.1"}
)

// startWorker returns a running media worker backed by a fake worker process.
func startWorker(t *testing.T) (*workertest.Worker, *media.Worker, context.CancelFunc) {
	t.Helper()

	fake := workertest.New(t)
	ch, pch := fake.Channels()
	w := media.NewWorker(media.WorkerConfig{PID: workertest.PID, Channel: ch, PayloadChannel: pch})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	return fake, w, cancel
}

func newRouter(t *testing.T) (*workertest.Worker, *media.Worker, *media.Router) {
	t.Helper()

	fake, w, _ := startWorker(t)
	r, err := w.CreateRouter(context.Background(), media.RouterOptions{})
	require.NoError(t, err)
	return fake, w, r
}

func newDirectTransport(t *testing.T) (*workertest.Worker, *media.Router, *media.DirectTransport) {
	t.Helper()

	fake, _, r := newRouter(t)
	tr, err := r.CreateDirectTransport(context.Background(), media.DirectTransportOptions{})
	require.NoError(t, err)
	return fake, r, tr
}

// echo answers method with the data it was sent.
func echo(fake *workertest.Worker, method string) {
	fake.Handle(method, func(req workertest.Request) (any, error) {
		return req.Data, nil
	})
}

func produceAudio(t *testing.T, tr media.Transport) *media.Producer {
	t.Helper()

	p, err := tr.Produce(context.Background(), media.ProducerOptions{
		Kind:                    domain.MediaKindAudio,
		RtpParameters:           audioRtp,
		ConsumableRtpParameters: audioRtp,
	})
	require.NoError(t, err)
	return p
}

func consume(t *testing.T, tr media.Transport, p *media.Producer) *media.Consumer {
	t.Helper()

	c, err := tr.Consume(context.Background(), media.ConsumerOptions{
		ProducerID:    p.ID(),
		RtpParameters: audioRtp,
	})
	require.NoError(t, err)
	return c
}

// counter counts handler invocations.
type counter struct {
	n atomic.Int32
}

func (c *counter) inc() {
	c.n.Add(1)
}

func (c *counter) get() int {
	return int(c.n.Load())
}

func eventuallyCount(t *testing.T, fake *workertest.Worker, method string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return fake.Count(method) == n }, waitFor, tick,
		"expected %d %s requests, got %d", n, method, fake.Count(method))
}

func waitTimeout() <-chan time.Time {
	return time.After(waitFor)
}
