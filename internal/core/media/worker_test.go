package media_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/workertest"
	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/media"
)

func TestWorkerRunning(t *testing.T) {
	fake, w, _ := startWorker(t)

	require.NoError(t, fake.Notify(workertest.PID, "running", nil))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	assert.NoError(t, w.WaitRunning(ctx))
	assert.Equal(t, workertest.PID, w.PID())
}

func TestWorkerWaitRunningTimeout(t *testing.T) {
	_, w, _ := startWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.WaitRunning(ctx), context.Canceled)
}

func TestWorkerDump(t *testing.T) {
	fake, w, _ := startWorker(t)
	fake.Reply("worker.dump", map[string]any{"pid": workertest.PID, "routerIds": []string{}})

	dump, err := w.Dump(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"pid":4242,"routerIds":[]}`, string(dump))

	reqs := fake.RequestsFor("worker.dump")
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.Internal{}, reqs[0].Internal)
}

func TestWorkerResourceUsage(t *testing.T) {
	fake, w, _ := startWorker(t)
	fake.Reply("worker.getResourceUsage", map[string]uint64{"ru_utime": 12, "ru_maxrss": 2048})

	usage, err := w.GetResourceUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), usage.UserTime)
	assert.Equal(t, uint64(2048), usage.MaxRss)
}

func TestWorkerUpdateSettings(t *testing.T) {
	fake, w, _ := startWorker(t)

	err := w.UpdateSettings(context.Background(), media.WorkerUpdateSettings{LogLevel: "debug"})
	require.NoError(t, err)

	reqs := fake.RequestsFor("worker.updateSettings")
	require.Len(t, reqs, 1)
	var data map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Data, &data))
	assert.Equal(t, "debug", data["logLevel"])
}

func TestWorkerRequestRejected(t *testing.T) {
	fake, w, _ := startWorker(t)
	fake.Reject("worker.dump", "boom")

	_, err := w.Dump(context.Background())
	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr), "got %v", err)
	assert.Equal(t, "boom", reqErr.Reason)
	assert.False(t, w.Closed())
}

func TestWorkerDied(t *testing.T) {
	fake, w, _ := startWorker(t)
	r, err := w.CreateRouter(context.Background(), media.RouterOptions{})
	require.NoError(t, err)

	var died, closed, routerWorkerClose counter
	diedErr := make(chan error, 1)
	w.OnDied(func(err error) {
		died.inc()
		diedErr <- err
	})
	w.OnClose(closed.inc)
	r.OnWorkerClose(routerWorkerClose.inc)

	fake.Sever()

	select {
	case err := <-diedErr:
		assert.ErrorIs(t, err, domain.ErrChannelClosed)
	case <-waitTimeout():
		t.Fatal("worker did not die")
	}

	assert.True(t, w.Closed())
	assert.True(t, r.Closed())
	assert.ErrorIs(t, w.Died(), domain.ErrChannelClosed)
	assert.Equal(t, 1, died.get())
	assert.Equal(t, 1, closed.get())
	assert.Equal(t, 1, routerWorkerClose.get())

	_, err = w.CreateRouter(context.Background(), media.RouterOptions{})
	assert.ErrorIs(t, err, domain.ErrEntityClosed)
}

func TestWorkerClose(t *testing.T) {
	fake, w, _ := startWorker(t)
	r, err := w.CreateRouter(context.Background(), media.RouterOptions{})
	require.NoError(t, err)

	var died, closed, routerClosed counter
	w.OnDied(func(error) { died.inc() })
	w.OnClose(closed.inc)
	r.OnWorkerClose(routerClosed.inc)

	w.Close()
	w.Close()

	assert.True(t, w.Closed())
	assert.True(t, r.Closed())
	assert.NoError(t, w.Died())
	assert.Equal(t, 0, died.get())
	assert.Equal(t, 1, closed.get())
	assert.Equal(t, 1, routerClosed.get())

	_, err = w.Dump(context.Background())
	assert.ErrorIs(t, err, domain.ErrEntityClosed)
	assert.Zero(t, fake.Count("worker.dump"))
}

func TestWorkerContextCancelCloses(t *testing.T) {
	_, w, cancel := startWorker(t)

	var died counter
	w.OnDied(func(error) { died.inc() })

	cancel()

	require.Eventually(t, w.Closed, waitFor, tick)
	assert.NoError(t, w.Died())
	assert.Zero(t, died.get())
}

func TestWorkerClosesProcess(t *testing.T) {
	fake := workertest.New(t)
	ch, pch := fake.Channels()
	proc := &fakeProcess{}
	w := media.NewWorker(media.WorkerConfig{PID: workertest.PID, Channel: ch, PayloadChannel: pch, Process: proc})
	w.Start(context.Background())

	w.Close()
	assert.Equal(t, 1, proc.closed.get())
	assert.True(t, ch.Closed())
	assert.True(t, pch.Closed())
}

type fakeProcess struct {
	closed counter
}

func (p *fakeProcess) Close() error {
	p.closed.inc()
	return nil
}
