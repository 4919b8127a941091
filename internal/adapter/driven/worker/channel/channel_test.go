package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/channel"
	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/netstring"
	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/workertest"
	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func TestWorkerDump(t *testing.T) {
	w, ch, _ := workertest.Start(t)
	w.Reply("worker.dump", map[string]any{
		"pid":       workertest.PID,
		"routerIds": []string{},
	})

	data, err := ch.Request(context.Background(), "worker.dump", domain.Internal{}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pid":4242,"routerIds":[]}`, string(data))

	reqs := w.RequestsFor("worker.dump")
	require.Len(t, reqs, 1)
	assert.NotZero(t, reqs[0].ID)
	assert.Empty(t, reqs[0].Data)
}

func TestRequestEnvelope(t *testing.T) {
	w, ch, _ := workertest.Start(t)

	internal := domain.Internal{RouterID: "r1", TransportID: "t1"}
	_, err := ch.Request(context.Background(), "transport.setMaxIncomingBitrate", internal, map[string]int{"bitrate": 1000})
	require.NoError(t, err)

	reqs := w.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, internal, reqs[0].Internal)
	assert.JSONEq(t, `{"bitrate":1000}`, string(reqs[0].Data))
}

func TestRequestRejected(t *testing.T) {
	w, ch, _ := workertest.Start(t)
	w.Handle("router.createWebRtcTransport", func(workertest.Request) (any, error) {
		return nil, &domain.RequestError{Kind: "TypeError", Reason: "missing listenIps"}
	})

	_, err := ch.Request(context.Background(), "router.createWebRtcTransport", domain.Internal{}, nil)
	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "router.createWebRtcTransport", reqErr.Method)
	assert.Equal(t, "TypeError", reqErr.Kind)
	assert.Equal(t, "missing listenIps", reqErr.Reason)
	assert.False(t, errors.Is(err, domain.ErrChannelClosed))
}

func TestOutOfOrderResponses(t *testing.T) {
	w, ch, _ := workertest.Start(t)
	w.Hold("echo")

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := ch.Request(context.Background(), "echo", domain.Internal{}, map[string]int{"n": i})
			if assert.NoError(t, err) {
				assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(data))
			}
		}(i)
	}

	require.Eventually(t, func() bool { return w.Count("echo") == n }, waitFor, tick)

	reqs := w.RequestsFor("echo")
	seen := make(map[uint32]bool)
	for i := len(reqs) - 1; i >= 0; i-- {
		assert.False(t, seen[reqs[i].ID], "duplicate id %d", reqs[i].ID)
		seen[reqs[i].ID] = true
		require.NoError(t, w.Respond(reqs[i], reqs[i].Data))
	}
	wg.Wait()
}

func TestLinkDeathFailsPending(t *testing.T) {
	w := workertest.New(t)
	w.Hold("router.dump")

	r, wr := w.Control()
	ch := channel.New(r, wr)
	runErr := make(chan error, 1)
	go func() { runErr <- ch.Run(context.Background()) }()

	const k = 10
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		go func() {
			_, err := ch.Request(context.Background(), "router.dump", domain.Internal{}, nil)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return w.Count("router.dump") == k }, waitFor, tick)

	w.Sever()

	for i := 0; i < k; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, domain.ErrChannelClosed)
		case <-time.After(waitFor):
			t.Fatal("pending request never completed")
		}
	}
	<-ch.Done()
	assert.NoError(t, <-runErr)
	assert.True(t, ch.Closed())

	_, err := ch.Request(context.Background(), "router.dump", domain.Internal{}, nil)
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
	assert.Equal(t, k, w.Count("router.dump"), "no request is written after the link died")
}

func TestContextCancel(t *testing.T) {
	w, ch, _ := workertest.Start(t)
	w.Hold("transport.getStats")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := ch.Request(ctx, "transport.getStats", domain.Internal{}, nil)
		errc <- err
	}()
	require.Eventually(t, func() bool { return w.Count("transport.getStats") == 1 }, waitFor, tick)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	// the late response is dropped and the channel keeps working
	require.NoError(t, w.Respond(w.RequestsFor("transport.getStats")[0], nil))
	w.Reply("transport.getStats", []int{1})
	data, err := ch.Request(context.Background(), "transport.getStats", domain.Internal{}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[1]`, string(data))
}

func TestUnknownResponseDropped(t *testing.T) {
	w, ch, _ := workertest.Start(t)

	require.NoError(t, w.WriteRaw([]byte(`{"id":99999,"accepted":true}`)))
	_, err := ch.Request(context.Background(), "worker.dump", domain.Internal{}, nil)
	assert.NoError(t, err)
}

func TestNotificationDispatch(t *testing.T) {
	w, ch, _ := workertest.Start(t)

	type note struct {
		event string
		data  string
	}
	got := make(chan note, 4)
	ch.Subscribe("consumer-1", func(event string, data json.RawMessage) {
		got <- note{event, string(data)}
	})
	ch.Subscribe(fmt.Sprint(workertest.PID), func(event string, data json.RawMessage) {
		got <- note{event, string(data)}
	})

	require.NoError(t, w.Notify("consumer-1", "score", map[string]any{"score": 9, "producerScore": 10}))
	require.NoError(t, w.Notify(workertest.PID, "running", nil))
	require.NoError(t, w.Notify("nobody", "score", nil))

	first := <-got
	assert.Equal(t, "score", first.event)
	assert.JSONEq(t, `{"score":9,"producerScore":10}`, first.data)
	second := <-got
	assert.Equal(t, "running", second.event)
	assert.Empty(t, second.data)
}

func TestSubscribeReplaces(t *testing.T) {
	w, ch, _ := workertest.Start(t)

	var mu sync.Mutex
	var calls []string
	record := func(name string) func(string, json.RawMessage) {
		return func(string, json.RawMessage) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), calls...)
	}
	flush := func() {
		_, err := ch.Request(context.Background(), "worker.dump", domain.Internal{}, nil)
		require.NoError(t, err)
	}

	first := ch.Subscribe("p1", record("first"))
	second := ch.Subscribe("p1", record("second"))

	require.NoError(t, w.Notify("p1", "pause", nil))
	flush()
	assert.Equal(t, []string{"second"}, snapshot())

	// a stale subscription must not remove its replacement
	first.Unsubscribe()
	require.NoError(t, w.Notify("p1", "pause", nil))
	flush()
	assert.Equal(t, []string{"second", "second"}, snapshot())

	second.Unsubscribe()
	second.Unsubscribe()
	require.NoError(t, w.Notify("p1", "pause", nil))
	flush()
	assert.Len(t, snapshot(), 2)
}

func TestMalformedInputIsNotFatal(t *testing.T) {
	w, ch, _ := workertest.Start(t)

	got := make(chan string, 1)
	ch.Subscribe("t1", func(event string, _ json.RawMessage) { got <- event })

	for _, f := range []string{
		`{"targetId":`,
		`{"event":"missing-target"}`,
		`{"targetId":"t1"}`,
		`Dworker debug line`,
		`Wworker warning`,
		`Eworker error`,
		`Xdump output`,
		`?unknown frame`,
		``,
	} {
		require.NoError(t, w.WriteRaw([]byte(f)))
	}
	require.NoError(t, w.Notify("t1", "icestatechange", map[string]string{"iceState": "connected"}))

	assert.Equal(t, "icestatechange", <-got)
	_, err := ch.Request(context.Background(), "worker.dump", domain.Internal{}, nil)
	assert.NoError(t, err)
	assert.False(t, ch.Closed())
}

func TestMalformedFrameIsFatal(t *testing.T) {
	resR, resW := io.Pipe()
	reqR, reqW := io.Pipe()
	go func() { _, _ = io.Copy(io.Discard, reqR) }()

	ch := channel.New(resR, reqW)
	runErr := make(chan error, 1)
	go func() { runErr <- ch.Run(context.Background()) }()

	_, _ = resW.Write([]byte("12x:"))

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, netstring.ErrMalformedLength)
	case <-time.After(waitFor):
		t.Fatal("run did not stop")
	}
	assert.True(t, ch.Closed())
}

func TestCloseStopsRun(t *testing.T) {
	w := workertest.New(t)
	r, wr := w.Control()
	ch := channel.New(r, wr)

	runErr := make(chan error, 1)
	go func() { runErr <- ch.Run(context.Background()) }()

	require.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())
	assert.NoError(t, <-runErr)

	_, err := ch.Request(context.Background(), "worker.dump", domain.Internal{}, nil)
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

func TestContextStopsRun(t *testing.T) {
	w := workertest.New(t)
	r, wr := w.Control()
	ch := channel.New(r, wr)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- ch.Run(ctx) }()
	cancel()

	assert.NoError(t, <-runErr)
	<-ch.Done()
}

func TestPayloadChannel(t *testing.T) {
	w, _, pch := workertest.Start(t)

	t.Run("request carries payload", func(t *testing.T) {
		_, err := pch.Request(context.Background(), "dataConsumer.send", domain.Internal{DataConsumerID: "dc"}, map[string]int{"ppid": 53}, []byte{1, 2, 3})
		require.NoError(t, err)

		reqs := w.RequestsFor("dataConsumer.send")
		require.Len(t, reqs, 1)
		assert.Equal(t, workertest.Payload, reqs[0].Channel)
		assert.Equal(t, []byte{1, 2, 3}, reqs[0].Payload)
	})

	t.Run("notify", func(t *testing.T) {
		err := pch.Notify("dataProducer.send", domain.Internal{DataProducerID: "dp"}, map[string]int{"ppid": 51}, []byte("hello"))
		require.NoError(t, err)

		require.Eventually(t, func() bool { return len(w.Notifications()) == 1 }, waitFor, tick)
		n := w.Notifications()[0]
		assert.Equal(t, "dataProducer.send", n.Event)
		assert.Equal(t, "dp", n.Internal.DataProducerID)
		assert.JSONEq(t, `{"ppid":51}`, string(n.Data))
		assert.Equal(t, "hello", string(n.Payload))
	})

	t.Run("notification with payload", func(t *testing.T) {
		type msg struct {
			data    string
			payload string
		}
		got := make(chan msg, 1)
		pch.Subscribe("dc", func(event string, data json.RawMessage, payload []byte) {
			assert.Equal(t, "message", event)
			got <- msg{string(data), string(payload)}
		})

		// an undecodable message still owns the following frame
		require.NoError(t, w.WriteRawPayload([]byte(`{"targetId":`)))
		require.NoError(t, w.WriteRawPayload([]byte(`{"id":1}`)))

		require.NoError(t, w.NotifyPayload("dc", "message", map[string]int{"ppid": 51}, []byte("hi")))
		m := <-got
		assert.JSONEq(t, `{"ppid":51}`, m.data)
		assert.Equal(t, "hi", m.payload)
	})
}

func TestPayloadNotifyAfterClose(t *testing.T) {
	w := workertest.New(t)
	r, wr := w.Payload()
	pch := channel.NewPayload(r, wr)
	require.NoError(t, pch.Close())

	err := pch.Notify("producer.send", domain.Internal{}, nil, []byte{0})
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := channel.NewMetrics(reg)
	require.NoError(t, err)
	_, err = channel.NewMetrics(reg)
	assert.Error(t, err, "collectors register once per registry")

	w := workertest.New(t)
	w.Reject("router.close", "gone")
	r, wr := w.Control()
	ch := channel.New(r, wr, channel.WithName("control"), channel.WithMetrics(m))
	go func() { _ = ch.Run(context.Background()) }()
	t.Cleanup(func() { _ = ch.Close() })

	_, err = ch.Request(context.Background(), "worker.dump", domain.Internal{}, nil)
	require.NoError(t, err)
	_, err = ch.Request(context.Background(), "router.close", domain.Internal{}, nil)
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	outcomes := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "ya_worker_channel_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			assert.Equal(t, "control", labels["channel"])
			outcomes[labels["method"]+"/"+labels["outcome"]] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		"worker.dump/ok":        1,
		"router.close/rejected": 1,
	}, outcomes)
}
