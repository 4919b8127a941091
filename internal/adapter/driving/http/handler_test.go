package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/ya-sfu/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/channel"
	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/workertest"
	handler "github.com/Wyydra/ya-sfu/internal/adapter/driving/http"
	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/media"
	"github.com/Wyydra/ya-sfu/internal/core/service"
)

type server struct {
	*httptest.Server
	fake *workertest.Worker
	hub  *ws.Hub
}

func newServer(t *testing.T) server {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics, err := channel.NewMetrics(reg)
	require.NoError(t, err)

	fake := workertest.New(t)
	ch, pch := fake.Channels(channel.WithMetrics(metrics))
	w := media.NewWorker(media.WorkerConfig{PID: workertest.PID, Channel: ch, PayloadChannel: pch})
	w.Start(context.Background())
	t.Cleanup(w.Close)

	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	svc := service.NewRouterService(w, memory.NewRouterRepository(), hub, nil)
	srv := httptest.NewServer(handler.NewHandler(svc, hub, reg).NewRouter())
	t.Cleanup(srv.Close)
	return server{Server: srv, fake: fake, hub: hub}
}

func (s server) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	res, err := s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type routerBody struct {
	ID     string          `json:"id"`
	Closed bool            `json:"closed"`
	Dump   json.RawMessage `json:"dump"`
}

func TestHealthz(t *testing.T) {
	s := newServer(t)

	res, body := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRouterLifecycle(t *testing.T) {
	s := newServer(t)
	s.fake.Reply("router.dump", map[string]any{"transportIds": []string{}})

	res, body := s.do(t, http.MethodPost, "/routers", `{"appData":{"room":"lobby"}}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var created routerBody
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID)

	res, body = s.do(t, http.MethodGet, "/routers", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list []routerBody
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	res, body = s.do(t, http.MethodGet, "/routers/"+created.ID, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got routerBody
	require.NoError(t, json.Unmarshal(body, &got))
	assert.JSONEq(t, `{"transportIds":[]}`, string(got.Dump))

	res, _ = s.do(t, http.MethodDelete, "/routers/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, _ = s.do(t, http.MethodGet, "/routers/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCreateRouterWithoutBody(t *testing.T) {
	s := newServer(t)

	res, _ := s.do(t, http.MethodPost, "/routers", "")
	assert.Equal(t, http.StatusCreated, res.StatusCode)
}

func TestRouterErrors(t *testing.T) {
	s := newServer(t)

	res, _ := s.do(t, http.MethodGet, "/routers/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = s.do(t, http.MethodPost, "/routers", "{")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	s.fake.Reject("worker.createRouter", "nope")
	res, _ = s.do(t, http.MethodPost, "/routers", "")
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
}

func TestGetWorker(t *testing.T) {
	s := newServer(t)
	s.fake.Reply("worker.dump", map[string]any{"pid": workertest.PID})

	res, body := s.do(t, http.MethodGet, "/worker", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"pid":4242}`, string(body))
}

func TestWorkerGone(t *testing.T) {
	s := newServer(t)
	s.fake.Sever()

	require.Eventually(t, func() bool {
		res, _ := s.do(t, http.MethodGet, "/worker", "")
		return res.StatusCode == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetrics(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodGet, "/worker", "")

	res, body := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `ya_worker_channel_requests_total{channel="control",method="worker.dump",outcome="ok"} 1`)
}

func TestEventStream(t *testing.T) {
	s := newServer(t)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	events := make(chan domain.Event, 16)
	go func() {
		for {
			var ev domain.Event
			if err := conn.ReadJSON(&ev); err != nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	// registration races the dial, so publish until the client is in
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok)
			assert.Equal(t, domain.EventWorkerClosed, ev.Type)
			return
		case <-ticker.C:
			require.NoError(t, s.hub.PublishEvent(context.Background(), domain.Event{Type: domain.EventWorkerClosed}))
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}
