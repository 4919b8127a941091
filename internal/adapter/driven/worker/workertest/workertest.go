// Package workertest provides a scriptable in-process media worker that
// speaks the real framed protocol over in-memory pipes.
package workertest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/channel"
	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/netstring"
	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

const (
	Control = "control"
	Payload = "payload"
)

// PID is the pid the fake worker announces itself with.
const PID = 4242

// Request is a request received from the client.
type Request struct {
	Channel  string
	ID       uint32
	Method   string
	Internal domain.Internal
	Data     json.RawMessage
	Payload  []byte
}

// Notification is a fire-and-forget message received on the payload channel.
type Notification struct {
	Event    string
	Internal domain.Internal
	Data     json.RawMessage
	Payload  []byte
}

// HandlerFunc answers a request. A nil result is sent as an accepted
// response without data. A returned error rejects the request with the
// error text as reason.
type HandlerFunc func(Request) (any, error)

type pipeEnd struct {
	in  *netstring.Reader
	out *netstring.Writer

	// client side
	clientR io.ReadCloser
	clientW io.WriteCloser

	closers []io.Closer
}

func newPipeEnd() *pipeEnd {
	reqR, reqW := io.Pipe()
	resR, resW := io.Pipe()
	return &pipeEnd{
		in:      netstring.NewReader(reqR),
		out:     netstring.NewWriter(resW),
		clientR: resR,
		clientW: reqW,
		closers: []io.Closer{reqR, resW},
	}
}

type Worker struct {
	control *pipeEnd
	payload *pipeEnd

	mu            sync.Mutex
	handlers      map[string]HandlerFunc
	held          map[string]bool
	requests      []Request
	notifications []Notification

	severOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a fake worker. It is severed when the test ends.
func New(t testing.TB) *Worker {
	w := &Worker{
		control:  newPipeEnd(),
		payload:  newPipeEnd(),
		handlers: make(map[string]HandlerFunc),
		held:     make(map[string]bool),
	}
	w.wg.Add(2)
	go w.serve(Control, w.control)
	go w.serve(Payload, w.payload)
	t.Cleanup(w.Sever)
	return w
}

// Channels returns client channels connected to w. They are not running.
func (w *Worker) Channels(opts ...channel.Option) (*channel.Channel, *channel.PayloadChannel) {
	opts = append([]channel.Option{channel.WithLogger(zerolog.Nop())}, opts...)
	cr, cw := w.Control()
	pr, pw := w.Payload()
	return channel.New(cr, cw, opts...), channel.NewPayload(pr, pw, opts...)
}

// Start runs a fake worker together with both client channels.
func Start(t testing.TB) (*Worker, *channel.Channel, *channel.PayloadChannel) {
	w := New(t)
	ch, pch := w.Channels()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ch.Run(ctx) }()
	go func() { _ = pch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-ch.Done()
		<-pch.Done()
	})
	return w, ch, pch
}

// Control returns the client ends of the control channel.
func (w *Worker) Control() (io.ReadCloser, io.WriteCloser) {
	return w.control.clientR, w.control.clientW
}

// Payload returns the client ends of the payload channel.
func (w *Worker) Payload() (io.ReadCloser, io.WriteCloser) {
	return w.payload.clientR, w.payload.clientW
}

// Handle installs the answer for method, replacing any earlier one.
func (w *Worker) Handle(method string, h HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[method] = h
	delete(w.held, method)
}

// Reply answers method with a fixed result.
func (w *Worker) Reply(method string, data any) {
	w.Handle(method, func(Request) (any, error) { return data, nil })
}

// Reject answers method with accepted:false.
func (w *Worker) Reject(method, reason string) {
	w.Handle(method, func(Request) (any, error) { return nil, errors.New(reason) })
}

// Hold records requests for method without answering them. Use Respond
// to answer later.
func (w *Worker) Hold(method string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.held[method] = true
}

// Respond answers a held request.
func (w *Worker) Respond(req Request, data any) error {
	return w.end(req.Channel).out.WriteFrame(accepted(req.ID, data))
}

// RespondError rejects a held request.
func (w *Worker) RespondError(req Request, kind, reason string) error {
	return w.end(req.Channel).out.WriteFrame(rejected(req.ID, kind, reason))
}

// Notify sends a control channel notification. targetID may be a string
// or a number.
func (w *Worker) Notify(targetID any, event string, data any) error {
	msg, err := json.Marshal(notification{TargetID: targetID, Event: event, Data: data})
	if err != nil {
		return err
	}
	return w.control.out.WriteFrame(msg)
}

// NotifyPayload sends a payload channel notification followed by payload.
func (w *Worker) NotifyPayload(targetID any, event string, data any, payload []byte) error {
	msg, err := json.Marshal(notification{TargetID: targetID, Event: event, Data: data})
	if err != nil {
		return err
	}
	return w.payload.out.WriteFramePair(msg, payload)
}

// WriteRaw writes one frame with an arbitrary payload on the control channel.
func (w *Worker) WriteRaw(frame []byte) error {
	return w.control.out.WriteFrame(frame)
}

// WriteRawPayload writes one frame with an arbitrary payload on the
// payload channel.
func (w *Worker) WriteRawPayload(frame []byte) error {
	return w.payload.out.WriteFrame(frame)
}

// Requests returns every request received so far, in arrival order per
// channel.
func (w *Worker) Requests() []Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Request(nil), w.requests...)
}

// RequestsFor returns the requests received for method.
func (w *Worker) RequestsFor(method string) []Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Request
	for _, r := range w.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (w *Worker) Count(method string) int {
	return len(w.RequestsFor(method))
}

func (w *Worker) Notifications() []Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Notification(nil), w.notifications...)
}

// Sever closes the worker side of every pipe, as a crashing worker would.
func (w *Worker) Sever() {
	w.severOnce.Do(func() {
		for _, e := range []*pipeEnd{w.control, w.payload} {
			for _, c := range e.closers {
				_ = c.Close()
			}
		}
	})
	w.wg.Wait()
}

func (w *Worker) end(name string) *pipeEnd {
	if name == Payload {
		return w.payload
	}
	return w.control
}

type envelope struct {
	ID       *uint32         `json:"id"`
	Method   string          `json:"method"`
	Event    string          `json:"event"`
	Internal domain.Internal `json:"internal"`
	Data     json.RawMessage `json:"data"`
}

type notification struct {
	TargetID any    `json:"targetId"`
	Event    string `json:"event"`
	Data     any    `json:"data,omitempty"`
}

type response struct {
	ID       uint32 `json:"id"`
	Accepted bool   `json:"accepted"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func accepted(id uint32, data any) []byte {
	b, _ := json.Marshal(response{ID: id, Accepted: true, Data: data})
	return b
}

func rejected(id uint32, kind, reason string) []byte {
	b, _ := json.Marshal(response{ID: id, Error: kind, Reason: reason})
	return b
}

func (w *Worker) serve(name string, e *pipeEnd) {
	defer w.wg.Done()

	for {
		f, err := e.in.ReadFrame()
		if err != nil {
			return
		}
		var payload []byte
		if name == Payload {
			if payload, err = e.in.ReadFrame(); err != nil {
				return
			}
		}

		var env envelope
		if err := json.Unmarshal(f, &env); err != nil {
			continue
		}

		if env.ID == nil {
			w.mu.Lock()
			w.notifications = append(w.notifications, Notification{
				Event:    env.Event,
				Internal: env.Internal,
				Data:     env.Data,
				Payload:  payload,
			})
			w.mu.Unlock()
			continue
		}

		req := Request{
			Channel:  name,
			ID:       *env.ID,
			Method:   env.Method,
			Internal: env.Internal,
			Data:     env.Data,
			Payload:  payload,
		}

		w.mu.Lock()
		w.requests = append(w.requests, req)
		h, held := w.handlers[req.Method], w.held[req.Method]
		w.mu.Unlock()

		if held {
			continue
		}

		var msg []byte
		if h == nil {
			msg = accepted(req.ID, nil)
		} else if data, err := h(req); err != nil {
			var reqErr *domain.RequestError
			if errors.As(err, &reqErr) {
				msg = rejected(req.ID, reqErr.Kind, reqErr.Reason)
			} else {
				msg = rejected(req.ID, "Error", err.Error())
			}
		} else {
			msg = accepted(req.ID, data)
		}
		if err := e.out.WriteFrame(msg); err != nil {
			return
		}
	}
}
