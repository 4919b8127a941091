package media

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/event"
)

type plainTransportData struct {
	RtcpMux        bool                   `json:"rtcpMux"`
	Comedia        bool                   `json:"comedia"`
	Tuple          domain.TransportTuple  `json:"tuple"`
	RtcpTuple      *domain.TransportTuple `json:"rtcpTuple,omitempty"`
	SctpParameters *domain.SctpParameters `json:"sctpParameters,omitempty"`
	SctpState      *domain.SctpState      `json:"sctpState,omitempty"`
	SrtpParameters json.RawMessage        `json:"srtpParameters,omitempty"`
}

// PlainTransport carries plain RTP, optionally with SRTP, to any endpoint.
type PlainTransport struct {
	*plainTransportState
}

var _ Transport = (*PlainTransport)(nil)

type plainTransportState struct {
	transportState

	mu   sync.Mutex
	data plainTransportData

	onTuple           event.Bag[domain.TransportTuple]
	onRtcpTuple       event.Bag[domain.TransportTuple]
	onSctpStateChange event.Bag[domain.SctpState]
}

func newPlainTransport(r *Router, id domain.TransportID, data plainTransportData, appData domain.AppData) *PlainTransport {
	s := &plainTransportState{data: data}
	initTransport(&s.transportState, r, id, appData, data.SctpParameters)

	s.lc.track(s.channel.Subscribe(id.String(), s.handleNotification))
	adopt(&r.lc, &s.lc, s, (*plainTransportState).routerClosed)

	t := &PlainTransport{plainTransportState: s}
	runtime.AddCleanup(t, func(s *plainTransportState) { s.close(closeUnreachable) }, s)
	return t
}

func (s *plainTransportState) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "tuple":
		var n struct {
			Tuple domain.TransportTuple `json:"tuple"`
		}
		if !s.parse(event, data, &n) {
			return
		}
		s.mu.Lock()
		s.data.Tuple = n.Tuple
		s.mu.Unlock()
		s.onTuple.Call(n.Tuple)

	case "rtcptuple":
		var n struct {
			RtcpTuple domain.TransportTuple `json:"rtcpTuple"`
		}
		if !s.parse(event, data, &n) {
			return
		}
		s.mu.Lock()
		s.data.RtcpTuple = &n.RtcpTuple
		s.mu.Unlock()
		s.onRtcpTuple.Call(n.RtcpTuple)

	case "sctpstatechange":
		var n struct {
			SctpState domain.SctpState `json:"sctpState"`
		}
		if !s.parse(event, data, &n) {
			return
		}
		s.mu.Lock()
		s.data.SctpState = &n.SctpState
		s.mu.Unlock()
		s.onSctpStateChange.Call(n.SctpState)

	default:
		s.handleCommon(event, data)
	}
}

func (t *PlainTransport) Tuple() domain.TransportTuple {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Tuple
}

func (t *PlainTransport) RtcpTuple() *domain.TransportTuple {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data.RtcpTuple == nil {
		return nil
	}
	tuple := *t.data.RtcpTuple
	return &tuple
}

func (t *PlainTransport) RtcpMux() bool {
	return t.data.RtcpMux
}

func (t *PlainTransport) Comedia() bool {
	return t.data.Comedia
}

func (t *PlainTransport) SctpParameters() *domain.SctpParameters {
	if t.data.SctpParameters == nil {
		return nil
	}
	p := *t.data.SctpParameters
	return &p
}

func (t *PlainTransport) SctpState() *domain.SctpState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data.SctpState == nil {
		return nil
	}
	st := *t.data.SctpState
	return &st
}

func (t *PlainTransport) SrtpParameters() json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.SrtpParameters
}

// Connect provides the remote endpoint. With comedia enabled the worker
// learns it from the first packet instead.
func (t *PlainTransport) Connect(ctx context.Context, params PlainConnectParams) error {
	res, err := request[struct {
		Tuple          *domain.TransportTuple `json:"tuple"`
		RtcpTuple      *domain.TransportTuple `json:"rtcpTuple"`
		SrtpParameters json.RawMessage        `json:"srtpParameters"`
	}](ctx, &t.lc, t.channel, "transport.connect", t.internal(), params)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if res.Tuple != nil {
		t.data.Tuple = *res.Tuple
	}
	if res.RtcpTuple != nil {
		t.data.RtcpTuple = res.RtcpTuple
	}
	if len(res.SrtpParameters) > 0 {
		t.data.SrtpParameters = res.SrtpParameters
	}
	return nil
}

func (t *PlainTransport) Produce(ctx context.Context, opts ProducerOptions) (*Producer, error) {
	return t.produce(ctx, t, opts)
}

func (t *PlainTransport) Consume(ctx context.Context, opts ConsumerOptions) (*Consumer, error) {
	return t.consume(ctx, t, opts)
}

func (t *PlainTransport) ProduceData(ctx context.Context, opts DataProducerOptions) (*DataProducer, error) {
	return t.produceData(ctx, t, opts)
}

func (t *PlainTransport) ConsumeData(ctx context.Context, opts DataConsumerOptions) (*DataConsumer, error) {
	return t.consumeData(ctx, t, opts)
}

func (t *PlainTransport) Close() {
	t.close(closeExplicit)
}

func (t *PlainTransport) OnTuple(h func(domain.TransportTuple)) event.HandlerID {
	return t.onTuple.Add(h)
}

func (t *PlainTransport) OnRtcpTuple(h func(domain.TransportTuple)) event.HandlerID {
	return t.onRtcpTuple.Add(h)
}

func (t *PlainTransport) OnSctpStateChange(h func(domain.SctpState)) event.HandlerID {
	return t.onSctpStateChange.Add(h)
}
