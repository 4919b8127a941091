package media

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/event"
)

type webRtcTransportData struct {
	IceRole          domain.IceRole         `json:"iceRole"`
	IceParameters    domain.IceParameters   `json:"iceParameters"`
	IceCandidates    []domain.IceCandidate  `json:"iceCandidates"`
	IceState         domain.IceState        `json:"iceState"`
	IceSelectedTuple *domain.TransportTuple `json:"iceSelectedTuple,omitempty"`
	DtlsParameters   domain.DtlsParameters  `json:"dtlsParameters"`
	DtlsState        domain.DtlsState       `json:"dtlsState"`
	DtlsRemoteCert   string                 `json:"dtlsRemoteCert,omitempty"`
	SctpParameters   *domain.SctpParameters `json:"sctpParameters,omitempty"`
	SctpState        *domain.SctpState      `json:"sctpState,omitempty"`
}

// WebRtcTransport reaches a WebRTC endpoint over ICE and DTLS.
type WebRtcTransport struct {
	*webRtcTransportState
}

var _ Transport = (*WebRtcTransport)(nil)

type webRtcTransportState struct {
	transportState

	mu   sync.Mutex
	data webRtcTransportData

	onIceStateChange         event.Bag[domain.IceState]
	onIceSelectedTupleChange event.Bag[domain.TransportTuple]
	onDtlsStateChange        event.Bag[domain.DtlsState]
	onSctpStateChange        event.Bag[domain.SctpState]
}

func newWebRtcTransport(r *Router, id domain.TransportID, data webRtcTransportData, appData domain.AppData) *WebRtcTransport {
	s := &webRtcTransportState{data: data}
	initTransport(&s.transportState, r, id, appData, data.SctpParameters)

	s.lc.track(s.channel.Subscribe(id.String(), s.handleNotification))
	adopt(&r.lc, &s.lc, s, (*webRtcTransportState).routerClosed)

	t := &WebRtcTransport{webRtcTransportState: s}
	runtime.AddCleanup(t, func(s *webRtcTransportState) { s.close(closeUnreachable) }, s)
	return t
}

func (s *webRtcTransportState) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "icestatechange":
		var n struct {
			IceState domain.IceState `json:"iceState"`
		}
		if !s.parse(event, data, &n) {
			return
		}
		s.mu.Lock()
		s.data.IceState = n.IceState
		s.mu.Unlock()
		s.onIceStateChange.Call(n.IceState)

	case "iceselectedtuplechange":
		var n struct {
			IceSelectedTuple domain.TransportTuple `json:"iceSelectedTuple"`
		}
		if !s.parse(event, data, &n) {
			return
		}
		s.mu.Lock()
		s.data.IceSelectedTuple = &n.IceSelectedTuple
		s.mu.Unlock()
		s.onIceSelectedTupleChange.Call(n.IceSelectedTuple)

	case "dtlsstatechange":
		var n struct {
			DtlsState      domain.DtlsState `json:"dtlsState"`
			DtlsRemoteCert string           `json:"dtlsRemoteCert"`
		}
		if !s.parse(event, data, &n) {
			return
		}
		s.mu.Lock()
		s.data.DtlsState = n.DtlsState
		if n.DtlsRemoteCert != "" {
			s.data.DtlsRemoteCert = n.DtlsRemoteCert
		}
		s.mu.Unlock()
		s.onDtlsStateChange.Call(n.DtlsState)

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

func (t *WebRtcTransport) IceRole() domain.IceRole {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.IceRole
}

func (t *WebRtcTransport) IceParameters() domain.IceParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.IceParameters
}

func (t *WebRtcTransport) IceCandidates() []domain.IceCandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.IceCandidate(nil), t.data.IceCandidates...)
}

func (t *WebRtcTransport) IceState() domain.IceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.IceState
}

// IceSelectedTuple returns nil until ICE selected a tuple.
func (t *WebRtcTransport) IceSelectedTuple() *domain.TransportTuple {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data.IceSelectedTuple == nil {
		return nil
	}
	tuple := *t.data.IceSelectedTuple
	return &tuple
}

func (t *WebRtcTransport) DtlsParameters() domain.DtlsParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.data.DtlsParameters
	p.Fingerprints = append([]domain.DtlsFingerprint(nil), p.Fingerprints...)
	return p
}

func (t *WebRtcTransport) DtlsState() domain.DtlsState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.DtlsState
}

func (t *WebRtcTransport) DtlsRemoteCert() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.DtlsRemoteCert
}

func (t *WebRtcTransport) SctpParameters() *domain.SctpParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data.SctpParameters == nil {
		return nil
	}
	p := *t.data.SctpParameters
	return &p
}

func (t *WebRtcTransport) SctpState() *domain.SctpState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data.SctpState == nil {
		return nil
	}
	st := *t.data.SctpState
	return &st
}

// Connect provides the remote DTLS parameters. The local DTLS role is
// updated from the worker's answer.
func (t *WebRtcTransport) Connect(ctx context.Context, dtls domain.DtlsParameters) error {
	res, err := request[struct {
		DtlsLocalRole domain.DtlsRole `json:"dtlsLocalRole"`
	}](ctx, &t.lc, t.channel, "transport.connect", t.internal(), map[string]any{"dtlsParameters": dtls})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.data.DtlsParameters.Role = res.DtlsLocalRole
	t.mu.Unlock()
	return nil
}

func (t *WebRtcTransport) RestartIce(ctx context.Context) (domain.IceParameters, error) {
	res, err := request[struct {
		IceParameters domain.IceParameters `json:"iceParameters"`
	}](ctx, &t.lc, t.channel, "transport.restartIce", t.internal(), nil)
	if err != nil {
		return domain.IceParameters{}, err
	}

	t.mu.Lock()
	t.data.IceParameters = res.IceParameters
	t.mu.Unlock()
	return res.IceParameters, nil
}

func (t *WebRtcTransport) Produce(ctx context.Context, opts ProducerOptions) (*Producer, error) {
	return t.produce(ctx, t, opts)
}

func (t *WebRtcTransport) Consume(ctx context.Context, opts ConsumerOptions) (*Consumer, error) {
	return t.consume(ctx, t, opts)
}

func (t *WebRtcTransport) ProduceData(ctx context.Context, opts DataProducerOptions) (*DataProducer, error) {
	return t.produceData(ctx, t, opts)
}

func (t *WebRtcTransport) ConsumeData(ctx context.Context, opts DataConsumerOptions) (*DataConsumer, error) {
	return t.consumeData(ctx, t, opts)
}

func (t *WebRtcTransport) Close() {
	t.close(closeExplicit)
}

func (t *WebRtcTransport) OnIceStateChange(h func(domain.IceState)) event.HandlerID {
	return t.onIceStateChange.Add(h)
}

func (t *WebRtcTransport) OnIceSelectedTupleChange(h func(domain.TransportTuple)) event.HandlerID {
	return t.onIceSelectedTupleChange.Add(h)
}

func (t *WebRtcTransport) OnDtlsStateChange(h func(domain.DtlsState)) event.HandlerID {
	return t.onDtlsStateChange.Add(h)
}

func (t *WebRtcTransport) OnSctpStateChange(h func(domain.SctpState)) event.HandlerID {
	return t.onSctpStateChange.Add(h)
}
