package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/event"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// Transport is implemented by *WebRtcTransport, *PlainTransport and
// *DirectTransport.
type Transport interface {
	ID() domain.TransportID
	RouterID() domain.RouterID
	AppData() domain.AppData
	Closed() bool

	Dump(ctx context.Context) (json.RawMessage, error)
	GetStats(ctx context.Context) (json.RawMessage, error)
	SetMaxIncomingBitrate(ctx context.Context, bitrate uint32) error
	SetMaxOutgoingBitrate(ctx context.Context, bitrate uint32) error
	EnableTraceEvent(ctx context.Context, types []TransportTraceEventType) error

	Produce(ctx context.Context, opts ProducerOptions) (*Producer, error)
	Consume(ctx context.Context, opts ConsumerOptions) (*Consumer, error)
	ProduceData(ctx context.Context, opts DataProducerOptions) (*DataProducer, error)
	ConsumeData(ctx context.Context, opts DataConsumerOptions) (*DataConsumer, error)

	Close()

	OnNewProducer(h func(*Producer)) event.HandlerID
	OnNewConsumer(h func(*Consumer)) event.HandlerID
	OnNewDataProducer(h func(*DataProducer)) event.HandlerID
	OnNewDataConsumer(h func(*DataConsumer)) event.HandlerID
	OnTrace(h func(domain.TraceEvent)) event.HandlerID
	OnRouterClose(h func()) event.HandlerID
	OnClose(h func()) event.HandlerID
}

// transportState is the part every transport variant shares.
type transportState struct {
	id             domain.TransportID
	router         *Router
	channel        port.Channel
	payloadChannel port.PayloadChannel
	appData        domain.AppData
	direct         bool
	logger         zerolog.Logger

	lc                lifecycle
	onNewProducer     event.Bag[*Producer]
	onNewConsumer     event.Bag[*Consumer]
	onNewDataProducer event.Bag[*DataProducer]
	onNewDataConsumer event.Bag[*DataConsumer]
	onTrace           event.Bag[domain.TraceEvent]
	onRouterClose     event.BagOnce[struct{}]

	nextMid atomic.Uint32

	sctpMu        sync.Mutex
	sctpStreamIDs []bool
}

func initTransport(s *transportState, r *Router, id domain.TransportID, appData domain.AppData, sctp *domain.SctpParameters) {
	s.id = id
	s.router = r
	s.channel = r.channel
	s.payloadChannel = r.payloadChannel
	s.appData = appData
	if s.appData == nil {
		s.appData = domain.AppData{}
	}
	s.logger = log.With().
		Str("router_id", r.id.String()).
		Str("transport_id", id.String()).
		Logger()
	if sctp != nil {
		s.sctpStreamIDs = make([]bool, sctp.MIS)
	}
}

func (t *transportState) ID() domain.TransportID {
	return t.id
}

func (t *transportState) RouterID() domain.RouterID {
	return t.router.id
}

func (t *transportState) AppData() domain.AppData {
	return t.appData
}

func (t *transportState) Closed() bool {
	return t.lc.isClosed()
}

func (t *transportState) internal() domain.Internal {
	return domain.Internal{RouterID: t.router.id.String(), TransportID: t.id.String()}
}

func (t *transportState) Dump(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &t.lc, t.channel, "transport.dump", t.internal(), nil)
}

func (t *transportState) GetStats(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &t.lc, t.channel, "transport.getStats", t.internal(), nil)
}

func (t *transportState) SetMaxIncomingBitrate(ctx context.Context, bitrate uint32) error {
	return send(ctx, &t.lc, t.channel, "transport.setMaxIncomingBitrate", t.internal(), map[string]uint32{"bitrate": bitrate})
}

func (t *transportState) SetMaxOutgoingBitrate(ctx context.Context, bitrate uint32) error {
	return send(ctx, &t.lc, t.channel, "transport.setMaxOutgoingBitrate", t.internal(), map[string]uint32{"bitrate": bitrate})
}

func (t *transportState) EnableTraceEvent(ctx context.Context, types []TransportTraceEventType) error {
	if types == nil {
		types = []TransportTraceEventType{}
	}
	return send(ctx, &t.lc, t.channel, "transport.enableTraceEvent", t.internal(), map[string]any{"types": types})
}

// handleCommon handles the notifications every transport variant gets.
func (t *transportState) handleCommon(event string, data json.RawMessage) {
	switch event {
	case "trace":
		var trace domain.TraceEvent
		if err := json.Unmarshal(data, &trace); err != nil {
			t.logger.Error().Err(err).Msg("failed to parse trace notification")
			return
		}
		t.onTrace.Call(trace)
	default:
		t.logger.Error().Str("event", event).Msg("unknown transport notification")
	}
}

func (t *transportState) parse(event string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		t.logger.Error().Err(err).Str("event", event).Msg("failed to parse notification")
		return false
	}
	return true
}

func (t *transportState) routerClosed() {
	t.close(closeParent)
}

func (t *transportState) close(reason closeReason) {
	var trigger func()
	if reason == closeParent {
		trigger = func() { t.onRouterClose.Call(struct{}{}) }
	}
	if !t.lc.shut(trigger) {
		return
	}

	t.logger.Debug().Stringer("reason", reason).Msg("transport closed")
	closeRemote(t.channel, t.logger, "transport.close", t.internal(), t.router)
}

func (t *transportState) produce(ctx context.Context, self Transport, opts ProducerOptions) (*Producer, error) {
	if opts.Kind != domain.MediaKindAudio && opts.Kind != domain.MediaKindVideo {
		return nil, fmt.Errorf("transport.produce: invalid kind %q", opts.Kind)
	}
	if len(opts.RtpParameters) == 0 {
		return nil, fmt.Errorf("transport.produce: missing rtp parameters")
	}

	id := opts.ID
	if id == (domain.ProducerID{}) {
		id = domain.NewProducerID()
	} else if _, err := t.router.producer(id); err == nil {
		return nil, fmt.Errorf("transport.produce: producer %s already exists", id)
	}

	internal := t.internal()
	internal.ProducerID = id.String()
	data := struct {
		Kind                 domain.MediaKind `json:"kind"`
		RtpParameters        json.RawMessage  `json:"rtpParameters"`
		RtpMapping           json.RawMessage  `json:"rtpMapping,omitempty"`
		KeyFrameRequestDelay uint32           `json:"keyFrameRequestDelay"`
		Paused               bool             `json:"paused"`
	}{opts.Kind, opts.RtpParameters, opts.RtpMapping, opts.KeyFrameRequestDelay, opts.Paused}

	res, err := request[struct {
		Type domain.ProducerType `json:"type"`
	}](ctx, &t.lc, t.channel, "transport.produce", internal, data)
	if err != nil {
		return nil, err
	}

	p := newProducer(t, self, id, res.Type, opts)
	t.onNewProducer.Call(p)
	return p, nil
}

func (t *transportState) consume(ctx context.Context, self Transport, opts ConsumerOptions) (*Consumer, error) {
	producer, err := t.router.producer(opts.ProducerID)
	if err != nil {
		return nil, err
	}

	rtpParameters, err := withMid(opts.RtpParameters, t.allocateMid())
	if err != nil {
		return nil, fmt.Errorf("transport.consume: %w", err)
	}

	typ := domain.ConsumerType(producer.typ)
	if opts.Pipe {
		typ = domain.ConsumerTypePipe
	}

	id := domain.NewConsumerID()
	internal := t.internal()
	internal.ConsumerID = id.String()
	internal.ProducerID = producer.id.String()
	data := struct {
		Kind                   domain.MediaKind       `json:"kind"`
		RtpParameters          json.RawMessage        `json:"rtpParameters"`
		Type                   domain.ConsumerType    `json:"type"`
		ConsumableRtpEncodings json.RawMessage        `json:"consumableRtpEncodings,omitempty"`
		Paused                 bool                   `json:"paused"`
		PreferredLayers        *domain.ConsumerLayers `json:"preferredLayers,omitempty"`
		IgnoreDtx              bool                   `json:"ignoreDtx"`
	}{
		Kind:                   producer.kind,
		RtpParameters:          rtpParameters,
		Type:                   typ,
		ConsumableRtpEncodings: producer.consumableEncodings(),
		Paused:                 opts.Paused,
		PreferredLayers:        opts.PreferredLayers,
		IgnoreDtx:              opts.IgnoreDtx,
	}

	res, err := request[consumeResponse](ctx, &t.lc, t.channel, "transport.consume", internal, data)
	if err != nil {
		return nil, err
	}

	c := newConsumer(t, self, id, producer, typ, rtpParameters, res, opts.AppData)
	t.onNewConsumer.Call(c)
	return c, nil
}

func (t *transportState) produceData(ctx context.Context, self Transport, opts DataProducerOptions) (*DataProducer, error) {
	typ := domain.DataProducerTypeSctp
	if t.direct {
		typ = domain.DataProducerTypeDirect
		if opts.SctpStreamParameters != nil {
			t.logger.Warn().Msg("sctp stream parameters are ignored on a direct transport")
			opts.SctpStreamParameters = nil
		}
	} else if opts.SctpStreamParameters == nil {
		return nil, fmt.Errorf("transport.produceData: missing sctp stream parameters")
	}

	id := opts.ID
	if id == (domain.DataProducerID{}) {
		id = domain.NewDataProducerID()
	} else if _, err := t.router.dataProducer(id); err == nil {
		return nil, fmt.Errorf("transport.produceData: data producer %s already exists", id)
	}

	internal := t.internal()
	internal.DataProducerID = id.String()
	data := dataEndpointData{
		Type:                 string(typ),
		SctpStreamParameters: opts.SctpStreamParameters,
		Label:                opts.Label,
		Protocol:             opts.Protocol,
	}

	res, err := request[dataEndpointData](ctx, &t.lc, t.channel, "transport.produceData", internal, data)
	if err != nil {
		return nil, err
	}

	p := newDataProducer(t, self, id, typ, res, opts.AppData)
	t.onNewDataProducer.Call(p)
	return p, nil
}

func (t *transportState) consumeData(ctx context.Context, self Transport, opts DataConsumerOptions) (*DataConsumer, error) {
	producer, err := t.router.dataProducer(opts.DataProducerID)
	if err != nil {
		return nil, err
	}

	typ := domain.DataConsumerTypeSctp
	var params *domain.SctpStreamParameters
	streamID := -1
	if t.direct {
		typ = domain.DataConsumerTypeDirect
	} else {
		id, err := t.allocateSctpStreamID()
		if err != nil {
			return nil, fmt.Errorf("transport.consumeData: %w", err)
		}
		streamID = int(id)

		params = &domain.SctpStreamParameters{StreamID: id}
		if producer.sctpStreamParameters != nil {
			src := producer.sctpStreamParameters
			params.Ordered, params.MaxPacketLifeTime, params.MaxRetransmits = src.Ordered, src.MaxPacketLifeTime, src.MaxRetransmits
		}
		if opts.Ordered != nil || opts.MaxPacketLifeTime != nil || opts.MaxRetransmits != nil {
			params.Ordered, params.MaxPacketLifeTime, params.MaxRetransmits = opts.Ordered, opts.MaxPacketLifeTime, opts.MaxRetransmits
		}
	}

	id := domain.NewDataConsumerID()
	internal := t.internal()
	internal.DataConsumerID = id.String()
	internal.DataProducerID = producer.id.String()
	data := dataEndpointData{
		Type:                 string(typ),
		SctpStreamParameters: params,
		Label:                producer.label,
		Protocol:             producer.protocol,
	}

	res, err := request[dataEndpointData](ctx, &t.lc, t.channel, "transport.consumeData", internal, data)
	if err != nil {
		if streamID >= 0 {
			t.releaseSctpStreamID(uint16(streamID))
		}
		return nil, err
	}

	c := newDataConsumer(t, self, id, producer.id, typ, res, streamID, opts.AppData)
	t.onNewDataConsumer.Call(c)
	return c, nil
}

func (t *transportState) allocateMid() string {
	return strconv.FormatUint(uint64(t.nextMid.Add(1)-1), 10)
}

// allocateSctpStreamID returns the lowest free stream id below MIS.
func (t *transportState) allocateSctpStreamID() (uint16, error) {
	t.sctpMu.Lock()
	defer t.sctpMu.Unlock()

	for i, used := range t.sctpStreamIDs {
		if !used {
			t.sctpStreamIDs[i] = true
			return uint16(i), nil
		}
	}
	return 0, domain.ErrNoSctpStreamID
}

func (t *transportState) releaseSctpStreamID(id uint16) {
	t.sctpMu.Lock()
	defer t.sctpMu.Unlock()

	if int(id) < len(t.sctpStreamIDs) {
		t.sctpStreamIDs[id] = false
	}
}

// withMid sets the mid of an RTP parameters object.
func withMid(rtpParameters json.RawMessage, mid string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := decode(rtpParameters, &fields); err != nil {
		return nil, fmt.Errorf("rtp parameters: %w", err)
	}
	m, err := json.Marshal(mid)
	if err != nil {
		return nil, err
	}
	fields["mid"] = m
	return json.Marshal(fields)
}

type dataEndpointData struct {
	Type                 string                       `json:"type"`
	SctpStreamParameters *domain.SctpStreamParameters `json:"sctpStreamParameters,omitempty"`
	Label                string                       `json:"label"`
	Protocol             string                       `json:"protocol"`
}

func (t *transportState) OnNewProducer(h func(*Producer)) event.HandlerID {
	return t.onNewProducer.Add(h)
}

func (t *transportState) OnNewConsumer(h func(*Consumer)) event.HandlerID {
	return t.onNewConsumer.Add(h)
}

func (t *transportState) OnNewDataProducer(h func(*DataProducer)) event.HandlerID {
	return t.onNewDataProducer.Add(h)
}

func (t *transportState) OnNewDataConsumer(h func(*DataConsumer)) event.HandlerID {
	return t.onNewDataConsumer.Add(h)
}

func (t *transportState) OnTrace(h func(domain.TraceEvent)) event.HandlerID {
	return t.onTrace.Add(h)
}

func (t *transportState) OnRouterClose(h func()) event.HandlerID {
	return t.onRouterClose.Add(noArgs(h))
}

func (t *transportState) OnClose(h func()) event.HandlerID {
	return t.lc.onClose.Add(noArgs(h))
}
