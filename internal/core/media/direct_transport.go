package media

import (
	"context"
	"encoding/json"
	"runtime"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/event"
)

// DirectTransport exchanges media and data with this process instead of a
// remote endpoint. Producers send with Send, consumers receive with OnRtp.
type DirectTransport struct {
	*directTransportState
}

var _ Transport = (*DirectTransport)(nil)

type directTransportState struct {
	transportState

	maxMessageSize uint32
	onRtcp         event.Bag[[]byte]
}

func newDirectTransport(r *Router, id domain.TransportID, opts DirectTransportOptions) *DirectTransport {
	s := &directTransportState{maxMessageSize: opts.MaxMessageSize}
	initTransport(&s.transportState, r, id, opts.AppData, nil)
	s.direct = true

	s.lc.track(s.channel.Subscribe(id.String(), s.handleCommon))
	s.lc.track(s.payloadChannel.Subscribe(id.String(), s.handlePayload))
	adopt(&r.lc, &s.lc, s, (*directTransportState).routerClosed)

	t := &DirectTransport{directTransportState: s}
	runtime.AddCleanup(t, func(s *directTransportState) { s.close(closeUnreachable) }, s)
	return t
}

func (s *directTransportState) handlePayload(event string, _ json.RawMessage, payload []byte) {
	switch event {
	case "rtcp":
		s.onRtcp.Call(payload)
	default:
		s.logger.Error().Str("event", event).Msg("unknown transport payload notification")
	}
}

func (t *DirectTransport) MaxMessageSize() uint32 {
	return t.maxMessageSize
}

// SendRtcp sends an RTCP packet to the worker.
func (t *DirectTransport) SendRtcp(packet []byte) error {
	return notify(&t.lc, t.payloadChannel, "transport.sendRtcp", t.internal(), nil, packet)
}

func (t *DirectTransport) Produce(ctx context.Context, opts ProducerOptions) (*Producer, error) {
	return t.produce(ctx, t, opts)
}

func (t *DirectTransport) Consume(ctx context.Context, opts ConsumerOptions) (*Consumer, error) {
	return t.consume(ctx, t, opts)
}

func (t *DirectTransport) ProduceData(ctx context.Context, opts DataProducerOptions) (*DataProducer, error) {
	return t.produceData(ctx, t, opts)
}

func (t *DirectTransport) ConsumeData(ctx context.Context, opts DataConsumerOptions) (*DataConsumer, error) {
	return t.consumeData(ctx, t, opts)
}

func (t *DirectTransport) Close() {
	t.close(closeExplicit)
}

// OnRtcp receives RTCP packets the worker sends to this transport. The
// packet is only valid during the call.
func (t *DirectTransport) OnRtcp(h func(packet []byte)) event.HandlerID {
	return t.onRtcp.Add(h)
}
