package media

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/event"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// Producer is a media source injected into a router through a transport.
type Producer struct {
	*producerState
}

type producerState struct {
	id                      domain.ProducerID
	kind                    domain.MediaKind
	typ                     domain.ProducerType
	rtpParameters           json.RawMessage
	consumableRtpParameters json.RawMessage
	transport               Transport
	internal                domain.Internal
	channel                 port.Channel
	payloadChannel          port.PayloadChannel
	direct                  bool
	appData                 domain.AppData
	logger                  zerolog.Logger

	lc                       lifecycle
	onPause                  event.Bag[struct{}]
	onResume                 event.Bag[struct{}]
	onScore                  event.Bag[[]domain.ProducerScore]
	onVideoOrientationChange event.Bag[domain.VideoOrientation]
	onTrace                  event.Bag[domain.TraceEvent]
	onTransportClose         event.BagOnce[struct{}]

	mu     sync.Mutex
	paused bool
	score  []domain.ProducerScore
}

func newProducer(t *transportState, self Transport, id domain.ProducerID, typ domain.ProducerType, opts ProducerOptions) *Producer {
	internal := t.internal()
	internal.ProducerID = id.String()

	s := &producerState{
		id:                      id,
		kind:                    opts.Kind,
		typ:                     typ,
		rtpParameters:           opts.RtpParameters,
		consumableRtpParameters: opts.ConsumableRtpParameters,
		transport:               self,
		internal:                internal,
		channel:                 t.channel,
		payloadChannel:          t.payloadChannel,
		direct:                  t.direct,
		appData:                 opts.AppData,
		logger:                  t.logger.With().Str("producer_id", id.String()).Logger(),
		paused:                  opts.Paused,
	}
	if s.appData == nil {
		s.appData = domain.AppData{}
	}

	s.lc.track(s.channel.Subscribe(id.String(), s.handleNotification))
	t.router.addProducer(s)
	s.lc.atClose(func() { t.router.removeProducer(id) })
	adopt(&t.lc, &s.lc, s, (*producerState).transportClosed)

	p := &Producer{producerState: s}
	runtime.AddCleanup(p, func(s *producerState) { s.close(closeUnreachable) }, s)
	return p
}

func (s *producerState) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "score":
		var score []domain.ProducerScore
		if err := json.Unmarshal(data, &score); err != nil {
			s.logger.Error().Err(err).Msg("failed to parse score notification")
			return
		}
		s.mu.Lock()
		s.score = score
		s.mu.Unlock()
		s.onScore.Call(score)

	case "videoorientationchange":
		var o domain.VideoOrientation
		if err := json.Unmarshal(data, &o); err != nil {
			s.logger.Error().Err(err).Msg("failed to parse videoorientationchange notification")
			return
		}
		s.onVideoOrientationChange.Call(o)

	case "trace":
		var trace domain.TraceEvent
		if err := json.Unmarshal(data, &trace); err != nil {
			s.logger.Error().Err(err).Msg("failed to parse trace notification")
			return
		}
		s.onTrace.Call(trace)

	default:
		s.logger.Error().Str("event", event).Msg("unknown producer notification")
	}
}

func (p *Producer) ID() domain.ProducerID {
	return p.id
}

func (p *Producer) Kind() domain.MediaKind {
	return p.kind
}

func (p *Producer) Type() domain.ProducerType {
	return p.typ
}

func (p *Producer) RtpParameters() json.RawMessage {
	return p.rtpParameters
}

func (p *Producer) ConsumableRtpParameters() json.RawMessage {
	return p.consumableRtpParameters
}

func (p *Producer) Transport() Transport {
	return p.transport
}

func (p *Producer) AppData() domain.AppData {
	return p.appData
}

func (p *Producer) Closed() bool {
	return p.lc.isClosed()
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Score() []domain.ProducerScore {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ProducerScore(nil), p.score...)
}

func (p *Producer) Dump(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &p.lc, p.channel, "producer.dump", p.internal, nil)
}

func (p *Producer) GetStats(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &p.lc, p.channel, "producer.getStats", p.internal, nil)
}

func (p *Producer) Pause(ctx context.Context) error {
	if err := send(ctx, &p.lc, p.channel, "producer.pause", p.internal, nil); err != nil {
		return err
	}

	p.mu.Lock()
	wasPaused := p.paused
	p.paused = true
	p.mu.Unlock()

	if !wasPaused {
		p.onPause.Call(struct{}{})
	}
	return nil
}

func (p *Producer) Resume(ctx context.Context) error {
	if err := send(ctx, &p.lc, p.channel, "producer.resume", p.internal, nil); err != nil {
		return err
	}

	p.mu.Lock()
	wasPaused := p.paused
	p.paused = false
	p.mu.Unlock()

	if wasPaused {
		p.onResume.Call(struct{}{})
	}
	return nil
}

func (p *Producer) EnableTraceEvent(ctx context.Context, types []ProducerTraceEventType) error {
	if types == nil {
		types = []ProducerTraceEventType{}
	}
	return send(ctx, &p.lc, p.channel, "producer.enableTraceEvent", p.internal, map[string]any{"types": types})
}

// Send injects an RTP packet. Only producers on a DirectTransport can send.
func (p *Producer) Send(rtp []byte) error {
	if !p.direct {
		return errNotDirect("producer.send")
	}
	return notify(&p.lc, p.payloadChannel, "producer.send", p.internal, nil, rtp)
}

func (p *Producer) Close() {
	p.close(closeExplicit)
}

func (s *producerState) transportClosed() {
	s.close(closeParent)
}

func (s *producerState) close(reason closeReason) {
	var trigger func()
	if reason == closeParent {
		trigger = func() { s.onTransportClose.Call(struct{}{}) }
	}
	if !s.lc.shut(trigger) {
		return
	}

	s.logger.Debug().Stringer("reason", reason).Msg("producer closed")
	closeRemote(s.channel, s.logger, "producer.close", s.internal, s.transport)
}

// consumableEncodings returns the encodings consumers of this producer
// are built from.
func (s *producerState) consumableEncodings() json.RawMessage {
	var params struct {
		Encodings json.RawMessage `json:"encodings"`
	}
	if err := decode(s.consumableRtpParameters, &params); err != nil {
		return nil
	}
	return params.Encodings
}

func (p *Producer) OnPause(h func()) event.HandlerID {
	return p.onPause.Add(noArgs(h))
}

func (p *Producer) OnResume(h func()) event.HandlerID {
	return p.onResume.Add(noArgs(h))
}

func (p *Producer) OnScore(h func([]domain.ProducerScore)) event.HandlerID {
	return p.onScore.Add(h)
}

func (p *Producer) OnVideoOrientationChange(h func(domain.VideoOrientation)) event.HandlerID {
	return p.onVideoOrientationChange.Add(h)
}

func (p *Producer) OnTrace(h func(domain.TraceEvent)) event.HandlerID {
	return p.onTrace.Add(h)
}

func (p *Producer) OnTransportClose(h func()) event.HandlerID {
	return p.onTransportClose.Add(noArgs(h))
}

func (p *Producer) OnClose(h func()) event.HandlerID {
	return p.lc.onClose.Add(noArgs(h))
}
