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

type consumeResponse struct {
	Paused          bool                   `json:"paused"`
	ProducerPaused  bool                   `json:"producerPaused"`
	Score           domain.ConsumerScore   `json:"score"`
	PreferredLayers *domain.ConsumerLayers `json:"preferredLayers,omitempty"`
}

// Consumer forwards one producer's media to the endpoint of a transport.
type Consumer struct {
	*consumerState
}

type consumerState struct {
	id            domain.ConsumerID
	producerID    domain.ProducerID
	kind          domain.MediaKind
	typ           domain.ConsumerType
	rtpParameters json.RawMessage
	transport     Transport
	internal      domain.Internal
	channel       port.Channel
	appData       domain.AppData
	logger        zerolog.Logger

	lc               lifecycle
	onRtp            event.Bag[[]byte]
	onPause          event.Bag[struct{}]
	onResume         event.Bag[struct{}]
	onProducerPause  event.Bag[struct{}]
	onProducerResume event.Bag[struct{}]
	onScore          event.Bag[domain.ConsumerScore]
	onLayersChange   event.Bag[*domain.ConsumerLayers]
	onTrace          event.Bag[domain.TraceEvent]
	onProducerClose  event.BagOnce[struct{}]
	onTransportClose event.BagOnce[struct{}]

	mu              sync.Mutex
	paused          bool
	producerPaused  bool
	priority        uint8
	score           domain.ConsumerScore
	preferredLayers *domain.ConsumerLayers
	currentLayers   *domain.ConsumerLayers
}

func newConsumer(t *transportState, self Transport, id domain.ConsumerID, producer *producerState, typ domain.ConsumerType, rtpParameters json.RawMessage, res consumeResponse, appData domain.AppData) *Consumer {
	internal := t.internal()
	internal.ConsumerID = id.String()
	internal.ProducerID = producer.id.String()

	s := &consumerState{
		id:              id,
		producerID:      producer.id,
		kind:            producer.kind,
		typ:             typ,
		rtpParameters:   rtpParameters,
		transport:       self,
		internal:        internal,
		channel:         t.channel,
		appData:         appData,
		logger:          t.logger.With().Str("consumer_id", id.String()).Logger(),
		paused:          res.Paused,
		producerPaused:  res.ProducerPaused,
		priority:        1,
		score:           res.Score,
		preferredLayers: res.PreferredLayers,
	}
	if s.appData == nil {
		s.appData = domain.AppData{}
	}

	s.lc.track(s.channel.Subscribe(id.String(), s.handleNotification))
	s.lc.track(t.payloadChannel.Subscribe(id.String(), s.handlePayload))
	adopt(&t.lc, &s.lc, s, (*consumerState).transportClosed)

	c := &Consumer{consumerState: s}
	runtime.AddCleanup(c, func(s *consumerState) { s.close(closeUnreachable) }, s)
	return c
}

func (s *consumerState) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "producerclose":
		s.close(closePeer)

	case "producerpause":
		s.mu.Lock()
		wasPaused := s.paused || s.producerPaused
		s.producerPaused = true
		s.mu.Unlock()

		s.onProducerPause.Call(struct{}{})
		if !wasPaused {
			s.onPause.Call(struct{}{})
		}

	case "producerresume":
		s.mu.Lock()
		wasPaused := s.paused || s.producerPaused
		paused := s.paused
		s.producerPaused = false
		s.mu.Unlock()

		s.onProducerResume.Call(struct{}{})
		if wasPaused && !paused {
			s.onResume.Call(struct{}{})
		}

	case "score":
		var score domain.ConsumerScore
		if err := json.Unmarshal(data, &score); err != nil {
			s.logger.Error().Err(err).Msg("failed to parse score notification")
			return
		}
		s.mu.Lock()
		s.score = score
		s.mu.Unlock()
		s.onScore.Call(score)

	case "layerschange":
		var layers *domain.ConsumerLayers
		if err := decode(data, &layers); err != nil {
			s.logger.Error().Err(err).Msg("failed to parse layerschange notification")
			return
		}
		s.mu.Lock()
		s.currentLayers = layers
		s.mu.Unlock()
		s.onLayersChange.Call(layers)

	case "trace":
		var trace domain.TraceEvent
		if err := json.Unmarshal(data, &trace); err != nil {
			s.logger.Error().Err(err).Msg("failed to parse trace notification")
			return
		}
		s.onTrace.Call(trace)

	default:
		s.logger.Error().Str("event", event).Msg("unknown consumer notification")
	}
}

func (s *consumerState) handlePayload(event string, _ json.RawMessage, payload []byte) {
	switch event {
	case "rtp":
		s.onRtp.Call(payload)
	default:
		s.logger.Error().Str("event", event).Msg("unknown consumer payload notification")
	}
}

func (c *Consumer) ID() domain.ConsumerID {
	return c.id
}

func (c *Consumer) ProducerID() domain.ProducerID {
	return c.producerID
}

func (c *Consumer) Kind() domain.MediaKind {
	return c.kind
}

func (c *Consumer) Type() domain.ConsumerType {
	return c.typ
}

// RtpParameters are the parameters the consumer was created with, with
// the mid assigned by its transport.
func (c *Consumer) RtpParameters() json.RawMessage {
	return c.rtpParameters
}

func (c *Consumer) Transport() Transport {
	return c.transport
}

func (c *Consumer) AppData() domain.AppData {
	return c.appData
}

func (c *Consumer) Closed() bool {
	return c.lc.isClosed()
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) ProducerPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producerPaused
}

func (c *Consumer) Priority() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priority
}

func (c *Consumer) Score() domain.ConsumerScore {
	c.mu.Lock()
	defer c.mu.Unlock()
	score := c.score
	score.ProducerScores = append([]uint8(nil), score.ProducerScores...)
	return score
}

func (c *Consumer) PreferredLayers() *domain.ConsumerLayers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyLayers(c.preferredLayers)
}

func (c *Consumer) CurrentLayers() *domain.ConsumerLayers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyLayers(c.currentLayers)
}

func copyLayers(l *domain.ConsumerLayers) *domain.ConsumerLayers {
	if l == nil {
		return nil
	}
	out := *l
	return &out
}

func (c *Consumer) Dump(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &c.lc, c.channel, "consumer.dump", c.internal, nil)
}

func (c *Consumer) GetStats(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &c.lc, c.channel, "consumer.getStats", c.internal, nil)
}

func (c *Consumer) Pause(ctx context.Context) error {
	if err := send(ctx, &c.lc, c.channel, "consumer.pause", c.internal, nil); err != nil {
		return err
	}

	c.mu.Lock()
	wasPaused := c.paused || c.producerPaused
	c.paused = true
	c.mu.Unlock()

	if !wasPaused {
		c.onPause.Call(struct{}{})
	}
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	if err := send(ctx, &c.lc, c.channel, "consumer.resume", c.internal, nil); err != nil {
		return err
	}

	c.mu.Lock()
	wasPaused := c.paused || c.producerPaused
	c.paused = false
	nowPaused := c.producerPaused
	c.mu.Unlock()

	if wasPaused && !nowPaused {
		c.onResume.Call(struct{}{})
	}
	return nil
}

func (c *Consumer) SetPreferredLayers(ctx context.Context, layers domain.ConsumerLayers) error {
	res, err := request[*domain.ConsumerLayers](ctx, &c.lc, c.channel, "consumer.setPreferredLayers", c.internal, layers)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.preferredLayers = res
	c.mu.Unlock()
	return nil
}

func (c *Consumer) SetPriority(ctx context.Context, priority uint8) error {
	res, err := request[struct {
		Priority uint8 `json:"priority"`
	}](ctx, &c.lc, c.channel, "consumer.setPriority", c.internal, map[string]uint8{"priority": priority})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.priority = res.Priority
	c.mu.Unlock()
	return nil
}

// UnsetPriority restores the default priority of 1.
func (c *Consumer) UnsetPriority(ctx context.Context) error {
	return c.SetPriority(ctx, 1)
}

func (c *Consumer) RequestKeyFrame(ctx context.Context) error {
	return send(ctx, &c.lc, c.channel, "consumer.requestKeyFrame", c.internal, nil)
}

func (c *Consumer) EnableTraceEvent(ctx context.Context, types []ConsumerTraceEventType) error {
	if types == nil {
		types = []ConsumerTraceEventType{}
	}
	return send(ctx, &c.lc, c.channel, "consumer.enableTraceEvent", c.internal, map[string]any{"types": types})
}

func (c *Consumer) Close() {
	c.close(closeExplicit)
}

func (s *consumerState) transportClosed() {
	s.close(closeParent)
}

func (s *consumerState) close(reason closeReason) {
	var trigger func()
	switch reason {
	case closeParent:
		trigger = func() { s.onTransportClose.Call(struct{}{}) }
	case closePeer:
		trigger = func() { s.onProducerClose.Call(struct{}{}) }
	}
	if !s.lc.shut(trigger) {
		return
	}

	s.logger.Debug().Stringer("reason", reason).Msg("consumer closed")
	closeRemote(s.channel, s.logger, "consumer.close", s.internal, s.transport)
}

// OnRtp receives RTP packets for consumers on a DirectTransport. The
// packet is only valid during the call.
func (c *Consumer) OnRtp(h func(packet []byte)) event.HandlerID {
	return c.onRtp.Add(h)
}

// OnPause fires when the consumer stops forwarding, whether it or its
// producer was paused.
func (c *Consumer) OnPause(h func()) event.HandlerID {
	return c.onPause.Add(noArgs(h))
}

func (c *Consumer) OnResume(h func()) event.HandlerID {
	return c.onResume.Add(noArgs(h))
}

func (c *Consumer) OnProducerPause(h func()) event.HandlerID {
	return c.onProducerPause.Add(noArgs(h))
}

func (c *Consumer) OnProducerResume(h func()) event.HandlerID {
	return c.onProducerResume.Add(noArgs(h))
}

func (c *Consumer) OnScore(h func(domain.ConsumerScore)) event.HandlerID {
	return c.onScore.Add(h)
}

// OnLayersChange receives nil when no layer is being forwarded.
func (c *Consumer) OnLayersChange(h func(*domain.ConsumerLayers)) event.HandlerID {
	return c.onLayersChange.Add(h)
}

func (c *Consumer) OnTrace(h func(domain.TraceEvent)) event.HandlerID {
	return c.onTrace.Add(h)
}

func (c *Consumer) OnProducerClose(h func()) event.HandlerID {
	return c.onProducerClose.Add(noArgs(h))
}

func (c *Consumer) OnTransportClose(h func()) event.HandlerID {
	return c.onTransportClose.Add(noArgs(h))
}

func (c *Consumer) OnClose(h func()) event.HandlerID {
	return c.lc.onClose.Add(noArgs(h))
}
