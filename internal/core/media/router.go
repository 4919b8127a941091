package media

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"weak"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/event"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// Router hosts transports and forwards media between their producers and
// consumers.
type Router struct {
	*routerState
}

var _ port.Router = (*Router)(nil)

type routerState struct {
	id             domain.RouterID
	worker         *Worker
	channel        port.Channel
	payloadChannel port.PayloadChannel
	mediaCodecs    json.RawMessage
	appData        domain.AppData
	logger         zerolog.Logger

	lc             lifecycle
	onNewTransport event.Bag[Transport]
	onWorkerClose  event.BagOnce[struct{}]

	mu            sync.Mutex
	producers     map[domain.ProducerID]weak.Pointer[producerState]
	dataProducers map[domain.DataProducerID]weak.Pointer[dataProducerState]
}

func newRouter(w *Worker, id domain.RouterID, opts RouterOptions) *Router {
	s := &routerState{
		id:             id,
		worker:         w,
		channel:        w.channel,
		payloadChannel: w.payloadChannel,
		mediaCodecs:    opts.MediaCodecs,
		appData:        opts.AppData,
		logger:         log.With().Str("router_id", id.String()).Logger(),
		producers:      make(map[domain.ProducerID]weak.Pointer[producerState]),
		dataProducers:  make(map[domain.DataProducerID]weak.Pointer[dataProducerState]),
	}
	if s.appData == nil {
		s.appData = domain.AppData{}
	}
	adopt(&w.lc, &s.lc, s, (*routerState).workerClosed)

	r := &Router{routerState: s}
	runtime.AddCleanup(r, func(s *routerState) { s.close(closeUnreachable) }, s)
	return r
}

func (r *Router) ID() domain.RouterID {
	return r.id
}

func (r *Router) AppData() domain.AppData {
	return r.appData
}

// MediaCodecs returns the codecs the router was created with.
func (r *Router) MediaCodecs() json.RawMessage {
	return r.mediaCodecs
}

func (r *Router) Closed() bool {
	return r.lc.isClosed()
}

func (r *Router) internal() domain.Internal {
	return domain.Internal{RouterID: r.id.String()}
}

func (r *Router) Dump(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &r.lc, r.channel, "router.dump", r.internal(), nil)
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (*WebRtcTransport, error) {
	if len(opts.ListenIPs) == 0 {
		return nil, fmt.Errorf("router.createWebRtcTransport: at least one listen ip is required")
	}

	id := domain.NewTransportID()
	data := struct {
		ListenIPs                       []domain.ListenIP     `json:"listenIps"`
		EnableUDP                       bool                  `json:"enableUdp"`
		EnableTCP                       bool                  `json:"enableTcp"`
		PreferUDP                       bool                  `json:"preferUdp"`
		PreferTCP                       bool                  `json:"preferTcp"`
		InitialAvailableOutgoingBitrate uint32                `json:"initialAvailableOutgoingBitrate"`
		EnableSctp                      bool                  `json:"enableSctp"`
		NumSctpStreams                  domain.NumSctpStreams `json:"numSctpStreams"`
		MaxSctpMessageSize              uint32                `json:"maxSctpMessageSize"`
		SctpSendBufferSize              uint32                `json:"sctpSendBufferSize"`
		IsDataChannel                   bool                  `json:"isDataChannel"`
	}{
		ListenIPs:                       opts.ListenIPs,
		EnableUDP:                       opts.EnableUDP,
		EnableTCP:                       opts.EnableTCP,
		PreferUDP:                       opts.PreferUDP,
		PreferTCP:                       opts.PreferTCP,
		InitialAvailableOutgoingBitrate: opts.InitialAvailableOutgoingBitrate,
		EnableSctp:                      opts.EnableSctp,
		NumSctpStreams:                  opts.NumSctpStreams,
		MaxSctpMessageSize:              opts.MaxSctpMessageSize,
		SctpSendBufferSize:              opts.SctpSendBufferSize,
		IsDataChannel:                   true,
	}

	res, err := request[webRtcTransportData](ctx, &r.lc, r.channel, "router.createWebRtcTransport", r.transportInternal(id), data)
	if err != nil {
		return nil, err
	}
	t := newWebRtcTransport(r, id, res, opts.AppData)
	r.onNewTransport.Call(t)
	return t, nil
}

func (r *Router) CreatePlainTransport(ctx context.Context, opts PlainTransportOptions) (*PlainTransport, error) {
	id := domain.NewTransportID()
	data := struct {
		ListenIP           domain.ListenIP       `json:"listenIp"`
		RtcpMux            bool                  `json:"rtcpMux"`
		Comedia            bool                  `json:"comedia"`
		EnableSctp         bool                  `json:"enableSctp"`
		NumSctpStreams     domain.NumSctpStreams `json:"numSctpStreams"`
		MaxSctpMessageSize uint32                `json:"maxSctpMessageSize"`
		SctpSendBufferSize uint32                `json:"sctpSendBufferSize"`
		IsDataChannel      bool                  `json:"isDataChannel"`
		EnableSrtp         bool                  `json:"enableSrtp"`
		SrtpCryptoSuite    string                `json:"srtpCryptoSuite,omitempty"`
	}{
		ListenIP:           opts.ListenIP,
		RtcpMux:            opts.RtcpMux,
		Comedia:            opts.Comedia,
		EnableSctp:         opts.EnableSctp,
		NumSctpStreams:     opts.NumSctpStreams,
		MaxSctpMessageSize: opts.MaxSctpMessageSize,
		SctpSendBufferSize: opts.SctpSendBufferSize,
		EnableSrtp:         opts.EnableSrtp,
		SrtpCryptoSuite:    opts.SrtpCryptoSuite,
	}

	res, err := request[plainTransportData](ctx, &r.lc, r.channel, "router.createPlainTransport", r.transportInternal(id), data)
	if err != nil {
		return nil, err
	}
	t := newPlainTransport(r, id, res, opts.AppData)
	r.onNewTransport.Call(t)
	return t, nil
}

func (r *Router) CreateDirectTransport(ctx context.Context, opts DirectTransportOptions) (*DirectTransport, error) {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = 262144
	}

	id := domain.NewTransportID()
	data := struct {
		Direct         bool   `json:"direct"`
		MaxMessageSize uint32 `json:"maxMessageSize"`
	}{true, opts.MaxMessageSize}

	if err := send(ctx, &r.lc, r.channel, "router.createDirectTransport", r.transportInternal(id), data); err != nil {
		return nil, err
	}
	t := newDirectTransport(r, id, opts)
	r.onNewTransport.Call(t)
	return t, nil
}

func (r *Router) transportInternal(id domain.TransportID) domain.Internal {
	return domain.Internal{RouterID: r.id.String(), TransportID: id.String()}
}

func (r *Router) Close() {
	r.close(closeExplicit)
}

func (s *routerState) workerClosed() {
	s.close(closeParent)
}

func (s *routerState) close(reason closeReason) {
	var trigger func()
	if reason == closeParent {
		trigger = func() { s.onWorkerClose.Call(struct{}{}) }
	}
	if !s.lc.shut(trigger) {
		return
	}

	s.logger.Debug().Stringer("reason", reason).Msg("router closed")
	closeRemote(s.channel, s.logger, "router.close", domain.Internal{RouterID: s.id.String()}, s.worker)
}

func (s *routerState) addProducer(p *producerState) {
	s.mu.Lock()
	s.producers[p.id] = weak.Make(p)
	s.mu.Unlock()
}

func (s *routerState) removeProducer(id domain.ProducerID) {
	s.mu.Lock()
	delete(s.producers, id)
	s.mu.Unlock()
}

func (s *routerState) producer(id domain.ProducerID) (*producerState, error) {
	s.mu.Lock()
	wp, ok := s.producers[id]
	s.mu.Unlock()

	if ok {
		if p := wp.Value(); p != nil && !p.lc.isClosed() {
			return p, nil
		}
	}
	return nil, fmt.Errorf("producer %s: %w", id, domain.ErrProducerNotFound)
}

func (s *routerState) addDataProducer(p *dataProducerState) {
	s.mu.Lock()
	s.dataProducers[p.id] = weak.Make(p)
	s.mu.Unlock()
}

func (s *routerState) removeDataProducer(id domain.DataProducerID) {
	s.mu.Lock()
	delete(s.dataProducers, id)
	s.mu.Unlock()
}

func (s *routerState) dataProducer(id domain.DataProducerID) (*dataProducerState, error) {
	s.mu.Lock()
	wp, ok := s.dataProducers[id]
	s.mu.Unlock()

	if ok {
		if p := wp.Value(); p != nil && !p.lc.isClosed() {
			return p, nil
		}
	}
	return nil, fmt.Errorf("data producer %s: %w", id, domain.ErrDataProducerNotFound)
}

func (r *Router) OnNewTransport(h func(Transport)) event.HandlerID {
	return r.onNewTransport.Add(h)
}

func (r *Router) OnWorkerClose(h func()) event.HandlerID {
	return r.onWorkerClose.Add(noArgs(h))
}

func (r *Router) OnClose(h func()) event.HandlerID {
	return r.lc.onClose.Add(noArgs(h))
}
