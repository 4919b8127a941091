package media

import (
	"context"
	"encoding/json"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/event"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// DataProducer injects data channel messages into a router.
type DataProducer struct {
	*dataProducerState
}

type dataProducerState struct {
	id                   domain.DataProducerID
	typ                  domain.DataProducerType
	sctpStreamParameters *domain.SctpStreamParameters
	label                string
	protocol             string
	transport            Transport
	internal             domain.Internal
	channel              port.Channel
	payloadChannel       port.PayloadChannel
	appData              domain.AppData
	logger               zerolog.Logger

	lc               lifecycle
	onTransportClose event.BagOnce[struct{}]
}

func newDataProducer(t *transportState, self Transport, id domain.DataProducerID, typ domain.DataProducerType, res dataEndpointData, appData domain.AppData) *DataProducer {
	internal := t.internal()
	internal.DataProducerID = id.String()

	s := &dataProducerState{
		id:                   id,
		typ:                  typ,
		sctpStreamParameters: res.SctpStreamParameters,
		label:                res.Label,
		protocol:             res.Protocol,
		transport:            self,
		internal:             internal,
		channel:              t.channel,
		payloadChannel:       t.payloadChannel,
		appData:              appData,
		logger:               t.logger.With().Str("data_producer_id", id.String()).Logger(),
	}
	if s.appData == nil {
		s.appData = domain.AppData{}
	}

	t.router.addDataProducer(s)
	s.lc.atClose(func() { t.router.removeDataProducer(id) })
	adopt(&t.lc, &s.lc, s, (*dataProducerState).transportClosed)

	p := &DataProducer{dataProducerState: s}
	runtime.AddCleanup(p, func(s *dataProducerState) { s.close(closeUnreachable) }, s)
	return p
}

func (p *DataProducer) ID() domain.DataProducerID {
	return p.id
}

func (p *DataProducer) Type() domain.DataProducerType {
	return p.typ
}

// SctpStreamParameters is nil for direct data producers.
func (p *DataProducer) SctpStreamParameters() *domain.SctpStreamParameters {
	return p.sctpStreamParameters
}

func (p *DataProducer) Label() string {
	return p.label
}

func (p *DataProducer) Protocol() string {
	return p.protocol
}

func (p *DataProducer) Transport() Transport {
	return p.transport
}

func (p *DataProducer) AppData() domain.AppData {
	return p.appData
}

func (p *DataProducer) Closed() bool {
	return p.lc.isClosed()
}

func (p *DataProducer) Dump(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &p.lc, p.channel, "dataProducer.dump", p.internal, nil)
}

func (p *DataProducer) GetStats(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &p.lc, p.channel, "dataProducer.getStats", p.internal, nil)
}

// Send injects a message. Only data producers on a DirectTransport can send.
func (p *DataProducer) Send(msg domain.WebRtcMessage) error {
	if p.typ != domain.DataProducerTypeDirect {
		return errNotDirect("dataProducer.send")
	}
	return notify(&p.lc, p.payloadChannel, "dataProducer.send", p.internal, map[string]uint32{"ppid": msg.PPID}, msg.Payload)
}

func (p *DataProducer) Close() {
	p.close(closeExplicit)
}

func (s *dataProducerState) transportClosed() {
	s.close(closeParent)
}

func (s *dataProducerState) close(reason closeReason) {
	var trigger func()
	if reason == closeParent {
		trigger = func() { s.onTransportClose.Call(struct{}{}) }
	}
	if !s.lc.shut(trigger) {
		return
	}

	s.logger.Debug().Stringer("reason", reason).Msg("data producer closed")
	closeRemote(s.channel, s.logger, "dataProducer.close", s.internal, s.transport)
}

func (p *DataProducer) OnTransportClose(h func()) event.HandlerID {
	return p.onTransportClose.Add(noArgs(h))
}

func (p *DataProducer) OnClose(h func()) event.HandlerID {
	return p.lc.onClose.Add(noArgs(h))
}
