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

// DataConsumer forwards one data producer's messages to the endpoint of a
// transport.
type DataConsumer struct {
	*dataConsumerState
}

type dataConsumerState struct {
	id                   domain.DataConsumerID
	dataProducerID       domain.DataProducerID
	typ                  domain.DataConsumerType
	sctpStreamParameters *domain.SctpStreamParameters
	label                string
	protocol             string
	transport            Transport
	internal             domain.Internal
	channel              port.Channel
	payloadChannel       port.PayloadChannel
	appData              domain.AppData
	logger               zerolog.Logger

	lc                   lifecycle
	onMessage            event.Bag[domain.WebRtcMessage]
	onSctpSendBufferFull event.Bag[struct{}]
	onBufferedAmountLow  event.Bag[uint32]
	onDataProducerClose  event.BagOnce[struct{}]
	onTransportClose     event.BagOnce[struct{}]
}

func newDataConsumer(t *transportState, self Transport, id domain.DataConsumerID, dataProducerID domain.DataProducerID, typ domain.DataConsumerType, res dataEndpointData, streamID int, appData domain.AppData) *DataConsumer {
	internal := t.internal()
	internal.DataConsumerID = id.String()
	internal.DataProducerID = dataProducerID.String()

	s := &dataConsumerState{
		id:                   id,
		dataProducerID:       dataProducerID,
		typ:                  typ,
		sctpStreamParameters: res.SctpStreamParameters,
		label:                res.Label,
		protocol:             res.Protocol,
		transport:            self,
		internal:             internal,
		channel:              t.channel,
		payloadChannel:       t.payloadChannel,
		appData:              appData,
		logger:               t.logger.With().Str("data_consumer_id", id.String()).Logger(),
	}
	if s.appData == nil {
		s.appData = domain.AppData{}
	}

	s.lc.track(s.channel.Subscribe(id.String(), s.handleNotification))
	s.lc.track(s.payloadChannel.Subscribe(id.String(), s.handlePayload))
	if streamID >= 0 {
		s.lc.atClose(func() { t.releaseSctpStreamID(uint16(streamID)) })
	}
	adopt(&t.lc, &s.lc, s, (*dataConsumerState).transportClosed)

	c := &DataConsumer{dataConsumerState: s}
	runtime.AddCleanup(c, func(s *dataConsumerState) { s.close(closeUnreachable) }, s)
	return c
}

func (s *dataConsumerState) handleNotification(event string, data json.RawMessage) {
	switch event {
	case "dataproducerclose":
		s.close(closePeer)

	case "sctpsendbufferfull":
		s.onSctpSendBufferFull.Call(struct{}{})

	case "bufferedamountlow":
		var n struct {
			BufferedAmount uint32 `json:"bufferedAmount"`
		}
		if err := json.Unmarshal(data, &n); err != nil {
			s.logger.Error().Err(err).Msg("failed to parse bufferedamountlow notification")
			return
		}
		s.onBufferedAmountLow.Call(n.BufferedAmount)

	default:
		s.logger.Error().Str("event", event).Msg("unknown data consumer notification")
	}
}

func (s *dataConsumerState) handlePayload(event string, data json.RawMessage, payload []byte) {
	switch event {
	case "message":
		var n struct {
			PPID uint32 `json:"ppid"`
		}
		if err := json.Unmarshal(data, &n); err != nil {
			s.logger.Error().Err(err).Msg("failed to parse message notification")
			return
		}
		msg, err := domain.MessageFromWire(n.PPID, payload)
		if err != nil {
			s.logger.Warn().Err(err).Uint32("ppid", n.PPID).Msg("dropping message")
			return
		}
		s.onMessage.Call(msg)

	default:
		s.logger.Error().Str("event", event).Msg("unknown data consumer payload notification")
	}
}

func (c *DataConsumer) ID() domain.DataConsumerID {
	return c.id
}

func (c *DataConsumer) DataProducerID() domain.DataProducerID {
	return c.dataProducerID
}

func (c *DataConsumer) Type() domain.DataConsumerType {
	return c.typ
}

func (c *DataConsumer) SctpStreamParameters() *domain.SctpStreamParameters {
	return c.sctpStreamParameters
}

func (c *DataConsumer) Label() string {
	return c.label
}

func (c *DataConsumer) Protocol() string {
	return c.protocol
}

func (c *DataConsumer) Transport() Transport {
	return c.transport
}

func (c *DataConsumer) AppData() domain.AppData {
	return c.appData
}

func (c *DataConsumer) Closed() bool {
	return c.lc.isClosed()
}

func (c *DataConsumer) Dump(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &c.lc, c.channel, "dataConsumer.dump", c.internal, nil)
}

func (c *DataConsumer) GetStats(ctx context.Context) (json.RawMessage, error) {
	return request[json.RawMessage](ctx, &c.lc, c.channel, "dataConsumer.getStats", c.internal, nil)
}

func (c *DataConsumer) GetBufferedAmount(ctx context.Context) (uint32, error) {
	res, err := request[struct {
		BufferedAmount uint32 `json:"bufferedAmount"`
	}](ctx, &c.lc, c.channel, "dataConsumer.getBufferedAmount", c.internal, nil)
	return res.BufferedAmount, err
}

func (c *DataConsumer) SetBufferedAmountLowThreshold(ctx context.Context, threshold uint32) error {
	return send(ctx, &c.lc, c.channel, "dataConsumer.setBufferedAmountLowThreshold", c.internal, map[string]uint32{"threshold": threshold})
}

// Send delivers msg to the endpoint directly, bypassing the data producer.
func (c *DataConsumer) Send(ctx context.Context, msg domain.WebRtcMessage) error {
	if c.lc.isClosed() {
		return errClosed("dataConsumer.send")
	}
	_, err := c.payloadChannel.Request(ctx, "dataConsumer.send", c.internal, map[string]uint32{"ppid": msg.PPID}, msg.Payload)
	return err
}

func (c *DataConsumer) Close() {
	c.close(closeExplicit)
}

func (s *dataConsumerState) transportClosed() {
	s.close(closeParent)
}

func (s *dataConsumerState) close(reason closeReason) {
	var trigger func()
	switch reason {
	case closeParent:
		trigger = func() { s.onTransportClose.Call(struct{}{}) }
	case closePeer:
		trigger = func() { s.onDataProducerClose.Call(struct{}{}) }
	}
	if !s.lc.shut(trigger) {
		return
	}

	s.logger.Debug().Stringer("reason", reason).Msg("data consumer closed")
	closeRemote(s.channel, s.logger, "dataConsumer.close", s.internal, s.transport)
}

// OnMessage receives messages for data consumers on a DirectTransport.
func (c *DataConsumer) OnMessage(h func(domain.WebRtcMessage)) event.HandlerID {
	return c.onMessage.Add(h)
}

func (c *DataConsumer) OnSctpSendBufferFull(h func()) event.HandlerID {
	return c.onSctpSendBufferFull.Add(noArgs(h))
}

func (c *DataConsumer) OnBufferedAmountLow(h func(bufferedAmount uint32)) event.HandlerID {
	return c.onBufferedAmountLow.Add(h)
}

func (c *DataConsumer) OnDataProducerClose(h func()) event.HandlerID {
	return c.onDataProducerClose.Add(noArgs(h))
}

func (c *DataConsumer) OnTransportClose(h func()) event.HandlerID {
	return c.onTransportClose.Add(noArgs(h))
}

func (c *DataConsumer) OnClose(h func()) event.HandlerID {
	return c.lc.onClose.Add(noArgs(h))
}
