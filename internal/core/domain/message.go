package domain

import (
	"errors"
)

// SCTP payload protocol identifiers used by WebRTC data channels.
const (
	PPIDString      uint32 = 51
	PPIDBinary      uint32 = 53
	PPIDEmptyString uint32 = 56
	PPIDEmptyBinary uint32 = 57
)

// WebRtcMessage is one data channel message.
type WebRtcMessage struct {
	PPID    uint32
	Payload []byte
}

func NewStringMessage(s string) WebRtcMessage {
	if s == "" {
		return WebRtcMessage{PPID: PPIDEmptyString, Payload: []byte(" ")}
	}
	return WebRtcMessage{PPID: PPIDString, Payload: []byte(s)}
}

func NewBinaryMessage(b []byte) WebRtcMessage {
	if len(b) == 0 {
		return WebRtcMessage{PPID: PPIDEmptyBinary, Payload: []byte{0}}
	}
	return WebRtcMessage{PPID: PPIDBinary, Payload: b}
}

// MessageFromWire rebuilds a message from a ppid and the received payload.
func MessageFromWire(ppid uint32, payload []byte) (WebRtcMessage, error) {
	switch ppid {
	case PPIDString, PPIDBinary:
		return WebRtcMessage{PPID: ppid, Payload: payload}, nil
	case PPIDEmptyString, PPIDEmptyBinary:
		return WebRtcMessage{PPID: ppid}, nil
	default:
		return WebRtcMessage{}, errors.New("unsupported ppid")
	}
}

func (m WebRtcMessage) IsString() bool {
	return m.PPID == PPIDString || m.PPID == PPIDEmptyString
}

// EventType names an entity lifecycle event published to gateways.
type EventType string

const (
	EventRouterCreated EventType = "router.created"
	EventRouterClosed  EventType = "router.closed"
	EventWorkerDied    EventType = "worker.died"
	EventWorkerClosed  EventType = "worker.closed"
)

type Event struct {
	Type     EventType `json:"type"`
	EntityID string    `json:"entityId,omitempty"`
	Data     any       `json:"data,omitempty"`
}
