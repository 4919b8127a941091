package domain

import "encoding/json"

// AppData is custom application data attached to an entity. It never
// crosses the channel.
type AppData map[string]any

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

type ProducerType string

const (
	ProducerTypeSimple    ProducerType = "simple"
	ProducerTypeSimulcast ProducerType = "simulcast"
	ProducerTypeSVC       ProducerType = "svc"
)

type ConsumerType string

const (
	ConsumerTypeSimple    ConsumerType = "simple"
	ConsumerTypeSimulcast ConsumerType = "simulcast"
	ConsumerTypeSVC       ConsumerType = "svc"
	ConsumerTypePipe      ConsumerType = "pipe"
)

// ConsumerLayers are the spatial/temporal layers of a simulcast or SVC stream.
type ConsumerLayers struct {
	SpatialLayer  uint8  `json:"spatialLayer"`
	TemporalLayer *uint8 `json:"temporalLayer,omitempty"`
}

// ConsumerScore is the consumer score plus the scores of its producer.
type ConsumerScore struct {
	Score          uint8   `json:"score"`
	ProducerScore  uint8   `json:"producerScore"`
	ProducerScores []uint8 `json:"producerScores"`
}

// ProducerScore is the score of one RTP stream of a producer.
type ProducerScore struct {
	EncodingIdx uint32 `json:"encodingIdx"`
	Ssrc        uint32 `json:"ssrc"`
	Rid         string `json:"rid,omitempty"`
	Score       uint8  `json:"score"`
}

type VideoOrientation struct {
	Camera   bool  `json:"camera"`
	Flip     bool  `json:"flip"`
	Rotation int32 `json:"rotation"`
}

type EventDirection string

const (
	DirectionIn  EventDirection = "in"
	DirectionOut EventDirection = "out"
)

// TraceEvent is the payload of every "trace" notification. Info is kept
// as the worker sent it.
type TraceEvent struct {
	Type      string          `json:"type"`
	Timestamp uint64          `json:"timestamp"`
	Direction EventDirection  `json:"direction"`
	Info      json.RawMessage `json:"info,omitempty"`
}

type DataProducerType string

const (
	DataProducerTypeSctp   DataProducerType = "sctp"
	DataProducerTypeDirect DataProducerType = "direct"
)

type DataConsumerType string

const (
	DataConsumerTypeSctp   DataConsumerType = "sctp"
	DataConsumerTypeDirect DataConsumerType = "direct"
)
