package media

import (
	"encoding/json"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

type WorkerUpdateSettings struct {
	LogLevel string   `json:"logLevel,omitempty"`
	LogTags  []string `json:"logTags,omitempty"`
}

// WorkerResourceUsage mirrors getrusage(2) for the worker process.
type WorkerResourceUsage struct {
	UserTime             uint64 `json:"ru_utime"`
	SystemTime           uint64 `json:"ru_stime"`
	MaxRss               uint64 `json:"ru_maxrss"`
	IntegralSharedMemory uint64 `json:"ru_ixrss"`
	IntegralDataMemory   uint64 `json:"ru_idrss"`
	IntegralStackMemory  uint64 `json:"ru_isrss"`
	MinorPageFaults      uint64 `json:"ru_minflt"`
	MajorPageFaults      uint64 `json:"ru_majflt"`
	Swaps                uint64 `json:"ru_nswap"`
	BlockInputOps        uint64 `json:"ru_inblock"`
	BlockOutputOps       uint64 `json:"ru_oublock"`
	MessagesSent         uint64 `json:"ru_msgsnd"`
	MessagesReceived     uint64 `json:"ru_msgrcv"`
	SignalsReceived      uint64 `json:"ru_nsignals"`
	VoluntaryCtxSwitches uint64 `json:"ru_nvcsw"`
	InvoluntaryCtxSwitch uint64 `json:"ru_nivcsw"`
}

type RouterOptions struct {
	// MediaCodecs are kept as given; capability negotiation happens
	// outside this package.
	MediaCodecs json.RawMessage
	AppData     domain.AppData
}

type WebRtcTransportOptions struct {
	ListenIPs                       []domain.ListenIP
	EnableUDP                       bool
	EnableTCP                       bool
	PreferUDP                       bool
	PreferTCP                       bool
	InitialAvailableOutgoingBitrate uint32
	EnableSctp                      bool
	NumSctpStreams                  domain.NumSctpStreams
	MaxSctpMessageSize              uint32
	SctpSendBufferSize              uint32
	AppData                         domain.AppData
}

// NewWebRtcTransportOptions returns the usual defaults: UDP only, no SCTP.
func NewWebRtcTransportOptions(listenIPs ...domain.ListenIP) WebRtcTransportOptions {
	return WebRtcTransportOptions{
		ListenIPs:                       listenIPs,
		EnableUDP:                       true,
		InitialAvailableOutgoingBitrate: 600000,
		NumSctpStreams:                  domain.DefaultNumSctpStreams,
		MaxSctpMessageSize:              262144,
		SctpSendBufferSize:              262144,
	}
}

type PlainTransportOptions struct {
	ListenIP           domain.ListenIP
	RtcpMux            bool
	Comedia            bool
	EnableSctp         bool
	NumSctpStreams     domain.NumSctpStreams
	MaxSctpMessageSize uint32
	SctpSendBufferSize uint32
	EnableSrtp         bool
	SrtpCryptoSuite    string
	AppData            domain.AppData
}

func NewPlainTransportOptions(listenIP domain.ListenIP) PlainTransportOptions {
	return PlainTransportOptions{
		ListenIP:           listenIP,
		RtcpMux:            true,
		NumSctpStreams:     domain.DefaultNumSctpStreams,
		MaxSctpMessageSize: 262144,
		SctpSendBufferSize: 262144,
		SrtpCryptoSuite:    "AES_CM_128_HMAC_SHA1_80",
	}
}

// PlainConnectParams are the remote parameters of a plain transport.
type PlainConnectParams struct {
	IP             string          `json:"ip,omitempty"`
	Port           uint16          `json:"port,omitempty"`
	RtcpPort       uint16          `json:"rtcpPort,omitempty"`
	SrtpParameters json.RawMessage `json:"srtpParameters,omitempty"`
}

type DirectTransportOptions struct {
	MaxMessageSize uint32
	AppData        domain.AppData
}

type ProducerOptions struct {
	// ID is generated when zero.
	ID            domain.ProducerID
	Kind          domain.MediaKind
	RtpParameters json.RawMessage
	// RtpMapping and ConsumableRtpParameters are computed by the caller
	// from the router capabilities.
	RtpMapping              json.RawMessage
	ConsumableRtpParameters json.RawMessage
	Paused                  bool
	KeyFrameRequestDelay    uint32
	AppData                 domain.AppData
}

type ConsumerOptions struct {
	ProducerID domain.ProducerID
	// RtpParameters are the consumer's parameters as negotiated by the
	// caller. The transport assigns their mid.
	RtpParameters   json.RawMessage
	Paused          bool
	PreferredLayers *domain.ConsumerLayers
	Pipe            bool
	IgnoreDtx       bool
	AppData         domain.AppData
}

type DataProducerOptions struct {
	ID                   domain.DataProducerID
	SctpStreamParameters *domain.SctpStreamParameters
	Label                string
	Protocol             string
	AppData              domain.AppData
}

type DataConsumerOptions struct {
	DataProducerID    domain.DataProducerID
	Ordered           *bool
	MaxPacketLifeTime *uint16
	MaxRetransmits    *uint16
	AppData           domain.AppData
}

type TransportTraceEventType string

const (
	TransportTraceProbation TransportTraceEventType = "probation"
	TransportTraceBwe       TransportTraceEventType = "bwe"
)

type ProducerTraceEventType string

const (
	ProducerTraceRtp      ProducerTraceEventType = "rtp"
	ProducerTraceKeyFrame ProducerTraceEventType = "keyframe"
	ProducerTraceNack     ProducerTraceEventType = "nack"
	ProducerTracePli      ProducerTraceEventType = "pli"
	ProducerTraceFir      ProducerTraceEventType = "fir"
)

type ConsumerTraceEventType string

const (
	ConsumerTraceRtp      ConsumerTraceEventType = "rtp"
	ConsumerTraceKeyFrame ConsumerTraceEventType = "keyframe"
	ConsumerTraceNack     ConsumerTraceEventType = "nack"
	ConsumerTracePli      ConsumerTraceEventType = "pli"
	ConsumerTraceFir      ConsumerTraceEventType = "fir"
)
