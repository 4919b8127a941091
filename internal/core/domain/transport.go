package domain

type IceRole string

const (
	IceRoleControlled  IceRole = "controlled"
	IceRoleControlling IceRole = "controlling"
)

type IceState string

const (
	IceStateNew          IceState = "new"
	IceStateConnected    IceState = "connected"
	IceStateCompleted    IceState = "completed"
	IceStateDisconnected IceState = "disconnected"
	IceStateClosed       IceState = "closed"
)

type DtlsRole string

const (
	DtlsRoleAuto   DtlsRole = "auto"
	DtlsRoleClient DtlsRole = "client"
	DtlsRoleServer DtlsRole = "server"
)

type DtlsState string

const (
	DtlsStateNew        DtlsState = "new"
	DtlsStateConnecting DtlsState = "connecting"
	DtlsStateConnected  DtlsState = "connected"
	DtlsStateFailed     DtlsState = "failed"
	DtlsStateClosed     DtlsState = "closed"
)

type SctpState string

const (
	SctpStateNew        SctpState = "new"
	SctpStateConnecting SctpState = "connecting"
	SctpStateConnected  SctpState = "connected"
	SctpStateFailed     SctpState = "failed"
	SctpStateClosed     SctpState = "closed"
)

type ListenIP struct {
	IP          string `json:"ip"`
	AnnouncedIP string `json:"announcedIp,omitempty"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         DtlsRole          `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// TransportTuple is the 5-tuple a transport is sending/receiving on.
type TransportTuple struct {
	LocalIP    string `json:"localIp"`
	LocalPort  uint16 `json:"localPort"`
	RemoteIP   string `json:"remoteIp,omitempty"`
	RemotePort uint16 `json:"remotePort,omitempty"`
	Protocol   string `json:"protocol"`
}

type NumSctpStreams struct {
	OS  uint16 `json:"OS"`
	MIS uint16 `json:"MIS"`
}

// DefaultNumSctpStreams matches what browsers negotiate.
var DefaultNumSctpStreams = NumSctpStreams{OS: 1024, MIS: 1024}

type SctpParameters struct {
	Port           uint16 `json:"port"`
	OS             uint16 `json:"OS"`
	MIS            uint16 `json:"MIS"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}

type SctpStreamParameters struct {
	StreamID          uint16  `json:"streamId"`
	Ordered           *bool   `json:"ordered,omitempty"`
	MaxPacketLifeTime *uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    *uint16 `json:"maxRetransmits,omitempty"`
}
