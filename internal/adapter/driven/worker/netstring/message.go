package netstring

type Kind uint8

const (
	KindUnknown Kind = iota
	KindJSON
	KindDebug
	KindWarn
	KindError
	KindDump
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindDebug:
		return "debug"
	case KindWarn:
		return "warn"
	case KindError:
		return "error"
	case KindDump:
		return "dump"
	default:
		return "unknown"
	}
}

// Message is a parsed frame payload.
type Message struct {
	Kind Kind
	// Command is the first payload byte, kept for unrecognized frames.
	Command byte
	// Data is the whole JSON document for KindJSON and the text after the
	// tag byte for log kinds. For KindUnknown it is the payload after the
	// command byte.
	Data []byte
}

func Parse(frame []byte) Message {
	if len(frame) == 0 {
		return Message{Kind: KindUnknown}
	}

	cmd := frame[0]
	switch cmd {
	case '{':
		return Message{Kind: KindJSON, Command: cmd, Data: frame}
	case 'D':
		return Message{Kind: KindDebug, Command: cmd, Data: frame[1:]}
	case 'W':
		return Message{Kind: KindWarn, Command: cmd, Data: frame[1:]}
	case 'E':
		return Message{Kind: KindError, Command: cmd, Data: frame[1:]}
	case 'X':
		return Message{Kind: KindDump, Command: cmd, Data: frame[1:]}
	default:
		return Message{Kind: KindUnknown, Command: cmd, Data: frame[1:]}
	}
}
