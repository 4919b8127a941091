package channel

import (
	"bytes"
	"encoding/json"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

type requestEnvelope struct {
	ID       uint32          `json:"id"`
	Method   string          `json:"method"`
	Internal domain.Internal `json:"internal"`
	Data     any             `json:"data,omitempty"`
}

type notificationEnvelope struct {
	Event    string          `json:"event"`
	Internal domain.Internal `json:"internal"`
	Data     any             `json:"data,omitempty"`
}

// incoming is either a response (ID set) or a notification.
type incoming struct {
	ID       *uint32         `json:"id"`
	Accepted bool            `json:"accepted"`
	Error    string          `json:"error"`
	Reason   string          `json:"reason"`
	Data     json.RawMessage `json:"data"`
	TargetID json.RawMessage `json:"targetId"`
	Event    string          `json:"event"`
}

// target returns the notification target as a string. The worker sends
// entity ids as strings and its own pid as a number.
func (m *incoming) target() (string, bool) {
	raw := bytes.TrimSpace(m.TargetID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, s != ""
	}
	return string(raw), true
}

func (m *incoming) toResponse() response {
	return response{
		data:     m.Data,
		accepted: m.Accepted,
		kind:     m.Error,
		reason:   m.Reason,
	}
}
