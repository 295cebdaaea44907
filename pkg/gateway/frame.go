package gateway

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/dmitrymomot/notification-service/pkg/eventstore"
)

const (
	FrameTypeEvent = "event"
	EncodingBase64 = "base64"
)

// Frame is the wire form of an event. Payloads that are valid JSON are
// embedded as is; anything else is base64 encoded and flagged.
type Frame struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
	Encoding  string          `json:"encoding,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewFrame builds the wire frame for ev.
func NewFrame(ev eventstore.Event) Frame {
	f := Frame{
		Type:      FrameTypeEvent,
		Channel:   ev.Channel,
		Seq:       ev.Seq,
		CreatedAt: ev.CreatedAt,
	}

	switch {
	case len(ev.Payload) == 0:
		f.Payload = json.RawMessage("null")
	case json.Valid(ev.Payload):
		f.Payload = json.RawMessage(ev.Payload)
	default:
		encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString(ev.Payload))
		f.Payload = encoded
		f.Encoding = EncodingBase64
	}

	return f
}
