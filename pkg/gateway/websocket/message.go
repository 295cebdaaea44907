package websocket

const (
	typeReady        = "ready"
	typeError        = "error"
	typeSubscribe    = "subscribe"
	typeSubscribed   = "subscribed"
	typeUnsubscribe  = "unsubscribe"
	typeUnsubscribed = "unsubscribed"
	typeAck          = "ack"
	typeResume       = "resume"
	typeResumed      = "resumed"
)

// clientMessage is anything a client may send.
type clientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
}

// controlMessage is every server message other than an event frame.
type controlMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
	Channel      string `json:"channel,omitempty"`
	Error        string `json:"error,omitempty"`
}
