package broadcast

import "errors"

var (
	ErrBroadcasterClosed = errors.New("broadcast: broadcaster is closed")
	ErrPublishFailed     = errors.New("broadcast: failed to publish message")
	ErrEncodeFailed      = errors.New("broadcast: failed to encode message")
)
