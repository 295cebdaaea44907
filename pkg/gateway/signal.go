package gateway

import "context"

// Signal is an inbound notification from a transport. The concrete types
// below are the only implementations.
type Signal interface {
	signal()
}

// Connected reports a new session for SubscriberID.
type Connected struct {
	ConnectionID string
	SubscriberID string
}

// Disconnected reports that a session is gone.
type Disconnected struct {
	ConnectionID string
}

// Subscribed asks to add Channel to the session's subscriber.
type Subscribed struct {
	ConnectionID string
	Channel      string
}

// Unsubscribed asks to remove Channel from the session's subscriber.
type Unsubscribed struct {
	ConnectionID string
	Channel      string
}

// Acknowledged confirms receipt of every event of Channel up to Seq.
type Acknowledged struct {
	ConnectionID string
	Channel      string
	Seq          uint64
}

// Resumed asks to lift the suspension of the session's subscriber.
type Resumed struct {
	ConnectionID string
}

func (Connected) signal()    {}
func (Disconnected) signal() {}
func (Subscribed) signal()   {}
func (Unsubscribed) signal() {}
func (Acknowledged) signal() {}
func (Resumed) signal()      {}

// Handler consumes transport signals.
type Handler interface {
	Handle(ctx context.Context, sig Signal) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, sig Signal) error

func (f HandlerFunc) Handle(ctx context.Context, sig Signal) error {
	return f(ctx, sig)
}
