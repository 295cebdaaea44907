package notifications

import (
	"context"
	"time"

	"github.com/dmitrymomot/notification-service/pkg/backpressure"
)

// ChannelStatus is the delivery view of one subscribed channel.
type ChannelStatus struct {
	Channel    string             `json:"channel"`
	Cursor     uint64             `json:"cursor"`
	State      backpressure.State `json:"state"`
	Attempts   int                `json:"attempts,omitempty"`
	PendingSeq uint64             `json:"pending_seq,omitempty"`
	NextRetry  *time.Time         `json:"next_retry,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
}

// SubscriberStatus is a point-in-time view of a subscriber.
type SubscriberStatus struct {
	ID          string          `json:"id"`
	Online      bool            `json:"online"`
	Connections []string        `json:"connections"`
	Channels    []ChannelStatus `json:"channels"`
}

// Status reports the subscriber's channels, cursors and stream states.
func (m *Manager) Status(ctx context.Context, subscriberID string) (SubscriberStatus, error) {
	sub, err := m.registry.Subscriber(ctx, subscriberID)
	if err != nil {
		return SubscriberStatus{}, err
	}

	conns := m.registry.Connections(subscriberID)
	if conns == nil {
		conns = []string{}
	}
	status := SubscriberStatus{
		ID:          sub.ID,
		Online:      len(conns) > 0,
		Connections: conns,
		Channels:    make([]ChannelStatus, 0, len(sub.Channels)),
	}

	for _, channel := range sub.Channels {
		st := m.dispatcher.Status(subscriberID, channel)
		cs := ChannelStatus{
			Channel:  channel,
			Cursor:   sub.Cursors[channel],
			State:    st.State,
			Attempts: st.Attempt.Attempts,
		}
		if st.Attempt.Attempts > 0 {
			cs.PendingSeq = st.Attempt.Event.Seq
		}
		if !st.Attempt.NextRetry.IsZero() {
			next := st.Attempt.NextRetry
			cs.NextRetry = &next
		}
		if st.Attempt.LastError != nil {
			cs.LastError = st.Attempt.LastError.Error()
		}
		status.Channels = append(status.Channels, cs)
	}

	return status, nil
}
