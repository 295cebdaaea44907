// Package registry tracks which subscribers are live, which connection belongs
// to which subscriber, what each subscriber is subscribed to, and how far it
// has acknowledged each channel.
//
// Subscriptions and cursors are written through to a SubscriberStore before
// the in-memory view changes, so a crash never loses an acknowledged cursor.
// Connections are ephemeral and live only in memory.
//
// Operations on one subscriber are serialized by that subscriber's own lock;
// different subscribers proceed in parallel. A registry-wide mutex guards the
// lookup maps and is never held across store I/O.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrymomot/notification-service/pkg/logger"
)

type entry struct {
	// mu serializes operations on this subscriber, including store I/O.
	mu     sync.Mutex
	loaded bool
	state  Subscriber

	// Guarded by Registry.mu.
	refs  int
	conns []string
}

// Registry maps connections to subscribers and subscribers to channels.
type Registry struct {
	store  SubscriberStore
	logger *slog.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	conns    map[string]string
	channels map[string]map[string]struct{} // channel -> live subscriber IDs
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a registry backed by store.
func New(store SubscriberStore, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		logger:   slog.Default(),
		entries:  make(map[string]*entry),
		conns:    make(map[string]string),
		channels: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// acquire locks the subscriber's entry, loading durable state on first use.
// The returned release func must be called exactly once.
func (r *Registry) acquire(ctx context.Context, subscriberID string) (*entry, func(), error) {
	if strings.TrimSpace(subscriberID) == "" {
		return nil, nil, ErrInvalidSubscriber
	}

	r.mu.Lock()
	e, ok := r.entries[subscriberID]
	if !ok {
		e = &entry{}
		r.entries[subscriberID] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()

	release := func() {
		e.mu.Unlock()

		r.mu.Lock()
		e.refs--
		if e.refs == 0 && len(e.conns) == 0 {
			delete(r.entries, subscriberID)
		}
		r.mu.Unlock()
	}

	if !e.loaded {
		sub, err := r.store.Load(ctx, subscriberID)
		if err != nil {
			release()
			return nil, nil, errors.Join(ErrStorage, err)
		}
		if sub.Cursors == nil {
			sub.Cursors = make(map[string]uint64)
		}
		sub.ID = subscriberID
		e.state = sub
		e.loaded = true
	}

	return e, release, nil
}

// Bind attaches connectionID to subscriberID. Binding the same pair twice is
// a no-op; binding a connection that belongs to another subscriber fails
// with ErrAlreadyBound. It reports whether this is the subscriber's first
// live connection.
func (r *Registry) Bind(ctx context.Context, connectionID, subscriberID string) (bool, error) {
	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()

	if bound, ok := r.conns[connectionID]; ok {
		if bound == subscriberID {
			return false, nil
		}
		return false, ErrAlreadyBound
	}

	r.conns[connectionID] = subscriberID
	e.conns = append(e.conns, connectionID)

	first := len(e.conns) == 1
	if first {
		for _, ch := range e.state.Channels {
			r.index(ch, subscriberID)
		}
	}

	r.logger.LogAttrs(ctx, slog.LevelDebug, "Connection bound",
		logger.ConnectionID(connectionID),
		logger.SubscriberID(subscriberID),
	)
	return first, nil
}

// Unbind detaches a connection. It returns the subscriber it was bound to and
// whether that was the subscriber's last live connection.
func (r *Registry) Unbind(ctx context.Context, connectionID string) (string, bool, error) {
	subscriberID, ok := r.SubscriberOf(connectionID)
	if !ok {
		return "", false, ErrNotBound
	}

	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return "", false, err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[connectionID] != subscriberID {
		return "", false, ErrNotBound
	}
	delete(r.conns, connectionID)
	e.conns = slices.DeleteFunc(e.conns, func(c string) bool { return c == connectionID })

	last := len(e.conns) == 0
	if last {
		for _, ch := range e.state.Channels {
			r.unindex(ch, subscriberID)
		}
	}

	r.logger.LogAttrs(ctx, slog.LevelDebug, "Connection unbound",
		logger.ConnectionID(connectionID),
		logger.SubscriberID(subscriberID),
	)
	return subscriberID, last, nil
}

// Subscribe adds channel to the subscriber's durable subscription set.
// Subscribing twice is a no-op. It reports whether the set changed.
func (r *Registry) Subscribe(ctx context.Context, subscriberID, channel string) (bool, error) {
	if strings.TrimSpace(channel) == "" {
		return false, ErrInvalidChannel
	}

	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	defer release()

	if slices.Contains(e.state.Channels, channel) {
		return false, nil
	}
	if err := r.store.AddChannel(ctx, subscriberID, channel); err != nil {
		return false, errors.Join(ErrStorage, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e.state.Channels = append(e.state.Channels, channel)
	slices.Sort(e.state.Channels)
	if len(e.conns) > 0 {
		r.index(channel, subscriberID)
	}
	return true, nil
}

// Unsubscribe removes channel from the subscription set. The cursor is kept
// so a later resubscribe continues where it left off.
func (r *Registry) Unsubscribe(ctx context.Context, subscriberID, channel string) (bool, error) {
	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	defer release()

	if !slices.Contains(e.state.Channels, channel) {
		return false, nil
	}
	if err := r.store.RemoveChannel(ctx, subscriberID, channel); err != nil {
		return false, errors.Join(ErrStorage, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e.state.Channels = slices.DeleteFunc(e.state.Channels, func(c string) bool { return c == channel })
	r.unindex(channel, subscriberID)
	return true, nil
}

// Reload replaces the cached state of a subscriber held in memory with the
// stored copy, after another instance changed its subscriptions. Cursors
// keep the higher of the two values. Subscribers not held in memory are
// skipped. It returns the channels that are no longer subscribed.
func (r *Registry) Reload(ctx context.Context, subscriberID string) ([]string, error) {
	r.mu.Lock()
	_, cached := r.entries[subscriberID]
	r.mu.Unlock()
	if !cached {
		return nil, nil
	}

	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := r.store.Load(ctx, subscriberID)
	if err != nil {
		return nil, errors.Join(ErrStorage, err)
	}
	sub.ID = subscriberID
	if sub.Cursors == nil {
		sub.Cursors = make(map[string]uint64)
	}
	for ch, seq := range e.state.Cursors {
		sub.Cursors[ch] = max(sub.Cursors[ch], seq)
	}
	sub.Channels = slices.Sorted(slices.Values(sub.Channels))

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, ch := range e.state.Channels {
		if !slices.Contains(sub.Channels, ch) {
			removed = append(removed, ch)
			r.unindex(ch, subscriberID)
		}
	}
	if len(e.conns) > 0 {
		for _, ch := range sub.Channels {
			r.index(ch, subscriberID)
		}
	}
	e.state = sub
	return removed, nil
}

// Cursor returns the last acknowledged sequence of channel, 0 when none.
func (r *Registry) Cursor(ctx context.Context, subscriberID, channel string) (uint64, error) {
	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return 0, err
	}
	defer release()

	return e.state.Cursors[channel], nil
}

// AdvanceCursor durably moves the cursor forward. Values at or below the
// current cursor are ignored, so cursors never move backwards.
func (r *Registry) AdvanceCursor(ctx context.Context, subscriberID, channel string, seq uint64) error {
	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return err
	}
	defer release()

	if seq <= e.state.Cursors[channel] {
		return nil
	}
	if err := r.store.SaveCursor(ctx, subscriberID, channel, seq); err != nil {
		return errors.Join(ErrStorage, err)
	}
	e.state.Cursors[channel] = seq
	return nil
}

// Subscriber returns a snapshot of the subscriber's durable state.
func (r *Registry) Subscriber(ctx context.Context, subscriberID string) (Subscriber, error) {
	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return Subscriber{}, err
	}
	defer release()

	return e.state.clone(), nil
}

// Channels returns the subscriber's channels in lexical order.
func (r *Registry) Channels(ctx context.Context, subscriberID string) ([]string, error) {
	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	defer release()

	return slices.Clone(e.state.Channels), nil
}

// IsSubscribed reports whether subscriberID currently subscribes to channel.
func (r *Registry) IsSubscribed(ctx context.Context, subscriberID, channel string) (bool, error) {
	e, release, err := r.acquire(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	defer release()

	return slices.Contains(e.state.Channels, channel), nil
}

// LiveConnectionsFor returns every live connection whose subscriber is
// subscribed to channel, ordered by subscriber and then by bind time.
func (r *Registry) LiveConnectionsFor(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := slices.Sorted(maps.Keys(r.channels[channel]))
	var conns []string
	for _, sub := range subs {
		if e, ok := r.entries[sub]; ok {
			conns = append(conns, e.conns...)
		}
	}
	return conns
}

// LiveChannels returns every channel with at least one live subscriber.
func (r *Registry) LiveChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Sorted(maps.Keys(r.channels))
}

// SubscriberOf returns the subscriber a connection is bound to.
func (r *Registry) SubscriberOf(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.conns[connectionID]
	return sub, ok
}

// Connections returns the subscriber's live connections, oldest first.
func (r *Registry) Connections(subscriberID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[subscriberID]; ok {
		return slices.Clone(e.conns)
	}
	return nil
}

// Ping reports whether the subscriber store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Must be called with r.mu held.
func (r *Registry) index(channel, subscriberID string) {
	subs, ok := r.channels[channel]
	if !ok {
		subs = make(map[string]struct{})
		r.channels[channel] = subs
	}
	subs[subscriberID] = struct{}{}
}

// Must be called with r.mu held.
func (r *Registry) unindex(channel, subscriberID string) {
	if subs, ok := r.channels[channel]; ok {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(r.channels, channel)
		}
	}
}
