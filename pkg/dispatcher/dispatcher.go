// Package dispatcher moves stored events to live subscribers.
//
// The event store notifies the dispatcher that a channel has new data; the
// dispatcher never receives the events themselves. It resolves the live
// subscribers of that channel through the registry and runs one stream
// worker per (subscriber, channel) pair. A worker reads from the
// subscriber's durable cursor, pushes one event at a time, waits for the
// acknowledgment and advances the cursor before moving on. Failures are
// handed to the backpressure controller, which decides when the stream may
// try again.
//
// Basic usage:
//
//	hub := gateway.NewHub()
//	d := dispatcher.New(store, reg, hub, dispatcher.WithLogger(log))
//	store = eventstore.Notifying(store, d.OnAppend)
//
//	g.Go(d.Run(ctx))
package dispatcher

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/notification-service/pkg/backpressure"
	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/logger"
	"github.com/dmitrymomot/notification-service/pkg/registry"
)

// EventReader is the read side of the event store.
type EventReader interface {
	ReadFrom(ctx context.Context, channel string, afterSeq uint64) iter.Seq2[eventstore.Event, error]
}

type streamRun struct {
	// rerun is set when new data arrives while the worker is busy.
	rerun bool
}

type ackWaiter struct {
	seq  uint64
	conn string
	ch   chan uint64

	// gone is closed when conn disconnects while the push is in flight.
	gone     chan struct{}
	departed bool
}

type subscriberScope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Dispatcher fans stored events out to live subscribers.
type Dispatcher struct {
	events     EventReader
	registry   *registry.Registry
	transport  gateway.Transport
	controller *backpressure.Controller
	logger     *slog.Logger

	policy        backpressure.Policy
	ackTimeout    time.Duration
	sweepInterval time.Duration

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	dirty   map[string]struct{}
	running map[backpressure.StreamKey]*streamRun
	acks    map[backpressure.StreamKey]*ackWaiter
	pushed  map[backpressure.StreamKey]uint64
	scopes  map[string]*subscriberScope
	started bool
	closed  bool

	wake chan struct{}
	loop sync.WaitGroup
	wg   sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithConfig applies the environment configuration. Zero values keep the defaults.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) {
		WithAckTimeout(cfg.AckTimeout)(d)
		WithSweepInterval(cfg.SweepInterval)(d)
	}
}

func WithAckTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.ackTimeout = timeout
		}
	}
}

func WithSweepInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.sweepInterval = interval
		}
	}
}

// WithPolicy sets the retry policy of the backpressure controller.
func WithPolicy(p backpressure.Policy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// New creates a dispatcher. It does nothing until Start or Run is called,
// except for acknowledgment and signal handling.
func New(events EventReader, reg *registry.Registry, transport gateway.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		events:        events,
		registry:      reg,
		transport:     transport,
		logger:        slog.Default(),
		policy:        backpressure.DefaultPolicy(),
		ackTimeout:    DefaultAckTimeout,
		sweepInterval: DefaultSweepInterval,
		dirty:         make(map[string]struct{}),
		running:       make(map[backpressure.StreamKey]*streamRun),
		acks:          make(map[backpressure.StreamKey]*ackWaiter),
		pushed:        make(map[backpressure.StreamKey]uint64),
		scopes:        make(map[string]*subscriberScope),
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.base, d.cancel = context.WithCancel(context.Background())
	d.controller = backpressure.New(d.policy,
		backpressure.WithRetryFunc(d.kick),
		backpressure.WithLogger(d.logger),
	)
	return d
}

// Notify marks channel as having new events. It never blocks; repeated
// notifications before the next pass are coalesced.
func (d *Dispatcher) Notify(channel string) {
	d.mu.Lock()
	d.dirty[channel] = struct{}{}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// OnAppend is an eventstore.Hook that notifies the dispatcher.
func (d *Dispatcher) OnAppend(_ context.Context, ev eventstore.Event) {
	d.Notify(ev.Channel)
}

// Start launches the scheduling loop. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	d.loop.Add(1)
	go d.schedule(ctx)

	d.logger.LogAttrs(ctx, slog.LevelInfo, "Dispatcher started",
		logger.Component("dispatcher"),
		slog.Duration("ack_timeout", d.ackTimeout),
		slog.Duration("sweep_interval", d.sweepInterval),
	)
	return nil
}

// Stop cancels in-flight pushes and pending retries and waits for every
// worker to exit. Unacknowledged events stay in the log.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.cancel()
	d.mu.Unlock()

	d.controller.Close()
	d.loop.Wait()
	d.wg.Wait()

	d.logger.LogAttrs(context.Background(), slog.LevelInfo, "Dispatcher stopped",
		logger.Component("dispatcher"),
	)
	return nil
}

// Run returns a function suitable for errgroup: it starts the dispatcher,
// blocks until ctx is done and then stops it.
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		if err := d.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return d.Stop()
	}
}

func (d *Dispatcher) schedule(ctx context.Context) {
	defer d.loop.Done()

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.base.Done():
			return
		case <-d.wake:
			d.mu.Lock()
			dirty := d.dirty
			d.dirty = make(map[string]struct{})
			d.mu.Unlock()

			for channel := range dirty {
				d.dispatchChannel(channel)
			}
		case <-ticker.C:
			for _, channel := range d.registry.LiveChannels() {
				d.dispatchChannel(channel)
			}
		}
	}
}

// dispatchChannel kicks the stream of every live subscriber of channel.
func (d *Dispatcher) dispatchChannel(channel string) {
	seen := make(map[string]struct{})
	for _, conn := range d.registry.LiveConnectionsFor(channel) {
		sub, ok := d.registry.SubscriberOf(conn)
		if !ok {
			continue
		}
		seen[sub] = struct{}{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for sub := range seen {
		d.kickLocked(backpressure.StreamKey{Subscriber: sub, Channel: channel})
	}
}

// kickSubscriber runs a catch-up pass over every channel of subscriber.
func (d *Dispatcher) kickSubscriber(ctx context.Context, subscriber string) error {
	channels, err := d.registry.Channels(ctx, subscriber)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, channel := range channels {
		d.kickLocked(backpressure.StreamKey{Subscriber: subscriber, Channel: channel})
	}
	return nil
}

func (d *Dispatcher) kick(key backpressure.StreamKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kickLocked(key)
}

// Must be called with d.mu held.
func (d *Dispatcher) kickLocked(key backpressure.StreamKey) {
	if d.closed {
		return
	}
	if run, ok := d.running[key]; ok {
		run.rerun = true
		return
	}
	if len(d.registry.Connections(key.Subscriber)) == 0 {
		return
	}
	if !d.controller.TryBegin(key) {
		return
	}

	run := &streamRun{}
	d.running[key] = run
	d.wg.Add(1)
	go d.runStream(d.scopeLocked(key.Subscriber).ctx, key, run)
}

// Must be called with d.mu held.
func (d *Dispatcher) scopeLocked(subscriber string) *subscriberScope {
	scope, ok := d.scopes[subscriber]
	if !ok {
		ctx, cancel := context.WithCancel(d.base)
		scope = &subscriberScope{ctx: ctx, cancel: cancel}
		d.scopes[subscriber] = scope
	}
	return scope
}

func (d *Dispatcher) runStream(ctx context.Context, key backpressure.StreamKey, run *streamRun) {
	defer d.wg.Done()

	for {
		ev, err := d.deliver(ctx, key)

		d.mu.Lock()
		if err == nil && run.rerun && ctx.Err() == nil && d.controller.Active(key) {
			run.rerun = false
			d.mu.Unlock()
			continue
		}
		// The target connection left but others remain: redeliver on them
		// right away, without charging a retry.
		if errors.Is(err, errConnectionGone) && ctx.Err() == nil && d.controller.Active(key) {
			d.mu.Unlock()
			d.logger.LogAttrs(ctx, slog.LevelDebug, "Connection left mid-delivery, redelivering",
				logger.SubscriberID(key.Subscriber),
				logger.Channel(key.Channel),
				logger.Seq(ev.Seq),
			)
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				d.logger.LogAttrs(ctx, slog.LevelDebug, "Delivery cancelled",
					logger.SubscriberID(key.Subscriber),
					logger.Channel(key.Channel),
					logger.Seq(ev.Seq),
				)
			}
			d.controller.Failed(key, ev, err)
		} else {
			d.controller.Finish(key)
		}

		delete(d.running, key)
		if run.rerun {
			d.kickLocked(key)
		}
		d.mu.Unlock()
		return
	}
}

// deliver pushes every event after the stream's cursor, one at a time. It
// returns the event that failed, if any.
func (d *Dispatcher) deliver(ctx context.Context, key backpressure.StreamKey) (eventstore.Event, error) {
	failed := eventstore.Event{Channel: key.Channel}

	cursor, err := d.registry.Cursor(ctx, key.Subscriber, key.Channel)
	if err != nil {
		return failed, err
	}
	failed.Seq = cursor + 1

	for ev, err := range d.events.ReadFrom(ctx, key.Channel, cursor) {
		if err != nil {
			return failed, err
		}
		// Suspended, resumed or unsubscribed while we were busy.
		if !d.controller.Active(key) {
			return ev, nil
		}

		if err := d.push(ctx, key, ev); err != nil {
			return ev, err
		}
		if err := d.registry.AdvanceCursor(ctx, key.Subscriber, key.Channel, ev.Seq); err != nil {
			return ev, err
		}
		d.controller.Succeeded(key)
		failed.Seq = ev.Seq + 1

		d.logger.LogAttrs(ctx, slog.LevelDebug, "Event delivered",
			logger.SubscriberID(key.Subscriber),
			logger.Channel(key.Channel),
			logger.Seq(ev.Seq),
		)
	}

	return failed, nil
}

// push sends ev to the subscriber's newest connection and waits until it is
// acknowledged.
func (d *Dispatcher) push(ctx context.Context, key backpressure.StreamKey, ev eventstore.Event) error {
	conns := d.registry.Connections(key.Subscriber)
	if len(conns) == 0 {
		return gateway.ErrConnectionNotFound
	}
	conn := conns[len(conns)-1]

	waiter := &ackWaiter{seq: ev.Seq, conn: conn, ch: make(chan uint64, 1), gone: make(chan struct{})}
	d.mu.Lock()
	d.acks[key] = waiter
	d.pushed[key] = max(d.pushed[key], ev.Seq)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.acks[key] == waiter {
			delete(d.acks, key)
		}
		d.mu.Unlock()
	}()

	if err := d.transport.Push(ctx, conn, ev); err != nil {
		// The transport may drop the connection before its disconnect
		// signal unbinds it.
		if errors.Is(err, gateway.ErrConnectionNotFound) {
			if _, bound := d.registry.SubscriberOf(conn); !bound {
				return errConnectionGone
			}
		}
		return err
	}

	timer := time.NewTimer(d.ackTimeout)
	defer timer.Stop()

	select {
	case <-waiter.ch:
		return nil
	case <-waiter.gone:
		return errConnectionGone
	case <-timer.C:
		return ErrDeliveryTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acknowledge records that the subscriber bound to connectionID received
// every event of channel up to seq. An acknowledgment that arrives after
// its push timed out still advances the cursor, but never past the highest
// event actually pushed.
func (d *Dispatcher) Acknowledge(ctx context.Context, connectionID, channel string, seq uint64) error {
	subscriber, ok := d.registry.SubscriberOf(connectionID)
	if !ok {
		return registry.ErrNotBound
	}
	key := backpressure.StreamKey{Subscriber: subscriber, Channel: channel}

	d.mu.Lock()
	if w, ok := d.acks[key]; ok && seq >= w.seq {
		select {
		case w.ch <- seq:
		default:
		}
		d.mu.Unlock()
		return nil
	}
	seq = min(seq, d.pushed[key])
	d.mu.Unlock()

	if seq == 0 {
		return nil
	}
	return d.registry.AdvanceCursor(ctx, subscriber, channel, seq)
}

// Handle translates a transport signal into registry and stream operations.
func (d *Dispatcher) Handle(ctx context.Context, sig gateway.Signal) error {
	switch s := sig.(type) {
	case gateway.Connected:
		return d.connect(ctx, s.ConnectionID, s.SubscriberID)
	case gateway.Disconnected:
		return d.disconnect(ctx, s.ConnectionID)
	case gateway.Subscribed:
		sub, ok := d.registry.SubscriberOf(s.ConnectionID)
		if !ok {
			return registry.ErrNotBound
		}
		return d.Subscribe(ctx, sub, s.Channel)
	case gateway.Unsubscribed:
		sub, ok := d.registry.SubscriberOf(s.ConnectionID)
		if !ok {
			return registry.ErrNotBound
		}
		return d.Unsubscribe(ctx, sub, s.Channel)
	case gateway.Acknowledged:
		return d.Acknowledge(ctx, s.ConnectionID, s.Channel, s.Seq)
	case gateway.Resumed:
		sub, ok := d.registry.SubscriberOf(s.ConnectionID)
		if !ok {
			return registry.ErrNotBound
		}
		return d.Resume(ctx, sub)
	default:
		return gateway.ErrUnknownSignal
	}
}

func (d *Dispatcher) connect(ctx context.Context, connectionID, subscriberID string) error {
	first, err := d.registry.Bind(ctx, connectionID, subscriberID)
	if err != nil {
		return err
	}

	if first {
		d.logger.LogAttrs(ctx, slog.LevelInfo, "Subscriber online",
			logger.SubscriberID(subscriberID),
			logger.ConnectionID(connectionID),
		)
	}
	return d.Resume(ctx, subscriberID)
}

func (d *Dispatcher) disconnect(ctx context.Context, connectionID string) error {
	subscriberID, last, err := d.registry.Unbind(ctx, connectionID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	for _, w := range d.acks {
		if w.conn == connectionID && !w.departed {
			w.departed = true
			close(w.gone)
		}
	}
	if !last {
		d.mu.Unlock()
		return nil
	}
	d.controller.Suspend(subscriberID)
	if scope, ok := d.scopes[subscriberID]; ok {
		scope.cancel()
		delete(d.scopes, subscriberID)
	}
	d.mu.Unlock()

	d.logger.LogAttrs(ctx, slog.LevelInfo, "Subscriber offline, streams suspended",
		logger.SubscriberID(subscriberID),
		logger.ConnectionID(connectionID),
	)
	return nil
}

// Subscribe adds channel to the subscriber and starts delivering it.
func (d *Dispatcher) Subscribe(ctx context.Context, subscriberID, channel string) error {
	changed, err := d.registry.Subscribe(ctx, subscriberID, channel)
	if err != nil {
		return err
	}
	if changed {
		d.kick(backpressure.StreamKey{Subscriber: subscriberID, Channel: channel})
	}
	return nil
}

// Unsubscribe removes channel from the subscriber and drops its stream state.
func (d *Dispatcher) Unsubscribe(ctx context.Context, subscriberID, channel string) error {
	if _, err := d.registry.Unsubscribe(ctx, subscriberID, channel); err != nil {
		return err
	}

	key := backpressure.StreamKey{Subscriber: subscriberID, Channel: channel}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.controller.Forget(key)
	delete(d.pushed, key)
	return nil
}

// Refresh reloads the subscriber's subscriptions after another instance
// changed them. Streams of dropped channels are forgotten and added
// channels are caught up from their cursors.
func (d *Dispatcher) Refresh(ctx context.Context, subscriberID string) error {
	removed, err := d.registry.Reload(ctx, subscriberID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	for _, channel := range removed {
		key := backpressure.StreamKey{Subscriber: subscriberID, Channel: channel}
		d.controller.Forget(key)
		delete(d.pushed, key)
	}
	d.mu.Unlock()

	if len(d.registry.Connections(subscriberID)) == 0 {
		return nil
	}
	return d.kickSubscriber(ctx, subscriberID)
}

// Resume lifts the suspension of the subscriber's streams and runs a
// catch-up pass from the durable cursors.
func (d *Dispatcher) Resume(ctx context.Context, subscriberID string) error {
	d.mu.Lock()
	resumed := d.controller.Resume(subscriberID)
	d.mu.Unlock()

	if len(resumed) > 0 {
		d.logger.LogAttrs(ctx, slog.LevelDebug, "Streams resumed",
			logger.SubscriberID(subscriberID),
			slog.Int("streams", len(resumed)),
		)
	}
	return d.kickSubscriber(ctx, subscriberID)
}

// Streams reports the delivery state of the subscriber's known streams.
func (d *Dispatcher) Streams(subscriberID string) []backpressure.Status {
	return d.controller.Streams(subscriberID)
}

// Status reports the delivery state of one stream.
func (d *Dispatcher) Status(subscriberID, channel string) backpressure.Status {
	return d.controller.Status(backpressure.StreamKey{Subscriber: subscriberID, Channel: channel})
}

// IsDeliveryTimeout reports whether err is a timed out delivery.
func IsDeliveryTimeout(err error) bool {
	return errors.Is(err, ErrDeliveryTimeout)
}
