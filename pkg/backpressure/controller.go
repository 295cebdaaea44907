package backpressure

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/logger"
	"github.com/dmitrymomot/notification-service/pkg/statemachine"
)

// State of a (subscriber, channel) delivery stream.
type State string

const (
	StateIdle       State = "idle"
	StateDelivering State = "delivering"
	StateWaiting    State = "waiting"
	StateSuspended  State = "suspended"
)

type trigger string

const (
	triggerBegin   trigger = "begin"
	triggerFinish  trigger = "finish"
	triggerFail    trigger = "fail"
	triggerSuspend trigger = "suspend"
	triggerResume  trigger = "resume"
)

// StreamKey identifies one logical delivery stream.
type StreamKey struct {
	Subscriber string
	Channel    string
}

// Attempt is the in-flight retry record of a stream. It lives only in
// memory and is cleared on success, resume or forget.
type Attempt struct {
	Subscriber string
	Channel    string
	Event      eventstore.Event
	Attempts   int
	NextRetry  time.Time
	LastError  error
}

// Status is a point-in-time view of a stream.
type Status struct {
	Key     StreamKey
	State   State
	Attempt Attempt
}

type stream struct {
	key     StreamKey
	machine *statemachine.Machine[State, trigger]
	attempt Attempt
	timer   *time.Timer
}

func (s *stream) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *stream) clearAttempt() {
	s.stopTimer()
	s.attempt = Attempt{Subscriber: s.key.Subscriber, Channel: s.key.Channel}
}

// Controller tracks every stream's state machine and schedules retries.
// It never delivers anything itself: when a retry is due it calls the
// function registered with WithRetryFunc.
type Controller struct {
	mu      sync.Mutex
	policy  Policy
	streams map[StreamKey]*stream
	onRetry func(StreamKey)
	logger  *slog.Logger
	closed  bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithRetryFunc sets the callback invoked when a waiting stream is due.
func WithRetryFunc(fn func(StreamKey)) Option {
	return func(c *Controller) {
		c.onRetry = fn
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a controller. Zero policy fields fall back to DefaultPolicy.
func New(policy Policy, opts ...Option) *Controller {
	c := &Controller{
		policy:  policy.normalized(),
		streams: make(map[StreamKey]*stream),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Policy() Policy {
	return c.policy
}

func (c *Controller) newMachine() *statemachine.Machine[State, trigger] {
	type opt = statemachine.Option[State, trigger]

	opts := []opt{
		statemachine.WithTransition[State, trigger](StateIdle, StateDelivering, triggerBegin),
		statemachine.WithTransition[State, trigger](StateWaiting, StateDelivering, triggerBegin,
			statemachine.WithGuard[State, trigger](c.retryDue),
			statemachine.WithAction[State, trigger](func(_ context.Context, _, _ State, _ trigger, data any) error {
				data.(*stream).stopTimer()
				return nil
			}),
		),
		statemachine.WithTransition[State, trigger](StateDelivering, StateIdle, triggerFinish),
		// Order matters: exhaustion is checked before scheduling another retry.
		statemachine.WithTransition[State, trigger](StateDelivering, StateSuspended, triggerFail,
			statemachine.WithGuard[State, trigger](c.exhausted),
		),
		statemachine.WithTransition[State, trigger](StateDelivering, StateWaiting, triggerFail,
			statemachine.WithAction[State, trigger](c.scheduleRetry),
		),
		statemachine.WithTransition[State, trigger](StateSuspended, StateIdle, triggerResume),
	}
	for _, from := range []State{StateIdle, StateDelivering, StateWaiting} {
		opts = append(opts, statemachine.WithTransition[State, trigger](from, StateSuspended, triggerSuspend))
	}

	return statemachine.New(StateIdle, opts...)
}

func (c *Controller) retryDue(_ context.Context, _ State, _ trigger, data any) bool {
	return !time.Now().Before(data.(*stream).attempt.NextRetry)
}

func (c *Controller) exhausted(_ context.Context, _ State, _ trigger, data any) bool {
	return data.(*stream).attempt.Attempts >= c.policy.MaxAttempts
}

func (c *Controller) scheduleRetry(_ context.Context, _, _ State, _ trigger, data any) error {
	s := data.(*stream)
	delay := c.policy.Delay(s.attempt.Attempts)
	s.attempt.NextRetry = time.Now().Add(delay)

	key := s.key
	s.stopTimer()
	s.timer = time.AfterFunc(delay, func() { c.retry(key) })
	return nil
}

func (c *Controller) retry(key StreamKey) {
	c.mu.Lock()
	closed, fn := c.closed, c.onRetry
	c.mu.Unlock()

	if !closed && fn != nil {
		fn(key)
	}
}

// Must be called with lock held.
func (c *Controller) stream(key StreamKey) *stream {
	s, ok := c.streams[key]
	if !ok {
		s = &stream{key: key, machine: c.newMachine()}
		s.attempt = Attempt{Subscriber: key.Subscriber, Channel: key.Channel}
		c.streams[key] = s
	}
	return s
}

func (c *Controller) fire(s *stream, t trigger) error {
	return s.machine.Fire(context.Background(), t, s)
}

// TryBegin moves the stream into Delivering. It fails when a push is already
// in flight, the stream is suspended, or a scheduled retry is not yet due.
func (c *Controller) TryBegin(key StreamKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	return c.fire(c.stream(key), triggerBegin) == nil
}

// Active reports whether the stream is currently Delivering.
func (c *Controller) Active(key StreamKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[key]
	return ok && s.machine.Current() == StateDelivering
}

// Succeeded records an acknowledged event and resets the failure count.
func (c *Controller) Succeeded(key StreamKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.streams[key]; ok && s.machine.Current() == StateDelivering {
		s.clearAttempt()
	}
}

// Finish returns a Delivering stream to Idle once it has caught up.
func (c *Controller) Finish(key StreamKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.streams[key]; ok {
		_ = c.fire(s, triggerFinish)
	}
}

// Failed records a failed delivery of ev. The stream moves to Waiting with a
// retry scheduled, or to Suspended once MaxAttempts consecutive failures
// have been recorded. Failures reported for a stream that is no longer
// Delivering are ignored.
func (c *Controller) Failed(key StreamKey, ev eventstore.Event, cause error) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[key]
	if !ok {
		return StateIdle
	}
	if s.machine.Current() != StateDelivering {
		return s.machine.Current()
	}

	s.attempt.Attempts++
	s.attempt.Event = ev
	s.attempt.LastError = cause

	if err := c.fire(s, triggerFail); err != nil {
		c.logger.LogAttrs(context.Background(), slog.LevelError, "Failed to record delivery failure",
			logger.SubscriberID(key.Subscriber),
			logger.Channel(key.Channel),
			logger.Error(err),
		)
		return s.machine.Current()
	}

	state := s.machine.Current()
	if state == StateSuspended {
		s.attempt.NextRetry = time.Time{}
		s.attempt.LastError = errors.Join(ErrRetryExhausted, cause)
		c.logger.LogAttrs(context.Background(), slog.LevelWarn, "Stream suspended after exhausting retries",
			logger.SubscriberID(key.Subscriber),
			logger.Channel(key.Channel),
			logger.Seq(ev.Seq),
			logger.RetryCount(s.attempt.Attempts),
			logger.Error(cause),
		)
		return state
	}

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "Delivery failed, retry scheduled",
		logger.SubscriberID(key.Subscriber),
		logger.Channel(key.Channel),
		logger.Seq(ev.Seq),
		logger.RetryCount(s.attempt.Attempts),
		logger.Duration(time.Until(s.attempt.NextRetry)),
		logger.Error(cause),
	)
	return state
}

// Suspend parks every stream of subscriber and cancels pending retries.
// The unacknowledged event remains in the log and is redelivered after Resume.
func (c *Controller) Suspend(subscriber string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, s := range c.streams {
		if key.Subscriber != subscriber {
			continue
		}
		s.stopTimer()
		_ = c.fire(s, triggerSuspend)
	}
}

// Resume moves the suspended streams of subscriber back to Idle and clears
// their attempt records. It returns the streams that were resumed.
func (c *Controller) Resume(subscriber string) []StreamKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resumed []StreamKey
	for key, s := range c.streams {
		if key.Subscriber != subscriber {
			continue
		}
		if c.fire(s, triggerResume) == nil {
			s.clearAttempt()
			resumed = append(resumed, key)
		}
	}
	return resumed
}

// Forget drops all state of a stream, e.g. after an unsubscribe.
func (c *Controller) Forget(key StreamKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.streams[key]; ok {
		s.stopTimer()
		delete(c.streams, key)
	}
}

// Status reports the stream state. Unknown streams are Idle.
func (c *Controller) Status(key StreamKey) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[key]
	if !ok {
		return Status{Key: key, State: StateIdle, Attempt: Attempt{Subscriber: key.Subscriber, Channel: key.Channel}}
	}
	return Status{Key: key, State: s.machine.Current(), Attempt: s.attempt}
}

// Streams returns the status of every known stream of subscriber, by channel.
func (c *Controller) Streams(subscriber string) []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Status
	for key, s := range c.streams {
		if key.Subscriber == subscriber {
			out = append(out, Status{Key: key, State: s.machine.Current(), Attempt: s.attempt})
		}
	}
	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.Key.Channel, b.Key.Channel) })
	return out
}

// Close cancels all pending retries. Further TryBegin calls fail.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, s := range c.streams {
		s.stopTimer()
	}
}
