package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notification-service/pkg/logger"
)

// RedisBroadcaster fans messages out to every process subscribed to the same
// Redis pub/sub topic, this one included. Messages are JSON encoded.
type RedisBroadcaster[T any] struct {
	client     redis.UniversalClient
	topic      string
	bufferSize int
	logger     *slog.Logger

	mu     sync.Mutex
	subs   map[*subscriber[T]]*redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

// RedisOption configures a RedisBroadcaster.
type RedisOption func(*redisOptions)

type redisOptions struct {
	bufferSize int
	logger     *slog.Logger
}

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(size int) RedisOption {
	return func(o *redisOptions) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

func WithLogger(l *slog.Logger) RedisOption {
	return func(o *redisOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewRedisBroadcaster creates a broadcaster on topic. The client is owned by
// the caller and is not closed by Close.
func NewRedisBroadcaster[T any](client redis.UniversalClient, topic string, opts ...RedisOption) *RedisBroadcaster[T] {
	o := redisOptions{bufferSize: 64, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisBroadcaster[T]{
		client:     client,
		topic:      topic,
		bufferSize: o.bufferSize,
		logger:     o.logger,
		subs:       make(map[*subscriber[T]]*redis.PubSub),
	}
}

// Subscribe opens a pub/sub subscription and waits until Redis confirms it,
// so messages published after Subscribe returns are not missed.
func (b *RedisBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	sub := newSubscriber[T](b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Close()
		return sub
	}
	ps := b.client.Subscribe(ctx, b.topic)
	sub.onClose = func() {
		_ = ps.Close()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}
	b.subs[sub] = ps
	b.wg.Add(1)
	b.mu.Unlock()

	if _, err := ps.Receive(ctx); err != nil {
		// go-redis keeps reconnecting in the background.
		b.logger.LogAttrs(ctx, slog.LevelWarn, "Redis subscription not confirmed",
			logger.Component("broadcast"),
			slog.String("topic", b.topic),
			logger.Error(err),
		)
	}

	go func() {
		defer b.wg.Done()
		defer sub.Close()
		b.pump(ctx, ps, sub)
	}()

	return sub
}

func (b *RedisBroadcaster[T]) pump(ctx context.Context, ps *redis.PubSub, sub *subscriber[T]) {
	messages := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			var data T
			if err := json.Unmarshal([]byte(m.Payload), &data); err != nil {
				b.logger.LogAttrs(ctx, slog.LevelWarn, "Dropping undecodable broadcast",
					logger.Component("broadcast"),
					slog.String("topic", b.topic),
					logger.Error(err),
				)
				continue
			}
			sub.send(Message[T]{Data: data})
		}
	}
}

// Broadcast publishes msg on the topic.
func (b *RedisBroadcaster[T]) Broadcast(ctx context.Context, msg Message[T]) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBroadcasterClosed
	}

	payload, err := json.Marshal(msg.Data)
	if err != nil {
		return errors.Join(ErrEncodeFailed, err)
	}
	if err := b.client.Publish(ctx, b.topic, payload).Err(); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	return nil
}

// Close closes every subscription. It is safe to call more than once.
func (b *RedisBroadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscriber[T], 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	b.wg.Wait()
	return nil
}
