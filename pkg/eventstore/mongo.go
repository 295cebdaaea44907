package eventstore

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/notification-service/pkg/cache"
	"github.com/dmitrymomot/notification-service/pkg/logger"
)

const (
	mongoChannelsCollection = "channels"
	mongoEventsCollection   = "events"

	// Bounded so a misbehaving peer cannot pin an appender forever.
	maxAppendConflicts = 16
	knownChannelsSize  = 4096
)

type mongoChannel struct {
	ID        string    `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
}

type mongoEvent struct {
	Channel   string    `bson:"channel"`
	Seq       int64     `bson:"seq"`
	Payload   []byte    `bson:"payload"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d mongoEvent) event() Event {
	return Event{
		Channel:   d.Channel,
		Seq:       uint64(d.Seq),
		Payload:   d.Payload,
		CreatedAt: d.CreatedAt,
	}
}

// MongoStore persists the event log in MongoDB.
//
// Sequence numbers are assigned optimistically: the next value is derived
// from the newest stored event and inserted under a unique (channel, seq)
// index. A duplicate-key conflict means another writer won the slot, so the
// append re-reads and retries. A sequence number exists only if its insert
// succeeded, so readers never observe a gap.
type MongoStore struct {
	db       *mongo.Database
	channels *mongo.Collection
	events   *mongo.Collection
	known    *cache.LRU[string, Channel]
	locks    *channelLocks
	opts     storeOptions
}

// NewMongoStore creates the store and ensures its indexes exist.
func NewMongoStore(ctx context.Context, db *mongo.Database, opts ...Option) (*MongoStore, error) {
	s := &MongoStore{
		db:       db,
		channels: db.Collection(mongoChannelsCollection),
		events:   db.Collection(mongoEventsCollection),
		known:    cache.NewLRU[string, Channel](knownChannelsSize),
		locks:    newChannelLocks(),
		opts:     newOptions(opts...),
	}

	_, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "channel", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	return s, nil
}

func (s *MongoStore) Append(ctx context.Context, channel string, payload []byte) (Event, error) {
	if err := validateChannel(channel); err != nil {
		return Event{}, err
	}

	// Local appenders queue here; the unique index arbitrates between processes.
	unlock := s.locks.lock(channel)
	defer unlock()

	if _, err := s.ensureChannel(ctx, channel); err != nil {
		return Event{}, err
	}

	for attempt := range maxAppendConflicts {
		last, err := s.lastSeq(ctx, channel)
		if err != nil {
			return Event{}, err
		}

		doc := mongoEvent{
			Channel:   channel,
			Seq:       int64(last + 1),
			Payload:   payload,
			CreatedAt: s.opts.now().UTC(),
		}
		_, err = s.events.InsertOne(ctx, doc)
		if err == nil {
			return doc.event(), nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return Event{}, errors.Join(ErrStoreUnavailable, err)
		}

		s.opts.logger.LogAttrs(ctx, slog.LevelDebug, "Sequence conflict, retrying append",
			logger.Channel(channel),
			logger.Seq(last+1),
			logger.RetryCount(attempt+1),
		)
	}

	return Event{}, errors.Join(ErrStoreUnavailable, errors.New("too many concurrent appenders"))
}

func (s *MongoStore) ReadFrom(ctx context.Context, channel string, afterSeq uint64) iter.Seq2[Event, error] {
	return paginate(ctx, afterSeq, s.opts.pageSize, func(ctx context.Context, after uint64, limit int) ([]Event, error) {
		cur, err := s.events.Find(ctx,
			bson.D{
				{Key: "channel", Value: channel},
				{Key: "seq", Value: bson.D{{Key: "$gt", Value: int64(after)}}},
			},
			options.Find().
				SetSort(bson.D{{Key: "seq", Value: 1}}).
				SetLimit(int64(limit)),
		)
		if err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}

		var docs []mongoEvent
		if err := cur.All(ctx, &docs); err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}

		events := make([]Event, 0, len(docs))
		for _, d := range docs {
			events = append(events, d.event())
		}
		return events, nil
	})
}

func (s *MongoStore) Channel(ctx context.Context, id string) (Channel, error) {
	if ch, ok := s.known.Get(id); ok {
		return ch, nil
	}

	var doc mongoChannel
	err := s.channels.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, errors.Join(ErrStoreUnavailable, err)
	}

	ch := Channel{ID: doc.ID, CreatedAt: doc.CreatedAt}
	s.known.Add(id, ch)
	return ch, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// ensureChannel upserts the channel document once per process lifetime.
func (s *MongoStore) ensureChannel(ctx context.Context, id string) (Channel, error) {
	if ch, ok := s.known.Get(id); ok {
		return ch, nil
	}

	var doc mongoChannel
	upsert := func() error {
		return s.channels.FindOneAndUpdate(ctx,
			bson.D{{Key: "_id", Value: id}},
			bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: s.opts.now().UTC()}}}},
			options.FindOneAndUpdate().
				SetUpsert(true).
				SetReturnDocument(options.After),
		).Decode(&doc)
	}

	err := upsert()
	// Two first appends racing on the same channel: the loser sees a duplicate
	// key and the document is there on the second try.
	if mongo.IsDuplicateKeyError(err) {
		err = upsert()
	}
	if err != nil {
		return Channel{}, errors.Join(ErrStoreUnavailable, err)
	}

	ch := Channel{ID: doc.ID, CreatedAt: doc.CreatedAt}
	s.known.Add(id, ch)
	return ch, nil
}

func (s *MongoStore) lastSeq(ctx context.Context, channel string) (uint64, error) {
	var doc mongoEvent
	err := s.events.FindOne(ctx,
		bson.D{{Key: "channel", Value: channel}},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return uint64(doc.Seq), nil
}
