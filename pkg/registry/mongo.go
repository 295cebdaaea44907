package registry

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	mongoSubscriptionsCollection = "subscriptions"
	mongoCursorsCollection       = "cursors"
)

type mongoSubscription struct {
	ID       string   `bson:"_id"`
	Channels []string `bson:"channels"`
}

type mongoCursor struct {
	Subscriber string    `bson:"subscriber"`
	Channel    string    `bson:"channel"`
	Seq        int64     `bson:"seq"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// MongoSubscriberStore persists subscriptions and cursors in MongoDB.
type MongoSubscriberStore struct {
	db            *mongo.Database
	subscriptions *mongo.Collection
	cursors       *mongo.Collection
}

// NewMongoSubscriberStore creates the store and ensures its indexes exist.
func NewMongoSubscriberStore(ctx context.Context, db *mongo.Database) (*MongoSubscriberStore, error) {
	s := &MongoSubscriberStore{
		db:            db,
		subscriptions: db.Collection(mongoSubscriptionsCollection),
		cursors:       db.Collection(mongoCursorsCollection),
	}

	_, err := s.cursors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "subscriber", Value: 1}, {Key: "channel", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoSubscriberStore) Load(ctx context.Context, subscriberID string) (Subscriber, error) {
	sub := Subscriber{ID: subscriberID, Cursors: make(map[string]uint64)}

	var doc mongoSubscription
	err := s.subscriptions.FindOne(ctx, bson.D{{Key: "_id", Value: subscriberID}}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return Subscriber{}, err
	default:
		sub.Channels = slices.Sorted(slices.Values(doc.Channels))
	}

	cur, err := s.cursors.Find(ctx, bson.D{{Key: "subscriber", Value: subscriberID}})
	if err != nil {
		return Subscriber{}, err
	}
	var cursors []mongoCursor
	if err := cur.All(ctx, &cursors); err != nil {
		return Subscriber{}, err
	}
	for _, c := range cursors {
		sub.Cursors[c.Channel] = uint64(c.Seq)
	}

	return sub, nil
}

func (s *MongoSubscriberStore) AddChannel(ctx context.Context, subscriberID, channel string) error {
	_, err := s.subscriptions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: subscriberID}},
		bson.D{{Key: "$addToSet", Value: bson.D{{Key: "channels", Value: channel}}}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (s *MongoSubscriberStore) RemoveChannel(ctx context.Context, subscriberID, channel string) error {
	_, err := s.subscriptions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: subscriberID}},
		bson.D{{Key: "$pull", Value: bson.D{{Key: "channels", Value: channel}}}},
	)
	return err
}

// SaveCursor upserts the cursor only where the stored value is lower. When
// the stored cursor is already ahead the filter misses, the upsert collides
// with the unique index, and the duplicate key is the expected no-op.
func (s *MongoSubscriberStore) SaveCursor(ctx context.Context, subscriberID, channel string, seq uint64) error {
	_, err := s.cursors.UpdateOne(ctx,
		bson.D{
			{Key: "subscriber", Value: subscriberID},
			{Key: "channel", Value: channel},
			{Key: "seq", Value: bson.D{{Key: "$lt", Value: int64(seq)}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "seq", Value: int64(seq)},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *MongoSubscriberStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}
