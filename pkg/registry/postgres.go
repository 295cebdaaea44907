package registry

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSubscriberStore persists subscriptions and cursors in PostgreSQL.
// Schema lives in migrations/postgres.
type PostgresSubscriberStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriberStore(pool *pgxpool.Pool) *PostgresSubscriberStore {
	return &PostgresSubscriberStore{pool: pool}
}

func (s *PostgresSubscriberStore) Load(ctx context.Context, subscriberID string) (Subscriber, error) {
	sub := Subscriber{ID: subscriberID, Cursors: make(map[string]uint64)}

	rows, err := s.pool.Query(ctx,
		`SELECT channel FROM subscriptions WHERE subscriber_id = $1 ORDER BY channel`,
		subscriberID,
	)
	if err != nil {
		return Subscriber{}, err
	}
	sub.Channels, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Subscriber{}, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT channel, seq FROM cursors WHERE subscriber_id = $1`,
		subscriberID,
	)
	if err != nil {
		return Subscriber{}, err
	}
	var (
		channel string
		seq     int64
	)
	_, err = pgx.ForEachRow(rows, []any{&channel, &seq}, func() error {
		sub.Cursors[channel] = uint64(seq)
		return nil
	})
	if err != nil {
		return Subscriber{}, err
	}

	return sub, nil
}

func (s *PostgresSubscriberStore) AddChannel(ctx context.Context, subscriberID, channel string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (subscriber_id, channel) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		subscriberID, channel,
	)
	return err
}

func (s *PostgresSubscriberStore) RemoveChannel(ctx context.Context, subscriberID, channel string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = $1 AND channel = $2`,
		subscriberID, channel,
	)
	return err
}

func (s *PostgresSubscriberStore) SaveCursor(ctx context.Context, subscriberID, channel string, seq uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cursors (subscriber_id, channel, seq, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (subscriber_id, channel)
		 DO UPDATE SET seq = EXCLUDED.seq, updated_at = EXCLUDED.updated_at
		 WHERE cursors.seq < EXCLUDED.seq`,
		subscriberID, channel, int64(seq),
	)
	return err
}

func (s *PostgresSubscriberStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
