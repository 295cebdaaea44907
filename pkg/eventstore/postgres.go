package eventstore

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notification-service/pkg/pg"
)

// PostgresStore persists the event log in PostgreSQL.
//
// Append increments channels.last_seq with UPDATE ... RETURNING inside the
// same transaction that inserts the event. The row lock on the channel
// serializes appenders, and a rollback releases the number without leaving
// a gap. Schema lives in migrations/postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts storeOptions
}

// NewPostgresStore creates a store on an already migrated database.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, opts: newOptions(opts...)}
}

func (s *PostgresStore) Append(ctx context.Context, channel string, payload []byte) (Event, error) {
	if err := validateChannel(channel); err != nil {
		return Event{}, err
	}
	if payload == nil {
		payload = []byte{}
	}

	ev := Event{
		Channel:   channel,
		Payload:   payload,
		CreatedAt: s.opts.now().UTC(),
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO channels (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			channel, ev.CreatedAt,
		); err != nil {
			return err
		}

		var seq int64
		if err := tx.QueryRow(ctx,
			`UPDATE channels SET last_seq = last_seq + 1 WHERE id = $1 RETURNING last_seq`,
			channel,
		).Scan(&seq); err != nil {
			return err
		}
		ev.Seq = uint64(seq)

		_, err := tx.Exec(ctx,
			`INSERT INTO events (channel, seq, payload, created_at) VALUES ($1, $2, $3, $4)`,
			channel, seq, payload, ev.CreatedAt,
		)
		return err
	})
	if err != nil {
		return Event{}, errors.Join(ErrStoreUnavailable, err)
	}

	return ev, nil
}

func (s *PostgresStore) ReadFrom(ctx context.Context, channel string, afterSeq uint64) iter.Seq2[Event, error] {
	return paginate(ctx, afterSeq, s.opts.pageSize, func(ctx context.Context, after uint64, limit int) ([]Event, error) {
		rows, err := s.pool.Query(ctx,
			`SELECT channel, seq, payload, created_at FROM events
			 WHERE channel = $1 AND seq > $2
			 ORDER BY seq
			 LIMIT $3`,
			channel, int64(after), limit,
		)
		if err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}

		events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
			var (
				ev  Event
				seq int64
			)
			err := row.Scan(&ev.Channel, &seq, &ev.Payload, &ev.CreatedAt)
			ev.Seq = uint64(seq)
			return ev, err
		})
		if err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		return events, nil
	})
}

func (s *PostgresStore) Channel(ctx context.Context, id string) (Channel, error) {
	var (
		ch        Channel
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT id, created_at FROM channels WHERE id = $1`, id).Scan(&ch.ID, &createdAt)
	if pg.IsNotFoundError(err) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, errors.Join(ErrStoreUnavailable, err)
	}
	ch.CreatedAt = createdAt
	return ch, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
