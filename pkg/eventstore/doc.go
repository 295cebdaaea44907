// Package eventstore provides the durable, append-only log of notification
// events that every delivery is read from.
//
// Each channel owns an independent sequence. The first append to an unknown
// channel creates it, and every append is assigned the next sequence number
// for that channel: sequences start at 1, grow by exactly one and never skip a
// value, even under concurrent producers.
//
// # Reading
//
// ReadFrom returns a lazy iter.Seq2 over all events with a sequence number
// greater than the given cursor. Backends page internally, so a consumer that
// stops early never loads the rest of the channel. The returned sequence can
// be ranged over more than once; each pass starts from the original cursor.
//
//	for ev, err := range store.ReadFrom(ctx, "orders", cursor) {
//		if err != nil {
//			return err
//		}
//		// deliver ev
//	}
//
// # Publish hook
//
// Notifying decorates any Store and invokes hooks after each successful
// append. The dispatcher registers its Notify method here, which only marks
// the channel dirty; events themselves are always pulled with ReadFrom.
//
// # Backends
//
//   - MemoryStore keeps everything in process memory.
//   - MongoStore persists channels and events in MongoDB with a unique
//     (channel, seq) index.
//   - PostgresStore persists to PostgreSQL and assigns sequence numbers inside
//     a transaction using the channel row as the serialization point.
//
// Any driver failure is reported as ErrStoreUnavailable joined with the cause.
package eventstore
