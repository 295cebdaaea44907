// Package broadcast provides type-safe one-to-many messaging between
// service components and between service instances.
//
// The notification service uses it as the "channel dirty" bus: after an
// append, the instance that stored the event broadcasts the channel name
// and every instance with live subscribers runs a dispatch pass for it.
// Signals are idempotent, so a slow consumer loses messages rather than
// blocking the publisher; the dispatcher's periodic sweep covers anything
// dropped.
//
// Two implementations share the Broadcaster interface:
//
//	// single process
//	b := broadcast.NewMemoryBroadcaster[Signal](64)
//
//	// across instances, through Redis pub/sub
//	b := broadcast.NewRedisBroadcaster[Signal](client, "notifications:dirty")
//
//	sub := b.Subscribe(ctx)
//	defer sub.Close()
//	for msg := range sub.Receive(ctx) {
//		handle(msg.Data)
//	}
package broadcast
