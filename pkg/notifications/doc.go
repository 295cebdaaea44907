// Package notifications is the producer-facing façade of the delivery engine.
//
// A Manager ties together the durable event store, the subscription
// registry and the delivery dispatcher. Producers publish through it, admin
// surfaces read subscriber status from it, and transports that cannot carry
// acknowledgements in-band (SSE) report them through it.
//
// # Basic Usage
//
//	store := eventstore.NewMemoryStore()
//	reg := registry.New(registry.NewMemorySubscriberStore())
//	hub := gateway.NewHub()
//	d := dispatcher.New(store, reg, hub)
//
//	manager := notifications.NewManager(store, reg, d)
//
//	ev, err := manager.Publish(ctx, "alerts", []byte(`{"msg":"disk full"}`))
//
// # Multiple Instances
//
// Every append wakes the local dispatcher. When several processes share one
// store, give each Manager the same Bus (for example a Redis broadcaster) so
// an append on one instance also wakes the dispatchers of its peers:
//
//	bus := broadcast.NewRedisBroadcaster[notifications.Signal](client, "notifications:dirty")
//	manager := notifications.NewManager(store, reg, d, notifications.WithBus(bus))
//
//	g.Go(manager.Run(ctx))
//
// Bus signals carry only a channel name or a subscriber ID. Peers pull the
// events themselves, so a lost append signal delays delivery until the
// dispatcher's next sweep but never loses an event. A subscription change
// makes peers holding that subscriber reload its subscriptions from the
// shared store. Hand transports the Manager, not the dispatcher, as their
// gateway.Handler so changes made over a connection are announced too.
package notifications
