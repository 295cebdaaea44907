// Package gateway is the boundary between network transports and the
// delivery engine.
//
// Transports (see the websocket and sse subpackages) attach each live
// session to a Hub as a Conn and report what happens on it as typed Signal
// values handed to a Handler. The dispatcher in turn pushes events back out
// through the Hub, which is the only Transport the engine knows about:
//
//	hub := gateway.NewHub()
//	d := dispatcher.New(store, reg, hub)
//
//	ws := websocket.NewServer(hub, d)
//	router.Handle("/ws", ws)
//
// Wire framing is the transport's business. Frame is the JSON shape every
// bundled transport uses for an event.
package gateway
