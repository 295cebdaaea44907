// Package httpserver wraps net/http with graceful shutdown, env-driven
// configuration and health-check handlers.
//
// Run binds the listener, serves until ctx is cancelled and then shuts the
// server down within the configured deadline. It fits an errgroup:
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// The default write timeout is zero because the server carries long-lived
// SSE streams; WebSocket connections are hijacked and unaffected.
//
// Run wraps listen errors with ErrStart and Shutdown wraps shutdown errors
// with ErrShutdown. Use errors.Is to distinguish them.
package httpserver
