// Package requestid attaches a correlation ID to every HTTP request.
//
// The middleware reuses a valid client-supplied X-Request-ID header or mints
// a new UUID, stores it in the request context and echoes it in the response.
// LoggerExtractor plugs the ID into logger.WithContextExtractors so every log
// record written with the request context carries it:
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
package requestid
