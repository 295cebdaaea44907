// Package logger builds the service's *slog.Logger and provides attribute
// helpers so that every component logs channels, subscribers and
// connections under the same keys.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "notification-service"),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.LogAttrs(ctx, slog.LevelWarn, "Delivery failed",
//		logger.SubscriberID(sub),
//		logger.Channel(channel),
//		logger.Error(err),
//	)
package logger
