// Package mongo opens MongoDB connections for the Mongo-backed event and
// subscriber stores.
//
// Configuration is environment driven. MONGODB_URI takes precedence over
// MONGODB_URL, and the default URL matches the compose setup the service has
// always shipped with.
//
//	var cfg mongo.Config
//	config.MustLoad(&cfg)
//
//	db, err := mongo.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.Background())
//
// Healthcheck turns the client into a readiness probe.
package mongo
