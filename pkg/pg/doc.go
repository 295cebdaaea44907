// Package pg connects the service to PostgreSQL with pgx/v5 and applies the
// embedded goose migrations that back the Postgres event and subscriber stores.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations.Postgres, migrations.PostgresDir, cfg, log); err != nil {
//		return err
//	}
package pg
