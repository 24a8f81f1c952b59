// Package pg bootstraps the PostgreSQL side of the mail queue on top of
// pgx/v5 and goose/v3.
//
// Config is populated from PG_* environment variables. Connect opens a
// *pgxpool.Pool, retrying until the database answers a ping. Migrate runs
// goose migrations from an fs.FS, normally the embed.FS exported by the
// pgstore package, so schema and binary ship together. Healthcheck plugs the
// pool into the HTTP readiness probe.
//
// # Usage
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, cfg, log); err != nil {
//	    return err
//	}
//	store := pgstore.New(pool)
//
// IsNotFoundError maps pgx.ErrNoRows so repositories can translate it into
// their own not-found sentinel.
package pg
