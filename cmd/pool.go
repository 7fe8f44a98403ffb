package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/fibregrid/fieldlink/internal/db"
	"github.com/fibregrid/fieldlink/internal/store"
)

// openStore opens the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres", "":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: no database_url configured (set store.database_url or FIELDLINK_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: no database_url configured (set store.database_url to a sqlite path)")
		}
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q (postgres or sqlite)", cfg.Store.Driver)
	}
}

// openPostgresPool opens the store and returns its raw pool for subsystems
// that run their own queries. Reporting joins across source and link tables,
// which only the Postgres backend exposes.
func openPostgresPool(ctx context.Context) (db.Pool, func(), error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	pg, ok := st.(*store.PostgresStore)
	if !ok {
		_ = st.Close()
		return nil, nil, eris.New("store: this command requires the postgres driver")
	}
	return pg.Pool(), func() { _ = pg.Close() }, nil
}
