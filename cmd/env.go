package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/cache"
	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/db"
	"github.com/sells-group/org-directory/internal/model"
	"github.com/sells-group/org-directory/internal/pipeline"
	"github.com/sells-group/org-directory/internal/store"
)

// openCheckpoints opens the checkpoint directory from config.
func openCheckpoints() (*checkpoint.Store, error) {
	return checkpoint.New(cfg.Checkpoint.Dir, model.Canonical().Version())
}

// openCache opens the response cache, or returns nil when caching is
// disabled.
func openCache() (cache.Backend, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	b, err := cache.Open(cache.Config{Driver: cfg.Cache.Driver, Path: cfg.Cache.Path})
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	return b, nil
}

// initStore opens and migrates the run log.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open run store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate run store")
	}
	return st, nil
}

// initSink connects to Postgres when postgres.database_url is set. The
// returned close func is never nil.
func initSink(ctx context.Context) (pipeline.Sink, func(), error) {
	if cfg.Postgres.DatabaseURL == "" {
		return nil, func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.Postgres.DatabaseURL)
	if err != nil {
		return nil, func() {}, err
	}
	table := cfg.Postgres.Table
	zap.L().Info("postgres sink enabled", zap.String("table", table))
	sink := func(ctx context.Context, records model.Batch) (int64, error) {
		return db.LoadOrganizations(ctx, pool, table, records)
	}
	return sink, pool.Close, nil
}
