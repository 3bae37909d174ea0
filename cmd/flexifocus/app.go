package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/jomardyan/FlexiFocus/internal/config"
	"github.com/jomardyan/FlexiFocus/internal/db"
	"github.com/jomardyan/FlexiFocus/internal/repository"
	"github.com/jomardyan/FlexiFocus/internal/store"
)

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.Level()}))
}

// openDatabase opens the configured SQLite file and applies pending
// migrations.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.RunMigrations(database, db.Migrations()); err != nil {
		database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return database, nil
}

// openStore returns the persisted store, or an in-memory one when ephemeral
// is set. The returned close func is always non-nil.
func openStore(cfg *config.Config, logger *slog.Logger, ephemeral bool) (*store.Store, func() error, error) {
	if ephemeral {
		logger.Warn("running with in-memory state; nothing will be persisted")
		return store.New(repository.NewMemoryKV(), logger), func() error { return nil }, nil
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.New(repository.NewKVRepository(database), logger), database.Close, nil
}
