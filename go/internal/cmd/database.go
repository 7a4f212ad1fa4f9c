package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mcdev12/tourney/go/internal/dbconfig"
	"github.com/mcdev12/tourney/go/internal/sqlutil"
)

func setupDatabase(ctx context.Context, cfg dbconfig.Config) (*sql.DB, sqlutil.Dialect, error) {
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, "", err
	}

	database, err := sql.Open(string(dialect), cfg.DSN())
	if err != nil {
		return nil, "", fmt.Errorf("failed to create database connection: %w", err)
	}
	if dialect == sqlutil.SQLite {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		database.SetMaxOpenConns(1)
	}

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, "", fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == sqlutil.SQLite {
		log.Info().Str("path", cfg.Path).Msg("connected to SQLite database")
	} else {
		log.Info().
			Str("user", cfg.User).
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Str("database", cfg.Database).
			Msg("connected to database")
	}
	return database, dialect, nil
}
