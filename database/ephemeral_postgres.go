package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/stapelberg/postgrestest"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// SetupEphemeralPostgresDatabase starts a throwaway PostgreSQL server and
// returns a repository whose Close also tears the server down.
func SetupEphemeralPostgresDatabase(ctx context.Context) (*BunDB, error) {
	Logger.Info("Starting ephemeral PostgreSQL server...")

	// Uses a temporary directory by default for simplicity
	pgt, err := postgrestest.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start ephemeral postgres: %w", err)
	}

	dsn, err := pgt.CreateDatabase(ctx)
	if err != nil {
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to create vidfrompdf database: %w", err)
	}
	Logger.Info("Created ephemeral database", "dsn", dsn)

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to open vidfrompdf database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo, err := openBunDB(sqlDB, pgdialect.New(), "ephemeral")
	if err != nil {
		pgt.Cleanup()
		return nil, err
	}
	repo.server = pgt
	return repo, nil
}
