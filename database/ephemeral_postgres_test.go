package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestEphemeralPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ephemeral PostgreSQL in short mode")
	}

	Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t.Log("Attempting to start postgrestest server...")
	db, err := SetupEphemeralPostgresDatabase(ctx)
	if err != nil {
		// postgrestest needs initdb and postgres on PATH
		t.Skipf("Ephemeral postgres unavailable: %v", err)
	}
	defer db.Close()

	t.Log("Ephemeral PostgreSQL server started successfully!")
	exerciseRepository(t, db)
}
