package database

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type migration struct {
	version string
	name    string
	up      func(context.Context, *bun.DB) error
}

var migrations = []migration{
	{"001", "create_projects_and_pages", init001CreateProjectTables},
	{"002", "create_jobs_table", init002CreateJobsTable},
}

// runMigrations runs all Bun migrations
func runMigrations(ctx context.Context, db *bun.DB) error {
	// Create a simple migrations tracking table
	_, err := db.NewCreateTable().
		Model((*BunSchemaMigration)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Check which migrations have been applied
	var applied []BunSchemaMigration
	err = db.NewSelect().
		Model(&applied).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to check applied migrations: %w", err)
	}

	appliedMap := make(map[string]bool)
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	for _, m := range migrations {
		if appliedMap[m.version] {
			continue
		}

		Logger.Info("Running migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, db); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.version, err)
		}

		// Mark as applied
		_, err = db.NewInsert().
			Model(&BunSchemaMigration{Version: m.version, Name: m.name, AppliedAt: time.Now()}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark migration %s as applied: %w", m.version, err)
		}
	}

	Logger.Info("All migrations completed successfully")
	return nil
}

// Migration 001: projects and their ordered pages
func init001CreateProjectTables(ctx context.Context, db *bun.DB) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewCreateTable().Model((*BunProject)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create projects: %w", err)
		}
		if _, err := tx.NewCreateTable().Model((*BunPage)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create pages: %w", err)
		}
		_, err := tx.NewCreateIndex().
			Model((*BunProject)(nil)).
			Index("idx_projects_session").
			Column("session").
			IfNotExists().
			Exec(ctx)
		return err
	})
}

// Migration 002: job history for extraction and render runs
func init002CreateJobsTable(ctx context.Context, db *bun.DB) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewCreateTable().Model((*BunJob)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create jobs: %w", err)
		}
		for _, idx := range []struct{ name, column string }{
			{"idx_jobs_status", "status"},
			{"idx_jobs_created_at", "created_at"},
			{"idx_jobs_project_id", "project_id"},
		} {
			_, err := tx.NewCreateIndex().
				Model((*BunJob)(nil)).
				Index(idx.name).
				Column(idx.column).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("create index %s: %w", idx.name, err)
			}
		}
		return nil
	})
}
