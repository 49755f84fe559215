package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const jobDefinitionColumns = `task_key, cron_expression, is_active, label, description, updated_at`

func scanJobDefinition(row pgx.Row) (*JobDefinition, error) {
	var def JobDefinition
	if err := row.Scan(&def.TaskKey, &def.CronExpression, &def.IsActive, &def.Label,
		&def.Description, &def.UpdatedAt); err != nil {
		return nil, err
	}
	return &def, nil
}

// ListJobDefinitions retrieves all job definitions ordered by key
func (db *DB) ListJobDefinitions(ctx context.Context) ([]JobDefinition, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobDefinitionColumns+` FROM job_definitions ORDER BY task_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list job definitions: %w", err)
	}
	defer rows.Close()

	var defs []JobDefinition
	for rows.Next() {
		def, err := scanJobDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job definition: %w", err)
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// GetJobDefinition retrieves one job definition by key
func (db *DB) GetJobDefinition(ctx context.Context, key string) (*JobDefinition, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+jobDefinitionColumns+` FROM job_definitions WHERE task_key = $1`, key)
	def, err := scanJobDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job definition %s: %w", key, err)
	}
	return def, nil
}

// UpsertJobDefinition creates or updates a job definition by key
func (db *DB) UpsertJobDefinition(ctx context.Context, def JobDefinition) (*JobDefinition, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO job_definitions (task_key, cron_expression, is_active, label, description)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (task_key) DO UPDATE
		 SET cron_expression = EXCLUDED.cron_expression, is_active = EXCLUDED.is_active,
		     label = EXCLUDED.label, description = EXCLUDED.description, updated_at = NOW()
		 RETURNING `+jobDefinitionColumns,
		def.TaskKey, def.CronExpression, def.IsActive, def.Label, def.Description,
	)
	saved, err := scanJobDefinition(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert job definition %s: %w", def.TaskKey, err)
	}
	return saved, nil
}

// SeedJobDefinitions inserts defs when the table is empty. It reports whether
// anything was written.
func (db *DB) SeedJobDefinitions(ctx context.Context, defs []JobDefinition) (bool, error) {
	seeded := false
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM job_definitions`).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, def := range defs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO job_definitions (task_key, cron_expression, is_active, label, description)
				 VALUES ($1, $2, $3, $4, $5)`,
				def.TaskKey, def.CronExpression, def.IsActive, def.Label, def.Description,
			); err != nil {
				return err
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to seed job definitions: %w", err)
	}
	return seeded, nil
}
