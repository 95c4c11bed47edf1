package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-tracker-sync/pkg/config"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Schema returns the DDL for the given driver.
func Schema(driver string) (string, error) {
	name := "schema/postgres.sql"
	if driver == config.DriverSQLite {
		name = "schema/sqlite.sql"
	}
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read schema %s: %w", name, err)
	}
	return string(raw), nil
}

// Migrate applies the idempotent schema for the connection's driver.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	ddl, err := Schema(db.DriverName())
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
