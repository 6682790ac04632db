// Package migrations embeds the goose SQL migrations of each storage backend.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS holds one directory of migrations per dialect
//
//go:embed clickhouse/*.sql postgres/*.sql
var FS embed.FS

const (
	ClickHouseDir = "clickhouse"
	PostgresDir   = "postgres"
)

// Dir returns the migrations directory for a goose dialect
func Dir(dialect string) (string, error) {
	switch dialect {
	case "clickhouse":
		return ClickHouseDir, nil
	case "postgres":
		return PostgresDir, nil
	default:
		return "", fmt.Errorf("no migrations for dialect %q", dialect)
	}
}

// Up applies every pending migration of dialect to db
func Up(db *sql.DB, dialect string) error {
	dir, err := Dir(dialect)
	if err != nil {
		return err
	}

	goose.SetBaseFS(FS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
