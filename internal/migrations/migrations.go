// Package migrations embeds the record store schema and applies it.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed *.sql
var schemaFS embed.FS

// Run brings the schema up to the latest version.
func Run(dbx *sqlx.DB) error {
	src, err := iofs.New(schemaFS, ".")
	if err != nil {
		return fmt.Errorf("error reading embedded schema: %s", err)
	}
	driver, err := sqlite.WithInstance(dbx.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("error wrapping database for migration: %s", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("error creating migrator: %s", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error applying schema: %s", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("error reading schema version: %s", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	slog.Debug("schema up to date", "version", version)

	return nil
}
