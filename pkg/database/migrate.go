package database

import (
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

// Migrator applies the embedded goose migrations against a PostgreSQL database.
type Migrator struct {
	db *sqlx.DB
}

// NewMigrator configures goose to read migrations from files.
func NewMigrator(db *sqlx.DB, files fs.FS) (*Migrator, error) {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	return &Migrator{db: db}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	return goose.Up(m.db.DB, ".")
}

// Down rolls back the latest migration.
func (m *Migrator) Down() error {
	return goose.Down(m.db.DB, ".")
}

// Status prints the applied state of every migration through goose's logger.
func (m *Migrator) Status() error {
	return goose.Status(m.db.DB, ".")
}

// Version returns the current schema version.
func (m *Migrator) Version() (int64, error) {
	return goose.GetDBVersion(m.db.DB)
}
