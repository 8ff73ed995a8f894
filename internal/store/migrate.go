package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/fieldchat/internal/store/migrations"
)

// ErrDirtyCache is returned by Migrate when an earlier migration stopped
// halfway.
var ErrDirtyCache = errors.New("cache schema is dirty")

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
	Rebuilt bool // set by OpenCache when a dirty cache was replaced
}

// Migrate runs all pending migrations on the database.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	var dirty migrate.ErrDirty
	if errors.As(err, &dirty) {
		return nil, fmt.Errorf("%w at version %d", ErrDirtyCache, dirty.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, isDirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   isDirty,
		Changed: changed,
	}, nil
}
