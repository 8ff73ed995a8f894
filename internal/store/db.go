package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the session's cache.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Everything in the cache can be refetched from the chat server, so writes
// use synchronous=NORMAL.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// OpenCache opens and migrates the cache at path. A cache left dirty by an
// interrupted migration is deleted and rebuilt empty; the cache engine
// refills it from the live session.
func OpenCache(path string) (*DB, *MigrateResult, error) {
	db, result, err := openMigrated(path)
	if !errors.Is(err, ErrDirtyCache) {
		return db, result, err
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("remove dirty cache: %w", rmErr)
		}
	}
	db, result, err = openMigrated(path)
	if err != nil {
		return nil, nil, err
	}
	result.Rebuilt = true
	return db, result, nil
}

func openMigrated(path string) (*DB, *MigrateResult, error) {
	db, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, result, nil
}
