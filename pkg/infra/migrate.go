// Package infra applies schema migrations to the order store.
package infra

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

var mutex sync.Mutex

// Migrate brings the database at connStr up to the newest migration under
// source. A dirty version left by a failed run is forced back one step first.
func Migrate(source string, connStr string) error {
	mutex.Lock()
	defer mutex.Unlock()

	zap.S().Infof("migrating from %s", source)
	mg, err := migrate.New(source, connStr)
	if err != nil {
		return fmt.Errorf("create migration: %w", err)
	}
	defer mg.Close()

	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		zap.S().Warnf("schema version %d is dirty, forcing %d", version, int(version)-1)
		if err := mg.Force(int(version) - 1); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
	}

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ = mg.Version()
	zap.S().Infof("migration done, schema version %d", version)
	return nil
}
