package database

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ZerkerEOD/krakenwifi/internal/db"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

// Direction selects which way migrations run
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// SourceURL turns a migrations directory into a file:// source URL
func SourceURL(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations dir: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// RunMigrations applies (or reverts) every migration in dir
func RunMigrations(cfg db.Config, dir string, direction Direction) error {
	if direction != Up && direction != Down {
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	source, err := SourceURL(dir)
	if err != nil {
		return err
	}

	m, err := migrate.New(source, cfg.URL())
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if direction == Up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations %s: %w", direction, err)
	}

	version, dirty, verr := m.Version()
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		debug.Info("database has no migrations applied")
	case verr != nil:
		debug.Warning("could not read migration version: %v", verr)
	default:
		debug.Info("database at migration version %d (dirty=%v)", version, dirty)
	}
	return nil
}
