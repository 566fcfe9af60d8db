package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationLockName is the lock every replica takes before migrating.
const MigrationLockName = "schema-migrations"

// Locker serializes migrations across replicas. *redis.Mutex satisfies it.
type Locker interface {
	WithLock(ctx context.Context, fn func(context.Context) error) error
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	dsn    string
	locker Locker
	logger logging.Logger
}

// NewMigrator returns a migrator for dsn. locker may be nil when only one
// process migrates.
func NewMigrator(dsn string, locker Locker, log logging.Logger) *Migrator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Migrator{dsn: dsn, locker: locker, logger: log.Named("migrate")}
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	mg, err := migrate.NewWithSourceInstance("iofs", src, m.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mg, nil
}

func closeMigrate(mg *migrate.Migrate) {
	_, _ = mg.Close()
}

// Up applies every pending migration. No pending migration is not an
// error.
func (m *Migrator) Up(ctx context.Context) error {
	run := func(context.Context) error {
		mg, err := m.open()
		if err != nil {
			return err
		}
		defer closeMigrate(mg)

		if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			version, _, _ := mg.Version()
			return fmt.Errorf("failed to run migrations (current version: %d): %w", version, err)
		}
		version, dirty, err := mg.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			m.logger.Warn("Failed to get migration version", logging.Err(err))
		}
		m.logger.Info("Database migrations completed",
			logging.Int64("version", int64(version)),
			logging.Bool("dirty", dirty))
		return nil
	}
	if m.locker == nil {
		return run(ctx)
	}
	return m.locker.WithLock(ctx, run)
}

// Rollback reverts steps migrations.
func (m *Migrator) Rollback(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be greater than 0, got %d", steps)
	}
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer closeMigrate(mg)

	if err := mg.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("no migrations to roll back")
		}
		return fmt.Errorf("failed to rollback %d step(s): %w", steps, err)
	}
	return nil
}

// Status returns the applied version and whether the last migration left
// the schema dirty. An empty database reports version 0.
func (m *Migrator) Status() (version uint, dirty bool, err error) {
	mg, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(mg)

	version, dirty, err = mg.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the recorded version without running migrations. It is the
// recovery path for a dirty schema.
func (m *Migrator) Force(version int) error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer closeMigrate(mg)

	if err := mg.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// MigrationFiles lists the embedded migration file names.
func MigrationFiles() ([]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
