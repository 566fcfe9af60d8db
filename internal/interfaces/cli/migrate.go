package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/database/postgres"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/database/redis"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

// MigrationStatus is the output of migrate status.
type MigrationStatus struct {
	Version uint     `json:"version"`
	Dirty   bool     `json:"dirty"`
	Files   []string `json:"files"`
}

func (s *MigrationStatus) String() string {
	state := "clean"
	if s.Dirty {
		state = "dirty"
	}
	return fmt.Sprintf("version %d (%s), %d embedded migration files", s.Version, state, len(s.Files))
}

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: "Apply, roll back or inspect the embedded schema migrations. The\n" +
			"database is taken from --config and MBPIP_DATABASE_* variables.",
	}
	cmd.AddCommand(newMigrateUpCmd(), newMigrateDownCmd(), newMigrateStatusCmd(), newMigrateForceCmd())
	return cmd
}

func loadMigrator(cmd *cobra.Command) (*postgres.Migrator, *config.Config, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(cliCtx.ConfigPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeValidation, "load configuration")
	}
	return postgres.NewMigrator(postgres.BuildDSN(cfg.Database), nil, cliCtx.Logger), cfg, nil
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load(cliCtx.ConfigPath)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeValidation, "load configuration")
			}
			ctx, cancel := operationContext(cmd)
			defer cancel()

			// Share the API server's migration lock when redis is configured.
			var locker postgres.Locker
			if cfg.Redis.Enabled {
				rc, err := redis.NewClient(ctx, cfg.Redis, cliCtx.Logger)
				if err != nil {
					return err
				}
				defer rc.Close()
				locker = redis.NewMutex(rc, postgres.MigrationLockName, cliCtx.Logger)
			}
			m := postgres.NewMigrator(postgres.BuildDSN(cfg.Database), locker, cliCtx.Logger)
			if err := m.Up(ctx); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate up")
			}
			return PrintResult(cmd, "migrations applied")
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := loadMigrator(cmd)
			if err != nil {
				return err
			}
			if err := m.Rollback(steps); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate down")
			}
			commandLogger(cmd).Info("Migrations rolled back", logging.Int("steps", steps))
			return PrintResult(cmd, fmt.Sprintf("rolled back %d migration(s)", steps))
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := loadMigrator(cmd)
			if err != nil {
				return err
			}
			version, dirty, err := m.Status()
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate status")
			}
			files, err := postgres.MigrationFiles()
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "list migrations")
			}
			return PrintResult(cmd, &MigrationStatus{Version: version, Dirty: dirty, Files: files})
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Record a schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 0 {
				return errors.InvalidParam("version must be a non-negative integer").WithDetail(args[0])
			}
			m, _, err := loadMigrator(cmd)
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate force")
			}
			return PrintResult(cmd, fmt.Sprintf("forced version %d", v))
		},
	}
}
