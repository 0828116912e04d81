// Package main provides a CLI tool for report store migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/research-analysis-service/internal/config"
	"github.com/helixir/research-analysis-service/internal/database"
	"github.com/helixir/research-analysis-service/internal/observability"
)

// migrator is the subset of database.Migrator the commands drive.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() error
}

// openFunc connects to the database and returns a migrator for path.
type openFunc func(ctx context.Context, path string, logger zerolog.Logger) (migrator, func(), error)

func main() {
	if err := newRootCmd(openMigrator).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(open openFunc) *cobra.Command {
	var migrationsPath string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the report store schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&migrationsPath, "path", "", "Override the migrations directory path")

	// withMigrator wraps an action with connection setup and teardown.
	withMigrator := func(action func(m migrator, logger zerolog.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			logger := cliLogger()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			m, closeDB, err := open(ctx, migrationsPath, logger)
			if err != nil {
				return err
			}
			defer closeDB()
			defer func() {
				if closeErr := m.Close(); closeErr != nil {
					logger.Error().Err(closeErr).Msg("failed to close migrator")
				}
			}()

			if err := action(m, logger); err != nil {
				return err
			}
			printVersion(m, logger)
			return nil
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(m migrator, logger zerolog.Logger) error {
				logger.Info().Msg("running all pending migrations")
				if err := m.Up(); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(m migrator, logger zerolog.Logger) error {
				logger.Warn().Msg("rolling back all migrations")
				if err := m.Down(); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return nil
			}),
		},
		stepsCmd(withMigrator),
		&cobra.Command{
			Use:   "version",
			Short: "Print the current migration version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(migrator, zerolog.Logger) error {
				return nil
			}),
		},
		forceCmd(withMigrator),
	)

	return root
}

type wrapFunc func(action func(m migrator, logger zerolog.Logger) error) func(*cobra.Command, []string) error

func stepsCmd(wrap wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "steps N",
		Short:   "Run N migration steps (positive=up, negative=down)",
		Example: "  migrate steps 1\n  migrate steps -- -1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n == 0 {
				return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
			}
			return wrap(func(m migrator, logger zerolog.Logger) error {
				logger.Info().Int("steps", n).Msg("running migration steps")
				if err := m.Steps(n); err != nil {
					return fmt.Errorf("migrate steps: %w", err)
				}
				return nil
			})(cmd, args)
		},
	}
}

func forceCmd(wrap wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "force V",
		Short: "Force set migration version (use to recover from failed migrations)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 0 {
				return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
			}
			return wrap(func(m migrator, logger zerolog.Logger) error {
				logger.Warn().Int("version", v).Msg("forcing migration version")
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				return nil
			})(cmd, args)
		},
	}
}

// openMigrator loads the service configuration and connects to PostgreSQL.
func openMigrator(ctx context.Context, path string, logger zerolog.Logger) (migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	migrationDir := cfg.Database.MigrationPath
	if path != "" {
		migrationDir = path
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("database connection established")

	m, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, db.Close, nil
}

func cliLogger() zerolog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()
}

// printVersion logs the current migration version.
func printVersion(m migrator, logger zerolog.Logger) {
	v, dirty, err := m.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
