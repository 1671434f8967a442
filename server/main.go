// Command flowd runs the workflow engine: the HTTP API, the job workers and
// the cron scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/api"
	"github.com/meikuraledutech/flow/config"
	"github.com/meikuraledutech/flow/executors"
	"github.com/meikuraledutech/flow/internal/log"
	"github.com/meikuraledutech/flow/memory"
	"github.com/meikuraledutech/flow/postgres"
	"github.com/meikuraledutech/flow/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "flowd",
		Short:         "Workflow execution engine",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("FLOW_CONFIG"), "path to the YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newRunCmd(),
		newTokenCmd(&configPath),
	)
	return root
}

// setup loads the configuration and installs the default logger.
func setup(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(&cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openStore connects the configured backend and ensures its schema.
func openStore(ctx context.Context, cfg config.StoreConfig) (flow.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(sqlite.Config{Path: cfg.Path, WAL: cfg.WAL})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
		s := postgres.New(pool)
		if err := s.CreateSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("schema: %w", err)
		}
		return s, pool.Close, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func newRegistry(cfg config.ExecutorsConfig) (*flow.Registry, error) {
	reg := flow.NewRegistry()
	err := executors.Register(reg, executors.Options{
		HTTPRateLimit:    cfg.HTTPRateLimit,
		HTTPBurst:        cfg.HTTPBurst,
		TransformTimeout: cfg.TransformTimeout,
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func newMigrateCmd(configPath *string) *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema of the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if drop && cfg.Store.Driver == config.DriverPostgres {
				pool, err := pgxpool.New(ctx, cfg.Store.DSN)
				if err != nil {
					return fmt.Errorf("connect: %w", err)
				}
				err = postgres.New(pool).DropSchema(ctx)
				pool.Close()
				if err != nil {
					return fmt.Errorf("drop schema: %w", err)
				}
				logger.Info("schema dropped")
			}

			_, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			closeStore()
			logger.Info("schema ready", "driver", cfg.Store.Driver)
			return nil
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "drop the postgres schema first")
	return cmd
}

func newTokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(*configPath)
			if err != nil {
				return err
			}
			token, err := api.IssueToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
