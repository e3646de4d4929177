/*
main.go - Application entry point

PURPOSE:
  Command line of the ledger service. "serve" builds the dependency graph
  with fx and runs the HTTP API until SIGINT/SIGTERM; "migrate" applies the
  SQL schema and exits.

COMMANDS:
  ledger serve   [--config path]   Run the API (and the overdue sweeper)
  ledger migrate [--config path]   Create or update the SQL schema

CONFIGURATION:
  See config/config.go. Every setting can be overridden with LEDGER_*
  environment variables, e.g.

    LEDGER_DATABASE_DRIVER=postgres \
    LEDGER_DATABASE_DSN="postgres://ledger@localhost/ledger?sslmode=disable" \
    ./ledger serve

    LEDGER_DATABASE_DRIVER=memory ./ledger serve

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM fx runs the OnStop hooks in reverse order:
  1. Stop accepting requests, wait up to server.shutdown_timeout
  2. Stop the sweeper after its in-flight sweep
  3. Close the event publisher
  4. Close the database

SEE ALSO:
  - app.go: fx providers and lifecycle hooks
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/logger"
	"github.com/warp/ledger-engine/store/sqlstore"
	"go.uber.org/fx"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Invoice and payment ledger service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: config.yaml in ., ./config or /etc/ledger)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				app := fx.New(appOptions(cfg)...)
				if err := app.Err(); err != nil {
					return err
				}
				app.Run()
				return nil
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the SQL schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				return migrate(cmd.Context(), cfg)
			},
		},
	)
	return root
}

func migrate(ctx context.Context, cfg *config.Configuration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Database.Driver == driverMemory {
		return errors.New("the memory store has no schema to migrate")
	}
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	dbCfg := databaseConfig(cfg)
	dbCfg.AutoMigrate = false
	st, err := sqlstore.Open(ctx, dbCfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	log.Infow("schema migrated", "driver", cfg.Database.Driver)
	return nil
}
