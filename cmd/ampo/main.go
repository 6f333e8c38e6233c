package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "ampo",
		Short:        "Auction-managed perpetual options core",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the service",
		RunE:  runService,
	}

	runCmd.Flags().String("nats-url", "nats://localhost:4222", "NATS server URL")
	runCmd.Flags().String("postgres-dsn", "", "Postgres connection string")
	runCmd.Flags().String("listen-addr", ":8080", "HTTP API listen address")
	runCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics listen address")
	runCmd.Flags().String("migrations-dir", "./migrations", "path to SQL migrations")
	runCmd.Flags().Int("event-buffer", 4096, "event channel capacity")
	runCmd.Flags().Int("persist-batch-size", 100, "events per Postgres batch")
	runCmd.Flags().Duration("persist-flush", 250*time.Millisecond, "persistence flush timeout")
	runCmd.Flags().Int64("snapshot-every", 1000, "snapshot pools every N blocks")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate <up|down>",
		Short: "Apply or roll back SQL migrations",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("postgres-dsn", "", "Postgres connection string")
	migrateCmd.Flags().String("migrations-dir", "./migrations", "path to SQL migrations")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
