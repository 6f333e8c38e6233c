package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/mxwtnb/ampo/internal/config"
	"github.com/mxwtnb/ampo/internal/observability"
	"github.com/mxwtnb/ampo/internal/persistence"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	log := observability.NewLogger("migrate")

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, log)

	switch args[0] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		log.Info().Msg("all migrations applied")
		return nil

	case "down":
		if err := migrator.Down(ctx); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		log.Info().Msg("last migration rolled back")
		return nil

	default:
		return fmt.Errorf("unknown direction %q (use 'up' or 'down')", args[0])
	}
}
