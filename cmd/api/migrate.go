package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"taskaza/api/internal/config"
	"taskaza/api/internal/store"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending PostgreSQL migrations",
	Long: `Apply the pending migrations in TASKAZA_MIGRATIONS_DIR to DATABASE_URL.

The SQLite store migrates itself on open, so this is only needed for
PostgreSQL deployments that do not migrate on start.

Examples:
  api migrate
  api migrate --dry-run`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "list pending migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if store.IsSQLiteURL(cfg.DatabaseURL) {
		fmt.Fprintln(cmd.OutOrStdout(), "SQLite store migrates on open; nothing to do")
		return nil
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if migrateDryRun {
		pending, err := store.PendingMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
			return nil
		}
		for _, version := range pending {
			fmt.Fprintf(cmd.OutOrStdout(), "pending %s\n", version)
		}
		return nil
	}

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", len(applied))
	for _, version := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", version)
	}
	return nil
}
