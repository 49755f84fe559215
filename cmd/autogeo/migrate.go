package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kanaz606/auto-geo/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and seed default jobs",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	database := a.store.(*db.DB)
	version, err := database.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	seeded, err := database.SeedJobDefinitions(ctx, db.DefaultJobDefinitions())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "schema version: %d\n", version)
	if seeded {
		fmt.Fprintln(out, "seeded default job definitions")
	}
	return nil
}
