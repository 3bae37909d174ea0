package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jomardyan/FlexiFocus/internal/config"
	"github.com/jomardyan/FlexiFocus/internal/db"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runMigrate(cmd.OutOrStdout(), cfg)
		},
	}
}

func runMigrate(out io.Writer, cfg *config.Config) error {
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := db.AppliedMigrations(database)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d migrations applied\n", cfg.DBPath, len(applied))
	for _, name := range applied {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return nil
}
