package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/pandebugger-api/migrations"
	"github.com/noah-isme/pandebugger-api/pkg/database"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(apply func(*database.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			db, _, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			migrator, err := database.NewMigrator(db, migrations.Files)
			if err != nil {
				return err
			}
			if err := apply(migrator); err != nil {
				return err
			}
			version, err := migrator.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE:  run((*database.Migrator).Up),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE:  run((*database.Migrator).Down),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the state of every migration",
			Args:  cobra.NoArgs,
			RunE:  run((*database.Migrator).Status),
		},
	)
	return cmd
}
