package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cogloop/core/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.InitSchema(ctx); err != nil {
			return err
		}
		logging.For("cogctl.migrate").Info().Msg("schema up to date")
		return nil
	},
}
