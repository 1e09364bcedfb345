package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tallyfin/tally/internal/cli"
)

func migrateCmd() *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if seed {
				if err := store.SeedDefaults(cmd.Context()); err != nil {
					return err
				}
			}

			fmt.Println(cli.SuccessStyle.Render("Database is up to date."))
			return nil
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "seed default categories and system rules on an empty database")

	return cmd
}
