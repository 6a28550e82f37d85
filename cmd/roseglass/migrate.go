package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/roseglass/pkg/config"
	"github.com/Mindburn-Labs/roseglass/pkg/store"
)

func newMigrateCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		Short:   "Apply database migrations and exit",
		GroupID: "ops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			pg, err := store.OpenPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()
			_, _ = goodColor.Fprintln(stdout, "Migrations applied")
			return nil
		},
	}
}
