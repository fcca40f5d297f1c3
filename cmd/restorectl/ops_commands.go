package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"photorestore/internal/bootstrap"
	"photorestore/internal/database"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(database.DirectionUp), string(database.DirectionDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			direction := database.Direction(args[0])
			if err := database.Migrate(cfg.Postgres.DSN, direction); err != nil {
				return err
			}
			logger := ctx.log()
			logger.Info().Str("direction", string(direction)).Msg("migrations applied")
			return nil
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail timed out jobs now and print how many were cleaned",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.log()
			infra, err := bootstrap.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer infra.Close(logger)

			svc, err := infra.Build(cfg, logger)
			if err != nil {
				return err
			}
			cleaned, err := svc.Jobs.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleaned %d job(s)\n", cleaned)
			return nil
		},
	}
}
