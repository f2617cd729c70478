package main

import (
	"github.com/spf13/cobra"

	"harvest/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	var withDrain bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the collection daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				Drain:       withDrain,
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log records")
	cmd.Flags().BoolVar(&withDrain, "drain", false, "Deliver staged items into the configured outbox")
	return cmd
}
