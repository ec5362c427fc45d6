package cmd

import (
	"github.com/spf13/cobra"

	"imagededup/app"
)

func configCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.Settings.WriteYAML(cmd.OutOrStdout())
		},
	}
}
