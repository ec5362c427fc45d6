package cmd

import (
	"github.com/spf13/cobra"

	"imagededup/app"
	"imagededup/cmd/folders"
	"imagededup/cmd/groups"
	"imagededup/cmd/resolve"
	"imagededup/cmd/scan"
	"imagededup/cmd/stats"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "imagededup",
		Short:         "Find and resolve duplicate images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.BindCommandFlags(cmd); err != nil {
				return err
			}
			return ctx.Load(cfgFile)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	setupFlags(rootCmd)

	rootCmd.AddCommand(
		scan.Command(ctx),
		groups.Command(ctx),
		resolve.Command(ctx),
		folders.Command(ctx),
		stats.Command(ctx),
		stats.ClearCommand(ctx),
		configCommand(ctx),
	)
	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()
	flags.String("database", "", "Path to the image database")
	flags.String("log-file", "", "Write logs to this file")
	flags.BoolP("debug", "d", false, "Enable debug logging")
	flags.String("hash", "", "Perceptual hash algorithm: phash or dct")

	app.BindFlag(flags, "database", "database")
	app.BindFlag(flags, "log-file", "log_file")
	app.BindFlag(flags, "debug", "debug")
	app.BindFlag(flags, "hash", "hash.algorithm")
}

// Execute runs the command line and returns the first error
func Execute() error {
	ctx := app.NewContext()
	defer ctx.Close()
	return RootCommand(ctx).Execute()
}
