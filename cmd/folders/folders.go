package folders

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"imagededup/app"
	"imagededup/utils"
)

// Command creates the folders command and its add, remove and list subcommands
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Manage the folders scanned by default",
	}

	add := &cobra.Command{
		Use:   "add <folder>...",
		Short: "Register folders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.DB()
			if err != nil {
				return err
			}
			_, missing := utils.ExistingFolders(args)
			for _, m := range missing {
				color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "Warning: %s is not a directory\n", m)
			}
			for _, folder := range args {
				if err := db.AddFolder(cmd.Context(), folder); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", folder)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:     "remove <folder>...",
		Aliases: []string{"rm"},
		Short:   "Unregister folders; indexed records are kept",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.DB()
			if err != nil {
				return err
			}
			for _, folder := range args {
				if err := db.RemoveFolder(cmd.Context(), folder); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", folder)
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered folders",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.DB()
			if err != nil {
				return err
			}
			folders, err := db.Folders(cmd.Context())
			if err != nil {
				return err
			}
			if len(folders) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No folders registered.")
			}
			for _, f := range folders {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}
