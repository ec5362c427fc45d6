package stats

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"imagededup/app"
	"imagededup/database"
)

// Command creates the stats command
func Command(ctx *app.Context) *cobra.Command {
	var scans int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and recent scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.DB()
			if err != nil {
				return err
			}
			st, err := db.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := db.RecentScans(cmd.Context(), scans)
			if err != nil {
				return err
			}
			PrintStats(cmd.OutOrStdout(), ctx.Settings.Database, st, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&scans, "scans", 5, "Number of recent scans to show")
	return cmd
}

// PrintStats writes the store summary and scan history
func PrintStats(out io.Writer, dbPath string, st *database.Stats, runs []database.ScanRun) {
	color.New(color.Bold).Fprintf(out, "Database: %s\n", dbPath)
	fmt.Fprintf(out, "Images:          %s\n", humanize.Comma(int64(st.Images)))
	fmt.Fprintf(out, "Unique contents: %s\n", humanize.Comma(int64(st.UniqueContentHashes)))
	fmt.Fprintf(out, "With embeddings: %s\n", humanize.Comma(int64(st.WithEmbeddings)))
	fmt.Fprintf(out, "Total size:      %s\n", humanize.Bytes(uint64(st.TotalBytes)))
	fmt.Fprintf(out, "Folders:         %d\n", st.Folders)

	if len(runs) == 0 {
		return
	}
	color.New(color.Bold).Fprintln(out, "\nRecent scans:")
	for _, run := range runs {
		status := color.New(color.FgGreen)
		switch run.Status {
		case database.ScanFailed:
			status = color.New(color.FgRed)
		case database.ScanStopped, database.ScanRunning:
			status = color.New(color.FgYellow)
		}
		fmt.Fprintf(out, "  %s  ", humanize.Time(run.StartedAt))
		status.Fprintf(out, "%-9s", run.Status)
		fmt.Fprintf(out, " scanned %d, indexed %d, skipped %d, unchanged %d  %s\n",
			run.Scanned, run.Indexed, run.Skipped, run.Unchanged, strings.Join(run.Folders, ", "))
	}
}

// ClearCommand creates the clear command
func ClearCommand(ctx *app.Context) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every indexed record; files and registered folders are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Remove all indexed records?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			db, err := ctx.DB()
			if err != nil {
				return err
			}
			if err := db.ClearImages(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Index cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// Confirm asks question and reports whether the answer was yes
func Confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
