package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"imagededup/app"
	"imagededup/scanner"
	"imagededup/service"
	"imagededup/signalhandler"
)

// Command creates the scan command
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [folder...]",
		Short: "Index the images below the given or registered folders",
		Long: `Walk the folders, extract the features of every image and store them.
Without arguments the registered folders are scanned.

While scanning in a terminal, type p, r or q followed by Enter to pause,
resume or stop. Interrupt once to stop after the current file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), ctx, args, cmd.OutOrStdout())
		},
	}
	setupFlags(cmd)
	return cmd
}

func setupFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("incremental", false, "Skip files whose size and modification time are unchanged")
	flags.Bool("embeddings", false, "Compute image embeddings")
	flags.Bool("faces", false, "Detect faces")
	flags.Bool("objects", false, "Detect objects")
	flags.Int("batch-size", 0, "Records written per commit")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while scanning")

	app.BindFlag(flags, "incremental", "scan.incremental")
	app.BindFlag(flags, "embeddings", "scan.embeddings")
	app.BindFlag(flags, "faces", "scan.faces")
	app.BindFlag(flags, "objects", "scan.objects")
	app.BindFlag(flags, "batch-size", "scan.batch_size")
	app.BindFlag(flags, "metrics-addr", "metrics.listen")
}

func run(parent context.Context, ctx *app.Context, folders []string, out io.Writer) error {
	runCtx, cancel := context.WithCancel(parent)
	defer cancel()

	settings := ctx.Settings
	withMetrics := settings.Metrics.Listen != ""
	svc, err := ctx.Service(withMetrics)
	if err != nil {
		return err
	}
	if withMetrics {
		ctx.ServeMetrics(runCtx, settings.Metrics.Listen)
	}

	token := scanner.NewToken()
	release := signalhandler.SetupHandler(token)
	defer release()

	counted := folders
	if len(counted) == 0 {
		db, err := ctx.DB()
		if err != nil {
			return err
		}
		if counted, err = db.Folders(runCtx); err != nil {
			return err
		}
	}
	stats := scanner.CountFiles(counted)
	fmt.Fprintf(out, "Found %d images (%d TIFF, %d HEIC/HEIF)\n", stats.Total, stats.Tiff, stats.Heif)
	tracker := scanner.NewProgressTracker(out, stats.Total, token.Paused)

	job, err := svc.StartScan(runCtx, service.ScanRequest{
		Folders:     folders,
		Enrich:      settings.EnrichOptions(),
		Incremental: settings.Scan.Incremental,
		BatchSize:   settings.Scan.BatchSize,
	}, token, tracker.Update)
	if err != nil {
		tracker.Stop()
		return err
	}

	if isTerminal(os.Stdin) {
		go watchKeys(os.Stdin, token, out)
	}

	summary, err := job.Wait()
	tracker.Stop()

	for _, m := range summary.Missing {
		color.New(color.FgYellow).Fprintf(out, "Skipped missing folder: %s\n", m)
	}
	for _, reason := range summary.Disabled {
		color.New(color.FgYellow).Fprintf(out, "Enrichment disabled: %s\n", reason)
	}
	scanner.PrintCompletionStats(out, summary.Result, summary.Elapsed.Round(time.Millisecond))
	if summary.Stopped {
		color.New(color.FgYellow).Fprintln(out, "Scan stopped early; committed records are kept.")
	}
	return err
}

// watchKeys maps p, r and q lines on in to the token. It ends with the input
// or once the token is stopped.
func watchKeys(in io.Reader, token *scanner.Token, out io.Writer) {
	lines := bufio.NewScanner(in)
	for lines.Scan() {
		switch strings.ToLower(strings.TrimSpace(lines.Text())) {
		case "p":
			token.Pause()
			fmt.Fprintln(out, "\nPaused. Type r to resume, q to stop.")
		case "r":
			token.Resume()
			fmt.Fprintln(out, "\nResumed.")
		case "q":
			token.Stop()
			fmt.Fprintln(out, "\nStopping after the current file...")
		}
		if token.Stopped() {
			return
		}
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
