package groups

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"imagededup/app"
	"imagededup/types"
	"imagededup/utils"
)

// Command creates the groups command
func Command(ctx *app.Context) *cobra.Command {
	var (
		strategy string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List duplicate groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.Service(false)
			if err != nil {
				return err
			}
			groups, err := svc.Group(cmd.Context(), strategy)
			if err != nil {
				return err
			}
			PrintGroups(cmd.OutOrStdout(), groups, limit)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&strategy, "strategy", "s", "exact", "Grouping strategy: exact, perceptual, semantic or all")
	flags.IntVar(&limit, "limit", 0, "Show at most this many groups (0 shows all)")
	AddThresholdFlags(cmd)
	return cmd
}

// AddThresholdFlags adds the grouping threshold overrides to cmd
func AddThresholdFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("perceptual-threshold", 0, "Maximum Hamming distance for perceptual groups (0-64)")
	flags.Float64("semantic-threshold", 0, "Minimum cosine similarity for semantic groups (-1.0-1.0)")
	app.BindFlag(flags, "perceptual-threshold", "grouping.perceptual_threshold")
	app.BindFlag(flags, "semantic-threshold", "grouping.semantic_threshold")
}

// Reclaimable is the number of bytes freed by keeping only the best record
func Reclaimable(g types.DuplicateGroup) int64 {
	var total int64
	for i, r := range g.Records {
		if i > 0 {
			total += r.FileSize
		}
	}
	return total
}

// PrintGroup writes one group; the best record is starred and indexes start at 1
func PrintGroup(out io.Writer, n int, g types.DuplicateGroup) {
	header := color.New(color.Bold)
	header.Fprintf(out, "Group %d [%s] %d files, %s reclaimable\n",
		n, g.Strategy, len(g.Records), humanize.Bytes(uint64(Reclaimable(g))))
	for i, r := range g.Records {
		marker := " "
		line := color.New(color.Reset)
		if i == 0 {
			marker = "*"
			line = color.New(color.FgGreen)
		}
		line.Fprintf(out, "  %s %d) %s  %s  %s  q=%.2f\n", marker, i+1, r.Path,
			utils.FormatResolution(r.Width, r.Height), humanize.Bytes(uint64(r.FileSize)), r.QualityScore)
	}
}

// PrintGroups writes up to limit groups and a summary line
func PrintGroups(out io.Writer, groups []types.DuplicateGroup, limit int) {
	if len(groups) == 0 {
		fmt.Fprintln(out, "No duplicate groups found.")
		return
	}

	var files int
	var reclaim int64
	for i, g := range groups {
		files += len(g.Records)
		reclaim += Reclaimable(g)
		if limit > 0 && i >= limit {
			continue
		}
		PrintGroup(out, i+1, g)
	}
	if limit > 0 && len(groups) > limit {
		fmt.Fprintf(out, "... %d more groups\n", len(groups)-limit)
	}
	fmt.Fprintf(out, "%d groups, %d files, %s reclaimable\n", len(groups), files, humanize.Bytes(uint64(reclaim)))
}
