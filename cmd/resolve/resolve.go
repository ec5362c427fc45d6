package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"imagededup/app"
	"imagededup/cmd/groups"
	"imagededup/resolver"
	"imagededup/types"
)

// Options controls how groups are walked
type Options struct {
	// Auto acts only on confident automatic selections and never prompts
	Auto bool
	// DryRun prints decisions without touching files or the store
	DryRun bool
}

// Resolver is the part of the service the walk drives
type Resolver interface {
	NewSession(group types.DuplicateGroup) *resolver.Session
	Execute(ctx context.Context, session *resolver.Session) (resolver.DeleteReport, error)
	IgnoreSession(ctx context.Context, session *resolver.Session) error
}

// LineReader reads one answer per prompt
type LineReader interface {
	Readline() (string, error)
}

// Command creates the resolve command
func Command(ctx *app.Context) *cobra.Command {
	var (
		strategy string
		opts     Options
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Walk duplicate groups and choose which copy to keep",
		Long: `For each group choose the copy to keep by number, accept the suggested
copy with a, ignore the group with i, skip it with s or quit with q.
Deleting a copy with a higher resolution than the kept one is refused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.Service(false)
			if err != nil {
				return err
			}
			found, err := svc.Group(cmd.Context(), strategy)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(found) == 0 {
				fmt.Fprintln(out, "No duplicate groups found.")
				return nil
			}

			var in LineReader
			if !opts.Auto {
				rl, err := readline.NewEx(&readline.Config{
					Prompt:          "keep [n] / a=accept / i=ignore / s=skip / q=quit > ",
					InterruptPrompt: "^C",
					EOFPrompt:       "quit",
				})
				if err != nil {
					return err
				}
				defer rl.Close()
				in = rl
			}

			return NewWalker(svc, in, out, opts).Run(cmd.Context(), found)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&strategy, "strategy", "s", "exact", "Grouping strategy: exact, perceptual, semantic or all")
	flags.BoolVar(&opts.Auto, "auto", false, "Resolve only groups with a unique automatic choice, without prompting")
	flags.BoolVar(&opts.DryRun, "dry-run", false, "Print decisions without deleting anything")
	flags.Bool("prefer-older", false, "Prefer the oldest copy")
	flags.Bool("prefer-larger", false, "Prefer the largest file")
	flags.Bool("prefer-deeper", false, "Prefer the most deeply nested path")
	flags.Bool("require-merge", false, "Abort a deletion when the metadata merge fails")
	app.BindFlag(flags, "prefer-older", "resolve.prefer_older")
	app.BindFlag(flags, "prefer-larger", "resolve.prefer_larger")
	app.BindFlag(flags, "prefer-deeper", "resolve.prefer_deeper")
	app.BindFlag(flags, "require-merge", "resolve.require_metadata_merge")
	groups.AddThresholdFlags(cmd)
	return cmd
}

// Walker presents groups one at a time
type Walker struct {
	svc  Resolver
	in   LineReader
	out  io.Writer
	opts Options

	Resolved int
	Ignored  int
	Skipped  int
	Blocked  int
	Freed    int64
}

// NewWalker creates a walker; in may be nil when opts.Auto is set
func NewWalker(svc Resolver, in LineReader, out io.Writer, opts Options) *Walker {
	return &Walker{svc: svc, in: in, out: out, opts: opts}
}

// Run walks groups until they are exhausted or the user quits
func (w *Walker) Run(ctx context.Context, found []types.DuplicateGroup) error {
	for i, g := range found {
		quit, err := w.handle(ctx, i+1, g)
		if err != nil {
			return err
		}
		if quit {
			break
		}
	}
	verb := "freed"
	if w.opts.DryRun {
		verb = "would free"
	}
	fmt.Fprintf(w.out, "\nResolved %d, ignored %d, skipped %d, blocked %d; %s %s\n",
		w.Resolved, w.Ignored, w.Skipped, w.Blocked, verb, humanize.Bytes(uint64(w.Freed)))
	return nil
}

func (w *Walker) handle(ctx context.Context, n int, g types.DuplicateGroup) (bool, error) {
	fmt.Fprintln(w.out)
	groups.PrintGroup(w.out, n, g)

	session := w.svc.NewSession(g)
	suggested, ok := session.AutoSelect()
	if ok {
		fmt.Fprintf(w.out, "Suggested keep: %s\n", suggested)
	} else {
		fmt.Fprintln(w.out, "No single copy stands out under the current criteria.")
	}

	if w.opts.Auto {
		if !ok {
			w.Skipped++
			return false, nil
		}
		_, err := w.delete(ctx, session)
		return false, err
	}

	for {
		line, err := w.in.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return true, err
		}

		answer := strings.ToLower(strings.TrimSpace(line))
		switch answer {
		case "":
			continue
		case "q":
			return true, nil
		case "s":
			w.Skipped++
			return false, nil
		case "i":
			return false, w.ignore(ctx, session)
		case "a":
			if !ok {
				fmt.Fprintln(w.out, "There is no suggestion for this group; choose a number.")
				continue
			}
			if session.State() != resolver.AutoSelected {
				if err := session.Choose(suggested); err != nil {
					return true, err
				}
			}
		default:
			idx, err := strconv.Atoi(answer)
			if err != nil || idx < 1 || idx > len(g.Records) {
				fmt.Fprintf(w.out, "Enter a number between 1 and %d, or a, i, s, q.\n", len(g.Records))
				continue
			}
			if err := session.Choose(g.Records[idx-1].Path); err != nil {
				return true, err
			}
		}

		done, err := w.delete(ctx, session)
		if err != nil {
			return true, err
		}
		if done {
			return false, nil
		}
	}
}

// delete requests and, unless blocked or dry, executes the session's
// deletion. It reports whether the group is finished.
func (w *Walker) delete(ctx context.Context, session *resolver.Session) (bool, error) {
	if err := session.RequestDeletion(); err != nil {
		var blocked *resolver.DeletionBlockedError
		if errors.As(err, &blocked) {
			w.Blocked++
			color.New(color.FgRed).Fprintln(w.out, blocked.Error())
			return false, nil
		}
		return false, err
	}

	keep := session.Keep()
	sizes := make(map[string]int64, len(session.Group.Records))
	var total int64
	for _, r := range session.Group.Records {
		sizes[r.Path] = r.FileSize
		total += r.FileSize
	}

	if w.opts.DryRun {
		fmt.Fprintf(w.out, "Would keep %s and delete %d files\n", keep, len(session.Group.Records)-1)
		w.Resolved++
		w.Freed += total - sizes[keep]
		return true, nil
	}

	report, err := w.svc.Execute(ctx, session)
	if err != nil {
		return false, err
	}
	if report.MergeWarning != "" {
		color.New(color.FgYellow).Fprintln(w.out, report.MergeWarning)
	} else if report.MergedFields > 0 {
		fmt.Fprintf(w.out, "Merged %d metadata fields into %s\n", report.MergedFields, keep)
	}
	for _, res := range report.Results {
		switch {
		case res.Err != nil:
			color.New(color.FgRed).Fprintf(w.out, "  failed  %s: %v\n", res.Path, res.Err)
		case res.Missing:
			fmt.Fprintf(w.out, "  missing %s (record dropped)\n", res.Path)
		default:
			color.New(color.FgGreen).Fprintf(w.out, "  deleted %s\n", res.Path)
		}
		if res.FileRemoved {
			w.Freed += sizes[res.Path]
		}
	}
	w.Resolved++
	return true, nil
}

func (w *Walker) ignore(ctx context.Context, session *resolver.Session) error {
	w.Ignored++
	if w.opts.DryRun {
		fmt.Fprintln(w.out, "Would ignore this group")
		return nil
	}
	if err := w.svc.IgnoreSession(ctx, session); err != nil {
		return err
	}
	fmt.Fprintln(w.out, "Ignored; the records are removed from the index and the files are untouched.")
	return nil
}
