package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/conditions/internal/ir"
)

// ClassStatus is one row of the status view.
type ClassStatus struct {
	ir.ClassCount
	Subjects []string `json:"subjects,omitempty"` // open subjects, only with --subjects
}

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	ShowSubjects bool
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show open conditions per class",
		Long: `Show, for every class with stored instances, how many conditions are open,
how many have closed, and how many actions have been recorded.

Reads the condition store only; no predicate is evaluated.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().String("db", "", "condition store: SQLite path or Postgres URL")
	cmd.Flags().String("driver", "", "condition store driver (sqlite|postgres)")
	cmd.Flags().BoolVar(&opts.ShowSubjects, "subjects", false, "list the open subjects of each class")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: database unavailable", ErrCodeDatabase), err)
	}
	defer st.Close()

	counts, err := st.ClassCounts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read class counts", err)
	}

	rows := make([]ClassStatus, 0, len(counts))
	for _, c := range counts {
		row := ClassStatus{ClassCount: c}
		if opts.ShowSubjects {
			subjects, err := st.OpenSubjects(ctx, c.Class)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read open subjects", err)
			}
			row.Subjects = subjects
		}
		rows = append(rows, row)
	}

	return newFormatter(opts.RootOptions, cmd).Result("", rows, func(w io.Writer) error {
		return outputStatusText(w, rows)
	})
}

func outputStatusText(w io.Writer, rows []ClassStatus) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No conditions recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tOPEN\tCLOSED\tACTIONS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", r.Class, r.Open, r.Closed, r.Actions)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, r := range rows {
		if len(r.Subjects) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", r.Class)
		for _, s := range r.Subjects {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
	return nil
}
