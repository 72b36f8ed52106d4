package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/conditions/internal/ir"
)

// InstanceHistory is one condition instance with the actions recorded for it.
type InstanceHistory struct {
	ir.Instance
	Actions []ir.ActionRecord `json:"actions"`
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Class   string
	Subject string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the condition instances and action records of a subject",
		Long: `Show every condition instance of a class, oldest first, together with the
actions recorded against it. Restrict to one subject with --subject.

Example:
  conditions history --class overdue_invoice --subject inv-42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().String("db", "", "condition store: SQLite path or Postgres URL")
	cmd.Flags().String("driver", "", "condition store driver (sqlite|postgres)")
	cmd.Flags().StringVar(&opts.Class, "class", "", "class id (required)")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject key")
	_ = cmd.MarkFlagRequired("class")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	class, err := ir.CanonicalName(opts.Class)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid class id", err)
	}

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

	instances, err := st.Instances(ctx, class, opts.Subject)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read instances", err)
	}

	history := make([]InstanceHistory, 0, len(instances))
	for _, inst := range instances {
		records, err := st.Records(ctx, inst.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read action records", err)
		}
		if records == nil {
			records = []ir.ActionRecord{}
		}
		history = append(history, InstanceHistory{Instance: inst, Actions: records})
	}

	return newFormatter(opts.RootOptions, cmd).Result("", history, func(w io.Writer) error {
		outputHistoryText(w, class, opts.Subject, history)
		return nil
	})
}

func outputHistoryText(w io.Writer, class, subject string, history []InstanceHistory) {
	if len(history) == 0 {
		if subject != "" {
			fmt.Fprintf(w, "No conditions recorded for %s/%s.\n", class, subject)
		} else {
			fmt.Fprintf(w, "No conditions recorded for %s.\n", class)
		}
		return
	}

	for i, h := range history {
		if i > 0 {
			fmt.Fprintln(w)
		}
		state := "open"
		if h.Ended != nil {
			state = "ended " + h.Ended.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "#%d %s/%s created %s, %s\n", h.ID, h.Class, h.Subject, h.Created.UTC().Format(time.RFC3339), state)
		for _, rec := range h.Actions {
			line := fmt.Sprintf("  %s %-9s %s", rec.ExecutedAt.UTC().Format(time.RFC3339), rec.Trigger, rec.Name)
			if !rec.Basis.IsZero() {
				line += " (since " + rec.Basis.UTC().Format(time.RFC3339) + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
}
