package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stringpool/internal/codec"
	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/query"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Linked  bool
	Concise bool
	XML     bool
	History bool
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <id>...",
		Short: "Print records by id",
		Long: `Print records of the local pool by id. Unknown ids are skipped.

With --linked, prints the whole cluster of the (single) given id.

Examples:
  stringpool get 0CC175B9C0F1B6A831C399E269772661
  stringpool get --linked --xml 0CC175B9C0F1B6A831C399E269772661`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Linked, "linked", false, "print the cluster of the id")
	cmd.Flags().BoolVar(&opts.Concise, "concise", false, "omit structured representations")
	cmd.Flags().BoolVar(&opts.XML, "xml", false, "write the stringSet wire format")
	cmd.Flags().BoolVar(&opts.History, "history", false, "include the update history")

	return cmd
}

// RecordOutput is a record with its optional history.
type RecordOutput struct {
	ir.Record
	History []ir.HistoryEntry `json:"history,omitempty"`
}

func runGet(opts *GetOptions, ids []string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)
	if opts.Linked && len(ids) != 1 {
		return NewExitError(ExitCommandError, "--linked takes exactly one id")
	}

	n, err := openNode(opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx := commandContext(cmd)
	var results []*query.Result
	if opts.Linked {
		results, err = n.facade.GetLinked(ctx, ids[0], opts.Concise)
	} else {
		results, err = n.facade.Get(ctx, ids, opts.Concise)
	}
	if err != nil {
		return out.Fail(ExitFailure, "lookup failed", err)
	}
	recs, err := fullRecords(ctx, results)
	if err != nil {
		return out.Fail(ExitFailure, "failed to load structured representation", err)
	}

	if opts.XML {
		return writeXML(cmd, recs)
	}
	return printRecords(ctx, out, n, recs, opts.History)
}

func writeXML(cmd *cobra.Command, recs []ir.Record) error {
	if err := codec.EncodeRecords(cmd.OutOrStdout(), recs); err != nil {
		return WrapExitError(ExitFailure, "failed to encode records", err)
	}
	return nil
}

// printRecords writes recs as text lines or a JSON list.
func printRecords(ctx context.Context, out *OutputFormatter, n *node, recs []ir.Record, history bool) error {
	outputs := make([]RecordOutput, len(recs))
	for i, rec := range recs {
		outputs[i] = RecordOutput{Record: rec}
		if history {
			entries, err := n.store.History(ctx, rec.ID)
			if err != nil {
				return out.Fail(ExitFailure, "failed to read history", err)
			}
			outputs[i].History = entries
		}
	}

	if out.JSON() {
		return out.Success(outputs)
	}
	if len(outputs) == 0 {
		out.Textf("No records.")
		return nil
	}
	for _, o := range outputs {
		out.Textf("%s", recordLine(o.Record))
		if len(o.Parsed) > 0 {
			out.VerboseLog("  parsed: %s", o.Parsed)
		}
		for _, h := range o.History {
			out.Textf("    %d  %s  %s/%s", h.UpdateTime, h.SourceDescriptor, h.UpdateDomain, h.UpdateUser)
		}
	}
	out.Headerf("%s", pluralize(len(outputs), "record"))
	return nil
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
