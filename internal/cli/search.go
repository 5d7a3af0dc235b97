package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/stringpool/internal/query"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Any           bool
	Type          string
	User          string
	Details       map[string]string
	Limit         int
	SelfCanonical bool
	Concise       bool
	XML           bool
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search [text...]",
		Short: "Search the local pool",
		Long: `Search the local pool. Every text argument must occur in the plain
text unless --any is given. Detail predicates match index columns, or
external identifiers when the key is ID-<type>.

Examples:
  stringpool search smith 2001
  stringpool search --detail journal=nature --limit 10
  stringpool search --detail ID-doi=10.1000/182`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Any, "any", false, "match any text argument instead of all")
	cmd.Flags().StringVar(&opts.Type, "type", "", "structured type")
	cmd.Flags().StringVar(&opts.User, "user", "", "creating user")
	cmd.Flags().StringToStringVar(&opts.Details, "detail", nil, "detail predicate key=value (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of results")
	cmd.Flags().BoolVar(&opts.SelfCanonical, "self-canonical", false, "only cluster representatives")
	cmd.Flags().BoolVar(&opts.Concise, "concise", true, "omit structured representations")
	cmd.Flags().BoolVar(&opts.XML, "xml", false, "write the stringSet wire format")

	return cmd
}

func runSearch(opts *SearchOptions, text []string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	n, err := openNode(opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx := commandContext(cmd)
	results, err := n.facade.Search(ctx, query.SearchParams{
		Text:              text,
		Disjunctive:       opts.Any,
		Type:              opts.Type,
		User:              opts.User,
		Details:           opts.Details,
		Limit:             opts.Limit,
		SelfCanonicalOnly: opts.SelfCanonical,
		Concise:           opts.Concise,
	})
	if err != nil {
		return out.Fail(ExitFailure, "search failed", err)
	}
	recs, err := fullRecords(ctx, results)
	if err != nil {
		return out.Fail(ExitFailure, "failed to load structured representation", err)
	}
	if opts.XML {
		return writeXML(cmd, recs)
	}
	return printRecords(ctx, out, n, recs, false)
}
