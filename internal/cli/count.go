package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/stringpool/internal/stats"
)

// CountOptions holds flags for the count command.
type CountOptions struct {
	*RootOptions
	Since    int64
	Clusters bool
	Stats    bool
}

// CountResult is the JSON payload of the count command.
type CountResult struct {
	Records  int64            `json:"records"`
	Clusters *int64           `json:"clusters,omitempty"`
	Stats    map[string]int64 `json:"stats,omitempty"`
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count records and clusters",
		Long: `Print the number of records created after --since (epoch millis,
-1 counts everything), optionally the number of clusters and the
node's operation counters.

Examples:
  stringpool count
  stringpool count --since 1700000000000 --clusters`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Since, "since", -1, "only records created after this time (epoch millis)")
	cmd.Flags().BoolVar(&opts.Clusters, "clusters", false, "also count clusters")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "also print operation counters")

	return cmd
}

func runCount(opts *CountOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	n, err := openNode(opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx := commandContext(cmd)
	var result CountResult
	result.Records, err = n.facade.Count(ctx, opts.Since)
	if err != nil {
		return out.Fail(ExitFailure, "count failed", err)
	}
	if opts.Clusters {
		clusters, err := n.facade.ClusterCount(ctx)
		if err != nil {
			return out.Fail(ExitFailure, "cluster count failed", err)
		}
		result.Clusters = &clusters
	}
	if opts.Stats {
		result.Stats, err = n.metrics.Snapshot(ctx)
		if err != nil {
			return out.Fail(ExitFailure, "failed to read counters", err)
		}
	}

	if out.JSON() {
		return out.Success(result)
	}
	out.Textf("records:  %d", result.Records)
	if result.Clusters != nil {
		out.Textf("clusters: %d", *result.Clusters)
	}
	if result.Stats != nil {
		for _, name := range stats.Names(result.Stats) {
			out.Textf("%-32s %d", name, result.Stats[name])
		}
	}
	return nil
}
