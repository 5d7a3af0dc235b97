package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stringpool/internal/store"
)

// MaintainOptions holds flags for the maintain command.
type MaintainOptions struct {
	*RootOptions
	BatchSize int
	MaxPasses int
	Pause     time.Duration
}

// NewMaintainCommand creates the maintain command.
func NewMaintainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MaintainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Make every cluster agree on one canonical id",
		Long: `Fill missing cluster ids and rewrite clusters whose members name
different canonical ids. Rewrites are ordinary updates and replicate to
peers on their next cycle.

Example:
  stringpool maintain --batch 500 --pause 50ms`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintain(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.BatchSize, "batch", store.DefaultMaintainBatch, "clusters examined per query")
	cmd.Flags().IntVar(&opts.MaxPasses, "max-passes", store.DefaultMaintainMaxPasses, "maximum passes over all clusters")
	cmd.Flags().DurationVar(&opts.Pause, "pause", 0, "pause between batches")

	return cmd
}

func runMaintain(opts *MaintainOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	n, err := openNode(opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	report, err := n.store.Maintain(commandContext(cmd), store.MaintainOptions{
		BatchSize: opts.BatchSize,
		MaxPasses: opts.MaxPasses,
		Pause:     opts.Pause,
		Actor:     n.actor("maintenance"),
	})
	if err != nil {
		return out.Fail(ExitFailure, "maintenance failed", err)
	}

	if out.JSON() {
		return out.Success(report)
	}
	out.Okf("%d passes: %d cluster ids filled, %d clusters fixed, %d records updated",
		report.Passes, report.ClusterIDsFilled, report.ClustersFixed, report.RecordsUpdated)
	return nil
}
