package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/stringpool/internal/engine"
)

// SyncResult is the JSON payload of the sync command.
type SyncResult struct {
	Cycles []engine.CycleReport `json:"cycles"`
	Failed []string             `json:"failed,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [peer...]",
		Short: "Run one sync cycle against peers",
		Long: `Run one replication cycle against each named peer, or against every
configured peer when none is named. Each cycle reads the peer's change
feed from the stored watermark and applies what changed.

Exit codes:
  0 - All cycles completed
  1 - One or more cycles failed
  2 - Command error (bad config, unknown peer, etc.)

Examples:
  stringpool sync
  stringpool sync node-b --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runSync(opts *RootOptions, names []string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts)

	n, err := openNode(opts)
	if err != nil {
		return err
	}
	defer n.Close()

	clients, err := n.cfg.Clients()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid peer configuration", err)
	}
	peers := make([]engine.Peer, len(clients))
	for i, c := range clients {
		peers[i] = c
	}
	eng, err := engine.New(n.store, peers, append(n.cfg.EngineOptions(), engine.WithMetrics(n.metrics))...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create replication engine", err)
	}

	selected := eng.Peers()
	if len(names) > 0 {
		selected = selected[:0:0]
		for _, name := range names {
			p, ok := eng.Peer(name)
			if !ok {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown peer %q", name))
			}
			selected = append(selected, p)
		}
	}
	if len(selected) == 0 {
		out.Textf("No peers configured.")
		if out.JSON() {
			return out.Success(SyncResult{Cycles: []engine.CycleReport{}})
		}
		return nil
	}

	ctx := commandContext(cmd)
	result := SyncResult{Cycles: make([]engine.CycleReport, 0, len(selected))}
	for _, p := range selected {
		out.VerboseLog("syncing %s", p.Name())
		report, err := eng.SyncPeer(ctx, p)
		result.Cycles = append(result.Cycles, report)
		if err != nil {
			slog.Warn("sync cycle failed", "peer", p.Name(), "error", err)
			result.Failed = append(result.Failed, p.Name())
			out.Warnf("%s: %v", p.Name(), err)
			continue
		}
		out.Okf("%s: %d entries, %d applied, %d simple updates, %d ignored, %d skipped (watermark %d)",
			p.Name(), report.FeedEntries, report.Applied, report.SimpleUpdates,
			report.Ignored, report.Skipped, report.Watermark)
	}

	if out.JSON() {
		if err := out.Success(result); err != nil {
			return err
		}
	}
	if len(result.Failed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d sync cycle(s) failed", len(result.Failed)))
	}
	return nil
}
