package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stringpool/internal/config"
	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/query"
	"github.com/roach88/stringpool/internal/stats"
	"github.com/roach88/stringpool/internal/store"
)

// node is a locally opened pool: configuration, store and facade.
type node struct {
	cfg          *config.Config
	store        *store.Store
	facade       *query.Facade
	metrics      stats.Sink
	closeMetrics func() error
}

// openNode loads the configuration and opens the node's store. Failures
// are command errors.
func openNode(opts *RootOptions) (*node, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	slog.Debug("opening database", "path", cfg.Database, "node", cfg.Node)
	st, err := cfg.OpenStore()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	metrics, closeMetrics, err := cfg.Metrics()
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to connect stats sink", err)
	}
	return &node{
		cfg:          cfg,
		store:        st,
		facade:       query.New(st, query.WithMetrics(metrics), query.WithDomain(cfg.Domain)),
		metrics:      metrics,
		closeMetrics: closeMetrics,
	}, nil
}

// Close releases the store and the stats sink.
func (n *node) Close() {
	if err := n.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
	if err := n.closeMetrics(); err != nil {
		slog.Error("error closing stats sink", "error", err)
	}
}

// actor is the identity local commands write as.
func (n *node) actor(user string) ir.Actor {
	return ir.Actor{Domain: n.cfg.Domain, User: user}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// recordLine renders a record as one text line.
func recordLine(rec ir.Record) string {
	var b strings.Builder
	b.WriteString(rec.ID)
	b.WriteString("  ")
	b.WriteString(rec.PlainText)
	if !rec.SelfCanonical() {
		fmt.Fprintf(&b, "  -> %s", rec.CanonicalID)
	}
	if rec.Deleted {
		b.WriteString("  [deleted]")
	}
	return b.String()
}

// fullRecords loads the structured representation of every result that
// was not requested concise.
func fullRecords(ctx context.Context, results []*query.Result) ([]ir.Record, error) {
	out := make([]ir.Record, len(results))
	for i, res := range results {
		rec, err := res.Full(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}
