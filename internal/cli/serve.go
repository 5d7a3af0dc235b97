package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stringpool/internal/engine"
	"github.com/roach88/stringpool/internal/httpapi"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen        string
	NoReplication bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the node and replicate from its peers",
		Long: `Serve the node's HTTP API and run the replication engine.

Every configured peer is synced on its own schedule until the process
receives SIGINT or SIGTERM.

Example:
  stringpool serve --config node-a.yaml
  stringpool serve --listen 127.0.0.1:9000 --no-replication`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoReplication, "no-replication", false, "serve without syncing peers")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	n, err := openNode(opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	addr := n.cfg.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}

	var eng *engine.Engine
	if !opts.NoReplication {
		clients, err := n.cfg.Clients()
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid peer configuration", err)
		}
		peers := make([]engine.Peer, len(clients))
		for i, c := range clients {
			peers[i] = c
		}
		eng, err = engine.New(n.store, peers, append(n.cfg.EngineOptions(), engine.WithMetrics(n.metrics))...)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create replication engine", err)
		}
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := httpapi.NewServer(n.facade, httpapi.ServerConfig{
		Addr:    addr,
		FeedCap: n.cfg.Replication.FeedCap,
	})

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if eng == nil {
			<-ctx.Done()
			return
		}
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("replication stopped", "error", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Node %s serving on %s\n", n.cfg.Node, listener.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	<-engineDone

	if runErr != nil {
		return WrapExitError(ExitFailure, "server error", runErr)
	}
	slog.Info("node stopped gracefully", "node", n.cfg.Node)
	return nil
}
