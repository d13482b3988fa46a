package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Operative-001/vee/internal/config"
	"github.com/Operative-001/vee/internal/logging"
	"github.com/Operative-001/vee/internal/node"
	"github.com/Operative-001/vee/internal/status"
)

const usageLine = "Usage: vee NAME FORMATION_ADDRESS OWN_ADDRESS [PAIR_TO]"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vee [flags] NAME FORMATION_ADDRESS OWN_ADDRESS [PAIR_TO]",
		Short: "Peer rendezvous over a shared formation address.",
		Long: `vee joins a formation: the first node to bind the formation address
becomes its broker, every later node a peer.

Peers hail the broker with their own address. A peer started with PAIR_TO
asks the broker to introduce it to that peer; the broker answers with a
Link and both sides exchange a greeting over a direct channel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 4 {
				return usageError{fmt.Errorf("expected at most 4 arguments, got %d", len(args))}
			}
			return nil
		},
		RunE: run,
	}

	f := cmd.Flags()
	f.String("config", "", "TOML config file (default $"+config.EnvPath+")")
	f.String("log-level", "", "Log level: debug, info, warn, error")
	f.String("log-format", "", "Log format: console or json")
	f.String("status-addr", "", "Serve health, directory and metrics on host:port (empty disables)")
	f.Duration("broker-idle", 0, "Broker pause between formation checks")
	f.Duration("peer-interval", 0, "Peer pause after each hail")
	f.Duration("reply-timeout", 0, "How long to wait for the pairing reply")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return usageError{err}
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return usageError{err}
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(node.Config{
		Name:         cfg.Name,
		Formation:    cfg.Formation,
		Address:      cfg.Address,
		ReplyTimeout: cfg.Timing.ReplyTimeout.Duration(),
		BrokerIdle:   cfg.Timing.BrokerIdle.Duration(),
		PeerInterval: cfg.Timing.PeerInterval.Duration(),
		Logger:       logger.Named("node"),
	})
	if err != nil {
		logger.Fatal("could not join formation", zap.Error(err))
	}
	defer n.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(ctx, cfg.PairTo) })
	g.Go(func() error {
		printEvents(ctx, n)
		return nil
	})
	if cfg.Status.Addr != "" {
		srv := status.New(cfg.Status.Addr, n, logger.Named("status"))
		g.Go(func() error { return srv.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		n.Close()
		logger.Fatal("node stopped", zap.Error(err))
	}
	logger.Info("shut down")
	return nil
}

// printEvents echoes received greetings to stdout until ctx ends.
func printEvents(ctx context.Context, n *node.Node) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.Events():
			if e.Kind == node.EventData {
				fmt.Printf("[%s] %s\n", e.Peer, e.Detail)
			}
		}
	}
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, usageLine)
			os.Exit(2)
		}
		os.Exit(1)
	}
}
