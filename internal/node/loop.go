package node

import (
	"context"
	"time"
)

// Run drives the node until ctx is cancelled or a fatal error occurs. Each
// iteration handles at most one formation message, then a broker idles while
// a peer re-hails and waits. When pairTo is set, a Pair for it is sent on
// every iteration.
func (n *Node) Run(ctx context.Context, pairTo string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.CheckForMessage(); err != nil {
			return err
		}

		wait := n.cfg.BrokerIdle
		if !n.IsBroker() {
			if err := n.SendHail(); err != nil {
				return err
			}
			wait = n.cfg.PeerInterval
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}

		if pairTo != "" {
			if err := n.SendPair(pairTo); err != nil {
				return err
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
