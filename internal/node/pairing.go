package node

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Operative-001/vee/internal/directory"
	"github.com/Operative-001/vee/internal/metrics"
	"github.com/Operative-001/vee/internal/protocol"
	"github.com/Operative-001/vee/internal/transport"
)

const (
	ExplanationNotRegistered = "origin not registered"

	PayloadFromOrigin      = "Hello world from origin"
	PayloadFromDestination = "Hello world from destination"
)

// Resolve answers a Pair from the directory. The Link carries the
// originator's registered address; the destination does not need to be
// registered.
func Resolve(dir *directory.Directory, req protocol.Pair) protocol.Message {
	addr, ok := dir.Lookup(req.Originator)
	if !ok {
		return protocol.Fail{Offender: req.Originator, Explanation: ExplanationNotRegistered}
	}
	return protocol.Link{
		OriginName:      req.Originator,
		DestinationName: req.Destination,
		Address:         addr,
	}
}

// handleLink runs the direct exchange when this node is named in the Link.
// Origin and destination both dial link.Address; whichever gets there first
// binds it.
func (n *Node) handleLink(m protocol.Message) (err error) {
	link := m.(protocol.Link)

	var payload, peer string
	switch n.cfg.Name {
	case link.OriginName:
		payload, peer = PayloadFromOrigin, link.DestinationName
	case link.DestinationName:
		payload, peer = PayloadFromDestination, link.OriginName
	default:
		n.logger.Debug("ignoring link for other nodes",
			zap.String("origin", link.OriginName),
			zap.String("destination", link.DestinationName))
		return nil
	}

	log := n.logger.With(zap.String("peer", peer), zap.String("address", link.Address))
	log.Info("linked, opening direct channel")

	direct, err := n.openDirect(link.Address)
	if err != nil {
		return fmt.Errorf("node: open direct channel to %s: %w", link.Address, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(direct))

	reply, err := direct.SendReceive(protocol.Data{Payload: payload})
	if err == nil || errors.Is(err, transport.ErrNoReply) {
		// ErrNoReply comes after a successful send.
		n.metrics.Sent.WithLabelValues(string(protocol.KindData)).Inc()
	}
	if err != nil {
		return fmt.Errorf("node: pair exchange with %s: %w", peer, err)
	}

	data, ok := reply.(protocol.Data)
	if !ok {
		log.Error("illegal message in pair", zap.String("kind", string(reply.Kind())))
		n.metrics.Pairings.WithLabelValues(metrics.OutcomeProtocolError).Inc()
		n.emit(Event{Kind: EventProtocolError, Peer: peer, Detail: fmt.Sprintf("%s reply in pair", reply.Kind())})
		return nil
	}

	log.Info("got data", zap.String("payload", data.Payload))
	n.metrics.Pairings.WithLabelValues(metrics.OutcomeData).Inc()
	n.emit(Event{Kind: EventData, Peer: peer, Detail: data.Payload})
	return nil
}
