// Package node implements the vee protocol engine.
//
// Design:
//   - Construction joins the formation with a bind-or-connect probe. Winning
//     the bind makes the node the broker for its whole lifetime; losing it
//     makes it a peer. The role is never re-checked against the socket.
//   - CheckForMessage drains at most one formation message and dispatches it
//     through a table keyed by message kind.
//   - Only the broker may see Hail and Pair. A peer that sees one returns
//     ErrRoleViolation, which callers treat as fatal.
//   - A Link naming this node hands off from the formation to a short-lived
//     direct channel: one Data out, one reply in, then the channel is closed.
//   - Fail addressed to this node, a non-Data reply during pairing, and Data on
//     the formation are reported (log + Event) and do not stop the node.
package node

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Operative-001/vee/internal/directory"
	"github.com/Operative-001/vee/internal/metrics"
	"github.com/Operative-001/vee/internal/protocol"
	"github.com/Operative-001/vee/internal/transport"
)

const (
	defaultBrokerIdle   = 500 * time.Millisecond
	defaultPeerInterval = 2 * time.Second
	eventQueueDepth     = 64
)

// ErrRoleViolation means a node observed a message that only the other role
// should ever receive.
var ErrRoleViolation = errors.New("node: role violation")

// Role is fixed when the node joins the formation.
type Role int

const (
	RolePeer Role = iota
	RoleBroker
)

func (r Role) String() string {
	if r == RoleBroker {
		return "broker"
	}
	return "peer"
}

// Config configures a Node.
type Config struct {
	Name         string        // unique within the formation
	Formation    string        // shared formation address
	Address      string        // this node's own address, advertised in Hails
	ReplyTimeout time.Duration // wait for the pairing reply; defaults to transport.DefaultReplyTimeout
	BrokerIdle   time.Duration // Run: broker pause between checks; defaults to 500ms
	PeerInterval time.Duration // Run: peer pause after each Hail; defaults to 2s
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

type handler func(protocol.Message) error

// Node is the vee protocol engine.
type Node struct {
	cfg       Config
	role      Role
	formation transport.Conn
	dir       *directory.Directory
	handlers  map[protocol.Kind]handler
	events    chan Event
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// openDirect opens the channel used for one pairing exchange.
	openDirect func(address string) (transport.Conn, error)
}

// New joins the formation at cfg.Formation. The outcome of the bind decides
// the node's role.
func New(cfg Config) (*Node, error) {
	if cfg.Name == "" {
		return nil, errors.New("node: name is required")
	}
	if cfg.Formation == "" {
		return nil, errors.New("node: formation address is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	formation, err := transport.Open(cfg.Formation, transport.Broadcast,
		transport.WithLogger(cfg.Logger.Named("formation")))
	if err != nil {
		return nil, fmt.Errorf("node: join formation: %w", err)
	}
	return newNode(cfg, formation), nil
}

func newNode(cfg Config, formation transport.Conn) *Node {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = transport.DefaultReplyTimeout
	}
	if cfg.BrokerIdle <= 0 {
		cfg.BrokerIdle = defaultBrokerIdle
	}
	if cfg.PeerInterval <= 0 {
		cfg.PeerInterval = defaultPeerInterval
	}

	role := RolePeer
	if formation.Binding() == transport.Bound {
		role = RoleBroker
	}

	n := &Node{
		cfg:       cfg,
		role:      role,
		formation: formation,
		dir:       directory.New(),
		events:    make(chan Event, eventQueueDepth),
		metrics:   cfg.Metrics,
		logger: cfg.Logger.With(
			zap.String("name", cfg.Name),
			zap.Stringer("role", role),
		),
	}
	n.openDirect = func(address string) (transport.Conn, error) {
		return transport.Open(address, transport.Direct,
			transport.WithReplyTimeout(cfg.ReplyTimeout),
			transport.WithLogger(cfg.Logger.Named("direct")))
	}
	n.handlers = map[protocol.Kind]handler{
		protocol.KindHail: n.handleHail,
		protocol.KindPair: n.handlePair,
		protocol.KindFail: n.handleFail,
		protocol.KindLink: n.handleLink,
		protocol.KindData: n.handleStrayData,
	}

	if role == RoleBroker {
		n.dir.Put(cfg.Name, cfg.Address)
		n.metrics.Broker.Set(1)
	}
	n.metrics.DirectoryEntries.Set(float64(n.dir.Len()))

	n.logger.Info("joined formation", zap.String("formation", cfg.Formation), zap.String("address", cfg.Address))
	return n
}

func (n *Node) Name() string    { return n.cfg.Name }
func (n *Node) Address() string { return n.cfg.Address }
func (n *Node) Role() Role      { return n.role }

// IsBroker reports whether this node won the formation bind.
func (n *Node) IsBroker() bool { return n.role == RoleBroker }

// Directory returns the node's peer directory. Only the broker's is
// populated.
func (n *Node) Directory() *directory.Directory { return n.dir }

// Metrics returns the node's collectors.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Events returns a channel of reported outcomes. Events are dropped when
// nobody drains the channel.
func (n *Node) Events() <-chan Event { return n.events }

// SendHail announces this node on the formation.
func (n *Node) SendHail() error {
	n.logger.Debug("sending hail")
	return n.broadcast(protocol.Hail{Name: n.cfg.Name, Address: n.cfg.Address})
}

// SendPair asks the broker to introduce this node to destination.
func (n *Node) SendPair(destination string) error {
	n.logger.Info("requesting pair", zap.String("destination", destination))
	return n.broadcast(protocol.Pair{Originator: n.cfg.Name, Destination: destination})
}

// CheckForMessage handles at most one waiting formation message. It returns
// nil when nothing was waiting or the message was handled or reported. Any
// error it returns is fatal to the node.
func (n *Node) CheckForMessage() error {
	n.logger.Debug("checking for messages")
	m, err := n.formation.Receive()
	if err != nil {
		return fmt.Errorf("node: formation: %w", err)
	}
	if m == nil {
		return nil
	}

	n.metrics.Received.WithLabelValues(string(m.Kind())).Inc()
	handle, ok := n.handlers[m.Kind()]
	if !ok {
		return fmt.Errorf("node: no handler for %s", m.Kind())
	}
	return handle(m)
}

// Close leaves the formation.
func (n *Node) Close() error {
	n.logger.Debug("leaving formation")
	return n.formation.Close()
}

func (n *Node) broadcast(m protocol.Message) error {
	if err := n.formation.Send(m); err != nil {
		return fmt.Errorf("node: broadcast %s: %w", m.Kind(), err)
	}
	n.metrics.Sent.WithLabelValues(string(m.Kind())).Inc()
	return nil
}

func (n *Node) requireBroker(m protocol.Message) error {
	if n.role == RoleBroker {
		return nil
	}
	return fmt.Errorf("%w: %s received %s, which only a broker may receive", ErrRoleViolation, n.role, m.Kind())
}

func (n *Node) handleHail(m protocol.Message) error {
	if err := n.requireBroker(m); err != nil {
		return err
	}
	hail := m.(protocol.Hail)

	prev, replaced := n.dir.Put(hail.Name, hail.Address)
	n.metrics.DirectoryEntries.Set(float64(n.dir.Len()))

	fields := []zap.Field{zap.String("peer", hail.Name), zap.String("address", hail.Address)}
	if replaced && prev != hail.Address {
		fields = append(fields, zap.String("previous", prev))
	}
	n.logger.Debug("hail", fields...)
	n.logger.Debug("registry state", zap.Any("directory", n.dir.Snapshot()))
	return nil
}

func (n *Node) handlePair(m protocol.Message) error {
	if err := n.requireBroker(m); err != nil {
		return err
	}
	pair := m.(protocol.Pair)
	n.logger.Info("pair requested",
		zap.String("originator", pair.Originator),
		zap.String("destination", pair.Destination))

	return n.broadcast(Resolve(n.dir, pair))
}

func (n *Node) handleFail(m protocol.Message) error {
	fail := m.(protocol.Fail)
	if fail.Offender != n.cfg.Name {
		n.logger.Debug("ignoring fail for another node", zap.String("offender", fail.Offender))
		return nil
	}

	n.logger.Error("received fail from broker", zap.String("explanation", fail.Explanation))
	n.metrics.FailsReported.Inc()
	n.emit(Event{Kind: EventFail, Detail: fail.Explanation})
	return nil
}

func (n *Node) handleStrayData(m protocol.Message) error {
	n.logger.Error("illegal message in formation", zap.String("kind", string(m.Kind())))
	n.emit(Event{Kind: EventProtocolError, Detail: fmt.Sprintf("%s on formation", m.Kind())})
	return nil
}

func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
	}
}
