package node

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Operative-001/vee/internal/metrics"
	"github.com/Operative-001/vee/internal/protocol"
	"github.com/Operative-001/vee/internal/transport"
)

// withDirect routes the node's direct channel to conn and records the
// address it was asked to open.
func withDirect(n *Node, conn *fakeConn) *string {
	var dialed string
	n.openDirect = func(address string) (transport.Conn, error) {
		dialed = address
		return conn, nil
	}
	return &dialed
}

func TestLinkAsOrigin(t *testing.T) {
	n, conn, logs := newFakeNode(t, "p1", transport.Connected)
	direct := &fakeConn{reply: protocol.Data{Payload: PayloadFromDestination}}
	dialed := withDirect(n, direct)

	conn.push(protocol.Link{OriginName: "p1", DestinationName: "p2", Address: "addr-p1"})
	require.NoError(t, n.CheckForMessage())

	assert.Equal(t, "addr-p1", *dialed)
	assert.Equal(t, []protocol.Message{protocol.Data{Payload: PayloadFromOrigin}}, direct.sentMessages())
	assert.True(t, direct.closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(n.Metrics().Sent.WithLabelValues("Data")))

	e := <-n.Events()
	assert.Equal(t, Event{Kind: EventData, Peer: "p2", Detail: PayloadFromDestination}, e)
	assert.Equal(t, 1, logs.FilterMessage("got data").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(n.Metrics().Pairings.WithLabelValues(metrics.OutcomeData)))
}

func TestLinkAsDestination(t *testing.T) {
	n, conn, _ := newFakeNode(t, "p2", transport.Connected)
	direct := &fakeConn{reply: protocol.Data{Payload: PayloadFromOrigin}}
	dialed := withDirect(n, direct)

	conn.push(protocol.Link{OriginName: "p1", DestinationName: "p2", Address: "addr-p1"})
	require.NoError(t, n.CheckForMessage())

	assert.Equal(t, "addr-p1", *dialed)
	assert.Equal(t, []protocol.Message{protocol.Data{Payload: PayloadFromDestination}}, direct.sentMessages())

	e := <-n.Events()
	assert.Equal(t, Event{Kind: EventData, Peer: "p1", Detail: PayloadFromOrigin}, e)
}

func TestLinkToSelfSendsOriginPayload(t *testing.T) {
	n, conn, _ := newFakeNode(t, "p1", transport.Connected)
	direct := &fakeConn{reply: protocol.Data{Payload: "echo"}}
	withDirect(n, direct)

	conn.push(protocol.Link{OriginName: "p1", DestinationName: "p1", Address: "addr-p1"})
	require.NoError(t, n.CheckForMessage())
	assert.Equal(t, []protocol.Message{protocol.Data{Payload: PayloadFromOrigin}}, direct.sentMessages())
}

func TestLinkForOthersIgnored(t *testing.T) {
	n, conn, _ := newFakeNode(t, "p3", transport.Connected)
	conn.push(protocol.Link{OriginName: "p1", DestinationName: "p2", Address: "addr-p1"})

	require.NoError(t, n.CheckForMessage())
	assert.Empty(t, n.Events())
}

func TestLinkUnexpectedReply(t *testing.T) {
	n, conn, logs := newFakeNode(t, "p1", transport.Connected)
	direct := &fakeConn{reply: protocol.Hail{Name: "p2", Address: "addr-p2"}}
	withDirect(n, direct)

	conn.push(protocol.Link{OriginName: "p1", DestinationName: "p2", Address: "addr-p1"})
	require.NoError(t, n.CheckForMessage())

	e := <-n.Events()
	assert.Equal(t, EventProtocolError, e.Kind)
	assert.Equal(t, "p2", e.Peer)
	assert.True(t, direct.closed)
	assert.Equal(t, 1, logs.FilterMessage("illegal message in pair").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(n.Metrics().Pairings.WithLabelValues(metrics.OutcomeProtocolError)))
}

func TestLinkWithoutReplyIsFatal(t *testing.T) {
	n, conn, _ := newFakeNode(t, "p1", transport.Connected)
	direct := &fakeConn{}
	withDirect(n, direct)

	conn.push(protocol.Link{OriginName: "p1", DestinationName: "p2", Address: "addr-p1"})
	err := n.CheckForMessage()
	assert.ErrorIs(t, err, transport.ErrNoReply)
	assert.True(t, direct.closed)
	assert.Empty(t, n.Events())
	assert.Equal(t, 1.0, testutil.ToFloat64(n.Metrics().Sent.WithLabelValues("Data")))
}

func TestLinkOpenFailureIsFatal(t *testing.T) {
	n, conn, _ := newFakeNode(t, "p1", transport.Connected)
	n.openDirect = func(string) (transport.Conn, error) { return nil, transport.ErrOpen }

	conn.push(protocol.Link{OriginName: "p1", DestinationName: "p2", Address: "bogus"})
	assert.ErrorIs(t, n.CheckForMessage(), transport.ErrOpen)
	assert.Zero(t, testutil.ToFloat64(n.Metrics().Sent.WithLabelValues("Data")))
}

// awaitEvent pumps n until it reports an event.
func awaitEvent(ctx context.Context, n *Node) (Event, error) {
	for {
		select {
		case e := <-n.Events():
			return e, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if err := n.CheckForMessage(); err != nil {
			return Event{}, err
		}
	}
}

func joinTest(t *testing.T, name, formation string) *Node {
	t.Helper()
	n, err := New(Config{
		Name:         name,
		Formation:    formation,
		Address:      testAddress(),
		ReplyTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

// register hails until the broker has seen every peer.
func register(t *testing.T, broker *Node, peers ...*Node) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, p := range peers {
			if err := p.SendHail(); err != nil {
				return false
			}
		}
		if err := broker.CheckForMessage(); err != nil {
			return false
		}
		for _, p := range peers {
			if _, ok := broker.Directory().Lookup(p.Name()); !ok {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPairingEndToEnd(t *testing.T) {
	formation := testAddress()
	broker := joinTest(t, "b", formation)
	p1 := joinTest(t, "p1", formation)
	p2 := joinTest(t, "p2", formation)
	require.True(t, broker.IsBroker())

	register(t, broker, p1, p2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	brokerCtx, stopBroker := context.WithCancel(ctx)
	var brokerLoop errgroup.Group
	brokerLoop.Go(func() error {
		for brokerCtx.Err() == nil {
			if err := broker.CheckForMessage(); err != nil {
				return err
			}
		}
		return nil
	})

	peers, peersCtx := errgroup.WithContext(ctx)
	got := make([]Event, 2)
	for i, p := range []*Node{p1, p2} {
		i, p := i, p
		peers.Go(func() error {
			e, err := awaitEvent(peersCtx, p)
			got[i] = e
			return err
		})
	}

	require.NoError(t, p1.SendPair("p2"))

	err := peers.Wait()
	stopBroker()
	require.NoError(t, brokerLoop.Wait())
	require.NoError(t, err)

	assert.Equal(t, Event{Kind: EventData, Peer: "p2", Detail: PayloadFromDestination}, got[0])
	assert.Equal(t, Event{Kind: EventData, Peer: "p1", Detail: PayloadFromOrigin}, got[1])
}

func TestPairingUnregisteredOriginator(t *testing.T) {
	formation := testAddress()
	broker := joinTest(t, "b", formation)
	ghost := joinTest(t, "ghost", formation)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The Pair is resent until the broker has answered one, since the
	// ghost's connection may not be up yet.
	for testutil.ToFloat64(broker.Metrics().Sent.WithLabelValues("Fail")) == 0 {
		require.NoError(t, ctx.Err())
		require.NoError(t, ghost.SendPair("b"))
		require.NoError(t, broker.CheckForMessage())
	}

	e, err := awaitEvent(ctx, ghost)
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: EventFail, Detail: ExplanationNotRegistered}, e)
}
