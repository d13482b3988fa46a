package node

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Operative-001/vee/internal/protocol"
	"github.com/Operative-001/vee/internal/transport"
)

// fakeConn is an in-memory transport.Conn. Receive pops inbox; SendReceive
// answers with reply, or ErrNoReply when reply is nil.
type fakeConn struct {
	mu      sync.Mutex
	binding transport.Binding
	inbox   []protocol.Message
	sent    []protocol.Message
	reply   protocol.Message
	closed  bool
}

func (c *fakeConn) Send(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) Receive() (protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbox) == 0 {
		return nil, nil
	}
	m := c.inbox[0]
	c.inbox = c.inbox[1:]
	return m, nil
}

func (c *fakeConn) SendReceive(m protocol.Message) (protocol.Message, error) {
	if err := c.Send(m); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reply == nil {
		return nil, transport.ErrNoReply
	}
	return c.reply, nil
}

func (c *fakeConn) Binding() transport.Binding { return c.binding }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) push(msgs ...protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox = append(c.inbox, msgs...)
}

func (c *fakeConn) sentMessages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.sent...)
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// newFakeNode builds a node over a fakeConn. Bound makes it the broker.
func newFakeNode(t *testing.T, name string, binding transport.Binding) (*Node, *fakeConn, *observer.ObservedLogs) {
	t.Helper()
	logger, logs := observed()
	conn := &fakeConn{binding: binding}
	n := newNode(Config{Name: name, Formation: "inproc://fake", Address: "addr-" + name, Logger: logger}, conn)
	n.openDirect = func(address string) (transport.Conn, error) {
		t.Fatalf("unexpected direct channel to %s", address)
		return nil, nil
	}
	return n, conn, logs
}

// drain handles every queued message.
func drain(t *testing.T, n *Node, conn *fakeConn) {
	t.Helper()
	for {
		conn.mu.Lock()
		left := len(conn.inbox)
		conn.mu.Unlock()
		if left == 0 {
			return
		}
		require.NoError(t, n.CheckForMessage())
	}
}

func testAddress() string {
	return "inproc://vee-node-" + uuid.NewString()
}
