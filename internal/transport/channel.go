package transport

import (
	"errors"
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/bus"
	"go.nanomsg.org/mangos/v3/protocol/pair"
	"go.uber.org/zap"

	// Address schemes understood by Open: tcp://, ipc://, inproc://.
	_ "go.nanomsg.org/mangos/v3/transport/inproc"
	_ "go.nanomsg.org/mangos/v3/transport/ipc"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"

	"github.com/Operative-001/vee/internal/protocol"
)

const (
	// PollTimeout bounds every Receive.
	PollTimeout = 100 * time.Millisecond

	// DefaultReplyTimeout bounds the wait for a reply in SendReceive.
	DefaultReplyTimeout = 5 * time.Second

	// DirectLinger is how long Close keeps a Direct channel open so the
	// socket can flush what was last sent. The pair socket drops its queue
	// on close.
	DirectLinger = 2 * PollTimeout
)

var (
	ErrOpen    = errors.New("transport: cannot bind or connect")
	ErrNoReply = errors.New("transport: no reply")
)

// Option configures Open.
type Option func(*options)

type options struct {
	replyTimeout time.Duration
	logger       *zap.Logger
}

// WithReplyTimeout sets how long SendReceive waits for its reply.
func WithReplyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.replyTimeout = d
		}
	}
}

// WithLogger sets the channel's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Channel is a Conn over a mangos socket: bus for Broadcast, pair for Direct.
type Channel struct {
	address      string
	mode         Mode
	binding      Binding
	sock         mangos.Socket
	replyTimeout time.Duration
	logger       *zap.Logger
}

// Open creates a channel on address. It tries to bind first and falls back
// to connecting if the bind fails (normally because another process already
// owns the address). If connecting fails too, Open returns an error wrapping
// ErrOpen. There is no retry.
func Open(address string, mode Mode, opts ...Option) (*Channel, error) {
	o := options{replyTimeout: DefaultReplyTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	sock, err := newSocket(mode)
	if err != nil {
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, PollTimeout); err != nil {
		sock.Close() //nolint:errcheck
		return nil, fmt.Errorf("transport: set receive deadline: %w", err)
	}
	// bus sockets reject OptionSendDeadline; their sends never block.
	if mode == Direct {
		if err := sock.SetOption(mangos.OptionSendDeadline, o.replyTimeout); err != nil {
			sock.Close() //nolint:errcheck
			return nil, fmt.Errorf("transport: set send deadline: %w", err)
		}
	}

	binding := Bound
	if lerr := sock.Listen(address); lerr != nil {
		if derr := sock.Dial(address); derr != nil {
			sock.Close() //nolint:errcheck
			return nil, fmt.Errorf("%w %q: listen: %v; dial: %v", ErrOpen, address, lerr, derr)
		}
		binding = Connected
	}

	c := &Channel{
		address:      address,
		mode:         mode,
		binding:      binding,
		sock:         sock,
		replyTimeout: o.replyTimeout,
		logger:       o.logger.With(zap.String("address", address), zap.Stringer("mode", mode)),
	}
	c.logger.Debug("channel open", zap.Stringer("binding", binding))
	return c, nil
}

func newSocket(mode Mode) (mangos.Socket, error) {
	var (
		sock mangos.Socket
		err  error
	)
	switch mode {
	case Broadcast:
		sock, err = bus.NewSocket()
	case Direct:
		sock, err = pair.NewSocket()
	default:
		return nil, fmt.Errorf("transport: unknown mode %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: new %s socket: %w", mode, err)
	}
	return sock, nil
}

// Address returns the address the channel was opened on.
func (c *Channel) Address() string { return c.address }

// Mode returns the channel's topology.
func (c *Channel) Mode() Mode { return c.mode }

// Binding reports whether Open bound or connected the address.
func (c *Channel) Binding() Binding { return c.binding }

// Send encodes m and writes it to the socket. On a Broadcast channel a
// message with no one to receive it is dropped.
func (c *Channel) Send(m protocol.Message) error {
	wire, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", kindOf(m), err)
	}
	if err := c.sock.Send(wire); err != nil {
		return fmt.Errorf("transport: send %s on %s: %w", m.Kind(), c.address, err)
	}
	c.logger.Debug("sent", zap.ByteString("message", wire))
	return nil
}

// Receive waits up to PollTimeout for one message. Timeouts and empty frames
// return (nil, nil); anything that does not decode is an error.
func (c *Channel) Receive() (protocol.Message, error) {
	wire, err := c.sock.Recv()
	if errors.Is(err, mangos.ErrRecvTimeout) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transport: receive on %s: %w", c.address, err)
	}

	m, err := protocol.Decode(wire)
	if errors.Is(err, protocol.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transport: decode from %s: %w", c.address, err)
	}
	c.logger.Debug("received", zap.ByteString("message", wire))
	return m, nil
}

// SendReceive sends m and waits up to the reply timeout for the next message.
// No reply is ErrNoReply.
func (c *Channel) SendReceive(m protocol.Message) (protocol.Message, error) {
	if err := c.Send(m); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.replyTimeout)
	for {
		reply, err := c.Receive()
		if err != nil {
			return nil, err
		}
		if reply != nil {
			return reply, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w on %s within %s", ErrNoReply, c.address, c.replyTimeout)
		}
	}
}

// Close releases the socket. A Direct channel lingers for DirectLinger first
// so the peer still gets the last message sent on it.
func (c *Channel) Close() error {
	if c.mode == Direct {
		time.Sleep(DirectLinger)
	}
	if err := c.sock.Close(); err != nil && !errors.Is(err, mangos.ErrClosed) {
		return fmt.Errorf("transport: close %s: %w", c.address, err)
	}
	return nil
}

func kindOf(m protocol.Message) string {
	if m == nil {
		return "<nil>"
	}
	return string(m.Kind())
}
