// Package transport moves encoded protocol messages between nodes.
//
// A Channel wraps one message-oriented socket. It is created by probing its
// address: the first process to bind an address owns it, every later process
// connects to it instead. The formation uses Broadcast channels (a bus: the
// bound side talks to every connected side), pairing uses short-lived Direct
// channels (one bound side, one connected side).
package transport

import (
	"github.com/Operative-001/vee/internal/protocol"
)

// Mode is the topology of a channel.
type Mode int

const (
	Broadcast Mode = iota
	Direct
)

func (m Mode) String() string {
	switch m {
	case Broadcast:
		return "broadcast"
	case Direct:
		return "direct"
	default:
		return "unknown"
	}
}

// Binding records which side of the bind-or-connect probe a channel ended on.
type Binding int

const (
	Bound Binding = iota
	Connected
)

func (b Binding) String() string {
	if b == Bound {
		return "bound"
	}
	return "connected"
}

// Conn abstracts message I/O over one channel.
// The node uses this interface so tests can drive it with any channel.
type Conn interface {
	// Send encodes m and writes it. An error means the channel is broken.
	Send(m protocol.Message) error

	// Receive waits up to PollTimeout for a message. It returns (nil, nil)
	// when nothing arrived in time.
	Receive() (protocol.Message, error)

	// SendReceive sends m and waits for exactly one reply. A missing reply
	// is an error.
	SendReceive(m protocol.Message) (protocol.Message, error)

	// Binding reports whether the channel bound or connected its address.
	Binding() Binding

	// Close releases the socket.
	Close() error
}
