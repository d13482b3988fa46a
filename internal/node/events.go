package node

// EventKind says what an Event reports.
type EventKind int

const (
	// EventData is a completed pairing exchange; Detail is the payload the
	// counterpart sent.
	EventData EventKind = iota + 1

	// EventFail is a Fail addressed to this node; Detail is the broker's
	// explanation.
	EventFail

	// EventProtocolError is a message seen where the protocol does not
	// allow it: a non-Data reply on a direct channel, or Data on the
	// formation.
	EventProtocolError
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventFail:
		return "fail"
	case EventProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// Event is a recoverable outcome surfaced to the operator.
type Event struct {
	Kind   EventKind
	Peer   string // counterpart of a pairing, empty otherwise
	Detail string
}
