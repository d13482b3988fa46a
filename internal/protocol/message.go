// Package protocol defines the vee wire format.
//
// Every message is a single JSON object with exactly one key, the message
// kind, whose value holds the kind's fields:
//
//	{"Hail":{"name":"p1","address":"tcp://10.0.0.1:7001"}}
//
// The set of kinds is closed. Any payload that is not one of these shapes is
// rejected by Decode; the caller decides whether that is fatal.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a message variant. It is also the discriminant key on the wire.
type Kind string

const (
	KindHail Kind = "Hail" // peer → broker: register me
	KindPair Kind = "Pair" // peer → broker: introduce originator to destination
	KindLink Kind = "Link" // broker → all: how destination reaches origin
	KindFail Kind = "Fail" // broker → all: error addressed to one node
	KindData Kind = "Data" // direct channel payload
)

var (
	ErrEmpty       = errors.New("protocol: empty message")
	ErrMalformed   = errors.New("protocol: malformed message")
	ErrUnknownKind = errors.New("protocol: unknown message kind")
)

// Message is one of Hail, Pair, Link, Fail or Data.
type Message interface {
	Kind() Kind
	isMessage()
}

// Hail announces a node so the broker can register it.
type Hail struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Pair asks the broker to introduce Originator to Destination.
type Pair struct {
	Originator  string `json:"originator"`
	Destination string `json:"destination"`
}

// Link is the broker's answer to a Pair. Address is the originator's
// registered address.
type Link struct {
	OriginName      string `json:"origin_name"`
	DestinationName string `json:"destination_name"`
	Address         string `json:"address"`
}

// Fail reports an error to the node named Offender.
type Fail struct {
	Offender    string `json:"offender"`
	Explanation string `json:"explanation"`
}

// Data carries an application payload over a direct channel.
type Data struct {
	Payload string `json:"payload"`
}

func (Hail) Kind() Kind { return KindHail }
func (Pair) Kind() Kind { return KindPair }
func (Link) Kind() Kind { return KindLink }
func (Fail) Kind() Kind { return KindFail }
func (Data) Kind() Kind { return KindData }

func (Hail) isMessage() {}
func (Pair) isMessage() {}
func (Link) isMessage() {}
func (Fail) isMessage() {}
func (Data) isMessage() {}

// fields lists the required keys of each kind, in wire order.
var fields = map[Kind][]string{
	KindHail: {"name", "address"},
	KindPair: {"originator", "destination"},
	KindLink: {"origin_name", "destination_name", "address"},
	KindFail: {"offender", "explanation"},
	KindData: {"payload"},
}

// Encode serialises m into its tagged JSON form.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil", ErrMalformed)
	}
	if _, ok := fields[m.Kind()]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind())
	}
	return json.Marshal(map[Kind]Message{m.Kind(): m})
}

// Decode parses a tagged JSON message. Unknown fields inside a variant are
// ignored; missing or non-string fields are not.
func Decode(b []byte) (Message, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, ErrEmpty
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(b, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(outer) != 1 {
		return nil, fmt.Errorf("%w: want exactly one kind, got %d keys", ErrMalformed, len(outer))
	}

	var (
		kind Kind
		body json.RawMessage
	)
	for k, v := range outer {
		kind, body = Kind(k), v
	}
	required, ok := fields[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(body, &values); err != nil || values == nil {
		return nil, fmt.Errorf("%w: %s body is not an object", ErrMalformed, kind)
	}
	got := make(map[string]string, len(required))
	for _, name := range required {
		raw, present := values[name]
		if !present {
			return nil, fmt.Errorf("%w: %s missing field %q", ErrMalformed, kind, name)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || bytes.Equal(raw, []byte("null")) {
			return nil, fmt.Errorf("%w: %s field %q is not a string", ErrMalformed, kind, name)
		}
		got[name] = s
	}

	switch kind {
	case KindHail:
		return Hail{Name: got["name"], Address: got["address"]}, nil
	case KindPair:
		return Pair{Originator: got["originator"], Destination: got["destination"]}, nil
	case KindLink:
		return Link{OriginName: got["origin_name"], DestinationName: got["destination_name"], Address: got["address"]}, nil
	case KindFail:
		return Fail{Offender: got["offender"], Explanation: got["explanation"]}, nil
	default:
		return Data{Payload: got["payload"]}, nil
	}
}
