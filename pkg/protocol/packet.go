// SPDX-License-Identifier: MIT

// Package protocol defines the wire-level vocabulary of the tsproto packet
// engine: packet classes, the per-packet header, and the packet-id window
// arithmetic used for ordering and reassembly.
package protocol

import "fmt"

// Type is the closed set of packet classes tsproto knows how to route.
// Only Command and CommandLow are reliable and fragmentable.
type Type uint8

const (
	Voice Type = iota
	VoiceWhisper
	Command
	CommandLow
	Ping
	Pong
	Ack
	AckLow
	Init
)

var typeNames = [...]string{
	Voice:        "Voice",
	VoiceWhisper: "VoiceWhisper",
	Command:      "Command",
	CommandLow:   "CommandLow",
	Ping:         "Ping",
	Pong:         "Pong",
	Ack:          "Ack",
	AckLow:       "AckLow",
	Init:         "Init",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// IsReliable reports whether packets of this type are acknowledged and
// resent by the resender.
func (t Type) IsReliable() bool {
	return t == Command || t == CommandLow
}

// IsFragmentable reports whether packets of this type may be split across
// multiple wire packets and reassembled on arrival.
func (t Type) IsFragmentable() bool {
	return t == Command || t == CommandLow
}

// IsVoice reports whether this type carries voice payload, which is
// suppressed by the resender outside of its Normal state.
func (t Type) IsVoice() bool {
	return t == Voice || t == VoiceWhisper
}

// ReliableClass indexes the two reliable, ordered packet classes used by
// ConnectedParams.receive_queue / fragmented_queue (spec.md §3).
type ReliableClass uint8

const (
	ClassCommand ReliableClass = iota
	ClassCommandLow
	numReliableClasses
)

// NumReliableClasses is the number of distinct reliable packet classes.
const NumReliableClasses = int(numReliableClasses)

// ClassOf maps a packet Type to its ReliableClass. It panics if t is not a
// reliable type; callers must check Type.IsReliable first.
func ClassOf(t Type) ReliableClass {
	switch t {
	case Command:
		return ClassCommand
	case CommandLow:
		return ClassCommandLow
	default:
		panic(fmt.Sprintf("protocol: %s is not a reliable packet class", t))
	}
}

// Flags describes the fragmentation/compression/encryption bits carried by
// the underlying wire header. Their exact bit layout is owned by the
// external packet codec (spec.md §1); the core only needs the Fragmented
// bit, which — matching the wire protocol this library speaks — is set on
// both the first and the last packet of a fragmented run and clear on any
// packet in between. Whether a given Fragmented packet starts or ends a
// run is a function of reassembly state, not of the header alone; see
// pkg/protocol/window.go.
type Flags struct {
	Fragmented  bool
	Compressed  bool
	Unencrypted bool
	Newprotocol bool
}

// Header is the per-packet metadata the core reasons about. Type is a
// closed enumeration; Flags carries the wire-format bits that matter to
// fragment reassembly (spec.md §4.4) and to the codec boundary.
type Header struct {
	Type  Type
	ID    uint16
	Flags Flags
}

// NewHeader builds a Header for a fresh outgoing packet of the given type.
func NewHeader(t Type) Header {
	return Header{Type: t}
}
