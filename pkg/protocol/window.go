// SPDX-License-Identifier: MIT

package protocol

import "fmt"

const windowHalf = 1 << 15 // 2^15, half of the 2^16 id space

// maxReassembledPayload bounds a single fragmented run's combined payload.
// The wire protocol does not publish an explicit limit; this is a
// defensive bound, well above any legitimate command payload, that makes
// spec.md §7's "oversized combined payload" termination reachable instead
// of letting an adversarial or buggy peer grow the reassembly buffer
// without bound.
const maxReassembledPayload = 1 << 20 // 1 MiB

// InWindow reports whether packet id p is in the acceptance window
// [next, next+2^15) taken modulo 2^16, per spec.md §3 invariant (i) and §8
// testable property 4. Arithmetic is carried out on uint16 so wraparound
// matches the wire id space exactly.
func InWindow(p, next uint16) bool {
	return uint16(p-next) < windowHalf
}

// PacketIDs tracks the monotone (generation, next id) pair used for both
// outgoing and incoming packet-id counters of a single packet class
// (spec.md §3 ConnectedParams.outgoing_p_ids / incoming_p_ids).
type PacketIDs struct {
	Generation uint32
	Next       uint16
}

// Advance returns the id to stamp on the next outgoing packet and bumps
// the counter, rolling Generation forward on wraparound.
func (p *PacketIDs) Advance() uint16 {
	id := p.Next
	if p.Next == 0xFFFF {
		p.Generation++
	}
	p.Next++
	return id
}

// reassembly holds an in-progress fragmented-packet buffer for one
// reliable class (ConnectedParams.fragmented_queue[t], spec.md §3).
type reassembly struct {
	header  Header
	payload []byte
}

// ReceiveWindow implements the per-class out-of-order receive window and
// fragment reassembly described in spec.md §3 and §4.4. It sends no acks;
// that is left to the caller. It is not safe for concurrent use; callers
// (Connection) own it on
// the single event-loop goroutine equivalent.
type ReceiveWindow struct {
	ids     PacketIDs
	parked  map[uint16]parkedPacket
	pending *reassembly
}

type parkedPacket struct {
	header  Header
	payload []byte
}

// NewReceiveWindow creates a window starting at next id 0.
func NewReceiveWindow() *ReceiveWindow {
	return &ReceiveWindow{parked: make(map[uint16]parkedPacket)}
}

// Next returns the smallest id not yet delivered upward.
func (w *ReceiveWindow) Next() uint16 { return w.ids.Next }

// Accept reports whether id p currently falls in the receive window,
// without mutating any state (spec.md §4.4 step 1).
func (w *ReceiveWindow) Accept(p uint16) bool {
	return InWindow(p, w.ids.Next)
}

// Deliverable is a packet ready to be handed to the distributor, already
// defragmented if it was part of a fragmented run.
type Deliverable struct {
	Header  Header
	Payload []byte
}

// Push runs the full spec.md §4.4 pipeline for one arriving reliable
// packet: window acceptance, in-order delivery or parking, draining of
// contiguous parked packets, and fragment reassembly of each delivered
// packet. It returns the in-order, defragmented packets that are now ready
// for upward delivery (zero or more — a parked out-of-order arrival yields
// none; a drain after the gap closes may yield several at once).
//
// Push does not decide whether to ack; callers ack every accepted packet
// before calling Push, per spec.md §4.4 step 2, since an ack must be sent
// for every accepted packet "regardless of order".
func (w *ReceiveWindow) Push(h Header, payload []byte) ([]Deliverable, error) {
	if !w.Accept(h.ID) {
		return nil, nil
	}

	if h.ID != w.ids.Next {
		// Out of order: park, replacing any prior entry with the same id.
		w.parked[h.ID] = parkedPacket{header: h, payload: payload}
		return nil, nil
	}

	var out []Deliverable
	cur := parkedPacket{header: h, payload: payload}
	for {
		d, err := w.deliver(cur.header, cur.payload)
		if err != nil {
			return out, err
		}
		if d != nil {
			out = append(out, *d)
		}

		next, ok := w.parked[w.ids.Next]
		if !ok {
			break
		}
		delete(w.parked, w.ids.Next)
		cur = next
	}
	return out, nil
}

// deliver advances Next by one and runs fragment reassembly for a single
// in-order packet, returning the reassembled packet if a full message is
// now available.
func (w *ReceiveWindow) deliver(h Header, payload []byte) (*Deliverable, error) {
	w.ids.Next++

	if !h.Flags.Fragmented {
		if w.pending != nil {
			// Interior fragment: append to the buffer in progress.
			w.pending.payload = append(w.pending.payload, payload...)
			if len(w.pending.payload) > maxReassembledPayload {
				w.pending = nil
				return nil, fmt.Errorf("protocol: fragmented payload exceeds %d bytes", maxReassembledPayload)
			}
			return nil, nil
		}
		return &Deliverable{Header: h, Payload: payload}, nil
	}

	if w.pending == nil {
		// Start of a fragmented run.
		w.pending = &reassembly{header: h, payload: append([]byte{}, payload...)}
		return nil, nil
	}

	// End of a fragmented run: append, emit with the start header's flags
	// minus the fragment bit, and clear the buffer.
	startHeader := w.pending.header
	combined := append(w.pending.payload, payload...)
	w.pending = nil

	if len(combined) > maxReassembledPayload {
		return nil, fmt.Errorf("protocol: fragmented payload exceeds %d bytes", maxReassembledPayload)
	}

	outHeader := startHeader
	outHeader.Flags.Fragmented = false
	return &Deliverable{Header: outHeader, Payload: combined}, nil
}
