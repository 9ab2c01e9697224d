// SPDX-License-Identifier: MIT

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Codec is the external collaborator spec.md §1 and §6 leave unspecified:
// wire header parsing and the encryption/MAC layer around a packet's
// payload. A Connection depends only on this interface; the exact byte
// layout TeamSpeak3 servers expect is a wire-compatibility detail outside
// this module's scope (spec.md §1's "low-level packet codec" exclusion).
type Codec interface {
	Encode(h Header, payload []byte) ([]byte, error)
	Decode(raw []byte) (Header, []byte, error)
}

// SimpleCodec is a minimal, NOT wire-compatible default Codec: a fixed
// 4-byte header (type, 2-byte id, flags) followed by the payload
// unencrypted. It exists so Connection is runnable end to end without a
// real wire codec wired in — e.g. for transport- and reassembly-level
// tests — and is not a substitute for a TeamSpeak3-compatible codec,
// which pairs this interface with pkg/crypto/codec.AEAD for the
// encryption half and real wire-format knowledge for the rest.
type SimpleCodec struct{}

func (SimpleCodec) Encode(h Header, payload []byte) ([]byte, error) {
	out := make([]byte, 4+len(payload))
	out[0] = byte(h.Type)
	binary.BigEndian.PutUint16(out[1:3], h.ID)
	out[3] = flagsByte(h.Flags)
	copy(out[4:], payload)
	return out, nil
}

func (SimpleCodec) Decode(raw []byte) (Header, []byte, error) {
	if len(raw) < 4 {
		return Header{}, nil, fmt.Errorf("protocol: packet too short: %d bytes", len(raw))
	}
	h := Header{
		Type: Type(raw[0]),
		ID:   binary.BigEndian.Uint16(raw[1:3]),
	}
	h.Flags = flagsFromByte(raw[3])
	return h, raw[4:], nil
}

func flagsByte(f Flags) byte {
	var b byte
	if f.Fragmented {
		b |= 1 << 0
	}
	if f.Compressed {
		b |= 1 << 1
	}
	if f.Unencrypted {
		b |= 1 << 2
	}
	if f.Newprotocol {
		b |= 1 << 3
	}
	return b
}

func flagsFromByte(b byte) Flags {
	return Flags{
		Fragmented:  b&(1<<0) != 0,
		Compressed:  b&(1<<1) != 0,
		Unencrypted: b&(1<<2) != 0,
		Newprotocol: b&(1<<3) != 0,
	}
}
