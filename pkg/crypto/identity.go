// SPDX-License-Identifier: MIT

// Package crypto provides the handshake-adjacent primitives the connection
// manager needs that are not themselves packet codec internals: identity
// keypairs, the hash-cash proof of work submitted during clientinit, and
// derivation of the shared IV/MAC a default packet codec can key off of
// (spec.md §3, §4.5).
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // protocol-fixed primitive, not a security choice made here
	"encoding/base64"
	"fmt"
	"math/bits"
	"strconv"
)

// Identity is a client's long-lived ECC P-256 keypair, the same curve the
// reference implementation uses for its identity (spec.md §3, §4.5 step 1).
type Identity struct {
	PrivateKey *ecdsa.PrivateKey
}

// GenerateIdentity creates a fresh P-256 identity.
func GenerateIdentity() (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate identity: %w", err)
	}
	return &Identity{PrivateKey: key}, nil
}

// PublicKeyBase64 returns the base64 encoding of the uncompressed public
// key point, the exact value hash-cash and clientinit both key off of.
func (id *Identity) PublicKeyBase64() string {
	pub := elliptic.Marshal(id.PrivateKey.PublicKey.Curve, id.PrivateKey.PublicKey.X, id.PrivateKey.PublicKey.Y)
	return base64.StdEncoding.EncodeToString(pub)
}

// LeadingZeroBits returns the number of leading zero bits across the given
// digest, most significant byte first.
func LeadingZeroBits(digest []byte) int {
	n := 0
	for _, b := range digest {
		if b == 0 {
			n += 8
			continue
		}
		n += bits.LeadingZeros8(b)
		break
	}
	return n
}

// HashCash searches for the smallest non-negative counter ("offset") such
// that sha1(base64(pubkey) + offset) has at least level leading zero bits,
// the proof of work clientinit submits as client_key_offset (spec.md §4.5
// step 3, §8). It never returns an error for a reachable level; level is
// capped at 160 (the full digest) as a defensive bound against a caller
// request that could otherwise never terminate.
func HashCash(id *Identity, level int) (uint64, error) {
	if level < 0 || level > sha1.Size*8 {
		return 0, fmt.Errorf("crypto: hash-cash level %d out of range", level)
	}
	pub := id.PublicKeyBase64()
	for offset := uint64(0); ; offset++ {
		digest := sha1.Sum([]byte(pub + strconv.FormatUint(offset, 10))) //nolint:gosec
		if LeadingZeroBits(digest[:]) >= level {
			return offset, nil
		}
	}
}

// VerifyHashCash reports whether offset is a valid proof of work for pub
// at the given level, for servers (or tests) checking a submitted
// client_key_offset without redoing the search.
func VerifyHashCash(pubKeyBase64 string, offset uint64, level int) bool {
	digest := sha1.Sum([]byte(pubKeyBase64 + strconv.FormatUint(offset, 10))) //nolint:gosec
	return LeadingZeroBits(digest[:]) >= level
}
