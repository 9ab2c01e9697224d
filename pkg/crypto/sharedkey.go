// SPDX-License-Identifier: MIT

package crypto

import (
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SharedSecret is the shared IV and shared MAC derived from the ECDH
// exchange (spec.md §3: shared_iv, shared_mac). Nothing in this module
// turns it into pkg/crypto/codec AEAD keys.
type SharedSecret struct {
	IV  [20]byte
	MAC [8]byte
}

// DeriveSharedSecret runs HKDF (RFC 5869, SHA-256) over the ECDH shared
// point between the local identity and the peer's public key, replacing
// the original's libtomcrypt-based derivation with a stdlib-curve plus
// golang.org/x/crypto/hkdf pipeline — an already-present teacher
// dependency repurposed for a new domain need (see DESIGN.md).
func DeriveSharedSecret(local *Identity, peerPub []byte) (*SharedSecret, error) {
	curve := ecdh.P256()
	localECDH, err := curve.NewPrivateKey(local.PrivateKey.D.FillBytes(make([]byte, 32)))
	if err != nil {
		return nil, fmt.Errorf("crypto: convert identity to ECDH key: %w", err)
	}
	peer, err := curve.NewPublicKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse peer public key: %w", err)
	}
	point, err := localECDH.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDH: %w", err)
	}

	reader := hkdf.New(sha256.New, point, nil, []byte("tsproto shared secret"))
	var out SharedSecret
	if _, err := io.ReadFull(reader, out.IV[:]); err != nil {
		return nil, fmt.Errorf("crypto: derive shared_iv: %w", err)
	}
	if _, err := io.ReadFull(reader, out.MAC[:]); err != nil {
		return nil, fmt.Errorf("crypto: derive shared_mac: %w", err)
	}
	return &out, nil
}
