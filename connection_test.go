// SPDX-License-Identifier: MIT

package tsproto

import (
	"bytes"
	"testing"

	"github.com/pion/logging"

	codecpkg "github.com/tsproto-go/tsproto/pkg/crypto/codec"
	"github.com/tsproto-go/tsproto/pkg/protocol"
)

// loopbackCodec builds a Codec whose local and remote directions are each
// other's mirror, so a single Connection's encode followed by its own
// decode round-trips — standing in for two peers that derived the same
// shared secret from opposite ends of the same ECDH exchange.
func loopbackCodec(t *testing.T) codecpkg.Codec {
	t.Helper()
	key := bytes.Repeat([]byte{0x11}, 16)
	iv := bytes.Repeat([]byte{0x22}, 4)
	c, err := codecpkg.NewAEAD(key, iv, key, iv)
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}
	return c
}

// TestInstallSharedSecretUpgradesEncodeDecode covers spec.md §4.3's "late
// wrapper installation": a Connection starts out marking packets
// Unencrypted, and once installSharedSecret runs, subsequent encode/decode
// calls go through the AEAD codec instead.
func TestInstallSharedSecretUpgradesEncodeDecode(t *testing.T) {
	c := newConnection(nil, nil, nil, nil, fastResenderConfig(), logging.NewDefaultLoggerFactory().NewLogger("test"))

	h := protocol.NewHeader(protocol.Command)
	h.ID = 5
	plain := []byte("hello")

	raw, err := c.encode(h, plain)
	if err != nil {
		t.Fatalf("encode before upgrade: %v", err)
	}
	gotHeader, gotPayload, err := c.decode(raw)
	if err != nil {
		t.Fatalf("decode before upgrade: %v", err)
	}
	if !gotHeader.Flags.Unencrypted {
		t.Fatal("expected the pre-upgrade packet to be marked Unencrypted")
	}
	if !bytes.Equal(gotPayload, plain) {
		t.Fatalf("payload = %q, want %q", gotPayload, plain)
	}

	c.installSharedSecret(nil, nil, loopbackCodec(t))

	raw, err = c.encode(h, plain)
	if err != nil {
		t.Fatalf("encode after upgrade: %v", err)
	}
	gotHeader, gotPayload, err = c.decode(raw)
	if err != nil {
		t.Fatalf("decode after upgrade: %v", err)
	}
	if gotHeader.Flags.Unencrypted {
		t.Fatal("expected the post-upgrade packet to not be marked Unencrypted")
	}
	if !bytes.Equal(gotPayload, plain) {
		t.Fatalf("payload = %q, want %q", gotPayload, plain)
	}
}
