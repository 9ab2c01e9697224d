// SPDX-License-Identifier: MIT

package tsproto

import (
	"context"

	"github.com/tsproto-go/tsproto/internal/command"
	"github.com/tsproto-go/tsproto/pkg/crypto"
	"github.com/tsproto-go/tsproto/pkg/protocol"
	"github.com/tsproto-go/tsproto/pkg/resender"
	"github.com/tsproto-go/tsproto/pkg/transport"
)

// hashCashLevel is the proof-of-work difficulty clientinit submits,
// fixed by the wire protocol (spec.md §4.5 step 3).
const hashCashLevel = 8

// runHandshake implements spec.md §4.5 end to end: identity, hash-cash,
// clientinit, await-connected, await-initserver, and registration with
// the manager. It fails the whole operation with a *Error on the first
// non-recoverable error (spec.md §7).
func runHandshake(ctx context.Context, mgr *ConnectionManager, opts ConnectOptions) (ConnectionID, error) {
	Init()
	if opts.address == nil {
		return 0, connectionFailedf("ConnectOptions.Address is required")
	}

	identity := opts.privateKey
	if identity == nil {
		var err error
		identity, err = crypto.GenerateIdentity()
		if err != nil {
			return 0, wrapError(ErrCrypto, "generate identity", err)
		}
	}

	tr := opts.transport
	if tr == nil {
		dialed, err := transport.Dial(opts.localAddress)
		if err != nil {
			return 0, wrapError(ErrOther, "dial transport", err)
		}
		tr = dialed
	}

	log := mgr.loggerFactory.NewLogger("tsproto")
	conn := newConnection(mgr, opts.address, tr, identity, mgr.resenderCfg, log)
	conn.run()

	// A resend-state timeout (e.g. ConnectingTimeout) ends the connection
	// by cancelling conn.ctx, not the caller's ctx; fold both into one so
	// the handshake's blocking waits below abort either way instead of
	// hanging past a dead resender.
	handshakeCtx, cancelHandshake := context.WithCancel(ctx)
	defer cancelHandshake()
	go func() {
		select {
		case <-conn.done:
			cancelHandshake()
		case <-handshakeCtx.Done():
		}
	}()

	if err := driveHandshake(handshakeCtx, conn, identity, opts.name); err != nil {
		conn.fail(err)
		<-conn.done
		return 0, err
	}

	conn.connected.Store(true)
	go conn.runBookLoop()
	id := mgr.insert(conn)
	conn.registered.Store(true)
	return id, nil
}

// driveHandshake runs spec.md §4.5 steps 3-6 against an already-dialed
// Connection. Step 1 (identity) and step 2 (transport connect) have
// already happened by the time this is called; step 7 (registration)
// happens in the caller once this returns successfully.
func driveHandshake(ctx context.Context, conn *Connection, identity *crypto.Identity, nickname string) error {
	conn.log.Tracef("tsproto: computing hash-cash level %d", hashCashLevel)
	offset, err := crypto.HashCash(identity, hashCashLevel)
	if err != nil {
		return wrapError(ErrCrypto, "hash-cash", err)
	}
	conn.log.Tracef("tsproto: hash-cash found offset %d", offset)

	clientInit := command.ClientInit(nickname, offset)
	if _, err := conn.sendReliable(ctx, protocol.Command, []byte(clientInit.String())); err != nil {
		return wrapError(ErrProtocol, "send clientinit", err)
	}

	// Await the Connected client state (spec.md §4.5 step 5). The
	// low-level transport handshake this waits on on top of UDP is an
	// external collaborator's concern (spec.md §1); the default
	// transport here has no separate connect phase, so the nearest
	// equivalent observable signal is the peer round-tripping the first
	// reliable packet — once that ack lands, the resender is told the
	// connection is Connected, leaving StateConnecting for StateNormal.
	if err := conn.resend.AwaitEmpty(ctx); err != nil {
		return connectionFailedf("timed out waiting for clientinit to be acknowledged: %v", err)
	}
	conn.resend.NotifyEvent(resender.EventConnected)

	n, err := awaitInitServer(ctx, conn)
	if err != nil {
		return err
	}

	if _, err := conn.book.Bootstrap(n.Fields); err != nil {
		return connectionFailedf("bootstrap from initserver: %v", err)
	}
	return nil
}

// awaitInitServer reads the first command-stream notification and
// requires it to be initserver (spec.md §4.5 step 6). Anything else — or
// a repeated initserver arriving later, which this function is no longer
// listening for once it returns — is a protocol error (spec.md §9 second
// Open Question: repeat initserver is rejected).
func awaitInitServer(ctx context.Context, conn *Connection) (command.Notification, error) {
	d, err := conn.commandBuffer.Next(ctx)
	if err != nil {
		return command.Notification{}, connectionFailedf("waiting for initserver: %v", err)
	}
	n := command.Parse(string(d.Payload))
	if n.Name != "notifyinitserver" {
		return command.Notification{}, connectionFailedf("Got no initserver")
	}
	return n, nil
}
