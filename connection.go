// SPDX-License-Identifier: MIT

package tsproto

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"

	"github.com/tsproto-go/tsproto/internal/bufstream"
	"github.com/tsproto-go/tsproto/internal/command"
	"github.com/tsproto-go/tsproto/pkg/book"
	"github.com/tsproto-go/tsproto/pkg/crypto"
	codecpkg "github.com/tsproto-go/tsproto/pkg/crypto/codec"
	"github.com/tsproto-go/tsproto/pkg/protocol"
	"github.com/tsproto-go/tsproto/pkg/resender"
	"github.com/tsproto-go/tsproto/pkg/transport"
)

// ConnectionID is the dense, process-wide-unique small integer a
// ConnectionManager assigns a Connection (spec.md §3).
type ConnectionID int

// numPacketTypes sizes the per-class outgoing id counters; one slot per
// protocol.Type (spec.md §3 ConnectedParams.outgoing_p_ids[8]).
const numPacketTypes = int(protocol.Init) + 1

// connectedParams holds the fields spec.md §3 says exist "only once the
// session is established": the peer's identity and the derived shared
// secret a default codec keys off of. c_id lives on the object book
// (book.ConnectionServerData.ClientID) since it is itself bootstrapped
// from initserver alongside the rest of the server record.
type connectedParams struct {
	voiceEncryption bool
	publicKey       []byte
	shared          *crypto.SharedSecret
}

// Connection is per-session state: the remote address, the four
// pipelines collapsed into a read goroutine plus resender-driven writes,
// the three fan-out buffers, and the resender (spec.md §2, §4.3). All
// mutable state not already behind its own lock (resend, book) is
// confined to mu, matching spec.md §5's single-owner model rendered
// without an event-loop thread of our own: each Connection instead owns
// its goroutines and synchronizes the handful of fields multiple of them
// touch.
type Connection struct {
	id         ConnectionID
	log        logging.LeveledLogger
	remoteAddr net.Addr
	transport  transport.Transport
	identity   *crypto.Identity

	mu       sync.Mutex
	params   *connectedParams
	outgoing [numPacketTypes]protocol.PacketIDs
	windows  [protocol.NumReliableClasses]*protocol.ReceiveWindow
	codec    codecpkg.Codec

	resend *resender.Resender
	book   *book.Book

	udpBuffer     *bufstream.Stream[[]byte]
	commandBuffer *bufstream.Stream[protocol.Deliverable]
	voiceBuffer   *bufstream.Stream[protocol.Deliverable]

	ctx    context.Context
	cancel context.CancelFunc
	connected atomic.Bool

	done    chan struct{}
	runErr  error

	// registered reports whether this Connection has been inserted into
	// manager's map yet; a handshake that fails before registration must
	// not let the teardown goroutine below call manager.remove with the
	// zero ConnectionID, which may belong to an unrelated connection.
	registered atomic.Bool

	// manager is a back-reference used only to deregister on teardown.
	// It is "weak" in the sense spec.md §9 describes — a relation plus a
	// lookup, never ownership: the manager's map, not this field, is what
	// keeps a Connection alive.
	manager *ConnectionManager
}

func newConnection(mgr *ConnectionManager, remoteAddr net.Addr, tr transport.Transport, identity *crypto.Identity, cfg resender.Config, log logging.LeveledLogger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		log:        log,
		remoteAddr: remoteAddr,
		transport:  tr,
		identity:   identity,
		book:       book.New(log),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		manager:    mgr,
	}
	for i := range c.windows {
		c.windows[i] = protocol.NewReceiveWindow()
	}
	c.udpBuffer = bufstream.New[[]byte](bufstream.MaxSize, func(n int) {
		log.Warnf("connection: dropping udp packet, buffer stream at %d entries", n)
	})
	c.commandBuffer = bufstream.New[protocol.Deliverable](bufstream.MaxSize, func(n int) {
		log.Warnf("connection: dropping command packet, buffer stream at %d entries", n)
	})
	c.voiceBuffer = bufstream.New[protocol.Deliverable](bufstream.MaxSize, func(n int) {
		log.Warnf("connection: dropping voice packet, buffer stream at %d entries", n)
	})
	c.resend = resender.New(cfg, log, c.sendWire)
	return c
}

// ID returns the ConnectionID this Connection was registered under.
func (c *Connection) ID() ConnectionID { return c.id }

// CommandStream returns the buffer fed by reliable Command/CommandLow
// packets (spec.md §4.3 command_buffer_stream).
func (c *Connection) CommandStream() *bufstream.Stream[protocol.Deliverable] { return c.commandBuffer }

// VoiceStream returns the buffer fed by Voice/VoiceWhisper packets
// (spec.md §4.3 voice_buffer_stream). No default subscriber drains it —
// spec.md §9's first Open Question is preserved: the buffer exists, its
// consumer is left to the caller.
func (c *Connection) VoiceStream() *bufstream.Stream[protocol.Deliverable] { return c.voiceBuffer }

// UDPStream returns the raw inbound-frame buffer for diagnostic consumers
// (spec.md §4.3 udp_packet_buffer_stream).
func (c *Connection) UDPStream() *bufstream.Stream[[]byte] { return c.udpBuffer }

// Book exposes the object book's read-only View (spec.md §4.6, §6).
func (c *Connection) Book() book.View { return c.book.View() }

// runBookLoop drains the command stream once the handshake's one-shot
// awaitInitServer read has returned and feeds every parsed notification to
// the object book (spec.md §4.6; DESIGN.md Open Question decision 2:
// "any initserver-typed notification arriving afterward ... is routed to
// the object book's generic notify path"). It is the command stream's
// sole consumer from this point on; a caller wanting the raw stream
// instead should read it before the handshake completes.
func (c *Connection) runBookLoop() {
	for {
		d, err := c.commandBuffer.Next(c.ctx)
		if err != nil {
			return
		}
		n := command.Parse(string(d.Payload))
		if n.Name == "" {
			continue
		}
		c.book.ApplyNotification(n.Name, n.Fields)
	}
}

// installSharedSecret upgrades the codec once the shared secret is
// derived (spec.md §4.3 "late wrapper installation ... once keys are
// derived"). Packets already encoded before this call keep whatever
// codec was installed at the time; only subsequent sends/receives see the
// new one.
func (c *Connection) installSharedSecret(peerPub []byte, shared *crypto.SharedSecret, codec codecpkg.Codec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = &connectedParams{voiceEncryption: true, publicKey: peerPub, shared: shared}
	c.codec = codec
}

func (c *Connection) sendWire(t protocol.Type, id uint16, packet []byte) error {
	return c.transport.Send(c.ctx, c.remoteAddr, packet)
}

// encode frames h+payload with the protocol header and, once a codec is
// installed, encrypts payload first (spec.md §6 packet codec boundary).
func (c *Connection) encode(h protocol.Header, payload []byte) ([]byte, error) {
	c.mu.Lock()
	cd := c.codec
	c.mu.Unlock()
	if cd != nil {
		enc, err := cd.Encrypt(h, payload)
		if err != nil {
			return nil, fmt.Errorf("connection: encrypt: %w", err)
		}
		payload = enc
	} else {
		h.Flags.Unencrypted = true
	}
	return protocol.SimpleCodec{}.Encode(h, payload)
}

func (c *Connection) decode(raw []byte) (protocol.Header, []byte, error) {
	h, body, err := protocol.SimpleCodec{}.Decode(raw)
	if err != nil {
		return h, nil, err
	}
	if h.Flags.Unencrypted {
		return h, body, nil
	}
	c.mu.Lock()
	cd := c.codec
	c.mu.Unlock()
	if cd == nil {
		return h, nil, fmt.Errorf("connection: received encrypted packet with no codec installed")
	}
	payload, err := cd.Decrypt(h, body)
	if err != nil {
		return h, nil, fmt.Errorf("connection: decrypt: %w", err)
	}
	return h, payload, nil
}

// sendReliable stamps the next outgoing id for t and hands the encoded
// packet to the resender (spec.md §4.2, §4.4: "every reliable send bumps"
// outgoing_p_ids). ctx governs only the backpressure wait in
// Resender.Send, not delivery — delivery is the resender's job for as
// long as the connection lives.
func (c *Connection) sendReliable(ctx context.Context, t protocol.Type, payload []byte) (uint16, error) {
	if !t.IsReliable() {
		return 0, fmt.Errorf("connection: %s is not a reliable packet type", t)
	}
	c.mu.Lock()
	id := c.outgoing[t].Advance()
	c.mu.Unlock()

	h := protocol.NewHeader(t)
	h.ID = id
	packet, err := c.encode(h, payload)
	if err != nil {
		return 0, err
	}
	if err := c.resend.Send(ctx, t, id, packet); err != nil {
		return 0, err
	}
	return id, nil
}

// sendVoice transmits an unreliable voice packet directly, suppressed
// whenever the resender is outside StateNormal (spec.md §4.2 "Voice
// suppressed").
func (c *Connection) sendVoice(ctx context.Context, t protocol.Type, payload []byte) error {
	if !c.resend.SendVoice() {
		return nil
	}
	c.mu.Lock()
	id := c.outgoing[t].Advance()
	c.mu.Unlock()

	h := protocol.NewHeader(t)
	h.ID = id
	packet, err := c.encode(h, payload)
	if err != nil {
		return err
	}
	return c.transport.SendVoice(ctx, c.remoteAddr, packet)
}

// sendAck emits an ack for id on class unconditionally and outside the
// resender queue — acks are not themselves reliable (spec.md §4.4 step 2:
// "regardless of order").
func (c *Connection) sendAck(class protocol.ReliableClass, id uint16) {
	t := protocol.Ack
	if class == protocol.ClassCommandLow {
		t = protocol.AckLow
	}
	h := protocol.NewHeader(t)
	h.ID = id
	packet, err := c.encode(h, nil)
	if err != nil {
		c.log.Warnf("connection: encode ack %d: %v", id, err)
		return
	}
	if err := c.transport.Send(c.ctx, c.remoteAddr, packet); err != nil {
		c.log.Warnf("connection: send ack %d: %v", id, err)
	}
}

// run starts the connection's goroutines: the resender scheduling loop
// and the UDP read pump (the incoming half of spec.md §4.3's pipelines,
// collapsed into one goroutine rather than a chain of swappable Stream
// wrappers — see DESIGN.md). It returns immediately; watch Done to
// observe termination.
func (c *Connection) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := c.resend.Run(c.ctx)
		c.mu.Lock()
		if c.runErr == nil {
			c.runErr = err
		}
		c.mu.Unlock()
		c.cancel()
	}()
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	go func() {
		wg.Wait()
		close(c.done)
		if c.manager != nil && c.registered.Load() {
			c.manager.remove(c.id)
		}
	}()
}

// Done is closed once the connection has fully torn down, mirroring
// spec.md §3's "observers holding weak references see their next poll
// return 'ended'".
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, _, err := c.transport.Recv(c.ctx, buf)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Debugf("connection: recv: %v", err)
			continue
		}
		raw := append([]byte(nil), buf[:n]...)
		c.udpBuffer.Push(raw)
		c.resend.NotifyPacketReceived()

		h, payload, err := c.decode(raw)
		if err != nil {
			c.log.Warnf("connection: dropping unparseable packet: %v", err)
			continue
		}
		c.handleIncoming(h, payload)
	}
}

// handleIncoming is the distributor of spec.md §4.3: it switches on
// header.Type and routes to the matching buffer, the resender's Ack
// accounting, or the per-class receive window.
func (c *Connection) handleIncoming(h protocol.Header, payload []byte) {
	switch h.Type {
	case protocol.Ack:
		c.resend.Ack(protocol.Command, h.ID)
	case protocol.AckLow:
		c.resend.Ack(protocol.CommandLow, h.ID)
	case protocol.Ping:
		c.respondPong(h.ID)
	case protocol.Voice, protocol.VoiceWhisper:
		c.voiceBuffer.Push(protocol.Deliverable{Header: h, Payload: payload})
	case protocol.Command, protocol.CommandLow:
		c.handleReliable(h, payload)
	default:
		// Pong/Init and anything else unclassified are forwarded verbatim
		// to the command stream (spec.md §4.3: "forwards verbatim for
		// unclassified types").
		c.commandBuffer.Push(protocol.Deliverable{Header: h, Payload: payload})
	}
}

func (c *Connection) handleReliable(h protocol.Header, payload []byte) {
	class := protocol.ClassOf(h.Type)

	c.mu.Lock()
	w := c.windows[class]
	accepted := w.Accept(h.ID)
	c.mu.Unlock()
	if !accepted {
		return
	}

	// Ack every accepted packet before delivery, regardless of order
	// (spec.md §4.4 step 2).
	c.sendAck(class, h.ID)

	c.mu.Lock()
	deliverables, err := w.Push(h, payload)
	c.mu.Unlock()
	if err != nil {
		c.fail(wrapError(ErrConnectionFailed, "fragment reassembly", err))
		return
	}
	for _, d := range deliverables {
		c.commandBuffer.Push(d)
	}
}

func (c *Connection) respondPong(pingID uint16) {
	h := protocol.NewHeader(protocol.Pong)
	h.ID = pingID
	packet, err := c.encode(h, nil)
	if err != nil {
		c.log.Warnf("connection: encode pong: %v", err)
		return
	}
	if err := c.transport.Send(c.ctx, c.remoteAddr, packet); err != nil {
		c.log.Warnf("connection: send pong: %v", err)
	}
}

// fail terminates the connection immediately with a ConnectionFailed-class
// error, per spec.md §7: "Fragment reassembly errors ... terminate the
// connection with ConnectionFailed."
func (c *Connection) fail(err error) {
	c.log.Errorf("connection: fatal: %v", err)
	c.mu.Lock()
	if c.runErr == nil {
		c.runErr = err
	}
	c.mu.Unlock()
	c.cancel()
}

// disconnect drives spec.md §4.1's Disconnect operation: send
// clientdisconnect, move the resender to Disconnecting, and wait for the
// connection to end (ack of the disconnect packet or
// Config.DisconnectTimeout).
func (c *Connection) disconnect(ctx context.Context, payload []byte) error {
	if _, err := c.sendReliable(ctx, protocol.Command, payload); err != nil {
		return err
	}
	c.resend.NotifyEvent(resender.EventDisconnecting)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
