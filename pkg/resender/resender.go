// SPDX-License-Identifier: MIT

package resender

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/tsproto-go/tsproto/pkg/protocol"
)

// State is one of the five resend states a connection moves through
// (spec.md §4.2).
type State uint8

const (
	StateConnecting State = iota
	StateNormal
	StateStalling
	StateDead
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateNormal:
		return "Normal"
	case StateStalling:
		return "Stalling"
	case StateDead:
		return "Dead"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Event is an externally driven state transition request, mirroring the
// original ResenderEvent enum.
type Event uint8

const (
	EventConnecting Event = iota
	EventDisconnecting
	EventConnected
)

// ErrConnectTimeout is returned by Run when no response to the connecting
// handshake packet arrived within Config.ConnectingTimeout.
var ErrConnectTimeout = errors.New("resender: connecting timeout exceeded")

// ErrDead is returned by Run when the connection stayed unresponsive long
// enough (Config.StallingTimeout then Config.DeadTimeout) to be declared
// dead.
var ErrDead = errors.New("resender: connection is dead")

// SendFunc transmits one reliable packet; Resender calls it from its Run
// goroutine whenever a record in the queue is due.
type SendFunc func(t protocol.Type, id uint16, packet []byte) error

// Resender drives the Connecting/Normal/Stalling/Dead/Disconnecting state
// machine for one connection's reliable packet classes. Callers enqueue
// outgoing reliable packets with Send, report incoming acks with Ack, and
// run the scheduling loop with Run on a dedicated goroutine; Ack,
// NotifyEvent, NotifyPacketReceived, IsEmpty and SendVoice may all be
// called from other goroutines concurrently with Run.
type Resender struct {
	log logging.LeveledLogger
	cfg Config
	send SendFunc

	mu         sync.Mutex
	state      State
	stateStart time.Time
	queue      priorityQueue
	srtt       time.Duration
	srttDev    time.Duration

	tokens chan struct{}
	wake   chan struct{}
	empty  chan struct{}
}

// New creates a Resender in StateConnecting, ready to have Run started on
// it. log may be nil, in which case a logger from
// logging.NewDefaultLoggerFactory is used.
func New(cfg Config, log logging.LeveledLogger, send SendFunc) *Resender {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("resender")
	}
	now := time.Now()
	return &Resender{
		log:        log,
		cfg:        cfg,
		send:       send,
		state:      StateConnecting,
		stateStart: now,
		srtt:       cfg.SRTT,
		srttDev:    cfg.SRTTDev,
		tokens:     make(chan struct{}, cfg.MaxSendQueueLen),
		wake:       make(chan struct{}, 1),
		empty:      make(chan struct{}),
	}
}

func (r *Resender) kick() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Resender) setState(s State, now time.Time) {
	if s == r.state {
		return
	}
	r.log.Infof("resender: state %s -> %s", r.state, s)
	r.state = s
	r.stateStart = now
}

// Send enqueues a reliable packet for transmission by Run. It blocks until
// a slot is free in the send queue or ctx is done, implementing the
// backpressure spec.md §4.2 and §5 describe: a bounded queue rather than
// an unbounded one, so a stuck peer cannot grow memory without limit.
func (r *Resender) Send(ctx context.Context, t protocol.Type, id uint16, packet []byte) error {
	select {
	case r.tokens <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	now := time.Now()
	r.mu.Lock()
	heap.Push(&r.queue, &SendRecord{Sent: now, Last: now, Type: t, ID: id, Packet: packet})
	r.mu.Unlock()
	r.kick()
	return nil
}

func (r *Resender) release() {
	select {
	case <-r.tokens:
	default:
	}
}

// Ack removes the matching record from the queue, folds its round-trip
// time into the SRTT estimate if it was never retried, and — if the
// connection was stalling — restores it to Normal, exactly as
// resend.rs's ack_packet does.
func (r *Resender) Ack(t protocol.Type, id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, rec := range r.queue {
		if rec.Type == t && rec.ID == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		rec := heap.Remove(&r.queue, idx).(*SendRecord)
		r.release()

		if rec.Tries == 1 {
			r.updateSRTT(time.Since(rec.Sent))
		}
	}

	// resend.rs's ack_packet transitions Stalling -> Normal on any ack
	// received, not only one matching a still-queued record: the ack
	// itself is the evidence of liveness, so this must not be gated on
	// idx >= 0 above.
	if r.state == StateStalling {
		for _, q := range r.queue {
			q.Tries = 0
		}
		heap.Init(&r.queue)
		// Reset srtt so three more losses are needed before the
		// connection stalls again.
		r.srtt = r.cfg.NormalTimeout / 4
		r.setState(StateNormal, time.Now())
	}

	if len(r.queue) == 0 {
		close(r.empty)
		r.empty = make(chan struct{})
	}

	r.kick()
}

// AwaitEmpty blocks until every packet handed to Send has been acked, or
// ctx is done. It lets a caller that enqueues a single packet — the
// handshake driver's clientinit, for instance — learn once the peer has
// round-tripped it, without polling.
func (r *Resender) AwaitEmpty(ctx context.Context) error {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return nil
		}
		ch := r.empty
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Resender) updateSRTT(rtt time.Duration) {
	diff := rtt - r.srtt
	if diff < 0 {
		diff = -diff
	}
	r.srttDev = r.srttDev*3/4 + diff/4
	r.srtt = r.srtt*7/8 + rtt/8
}

// NotifyEvent drives an external state transition. EventConnecting and
// EventDisconnecting both reset every queued record's try counter to 0, as
// resend.rs's handle_event does, since a fresh connecting/disconnecting
// round should not inherit the previous round's backoff.
func (r *Resender) NotifyEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	switch ev {
	case EventConnecting, EventDisconnecting:
		for _, rec := range r.queue {
			rec.Tries = 0
		}
		heap.Init(&r.queue)
		if ev == EventConnecting {
			r.setState(StateConnecting, now)
		} else {
			r.setState(StateDisconnecting, now)
		}
	case EventConnected:
		r.setState(StateNormal, now)
	}
	r.kick()
}

// NotifyPacketReceived restarts sending after any packet arrives while the
// connection was Dead, matching resend.rs's udp_packet_received: receiving
// anything from a presumed-dead peer is itself evidence it is alive again.
func (r *Resender) NotifyPacketReceived() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDead {
		r.setState(StateStalling, time.Now())
		r.kick()
	}
}

// IsEmpty reports whether every packet handed to Send has been acked.
func (r *Resender) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) == 0
}

// SendVoice reports whether unreliable voice packets should currently be
// sent; the original suppresses voice outside of Normal so that a
// struggling connection doesn't waste bandwidth on unrecoverable audio.
func (r *Resender) SendVoice() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateNormal
}

// CurrentState returns the resend state, for logging and tests.
func (r *Resender) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run drives the scheduling loop until ctx is cancelled or the connection
// is declared dead or times out connecting, whichever happens first. It
// returns nil when the Disconnecting state completes (queue drained or
// Config.DisconnectTimeout elapsed — the original's EndConnection without
// an error). It must run on exactly one goroutine.
func (r *Resender) Run(ctx context.Context) error {
	for {
		r.mu.Lock()
		terminal, err := r.checkStateTimeoutLocked(time.Now())
		if terminal {
			r.mu.Unlock()
			return err
		}
		waitUntil, stateChanged := r.sendDueLocked(time.Now())
		r.mu.Unlock()

		if stateChanged {
			// Re-evaluate the new state immediately, as the original's
			// task::current().notify() after set_state does.
			continue
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if waitUntil != nil {
			d := time.Until(*waitUntil)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-r.wake:
			stopTimer(timer)
		case <-timerC:
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil && !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// checkStateTimeoutLocked applies the per-state timeout rules (spec.md
// §4.2): Connecting and Dead end the connection with an error, Stalling
// escalates to Dead, and Disconnecting ends cleanly once its timeout
// elapses or the queue has drained. r.mu must be held.
func (r *Resender) checkStateTimeoutLocked(now time.Time) (terminal bool, err error) {
	elapsed := now.Sub(r.stateStart)
	switch r.state {
	case StateConnecting:
		if elapsed >= r.cfg.ConnectingTimeout {
			r.log.Warnf("resender: giving up, no response after %s", elapsed)
			return true, ErrConnectTimeout
		}
	case StateStalling:
		if elapsed >= r.cfg.StallingTimeout {
			r.setState(StateDead, now)
		}
	case StateDead:
		if elapsed >= r.cfg.DeadTimeout {
			r.log.Warnf("resender: connection dead after %s of silence", elapsed)
			return true, ErrDead
		}
	case StateDisconnecting:
		if elapsed >= r.cfg.DisconnectTimeout || len(r.queue) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// sendDueLocked sends every record at the head of the queue that is
// currently due, doubling the SRTT backoff on repeated loss and demoting
// Normal to Stalling if the retransmission timeout has grown past
// Config.NormalTimeout — the send loop and switch_to_stalling logic of the
// original ResendFuture::poll. r.mu must be held; it returns the time of
// the next due record (nil if the queue is empty or exhausted for now) and
// whether it changed the resend state, in which case the caller should
// loop immediately rather than wait.
func (r *Resender) sendDueLocked(now time.Time) (waitUntil *time.Time, stateChanged bool) {
	if r.state == StateDead {
		// Nothing is sent while Dead; wake up when DeadTimeout expires so
		// checkStateTimeoutLocked can end the connection.
		due := r.stateStart.Add(r.cfg.DeadTimeout)
		return &due, false
	}
	for len(r.queue) > 0 {
		rto := r.effectiveIntervalLocked()
		top := r.queue[0]

		if top.Tries != 0 {
			due := top.Last.Add(rto)
			if now.Before(due) {
				return &due, false
			}
		}

		if r.send != nil {
			if err := r.send(top.Type, top.ID, top.Packet); err != nil {
				r.log.Warnf("resender: send of packet %d failed: %v", top.ID, err)
				due := now.Add(r.cfg.ConnectingInterval)
				return &due, false
			}
		}

		if top.Tries != 0 && r.srtt < r.cfg.NormalTimeout {
			r.srtt *= 2
		}

		if r.state == StateNormal && rto > r.cfg.NormalTimeout {
			r.log.Warnf("resender: max resend timeout exceeded for packet %d", top.ID)
			r.setState(StateStalling, now)
			return nil, true
		}

		if top.Tries == 0 {
			top.Sent = now
		}
		top.Last = now
		top.Tries++
		if top.Tries != 1 {
			r.log.Debugf("resender: resend packet %d (try %d)", top.ID, top.Tries)
		}
		heap.Fix(&r.queue, 0)

		if r.state == StateStalling {
			// Stalling retransmits only the head record per cycle —
			// resend.rs's Vec-backed to_send makes peek_mut_next_record
			// return first_mut() alone, so the overdue rest of the queue
			// waits for its own turn instead of being flushed all at once.
			due := top.Last.Add(r.cfg.StallingInterval)
			return &due, false
		}
	}
	return nil, false
}

func (r *Resender) effectiveIntervalLocked() time.Duration {
	switch r.state {
	case StateConnecting:
		return r.cfg.ConnectingInterval
	case StateStalling:
		return r.cfg.StallingInterval
	case StateDisconnecting:
		return r.cfg.DisconnectInterval
	default:
		return r.srtt + r.srttDev*4
	}
}
