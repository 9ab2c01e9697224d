// SPDX-License-Identifier: MIT

package resender

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tsproto-go/tsproto/pkg/protocol"
)

func TestPriorityQueueUnsentBeatsSent(t *testing.T) {
	var q priorityQueue
	heap.Init(&q)
	heap.Push(&q, &SendRecord{Tries: 1, ID: 1, Last: time.Unix(100, 0)})
	heap.Push(&q, &SendRecord{Tries: 0, ID: 5})

	got := heap.Pop(&q).(*SendRecord)
	if got.Tries != 0 {
		t.Fatalf("expected the unsent record to pop first, got tries=%d id=%d", got.Tries, got.ID)
	}
}

func TestPriorityQueueUnsentOrderedBySmallerID(t *testing.T) {
	var q priorityQueue
	heap.Init(&q)
	heap.Push(&q, &SendRecord{Tries: 0, ID: 9})
	heap.Push(&q, &SendRecord{Tries: 0, ID: 3})
	heap.Push(&q, &SendRecord{Tries: 0, ID: 7})

	var order []uint16
	for q.Len() > 0 {
		order = append(order, heap.Pop(&q).(*SendRecord).ID)
	}
	want := []uint16{3, 7, 9}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPriorityQueueSentOrderedByOldestLast(t *testing.T) {
	var q priorityQueue
	heap.Init(&q)
	heap.Push(&q, &SendRecord{Tries: 1, ID: 1, Last: time.Unix(300, 0)})
	heap.Push(&q, &SendRecord{Tries: 2, ID: 2, Last: time.Unix(100, 0)})
	heap.Push(&q, &SendRecord{Tries: 1, ID: 3, Last: time.Unix(200, 0)})

	got := heap.Pop(&q).(*SendRecord)
	if got.ID != 2 {
		t.Fatalf("expected record with the oldest Last to pop first, got id=%d", got.ID)
	}
}

func testConfig() Config {
	return Config{
		ConnectingInterval: time.Millisecond,
		ConnectingTimeout:  20 * time.Millisecond,
		NormalTimeout:      50 * time.Millisecond,
		StallingInterval:   time.Millisecond,
		StallingTimeout:    20 * time.Millisecond,
		DeadTimeout:        5 * time.Millisecond,
		DisconnectTimeout:  20 * time.Millisecond,
		DisconnectInterval: time.Millisecond,
		SRTT:               5 * time.Millisecond,
		SRTTDev:            0,
		MaxSendQueueLen:    2,
	}
}

func TestAckRemovesRecordAndUpdatesSRTT(t *testing.T) {
	r := New(testConfig(), nil, nil)
	ctx := context.Background()
	if err := r.Send(ctx, protocol.Command, 1, []byte("a")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	r.mu.Lock()
	r.queue[0].Tries = 1
	r.queue[0].Sent = time.Now().Add(-10 * time.Millisecond)
	r.mu.Unlock()

	before := r.srtt
	r.Ack(protocol.Command, 1)

	if !r.IsEmpty() {
		t.Fatal("expected the queue to be empty after Ack")
	}
	r.mu.Lock()
	after := r.srtt
	r.mu.Unlock()
	if after == before {
		t.Fatal("expected SRTT to move after a first-try ack")
	}
}

func TestAckRestoresNormalFromStalling(t *testing.T) {
	r := New(testConfig(), nil, nil)
	r.mu.Lock()
	r.state = StateStalling
	r.stateStart = time.Now()
	heap.Push(&r.queue, &SendRecord{Type: protocol.Command, ID: 1, Tries: 3, Last: time.Now()})
	heap.Push(&r.queue, &SendRecord{Type: protocol.Command, ID: 2, Tries: 2, Last: time.Now()})
	r.mu.Unlock()

	r.Ack(protocol.Command, 1)

	if got := r.CurrentState(); got != StateNormal {
		t.Fatalf("state = %s, want Normal", got)
	}
	r.mu.Lock()
	for _, rec := range r.queue {
		if rec.Tries != 0 {
			t.Fatalf("expected remaining record tries reset to 0, got %d", rec.Tries)
		}
	}
	r.mu.Unlock()
}

// TestAckRestoresNormalFromStallingEvenWhenUnqueued covers resend.rs's
// ack_packet: any ack received while Stalling is itself evidence of
// liveness and restores Normal, even if the acked id no longer matches a
// queued record (e.g. a duplicate ack, or one for a packet already
// removed).
func TestAckRestoresNormalFromStallingEvenWhenUnqueued(t *testing.T) {
	r := New(testConfig(), nil, nil)
	r.mu.Lock()
	r.state = StateStalling
	r.stateStart = time.Now()
	heap.Push(&r.queue, &SendRecord{Type: protocol.Command, ID: 2, Tries: 2, Last: time.Now()})
	r.mu.Unlock()

	r.Ack(protocol.Command, 999)

	if got := r.CurrentState(); got != StateNormal {
		t.Fatalf("state = %s, want Normal", got)
	}
	r.mu.Lock()
	for _, rec := range r.queue {
		if rec.Tries != 0 {
			t.Fatalf("expected remaining record tries reset to 0, got %d", rec.Tries)
		}
	}
	r.mu.Unlock()
}

func TestNotifyPacketReceivedRevivesDeadConnection(t *testing.T) {
	r := New(testConfig(), nil, nil)
	r.mu.Lock()
	r.state = StateDead
	r.mu.Unlock()

	r.NotifyPacketReceived()

	if got := r.CurrentState(); got != StateStalling {
		t.Fatalf("state = %s, want Stalling", got)
	}
}

func TestRunEndsWithConnectTimeoutWhenNothingAcksThefirstPacket(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, nil, func(protocol.Type, uint16, []byte) error { return nil })
	ctx := context.Background()
	if err := r.Send(ctx, protocol.Command, 1, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := r.Run(runCtx)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Run err = %v, want ErrConnectTimeout", err)
	}
}

func TestRunEndsCleanlyWhenDisconnectQueueDrains(t *testing.T) {
	r := New(testConfig(), nil, func(protocol.Type, uint16, []byte) error { return nil })
	r.NotifyEvent(EventConnected)

	runCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	time.Sleep(5 * time.Millisecond)
	r.NotifyEvent(EventDisconnecting)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the disconnect queue drained")
	}
}

func TestAwaitEmptyUnblocksAfterAck(t *testing.T) {
	r := New(testConfig(), nil, nil)
	ctx := context.Background()
	if err := r.Send(ctx, protocol.Command, 1, []byte("a")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.AwaitEmpty(context.Background()) }()

	select {
	case <-done:
		t.Fatal("AwaitEmpty returned before the packet was acked")
	case <-time.After(20 * time.Millisecond):
	}

	r.Ack(protocol.Command, 1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AwaitEmpty: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitEmpty did not unblock after Ack")
	}
}

// TestAckRemovesMiddleOfQueue is spec.md §8's literal "Ack removes middle
// of queue" scenario: enqueue 10/11/12, ack 11, and the next resend cycle
// transmits only 10 and 12.
func TestAckRemovesMiddleOfQueue(t *testing.T) {
	var sent []uint16
	var mu sync.Mutex
	cfg := testConfig()
	r := New(cfg, nil, func(_ protocol.Type, id uint16, _ []byte) error {
		mu.Lock()
		sent = append(sent, id)
		mu.Unlock()
		return nil
	})
	ctx := context.Background()
	for _, id := range []uint16{10, 11, 12} {
		if err := r.Send(ctx, protocol.Command, id, []byte("x")); err != nil {
			t.Fatalf("Send(%d): %v", id, err)
		}
	}
	r.Ack(protocol.Command, 11)

	runCtx, cancel := context.WithTimeout(ctx, 10*cfg.ConnectingInterval+50*time.Millisecond)
	defer cancel()
	go r.Run(runCtx) //nolint:errcheck
	<-runCtx.Done()

	mu.Lock()
	defer mu.Unlock()
	seen := map[uint16]bool{}
	for _, id := range sent {
		seen[id] = true
	}
	if !seen[10] || !seen[12] {
		t.Fatalf("sent = %v, want 10 and 12 present", sent)
	}
	if seen[11] {
		t.Fatalf("sent = %v, want 11 absent (it was acked)", sent)
	}
}

// TestStallingRetriesOnlyHeadPerCycle covers spec.md §4.2: Stalling "only
// the head packet is retried on stalling_interval", matching resend.rs's
// Vec-backed to_send where peek_mut_next_record only ever returns
// first_mut(). A single-queue resender must not flush the whole overdue
// backlog in one pass once it enters Stalling.
func TestStallingRetriesOnlyHeadPerCycle(t *testing.T) {
	var sent []uint16
	cfg := testConfig()
	r := New(cfg, nil, func(_ protocol.Type, id uint16, _ []byte) error {
		sent = append(sent, id)
		return nil
	})

	past := time.Now().Add(-time.Hour)
	r.mu.Lock()
	r.state = StateStalling
	r.stateStart = time.Now()
	heap.Push(&r.queue, &SendRecord{Type: protocol.Command, ID: 1, Tries: 1, Last: past})
	heap.Push(&r.queue, &SendRecord{Type: protocol.Command, ID: 2, Tries: 1, Last: past})
	waitUntil, changed := r.sendDueLocked(time.Now())
	r.mu.Unlock()

	if changed {
		t.Fatal("expected no state change")
	}
	if waitUntil == nil {
		t.Fatal("expected a next-due time after sending the head")
	}
	if len(sent) != 1 || sent[0] != 1 {
		t.Fatalf("sent = %v, want exactly [1] (only the head) for this stalling cycle", sent)
	}
}

// TestStallingThenDeadTerminatesConnection is spec.md §8's literal
// "Stalling -> Dead -> terminate" scenario: with nothing acking anything
// after the handshake, Run ends with ErrDead once StallingTimeout and
// then DeadTimeout elapse.
func TestStallingThenDeadTerminatesConnection(t *testing.T) {
	cfg := Config{
		ConnectingInterval: time.Millisecond,
		ConnectingTimeout:  time.Hour, // already past Connecting for this test
		NormalTimeout:      30 * time.Millisecond,
		StallingInterval:   5 * time.Millisecond,
		StallingTimeout:    40 * time.Millisecond,
		DeadTimeout:        20 * time.Millisecond,
		DisconnectTimeout:  time.Hour,
		DisconnectInterval: time.Millisecond,
		SRTT:               5 * time.Millisecond,
		SRTTDev:            0,
		MaxSendQueueLen:    10,
	}
	r := New(cfg, nil, func(protocol.Type, uint16, []byte) error { return nil })
	r.NotifyEvent(EventConnected)
	if err := r.Send(context.Background(), protocol.Command, 1, []byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.Run(runCtx)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrDead) {
		t.Fatalf("Run err = %v, want ErrDead", err)
	}
	if elapsed < cfg.NormalTimeout {
		t.Fatalf("terminated too early after %s", elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("terminated too late after %s", elapsed)
	}
}

func TestSendBlocksUntilQueueHasRoom(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSendQueueLen = 1
	r := New(cfg, nil, nil)
	ctx := context.Background()

	if err := r.Send(ctx, protocol.Command, 1, []byte("a")); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- r.Send(ctx, protocol.Command, 2, []byte("b")) }()

	select {
	case <-blocked:
		t.Fatal("second Send should have blocked while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	r.Ack(protocol.Command, 1)

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("second Send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Send did not unblock after Ack freed a slot")
	}
}
