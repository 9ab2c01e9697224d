// SPDX-License-Identifier: MIT

package tsproto

import (
	"context"
	"testing"
)

// TestConnectionIDAllocationIsDense exercises spec.md §8 testable
// property 5: after any sequence of add/remove operations, the next
// allocation is the smallest id not currently in use.
func TestConnectionIDAllocationIsDense(t *testing.T) {
	mgr := NewConnectionManager(ManagerOptions{})

	idA := mgr.insert(&Connection{})
	idB := mgr.insert(&Connection{})
	idC := mgr.insert(&Connection{})
	if idA != 0 || idB != 1 || idC != 2 {
		t.Fatalf("ids = %d,%d,%d, want 0,1,2", idA, idB, idC)
	}

	mgr.remove(idB)
	idD := mgr.insert(&Connection{})
	if idD != idB {
		t.Fatalf("reused id = %d, want %d (the hole left by removing idB)", idD, idB)
	}

	mgr.remove(idA)
	mgr.remove(idC)
	mgr.remove(idD)
	if mgr.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", mgr.Len())
	}
	idE := mgr.insert(&Connection{})
	if idE != 0 {
		t.Fatalf("first id after a full drain = %d, want 0", idE)
	}
}

// TestDisconnectUnknownIDIsNoop is spec.md §8 testable property 6:
// disconnecting a non-existent id resolves successfully without side
// effects.
func TestDisconnectUnknownIDIsNoop(t *testing.T) {
	mgr := NewConnectionManager(ManagerOptions{})
	if err := mgr.Disconnect(context.Background(), ConnectionID(42), DisconnectOptions{}); err != nil {
		t.Fatalf("Disconnect(unknown) = %v, want nil", err)
	}
}

// TestGetUnknownIDReturnsFalse covers the Get half of the same surface.
func TestGetUnknownIDReturnsFalse(t *testing.T) {
	mgr := NewConnectionManager(ManagerOptions{})
	if _, ok := mgr.Get(ConnectionID(0)); ok {
		t.Fatal("Get on an empty manager returned ok=true")
	}
}

// TestInitIsIdempotent covers spec.md §5's one-shot library
// initialization requirement: calling Init any number of times, from any
// number of goroutines, must not panic or race.
func TestInitIsIdempotent(t *testing.T) {
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			Init()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
