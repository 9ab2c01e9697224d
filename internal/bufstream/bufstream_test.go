// SPDX-License-Identifier: MIT

package bufstream

import (
	"context"
	"testing"
	"time"
)

func TestPushThenNextFIFO(t *testing.T) {
	s := New[int](4, nil)
	s.Push(1)
	s.Push(2)
	s.Push(3)

	ctx := context.Background()
	for _, want := range []int{1, 2, 3} {
		got, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}
}

func TestPushDropsAndReportsWhenFull(t *testing.T) {
	var dropped []int
	s := New[int](2, func(n int) { dropped = append(dropped, n) })
	s.Push(1)
	s.Push(2)
	s.Push(3) // buffer already at capacity 2

	if len(dropped) != 1 {
		t.Fatalf("expected exactly one drop notification, got %v", dropped)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

func TestNextBlocksUntilPush(t *testing.T) {
	s := New[string](4, nil)
	ctx := context.Background()

	done := make(chan string, 1)
	go func() {
		v, _ := s.Next(ctx)
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("Next returned before anything was pushed")
	case <-time.After(10 * time.Millisecond):
	}

	s.Push("hello")

	select {
	case v := <-done:
		if v != "hello" {
			t.Fatalf("Next() = %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Push")
	}
}

func TestNextRespectsContextCancellation(t *testing.T) {
	s := New[int](4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Next(ctx); err == nil {
		t.Fatal("expected Next to return an error for a cancelled context")
	}
}
