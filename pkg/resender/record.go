// SPDX-License-Identifier: MIT

// Package resender implements the retransmission state machine that sits
// between a Connection and its transport: Connecting/Normal/Stalling/Dead/
// Disconnecting, SRTT-based scheduling, and the bounded send queue (spec.md
// §4.2; grounded on original_source/tsproto/src/resend.rs).
package resender

import (
	"time"

	"github.com/tsproto-go/tsproto/pkg/protocol"
)

// SendRecord is one outstanding reliable packet awaiting acknowledgment.
// The original's separate sent/tries fields collapse here into Tries alone
// (tries == 0 is exactly the original's "not sent yet" case); Sent is kept
// because ack SRTT accounting needs the original transmission time, not the
// most recent retry.
type SendRecord struct {
	Sent   time.Time
	Last   time.Time
	Tries  int
	Type   protocol.Type
	ID     uint16
	Packet []byte

	index int
}

// priorityQueue orders SendRecords the way resend.rs's SendRecord::Ord
// does: unsent records before sent ones; among unsent, the smaller packet
// id first; among sent, the older Last first, ties broken by the smaller
// id. It is a container/heap min-heap where "less" means "more urgent to
// send", so Pop always returns the next record due for transmission.
type priorityQueue []*SendRecord

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	switch {
	case a.Tries == 0 && b.Tries != 0:
		return true
	case a.Tries != 0 && b.Tries == 0:
		return false
	case a.Tries == 0:
		return a.ID < b.ID
	case !a.Last.Equal(b.Last):
		return a.Last.Before(b.Last)
	default:
		return a.ID < b.ID
	}
}

func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *priorityQueue) Push(x any) {
	rec := x.(*SendRecord)
	rec.index = len(*q)
	*q = append(*q, rec)
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	rec.index = -1
	*q = old[:n-1]
	return rec
}
