// SPDX-License-Identifier: MIT

package resender

import "time"

// Config holds the timing constants that drive state transitions and
// retransmission scheduling (spec.md §4.2; original_source's ResendConfig).
type Config struct {
	// ConnectingInterval is how often the first packet is resent while in
	// StateConnecting.
	ConnectingInterval time.Duration
	// ConnectingTimeout gives up and fails the connection if no response
	// to the first packet arrives within this duration.
	ConnectingTimeout time.Duration
	// NormalTimeout is the ceiling the retransmission timeout may not
	// exceed while in StateNormal before the connection is considered
	// stalling.
	NormalTimeout time.Duration
	// StallingInterval is how often the head-of-queue packet is resent
	// while stalling.
	StallingInterval time.Duration
	// StallingTimeout moves the connection from Stalling to Dead once
	// exceeded with no acknowledgment.
	StallingTimeout time.Duration
	// DeadTimeout is how long a dead connection is kept around before it
	// is torn down; zero means immediately on the next tick.
	DeadTimeout time.Duration
	// DisconnectTimeout gives up waiting for the disconnect to be
	// acknowledged and ends the connection anyway.
	DisconnectTimeout time.Duration
	// DisconnectInterval is how often the disconnect packet is resent.
	DisconnectInterval time.Duration

	// SRTT and SRTTDev seed the smoothed round-trip time estimate.
	SRTT    time.Duration
	SRTTDev time.Duration

	// MaxSendQueueLen bounds the number of unacknowledged packets held at
	// once; Send blocks (or respects ctx) once this many are outstanding.
	MaxSendQueueLen int
}

// DefaultConfig returns the timing constants the reference implementation
// ships with.
func DefaultConfig() Config {
	return Config{
		ConnectingInterval: time.Second,
		ConnectingTimeout:  5 * time.Second,
		NormalTimeout:      10 * time.Second,
		StallingInterval:   5 * time.Second,
		StallingTimeout:    30 * time.Second,
		DeadTimeout:        0,
		DisconnectTimeout:  5 * time.Second,
		DisconnectInterval: time.Second,

		SRTT:    2500 * time.Millisecond,
		SRTTDev: 0,

		MaxSendQueueLen: 50,
	}
}
