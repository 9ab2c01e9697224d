// SPDX-License-Identifier: MIT

package tsproto

import (
	"context"
	"crypto/elliptic"
	"sync"

	"github.com/pion/logging"

	"github.com/tsproto-go/tsproto/pkg/book"
	"github.com/tsproto-go/tsproto/pkg/resender"
)

var initOnce sync.Once

// Init is the one-shot, process-wide library initialization spec.md §5
// requires to run before the first Connect. Go's standard-library crypto
// primitives this package builds on (crypto/elliptic, crypto/aes,
// crypto/sha1) need no explicit global setup, unlike the original's
// native crypto backend; Init still exists, and is still idempotent and
// safe to call from multiple goroutines, as a stable hook the rest of
// the package can depend on and tests can call without caring whether
// it has run yet. It pre-warms the P-256 curve implementation so the
// first real identity generation does not pay that cost.
func Init() {
	initOnce.Do(func() {
		elliptic.P256()
	})
}

// ConnectionManager is the process-wide registry of active connections,
// keyed by a dense ConnectionID (spec.md §2, §4.1).
type ConnectionManager struct {
	log           logging.LeveledLogger
	loggerFactory logging.LoggerFactory
	resenderCfg   resender.Config

	mu    sync.Mutex
	conns map[ConnectionID]*Connection
}

// NewConnectionManager creates an empty manager. Call tsproto.Init once
// per process before the first Connect, per spec.md §5's one-shot
// library initialization requirement.
func NewConnectionManager(opts ManagerOptions) *ConnectionManager {
	opts = opts.withDefaults()
	return &ConnectionManager{
		log:           opts.LoggerFactory.NewLogger("tsproto"),
		loggerFactory: opts.LoggerFactory,
		resenderCfg:   opts.ResenderConfig,
		conns:         make(map[ConnectionID]*Connection),
	}
}

// Connect runs the handshake described in spec.md §4.5 and, on success,
// registers the resulting Connection under a freshly allocated
// ConnectionID.
func (m *ConnectionManager) Connect(ctx context.Context, opts ConnectOptions) (ConnectionID, error) {
	return runHandshake(ctx, m, opts)
}

// Disconnect sends clientdisconnect and waits for the Connection to reach
// its terminal state (spec.md §4.1). Disconnecting an id with no live
// Connection resolves successfully without side effects (spec.md §8
// testable property 6).
func (m *ConnectionManager) Disconnect(ctx context.Context, id ConnectionID, opts DisconnectOptions) error {
	conn, ok := m.connection(id)
	if !ok {
		return nil
	}

	cmd := disconnectCommand(opts)
	return conn.disconnect(ctx, []byte(cmd.String()))
}

// Get returns a read-only snapshot of the object book for id, or false if
// no such connection is currently registered. The view is a copy and
// cannot outlive the ConnectionID by construction (spec.md §4.1, §6; see
// DESIGN.md Open Question decision 3).
func (m *ConnectionManager) Get(id ConnectionID) (book.View, bool) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return book.View{}, false
	}
	return conn.Book(), true
}

// connection returns the live Connection for id, for internal use by
// Disconnect; it is not part of the public surface.
func (m *ConnectionManager) connection(id ConnectionID) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	return conn, ok
}

// insert allocates the smallest unused non-negative ConnectionID and
// registers c under it (spec.md §4.1 ConnectionId allocation: "Linear
// scan [0, N] over current keys, returning the first absent integer").
func (m *ConnectionManager) insert(c *Connection) ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ConnectionID(0)
	for {
		if _, taken := m.conns[id]; !taken {
			break
		}
		id++
	}
	c.id = id
	m.conns[id] = c
	return id
}

func (m *ConnectionManager) remove(id ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

// Len reports the number of currently registered connections, mostly
// useful for tests exercising ConnectionID density (spec.md §8 testable
// property 5).
func (m *ConnectionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
