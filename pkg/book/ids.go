// SPDX-License-Identifier: MIT

// Package book implements the per-connection object model — one Server,
// its Channels and Clients — mutated from the inbound notification stream
// and exposed externally only as read-only snapshots (spec.md §4.6).
package book

// ChannelID identifies a channel within a server. The wire representation
// is a 64-bit integer, unlike client/packet ids.
type ChannelID uint64

// ClientID identifies a client within a server; it is the same width as
// the connection's own c_id (spec.md §3 ConnectedParams.c_id) since a
// client's own id is itself a ClientID once initserver assigns it.
type ClientID uint16
