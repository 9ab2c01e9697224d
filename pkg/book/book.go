// SPDX-License-Identifier: MIT

package book

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/pion/logging"
)

// Book is the mutable per-connection object tree. It is safe for
// concurrent use: mutation happens from the command-stream consumer
// goroutine via ApplyNotification, while View may be called from any
// goroutine holding a ConnectionId (spec.md §4.6, §5).
type Book struct {
	log logging.LeveledLogger

	mu       sync.RWMutex
	server   Server
	channels map[ChannelID]*Channel
	clients  map[ClientID]*Client

	bootstrapped bool
}

// New creates an empty Book. log may be nil.
func New(log logging.LeveledLogger) *Book {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("book")
	}
	return &Book{
		log:      log,
		channels: make(map[ChannelID]*Channel),
		clients:  make(map[ClientID]*Client),
	}
}

// Bootstrap applies the initserver notification that completes the
// handshake (spec.md §4.5 step 6). It must be called at most once; a
// second call is rejected, matching the Open Question decision in
// DESIGN.md that a repeated initserver is a protocol error the caller
// should surface, not silently reapply.
func (b *Book) Bootstrap(fields map[string]string) (ClientID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bootstrapped {
		return 0, fmt.Errorf("book: initserver received twice")
	}
	b.server.Name = fields["virtualserver_name"]
	b.server.Welcome = fields["virtualserver_welcomemessage"]
	cid, _ := parseUint(fields["aclid"])
	b.server.Connection = &ConnectionServerData{ClientID: ClientID(cid)}
	b.bootstrapped = true
	return ClientID(cid), nil
}

// ApplyNotification mutates the book per one parsed notification
// (spec.md §4.6: "Entities are created by notifications ..., mutated by
// update notifications, and removed by leave/delete notifications").
// Unknown notification names are logged and ignored rather than treated
// as an error — a client library must tolerate a server that knows
// notifications it doesn't, per spec.md §7's tolerant-parsing stance.
func (b *Book) ApplyNotification(name string, fields map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "notifyinitserver":
		b.log.Warnf("book: ignoring repeated initserver notification")
	case "notifycliententerview":
		b.applyClientEnterView(fields)
	case "notifyclientleftview":
		b.applyClientLeftView(fields)
	case "notifyclientmoved":
		b.applyClientMoved(fields)
	case "notifychannelcreated":
		b.applyChannelCreated(fields)
	case "notifychanneldeleted":
		b.applyChannelDeleted(fields)
	case "notifychannelmoved":
		b.applyChannelMoved(fields)
	case "notifychannellistfinished":
		// Marks the end of the initial channel list; nothing to mutate.
	default:
		b.log.Debugf("book: ignoring unknown notification %q", name)
	}
}

func (b *Book) applyClientEnterView(f map[string]string) {
	id, ok := parseUint(f["clid"])
	if !ok {
		return
	}
	chanID, _ := parseUint(f["ctid"])
	b.clients[ClientID(id)] = &Client{
		ID:       ClientID(id),
		Channel:  ChannelID(chanID),
		Nickname: f["client_nickname"],
		Connection: &ConnectionClientData{
			InputMuted:  f["client_input_muted"] == "1",
			OutputMuted: f["client_output_muted"] == "1",
		},
	}
}

func (b *Book) applyClientLeftView(f map[string]string) {
	id, ok := parseUint(f["clid"])
	if !ok {
		return
	}
	delete(b.clients, ClientID(id))
}

func (b *Book) applyClientMoved(f map[string]string) {
	id, ok := parseUint(f["clid"])
	if !ok {
		return
	}
	c, ok := b.clients[ClientID(id)]
	if !ok {
		return
	}
	chanID, ok := parseUint(f["ctid"])
	if ok {
		c.Channel = ChannelID(chanID)
	}
}

func (b *Book) applyChannelCreated(f map[string]string) {
	id, ok := parseUint(f["cid"])
	if !ok {
		return
	}
	parent, _ := parseUint(f["cpid"])
	order, _ := strconv.Atoi(f["channel_order"])
	b.channels[ChannelID(id)] = &Channel{
		ID:     ChannelID(id),
		Parent: ChannelID(parent),
		Name:   f["channel_name"],
		Order:  order,
	}
}

func (b *Book) applyChannelDeleted(f map[string]string) {
	id, ok := parseUint(f["cid"])
	if !ok {
		return
	}
	delete(b.channels, ChannelID(id))
}

func (b *Book) applyChannelMoved(f map[string]string) {
	id, ok := parseUint(f["cid"])
	if !ok {
		return
	}
	c, ok := b.channels[ChannelID(id)]
	if !ok {
		return
	}
	if parent, ok := parseUint(f["cpid"]); ok {
		c.Parent = ChannelID(parent)
	}
}

func parseUint(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}
