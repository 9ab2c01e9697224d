// SPDX-License-Identifier: MIT

package book

// View is an immutable snapshot of a Book at the moment it was taken.
// original_source/tsclientlib/src/lib.rs exposes Server/Channel/Client as
// thin structs resolving fields through a borrow (`Ref::map`) over a
// `RefCell`, with the compiler enforcing "the view must not outlive its
// connection". Go has no borrow checker, so View copies out of the Book
// under its lock instead — a copy cannot dangle, which satisfies the same
// invariant by construction (see DESIGN.md Open Question decision 3).
type View struct {
	Server   Server
	Channels map[ChannelID]Channel
	Clients  map[ClientID]Client
}

// View takes an immutable snapshot of the whole book.
func (b *Book) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()

	channels := make(map[ChannelID]Channel, len(b.channels))
	for id, c := range b.channels {
		channels[id] = *c
	}
	clients := make(map[ClientID]Client, len(b.clients))
	for id, c := range b.clients {
		clients[id] = *c
	}
	return View{
		Server:   b.server,
		Channels: channels,
		Clients:  clients,
	}
}

// Client returns a snapshot of one client, if present.
func (b *Book) Client(id ClientID) (Client, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[id]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

// Channel returns a snapshot of one channel, if present.
func (b *Book) Channel(id ChannelID) (Channel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.channels[id]
	if !ok {
		return Channel{}, false
	}
	return *c, true
}
