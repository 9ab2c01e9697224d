// SPDX-License-Identifier: MIT

package book

// Server is the mandatory, always-present half of the server record —
// populated from notifyinitserver (spec.md §4.5 step 6, §4.6).
type Server struct {
	Name    string
	Welcome string

	Optional   *OptionalServerData
	Connection *ConnectionServerData
}

// OptionalServerData holds server attributes only populated after an
// explicit serverinfo-style request (spec.md §4.6: "absent until
// explicitly populated by a *info response").
type OptionalServerData struct {
	Platform    string
	Version     string
	MaxClients  int
	UptimeStart int64
}

// ConnectionServerData holds attributes specific to this connection's
// view of the server, delivered as part of initserver itself rather than
// a follow-up *info request (e.g. the assigned client id).
type ConnectionServerData struct {
	ClientID ClientID
}

// Channel is the mandatory half of a channel record.
type Channel struct {
	ID       ChannelID
	Parent   ChannelID // 0 means no parent (root)
	Name     string
	Order    int
	Optional *OptionalChannelData
}

// OptionalChannelData holds channel attributes populated on demand by a
// channelinfo-style request.
type OptionalChannelData struct {
	Topic       string
	Description string
	MaxClients  int
	Password    bool
}

// Client is the mandatory half of a client record.
type Client struct {
	ID         ClientID
	Channel    ChannelID
	Nickname   string
	Optional   *OptionalClientData
	Connection *ConnectionClientData
}

// OptionalClientData holds client attributes populated on demand by a
// clientinfo-style request.
type OptionalClientData struct {
	Description string
	Version     string
	Platform    string
}

// ConnectionClientData holds per-connection attributes about a client
// delivered as part of cliententerview rather than a follow-up request.
type ConnectionClientData struct {
	InputMuted  bool
	OutputMuted bool
}
