// SPDX-License-Identifier: MIT

// Package command builds the handful of text commands the handshake
// driver needs to emit — clientinit and clientdisconnect — field for
// field as original_source/tsclientlib/src/lib.rs constructs them
// (spec.md §4.1, §4.5 step 4).
package command

import (
	"strconv"
	"strings"
)

// clientVersion and clientVersionSign are fixed values the reference
// client ships with; a real client identifies itself as that build so the
// server accepts its signed version string.
const (
	clientVersion     = "3.1.6 [Build: 1502873983]"
	clientPlatform    = "Linux"
	clientVersionSign = "o+l92HKfiUF+THx2rBsuNjj/S1QpxG1fd5o3Q7qtWxkviR3LI3JeWyc26eTmoQoMTgI3jjHV7dCwHsK1BVu6Aw=="
)

// field is one name=value pair of a text command, kept ordered because
// the wire format is order-sensitive for readability/log-matching even
// though the server parses commands as a map.
type field struct {
	name  string
	value string
}

// Command is a single TS3 text command: a name followed by space-separated
// key=value pairs, values escaped per the wire's backslash convention.
type Command struct {
	Name   string
	fields []field
}

func newCommand(name string) *Command {
	return &Command{Name: name}
}

func (c *Command) push(name, value string) {
	c.fields = append(c.fields, field{name, value})
}

// String renders the command the way it goes out on the wire: the escape
// rules mirror the ones any text-command parser in this protocol expects
// ('\' and the delimiter characters are backslash-escaped).
func (c *Command) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	for _, f := range c.fields {
		b.WriteByte(' ')
		b.WriteString(f.name)
		b.WriteByte('=')
		b.WriteString(escape(f.value))
	}
	return b.String()
}

var escaper = strings.NewReplacer(
	"\\", "\\\\",
	" ", "\\s",
	"/", "\\/",
	"|", "\\p",
	"\n", "\\n",
)

func escape(s string) string { return escaper.Replace(s) }

// ClientInit builds the clientinit command sent as the first step of the
// handshake, once the hash-cash proof of work has been computed
// (spec.md §4.5 step 4). Every field name, order and the fixed
// client_version/client_version_sign/hwid literals reproduce
// original_source/tsclientlib/src/lib.rs's add_connection exactly.
func ClientInit(nickname string, hashCashOffset uint64) *Command {
	c := newCommand("clientinit")
	c.push("client_nickname", nickname)
	c.push("client_version", clientVersion)
	c.push("client_platform", clientPlatform)
	c.push("client_input_hardware", "1")
	c.push("client_output_hardware", "1")
	c.push("client_default_channel", "")
	c.push("client_default_channel_password", "")
	c.push("client_server_password", "")
	c.push("client_meta_data", "")
	c.push("client_version_sign", clientVersionSign)
	c.push("client_key_offset", strconv.FormatUint(hashCashOffset, 10))
	c.push("client_nickname_phonetic", "")
	c.push("client_default_token", "")
	c.push("hwid", "123,456")
	return c
}

// DisconnectReason is the numeric reasonid TS3 servers expect on
// clientdisconnect.
type DisconnectReason uint8

const (
	ReasonLeftServer DisconnectReason = 3
	ReasonKicked     DisconnectReason = 5
	ReasonBanned     DisconnectReason = 6
)

// ClientDisconnect builds the clientdisconnect command. Both reason and
// message are optional and independent, reproducing a quirk of the
// original: a message pushed without a reason is still transmitted, but
// TS3 servers only display reasonmsg alongside a reasonid they recognize,
// so a message-only disconnect is accepted yet silently has no visible
// effect on connected clients (spec.md §4.1; see SPEC_FULL.md §12 item 3).
func ClientDisconnect(reason *DisconnectReason, message string) *Command {
	c := newCommand("clientdisconnect")
	if reason != nil {
		c.push("reasonid", strconv.FormatUint(uint64(*reason), 10))
	}
	if message != "" {
		c.push("reasonmsg", message)
	}
	return c
}
