// SPDX-License-Identifier: MIT

package tsproto

import "github.com/tsproto-go/tsproto/internal/command"

// disconnectCommand renders DisconnectOptions into the clientdisconnect
// command internal/command builds (spec.md §4.1).
func disconnectCommand(opts DisconnectOptions) *command.Command {
	return command.ClientDisconnect(opts.Reason, opts.Message)
}
