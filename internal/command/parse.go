// SPDX-License-Identifier: MIT

package command

import "strings"

// Notification is one parsed incoming command: a name and its key=value
// fields. The full grammar (multi-entity "|"-joined responses, nested
// escaping of every delimiter) belongs to the command-text tokenizer
// spec.md §1 declares an external collaborator; Parse implements just
// enough of it — single-entity notifications and clientinit-style
// responses — for the handshake driver and object book to consume
// (spec.md §4.5 step 6, §4.6).
type Notification struct {
	Name   string
	Fields map[string]string
}

var unescaper = strings.NewReplacer(
	"\\\\", "\\",
	"\\s", " ",
	"\\/", "/",
	"\\p", "|",
	"\\n", "\n",
)

func unescape(s string) string { return unescaper.Replace(s) }

// Parse splits one line of the wire's text-command grammar into a name and
// its fields, reversing the escaping Command.String applies. Only the
// first "|"-joined entity is parsed; repeated entities are a tokenizer
// concern this default does not implement.
func Parse(line string) Notification {
	if idx := strings.IndexByte(line, '|'); idx >= 0 {
		line = line[:idx]
	}
	parts := strings.Split(line, " ")
	n := Notification{Name: parts[0], Fields: make(map[string]string, len(parts)-1)}
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			n.Fields[k] = ""
			continue
		}
		n.Fields[k] = unescape(v)
	}
	return n
}
