// SPDX-License-Identifier: MIT

// Package tsproto implements a TeamSpeak3 voice-server UDP protocol
// client: the per-connection packet engine, the resender retransmission
// state machine, and the connection manager/handshake driver (spec.md
// §§1-2). Socket transport, the wire packet codec and the command-text
// tokenizer are narrow external collaborators with a default
// implementation provided in pkg/transport, pkg/crypto/codec and
// internal/command respectively; see spec.md §1 and §6.
package tsproto

import "fmt"

// ErrorKind classifies an Error the way spec.md §6's error taxonomy does:
// ConnectionFailed for handshake/protocol-level failures, Base64/Crypto/
// Protocol/Other for lower layers wrapped unmodified (spec.md §7).
type ErrorKind uint8

const (
	ErrConnectionFailed ErrorKind = iota
	ErrBase64
	ErrCrypto
	ErrProtocol
	ErrOther
)

func (k ErrorKind) String() string {
	switch k {
	case ErrConnectionFailed:
		return "ConnectionFailed"
	case ErrBase64:
		return "Base64"
	case ErrCrypto:
		return "Crypto"
	case ErrProtocol:
		return "Protocol"
	case ErrOther:
		return "Other"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Error is the single public error type the taxonomy in spec.md §6 maps
// onto: a Kind plus an optional wrapped Cause, so callers can still use
// errors.Is/errors.As against a lower-layer sentinel (spec.md §7).
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("tsproto: %s: %s: %v", e.Kind, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("tsproto: %s: %s", e.Kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("tsproto: %s: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("tsproto: %s", e.Kind)
	}
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

func connectionFailedf(format string, args ...any) *Error {
	return &Error{Kind: ErrConnectionFailed, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
