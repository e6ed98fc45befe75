// Package spiceerr defines the error taxonomy shared by every layer of the
// SPICE client core: transport, link, protocol, decoder, and consumer errors.
//
// Every sentinel here is meant to be wrapped with context via fmt.Errorf's
// %w verb at the call site (mirroring how the wire codec wraps validation
// failures), so callers can still use errors.Is against the sentinel.
package spiceerr

import "errors"

// Transport errors (spec §7): fatal for the affected channel.
var (
	// ErrClosed indicates the remote end closed the connection in an
	// orderly fashion (EOF on read, or a WebSocket close frame).
	ErrClosed = errors.New("spice: transport closed")
)

// Protocol errors (spec §7): BadMagic/VersionMismatch are fatal at link
// time; UnknownMessage is logged and skipped; ShortRead is fatal for the
// channel.
var (
	ErrBadMagic         = errors.New("spice: bad link magic")
	ErrVersionMismatch  = errors.New("spice: link version mismatch")
	ErrShortRead        = errors.New("spice: short read, header size exceeds body")
	ErrOversizedMessage = errors.New("spice: message body exceeds configured maximum")
)

// Link errors (spec §7): fatal.
var (
	// ErrLinkRejected wraps the server's non-zero LinkReplyData.Error.
	ErrLinkRejected = errors.New("spice: link rejected by server")
	// ErrAuthFailed wraps a non-zero 4-byte link result.
	ErrAuthFailed = errors.New("spice: authentication failed")
)

// Consumer errors (spec §7): returned synchronously, never panics.
var (
	ErrNotConnected = errors.New("spice: not connected")
)

// LinkRejected returns an error wrapping ErrLinkRejected with the server's
// numeric reject code.
func LinkRejected(code uint32) error {
	return &codeErr{base: ErrLinkRejected, code: code}
}

// AuthFailed returns an error wrapping ErrAuthFailed with the server's
// numeric link-result code.
func AuthFailed(code uint32) error {
	return &codeErr{base: ErrAuthFailed, code: code}
}

type codeErr struct {
	base error
	code uint32
}

func (e *codeErr) Error() string {
	return e.base.Error() + ": code " + itoa(e.code)
}

func (e *codeErr) Unwrap() error { return e.base }

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
