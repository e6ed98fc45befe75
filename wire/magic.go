// Package wire implements the byte-exact, little-endian, packed-struct
// encoding of every SPICE 2.2 link-phase and channel-phase message.
//
// Every multi-byte value on the wire is little-endian and every struct is
// packed (no language-inserted padding); functions in this package read and
// write raw byte slices directly rather than relying on encoding/binary's
// struct-reflection helpers, the same way a hand-rolled fixed-size frame
// header is typically built byte by byte.
package wire

import "encoding/binary"

// Magic is the four ASCII bytes R, E, D, Q in that order. Expressing the
// magic as a byte array (rather than a single integer constant) avoids the
// endian confusion a bare uint32 constant invites: the array is what's on
// the wire, and MagicUint32 below is derived from it, not the other way
// around.
var Magic = [4]byte{'R', 'E', 'D', 'Q'}

// MagicUint32 is Magic read as a little-endian uint32: 0x51444552.
func MagicUint32() uint32 {
	return binary.LittleEndian.Uint32(Magic[:])
}

// MagicMatches reports whether the 4 bytes at the start of b equal Magic.
func MagicMatches(b []byte) bool {
	return len(b) >= 4 && b[0] == Magic[0] && b[1] == Magic[1] && b[2] == Magic[2] && b[3] == Magic[3]
}
