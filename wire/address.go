package wire

// SpiceAddress is a 64-bit reference embedded in draw messages (spec §3,
// §4.6, §9). It has three forms:
//
//   - zero: the field is absent.
//   - <= 0xFFFFFFFF ("simple"): a byte offset from the start of the
//     current message body.
//   - > 0xFFFFFFFF ("encoded"): the upper 32 bits name a surface or cache
//     handle, the lower 32 bits are an offset within that entity. This
//     form was reverse-engineered from captured traffic (spec §9) and is
//     never resolved directly against the message body.
type SpiceAddress uint64

// IsAbsent reports whether the address field is present at all.
func (a SpiceAddress) IsAbsent() bool { return a == 0 }

// IsEncoded reports whether the address uses the encoded (surface/cache,
// offset) form rather than a plain body-relative offset.
func (a SpiceAddress) IsEncoded() bool { return a > 0xFFFFFFFF }

// Split decomposes an encoded address into its high (surface/cache
// handle) and low (offset within that entity) 32-bit halves. Only
// meaningful when IsEncoded is true.
func (a SpiceAddress) Split() (high, low uint32) {
	return uint32(a >> 32), uint32(a)
}

// SimpleOffset returns the address as a plain body-relative byte offset.
// Only meaningful when neither IsAbsent nor IsEncoded.
func (a SpiceAddress) SimpleOffset() uint32 {
	return uint32(a)
}

// Resolve implements the three-way address resolution of spec §4.6:
//
//  1. value == 0: field absent, returns (nil, false, nil).
//  2. value <= 0xFFFFFFFF: a byte offset into body; validated against
//     body's length before n bytes are sliced out. Returns the slice.
//  3. value > 0xFFFFFFFF: the encoded (surface/cache, offset) form.
//     Resolution requires a surface/cache directory this package does
//     not own; Resolve always returns (nil, true, nil) for this case —
//     "nil, encoded, no error" — and NEVER reads past body regardless of
//     how large value's low bits are, satisfying testable property #8.
//     Callers needing full fidelity must maintain their own directory and
//     fall back to Split.
//
// n is the number of bytes the caller expects to read starting at the
// resolved offset; a short body is reported as an error rather than
// silently truncated.
func Resolve(body []byte, addr SpiceAddress, n int) (slice []byte, encoded bool, err error) {
	if addr.IsAbsent() {
		return nil, false, nil
	}
	if addr.IsEncoded() {
		return nil, true, nil
	}
	off := int(addr.SimpleOffset())
	if off < 0 || off+n > len(body) || off > len(body) {
		return nil, false, errShortBody
	}
	return body[off : off+n], false, nil
}

var errShortBody = shortBodyError{}

type shortBodyError struct{}

func (shortBodyError) Error() string {
	return "spice: resolved SpiceAddress offset falls outside message body"
}
