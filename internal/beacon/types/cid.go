// Package types holds the wire-level data model shared across the pulse
// pipeline: Strand, Tixel, Stitch and the CID content-address that names
// them.
package types

import (
	"encoding/base32"
	"strings"
)

// digestLen is the length in bytes of the sha256 digest a CID wraps.
const digestLen = 32

// cidEncoding is unpadded base32, matching the teacher's terse log-friendly
// identifier style (short, no '=' padding noise in log lines).
var cidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// cidPrefix distinguishes a tixel/strand CID from any other base32 token
// that might show up in a log line or URL path.
const cidPrefix = "tw1"

// CID is a content-address: the "tw1" + base32(sha256 digest) rendering
// used to name tixels (digest of the signed canonical record) and the
// strand (digest of the signer's public key).
type CID string

// NewCID renders a 32-byte sha256 digest as a CID.
func NewCID(digest [32]byte) CID {
	return CID(cidPrefix + cidEncoding.EncodeToString(digest[:]))
}

// Digest recovers the raw 32-byte digest from a CID, returning false if c
// is not well-formed.
func (c CID) Digest() ([32]byte, bool) {
	var out [32]byte
	s := string(c)
	if !strings.HasPrefix(s, cidPrefix) {
		return out, false
	}
	raw, err := cidEncoding.DecodeString(s[len(cidPrefix):])
	if err != nil || len(raw) != digestLen {
		return out, false
	}
	copy(out[:], raw)
	return out, true
}

// IsZero reports whether c is the empty CID, used to represent "no previous
// link" on the genesis tixel.
func (c CID) IsZero() bool {
	return c == ""
}

// String implements fmt.Stringer.
func (c CID) String() string {
	return string(c)
}
