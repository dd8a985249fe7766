// Package signer implements the polymorphic Signer of spec.md §4.5: a
// Local variant backed by an on-disk PKCS#8 RSA key, and an Hsm variant
// that delegates to a remote connector over HTTP. Both produce
// RSASSA-PKCS1-v1_5-SHA256 signatures over a 2048-bit key.
package signer

import "context"

// Signer signs a payload hash and exposes the public key tixels are
// verified against.
type Signer interface {
	// Sign returns the signature over hash (already SHA-256'd by the
	// caller).
	Sign(ctx context.Context, hash [32]byte) ([]byte, error)
	// PublicKeyDER returns the PKIX DER encoding of the signer's public
	// key, used by the bootstrapper to populate/verify the strand record.
	PublicKeyDER() []byte
}
