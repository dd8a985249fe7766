package types

import "time"

// Strand is the singleton chain descriptor for this deployment. Created
// once at bootstrap and immutable thereafter; see internal/bootstrap.
type Strand struct {
	StrandID        CID
	PublicKey       []byte // PKIX, DER-encoded
	SignatureScheme string // "RSASSA-PKCS1-v1_5-SHA256"
	PulsePeriod     time.Duration
	Details         map[string]any
	GenesisTime     time.Time
}

// Stitch is an inclusion, by reference, of a foreign strand's current tip
// inside this strand's tixel.
type Stitch struct {
	ForeignStrandID CID
	ForeignTixelCID CID
}

// Tixel is one signed pulse record. Created exactly once per Index; never
// mutated or deleted once committed.
type Tixel struct {
	StrandID     CID
	Index        uint64
	Timestamp    time.Time
	Randomness   [64]byte
	PreviousLink CID // zero value for the genesis tixel
	Stitches     []Stitch
	PayloadHash  [32]byte
	Signature    []byte
	CID          CID
}

// IsGenesis reports whether t is the first tixel of its strand.
func (t *Tixel) IsGenesis() bool {
	return t.Index == 0
}
