// Package canon implements the fixed canonical binary encoding of a tixel
// (SPEC_FULL.md §6A) and the CID computation derived from it. The encoding
// is deterministic by construction: the same logical tixel always produces
// the same bytes, and therefore the same content address.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/twine-protocol/beacon-in-a-box/internal/beacon/types"
)

// Magic identifies the wire format version. Any future incompatible change
// to the layout below must bump this value.
var Magic = [4]byte{'T', 'X', 'L', '2'}

// EncodePayload serializes the unsigned portion of t (everything the
// signature covers) in the fixed big-endian layout documented in
// SPEC_FULL.md §6A.
func EncodePayload(t *types.Tixel) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(Magic[:])

	strandDigest, ok := t.StrandID.Digest()
	if !ok {
		return nil, fmt.Errorf("canon: strand id %q is not a well-formed CID", t.StrandID)
	}
	buf.Write(strandDigest[:])

	if err := binary.Write(buf, binary.BigEndian, t.Index); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, t.Timestamp.UTC().Unix()); err != nil {
		return nil, err
	}
	buf.Write(t.Randomness[:])

	var prev [33]byte
	if !t.PreviousLink.IsZero() {
		digest, ok := t.PreviousLink.Digest()
		if !ok {
			return nil, fmt.Errorf("canon: previous link %q is not a well-formed CID", t.PreviousLink)
		}
		prev[0] = 1
		copy(prev[1:], digest[:])
	}
	buf.Write(prev[:])

	if len(t.Stitches) > 0xFFFF {
		return nil, fmt.Errorf("canon: too many stitches (%d)", len(t.Stitches))
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(t.Stitches))); err != nil {
		return nil, err
	}
	for i, s := range t.Stitches {
		fsDigest, ok := s.ForeignStrandID.Digest()
		if !ok {
			return nil, fmt.Errorf("canon: stitch %d foreign strand id is not a well-formed CID", i)
		}
		ftDigest, ok := s.ForeignTixelCID.Digest()
		if !ok {
			return nil, fmt.Errorf("canon: stitch %d foreign tixel cid is not a well-formed CID", i)
		}
		buf.Write(fsDigest[:])
		buf.Write(ftDigest[:])
	}

	return buf.Bytes(), nil
}

// PayloadHash returns SHA-256 of the canonical unsigned payload, the value
// handed to the signer.
func PayloadHash(t *types.Tixel) ([32]byte, error) {
	payload, err := EncodePayload(t)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(payload), nil
}

// EncodeSigned appends the signature length and bytes to the canonical
// unsigned payload, producing the bytes the CID is computed over.
func EncodeSigned(t *types.Tixel) ([]byte, error) {
	payload, err := EncodePayload(t)
	if err != nil {
		return nil, err
	}
	if len(t.Signature) > 0xFFFF {
		return nil, fmt.Errorf("canon: signature too long (%d bytes)", len(t.Signature))
	}
	buf := bytes.NewBuffer(payload)
	if err := binary.Write(buf, binary.BigEndian, uint16(len(t.Signature))); err != nil {
		return nil, err
	}
	buf.Write(t.Signature)
	return buf.Bytes(), nil
}

// ComputeCID derives t's CID from its signed canonical encoding. t.Signature
// must already be populated.
func ComputeCID(t *types.Tixel) (types.CID, error) {
	signed, err := EncodeSigned(t)
	if err != nil {
		return "", err
	}
	return types.NewCID(sha256.Sum256(signed)), nil
}

// Decode parses bytes previously produced by EncodePayload back into the
// fields of a Tixel (StrandID, Index, Timestamp, Randomness, PreviousLink,
// Stitches). The caller is responsible for filling in Signature and CID
// separately; Decode only reconstructs the signed-over fields.
func Decode(data []byte) (*types.Tixel, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil {
		return nil, fmt.Errorf("canon: short read on magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("canon: bad magic %q", magic)
	}

	var strandDigest [32]byte
	if _, err := r.Read(strandDigest[:]); err != nil {
		return nil, fmt.Errorf("canon: short read on strand id: %w", err)
	}

	var index uint64
	if err := binary.Read(r, binary.BigEndian, &index); err != nil {
		return nil, fmt.Errorf("canon: short read on index: %w", err)
	}

	var unixSec int64
	if err := binary.Read(r, binary.BigEndian, &unixSec); err != nil {
		return nil, fmt.Errorf("canon: short read on timestamp: %w", err)
	}

	var randomness [64]byte
	if _, err := r.Read(randomness[:]); err != nil {
		return nil, fmt.Errorf("canon: short read on randomness: %w", err)
	}

	var prev [33]byte
	if _, err := r.Read(prev[:]); err != nil {
		return nil, fmt.Errorf("canon: short read on previous link: %w", err)
	}

	var stitchCount uint16
	if err := binary.Read(r, binary.BigEndian, &stitchCount); err != nil {
		return nil, fmt.Errorf("canon: short read on stitch count: %w", err)
	}

	stitches := make([]types.Stitch, 0, stitchCount)
	for i := uint16(0); i < stitchCount; i++ {
		var fs, ft [32]byte
		if _, err := r.Read(fs[:]); err != nil {
			return nil, fmt.Errorf("canon: short read on stitch %d foreign strand: %w", i, err)
		}
		if _, err := r.Read(ft[:]); err != nil {
			return nil, fmt.Errorf("canon: short read on stitch %d foreign tixel: %w", i, err)
		}
		stitches = append(stitches, types.Stitch{
			ForeignStrandID: types.NewCID(fs),
			ForeignTixelCID: types.NewCID(ft),
		})
	}

	t := &types.Tixel{
		StrandID:   types.NewCID(strandDigest),
		Index:      index,
		Randomness: randomness,
		Stitches:   stitches,
	}
	t.Timestamp = secondsToUTC(unixSec)
	if prev[0] == 1 {
		var digest [32]byte
		copy(digest[:], prev[1:])
		t.PreviousLink = types.NewCID(digest)
	}
	return t, nil
}
