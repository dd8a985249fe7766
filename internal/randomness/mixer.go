package randomness

import (
	"crypto/sha512"
	"fmt"
)

// Mix combines the primary collected blob with one or more auxiliary
// 64-byte sources by hashing their concatenation (in the given order) with
// SHA-512, per spec.md §4.2. At least one auxiliary source is required —
// the design mandates ≥2 independent inputs overall.
func Mix(primary [blobLen]byte, aux ...[blobLen]byte) ([64]byte, error) {
	if len(aux) < 1 {
		return [64]byte{}, fmt.Errorf("randomness: mixing requires at least 2 independent sources, got 1")
	}
	h := sha512.New()
	h.Write(primary[:])
	for _, a := range aux {
		h.Write(a[:])
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
