package randomness

import (
	"context"
	"time"

	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
)

// Take reads buf's current blob, synchronously refilling it via collector
// once if the slot is empty or stale, per spec.md §4.2. It is shared by
// the pulse assembler and the strand bootstrapper so both gather
// randomness the same way.
func Take(ctx context.Context, buf *Buffer, collector *Collector, refillTimeout time.Duration) ([64]byte, error) {
	if blob, ok := buf.Take(); ok {
		return blob, nil
	}
	if err := collector.Refill(ctx, refillTimeout); err != nil {
		return [64]byte{}, err
	}
	if blob, ok := buf.Take(); ok {
		return blob, nil
	}
	return [64]byte{}, beaconerr.New(beaconerr.KindRandomnessFailure, "randomness: buffer still empty immediately after refill")
}
