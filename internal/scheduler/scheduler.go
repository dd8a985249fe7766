// Package scheduler implements the Clock & Scheduler component (spec.md
// §4.1): deciding when to start building a pulse (prepare) and when to
// release it, driven by an internal/clock.Clock for deterministic
// testability.
package scheduler

import (
	"context"
	"time"

	"github.com/twine-protocol/beacon-in-a-box/internal/clock"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// Slot identifies one pulse cycle by its aligned wall-clock time.
type Slot struct {
	Index uint64
	Time  time.Time
}

// TipChecker reports the index of the last committed tixel, used to decide
// whether a slot should be skipped because the previous one never landed
// in time (spec.md §4.1's "prepare MUST NOT fire before the previous
// index is committed" contract).
type TipChecker func() (index uint64, ok bool)

// Scheduler produces Prepare and Release events for a sequence of slots
// starting from genesis+period*nextIndex, spaced by period, with Prepare
// firing LeadTime before each slot boundary.
type Scheduler struct {
	genesis time.Time
	period  time.Duration
	lead    time.Duration
	clock   clock.Clock
	tip     TipChecker
	log     log.Logger
}

// New returns a Scheduler for a chain whose genesis slot is at genesis,
// repeating every period, preparing lead before each boundary. tip reports
// the last committed index so a late commit causes the next slot to skip
// rather than double-fire. c supplies both wall-clock slot identification
// and the monotonic wait used to reach each deadline (spec.md §4.1's
// clock-drift policy keeps the two deliberately coupled behind one
// capability). A nil c defaults to clock.NewSystem().
func New(c clock.Clock, genesis time.Time, period, lead time.Duration, tip TipChecker, logger log.Logger) *Scheduler {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Scheduler{
		genesis: genesis,
		period:  period,
		lead:    lead,
		clock:   c,
		tip:     tip,
		log:     logger,
	}
}

// NextSlot returns the smallest slot T = genesis + k*period such that
// T - lead >= now. On startup against a non-empty chain, callers should
// pass committedIndex+1 worth of elapsed slots implicitly via now; this
// function never back-fills — it always resolves to the first *future*
// slot (spec.md §4.1).
func (s *Scheduler) NextSlot(now time.Time) Slot {
	return AlignSlot(s.genesis, s.period, s.lead, now)
}

// AlignSlot computes the smallest slot T = genesis + k*period such that
// T - lead >= now, without requiring a constructed Scheduler. The
// bootstrapper uses this directly to pick the genesis tixel's aligned
// timestamp (spec.md §4.7).
func AlignSlot(genesis time.Time, period, lead time.Duration, now time.Time) Slot {
	if period <= 0 {
		return Slot{Index: 0, Time: genesis}
	}
	elapsed := now.Sub(genesis)
	k := int64(elapsed / period)
	if k < 0 {
		k = 0
	}
	for {
		t := genesis.Add(period * time.Duration(k))
		if !t.Add(-lead).Before(now) {
			return Slot{Index: uint64(k), Time: t}
		}
		k++
	}
}

// Run drives Prepare/Release callbacks for consecutive slots starting at
// the first future slot, until ctx is canceled. For each slot it first
// waits for Prepare time, checks the tip is caught up (else skips
// straight to the next slot without calling onPrepare), then waits for
// Release time and invokes onRelease.
func (s *Scheduler) Run(ctx context.Context, onPrepare func(Slot), onRelease func(Slot), onSkip func(Slot)) {
	slot := s.NextSlot(s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		prepareAt := slot.Time.Add(-s.lead)
		if !s.waitUntil(ctx, prepareAt) {
			return
		}

		if idx, ok := s.tip(); ok && slot.Index > 0 && idx != slot.Index-1 {
			s.log.Warn("skipping slot: previous index not yet committed", "slot", slot.Index, "tip", idx)
			onSkip(slot)
			slot = Slot{Index: slot.Index + 1, Time: slot.Time.Add(s.period)}
			continue
		}

		onPrepare(slot)

		if !s.waitUntil(ctx, slot.Time) {
			return
		}
		onRelease(slot)

		slot = Slot{Index: slot.Index + 1, Time: slot.Time.Add(s.period)}
	}
}

// waitUntil blocks until wall-clock time t or ctx cancellation, returning
// false on cancellation. The wait itself goes through the (possibly
// simulated) clock, so tests can advance it deterministically.
func (s *Scheduler) waitUntil(ctx context.Context, t time.Time) bool {
	select {
	case <-s.clock.SleepUntil(t):
		return true
	case <-ctx.Done():
		return false
	}
}
