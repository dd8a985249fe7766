package pulse

import (
	"context"

	"github.com/twine-protocol/beacon-in-a-box/event"
	"github.com/twine-protocol/beacon-in-a-box/internal/beacon/types"
	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
	"github.com/twine-protocol/beacon-in-a-box/internal/scheduler"
	"github.com/twine-protocol/beacon-in-a-box/internal/stitch"
	"github.com/twine-protocol/beacon-in-a-box/internal/syncx"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// State is one position in the per-slot state machine of spec.md §4.6.
type State int

const (
	StateIdle State = iota
	StateGathering
	StateSigning
	StateCommitting
	StateReady
	StateSkipped
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGathering:
		return "gathering"
	case StateSigning:
		return "signing"
	case StateCommitting:
		return "committing"
	case StateReady:
		return "ready"
	case StateSkipped:
		return "skipped"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome is the final result of driving one slot through the pipeline.
type Outcome struct {
	Slot  scheduler.Slot
	State State
	Tixel *types.Tixel
	Err   error
}

// Pipeline is the single worker that owns slot state end to end: it is
// the only caller of Assembler.Assemble, so there is never more than one
// slot in GATHERING/SIGNING/COMMITTING at a time (spec.md §5/§9 — "the
// Pulse Pipeline worker is the sole state owner").
type Pipeline struct {
	assembler *Assembler
	lock      *syncx.ClosableMutex
	feed      event.Feed
	log       log.Logger

	onCommit func(index uint64, cid types.CID)
	// stitchEntries, if non-nil, is consulted at the start of every
	// Prepare call so the pipeline always assembles against the stitch
	// watcher's latest reloaded snapshot (spec.md §4.4).
	stitchEntries func() []stitch.Entry
}

// NewPipeline returns a Pipeline driving assembler. onCommit, if non-nil,
// is invoked with the new tip immediately after a successful commit, so
// the Supervisor can refresh its in-memory tip cache (spec.md §3's
// ownership rule: Supervisor owns the cache, refreshed only after a
// successful Chain Store commit). stitchEntries, if non-nil, supplies the
// active stitch entries for each slot.
func NewPipeline(assembler *Assembler, onCommit func(index uint64, cid types.CID), stitchEntries func() []stitch.Entry, logger log.Logger) *Pipeline {
	return &Pipeline{
		assembler:     assembler,
		lock:          syncx.NewClosableMutex(),
		onCommit:      onCommit,
		stitchEntries: stitchEntries,
		log:           logger,
	}
}

// Subscribe registers ch to receive an Outcome for every slot the
// pipeline finishes (READY/SKIPPED at prepare time, DONE at release
// time).
func (p *Pipeline) Subscribe(ch chan<- Outcome) event.Subscription {
	return p.feed.Subscribe(ch)
}

// Prepare drives one slot through GATHERING -> SIGNING -> COMMITTING,
// landing in READY or SKIPPED. It is meant to be called from the
// scheduler's onPrepare callback, synchronously, so that by the time
// onRelease fires the tixel (if any) is already committed.
func (p *Pipeline) Prepare(ctx context.Context, strand *types.Strand, slot scheduler.Slot) Outcome {
	if !p.lock.TryLock() {
		out := Outcome{Slot: slot, State: StateSkipped, Err: beaconerr.New(beaconerr.KindTransient, "pulse: pipeline shutting down")}
		p.feed.Send(out)
		return out
	}
	defer p.lock.Unlock()

	var t *types.Tixel
	var err error
	if p.stitchEntries != nil {
		t, err = p.assembler.AssembleWithStitches(ctx, strand, slot, p.stitchEntries())
	} else {
		t, err = p.assembler.Assemble(ctx, strand, slot)
	}
	out := Outcome{Slot: slot}
	if err != nil {
		out.State = StateSkipped
		out.Err = err
		p.log.Warn("pulse skipped", "index", slot.Index, "err", err)
		p.feed.Send(out)
		return out
	}

	out.State = StateReady
	out.Tixel = t
	if p.onCommit != nil {
		p.onCommit(t.Index, t.CID)
	}
	p.log.Info("pulse ready", "index", t.Index, "cid", t.CID)
	p.feed.Send(out)
	return out
}

// Release transitions a READY outcome to DONE, marking the slot as
// externally observable (spec.md §3's "bytes known strictly before any
// external party can observe it" ordering is preserved since Prepare
// already committed before Release is ever called).
func (p *Pipeline) Release(outcome Outcome) Outcome {
	if outcome.State == StateReady {
		outcome.State = StateDone
	}
	p.feed.Send(outcome)
	return outcome
}

// Shutdown closes the pipeline's lock so any Prepare call still in flight
// (there can be at most one) finishes, but no new one can start.
func (p *Pipeline) Shutdown() {
	p.lock.Close()
}
