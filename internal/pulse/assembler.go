// Package pulse implements the Pulse Assembler (spec.md §4.6): binding a
// slot's index, timestamp, mixed randomness, previous link and stitches
// into the canonical payload, invoking the signer, and handing the
// completed tixel to the Chain Store. It also implements the per-slot
// state machine and the single-writer Pipeline worker that owns it
// (spec.md §4.6/§5/§9).
package pulse

import (
	"context"
	"sync"
	"time"

	"github.com/twine-protocol/beacon-in-a-box/common/backoff"
	"github.com/twine-protocol/beacon-in-a-box/internal/beacon/types"
	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
	"github.com/twine-protocol/beacon-in-a-box/internal/canon"
	"github.com/twine-protocol/beacon-in-a-box/internal/randomness"
	"github.com/twine-protocol/beacon-in-a-box/internal/scheduler"
	"github.com/twine-protocol/beacon-in-a-box/internal/signer"
	"github.com/twine-protocol/beacon-in-a-box/internal/stitch"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// Committer is the subset of *store.ChainStore the assembler depends on,
// kept as an interface so tests can substitute a fake without a real
// database.
type Committer interface {
	Tip(ctx context.Context, strandID types.CID) (index uint64, cid types.CID, ok bool, err error)
	Append(ctx context.Context, strand *types.Strand, t *types.Tixel) error
}

// Source pairs a randomness buffer with the collector that refills it on a
// stale read, so the assembler can treat "take, refill-on-miss" as one
// operation per configured source (spec.md §4.2).
type Source struct {
	Buffer    *randomness.Buffer
	Collector *randomness.Collector
}

func (s *Source) take(ctx context.Context, refillTimeout time.Duration) ([64]byte, error) {
	return randomness.Take(ctx, s.Buffer, s.Collector, refillTimeout)
}

// Config bounds the timeouts the assembler derives from the lead time.
type Config struct {
	// RandomnessRefillTimeout bounds the synchronous collector retry when
	// a buffer read misses.
	RandomnessRefillTimeout time.Duration
	// StitchTimeout bounds each individual stitch resolver fetch; must be
	// strictly less than half the lead time (spec.md §4.4).
	StitchTimeout time.Duration
	// CommitRetryCap bounds exponential backoff between Append retries on
	// transient Chain Store failures; must be shorter than the lead time
	// (spec.md §4.3).
	CommitRetryCap time.Duration
	// CommitMaxAttempts caps the number of Append attempts (0 = unlimited,
	// bounded instead by the ctx deadline).
	CommitMaxAttempts int
}

// Assembler gathers a slot's inputs, signs the resulting canonical
// payload, and commits the tixel.
type Assembler struct {
	cfg     Config
	store   Committer
	signer  signer.Signer
	stitch  *stitch.Fetcher
	primary *Source
	aux     []*Source
	log     log.Logger
}

// NewAssembler constructs an Assembler. aux must contain at least one
// source beyond primary, per spec.md §4.2's ≥2-source mixing requirement.
func NewAssembler(cfg Config, store Committer, sg signer.Signer, fetcher *stitch.Fetcher, primary *Source, aux []*Source, logger log.Logger) *Assembler {
	return &Assembler{cfg: cfg, store: store, signer: sg, stitch: fetcher, primary: primary, aux: aux, log: logger}
}

type gatherResult struct {
	tipIndex   uint64
	tipCID     types.CID
	hasTip     bool
	stitches   []types.Stitch
	randomness [64]byte
	gatherErr  error
}

// gather fetches the previous tip, active stitches, and mixed randomness
// concurrently, per spec.md §4.6's "requests {prev tip, stitches,
// randomness} in parallel".
func (a *Assembler) gather(ctx context.Context, strandID types.CID, stitchEntries []stitch.Entry) gatherResult {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		res    gatherResult
	)
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if res.gatherErr == nil {
			res.gatherErr = err
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		idx, cid, ok, err := a.store.Tip(ctx, strandID)
		if err != nil {
			setErr(err)
			return
		}
		mu.Lock()
		res.tipIndex, res.tipCID, res.hasTip = idx, cid, ok
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		stitches := a.stitch.Fetch(ctx, stitchEntries, a.cfg.StitchTimeout)
		mu.Lock()
		res.stitches = stitches
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		primary, err := a.primary.take(ctx, a.cfg.RandomnessRefillTimeout)
		if err != nil {
			setErr(err)
			return
		}
		auxBlobs := make([][64]byte, 0, len(a.aux))
		for _, src := range a.aux {
			blob, err := src.take(ctx, a.cfg.RandomnessRefillTimeout)
			if err != nil {
				setErr(err)
				return
			}
			auxBlobs = append(auxBlobs, blob)
		}
		mixed, err := randomness.Mix(primary, auxBlobs...)
		if err != nil {
			setErr(beaconerr.Wrap(err, beaconerr.KindRandomnessFailure))
			return
		}
		mu.Lock()
		res.randomness = mixed
		mu.Unlock()
	}()

	wg.Wait()
	return res
}

// Assemble builds, signs and commits the tixel for slot, or returns a
// classified error describing why the slot should be skipped or treated
// as fatal (see beaconerr.IsFatal/IsSkip).
func (a *Assembler) Assemble(ctx context.Context, strand *types.Strand, slot scheduler.Slot) (*types.Tixel, error) {
	g := a.gather(ctx, strand.StrandID, nil)
	if g.gatherErr != nil {
		return nil, g.gatherErr
	}
	return a.assembleWithInputs(ctx, strand, slot, g)
}

// AssembleWithStitches is like Assemble but takes the active stitch
// entries explicitly, letting the Pipeline re-read the stitch watcher's
// snapshot once per cycle rather than per gather call.
func (a *Assembler) AssembleWithStitches(ctx context.Context, strand *types.Strand, slot scheduler.Slot, entries []stitch.Entry) (*types.Tixel, error) {
	g := a.gather(ctx, strand.StrandID, entries)
	if g.gatherErr != nil {
		return nil, g.gatherErr
	}
	return a.assembleWithInputs(ctx, strand, slot, g)
}

func (a *Assembler) assembleWithInputs(ctx context.Context, strand *types.Strand, slot scheduler.Slot, g gatherResult) (*types.Tixel, error) {
	t := &types.Tixel{
		StrandID:   strand.StrandID,
		Index:      slot.Index,
		Timestamp:  slot.Time,
		Randomness: g.randomness,
		Stitches:   g.stitches,
	}
	if g.hasTip {
		t.PreviousLink = g.tipCID
	} else if slot.Index != 0 {
		return nil, beaconerr.Newf(beaconerr.KindChainViolation, "pulse: slot %d has no tip but is not genesis", slot.Index)
	}

	hash, err := canon.PayloadHash(t)
	if err != nil {
		return nil, beaconerr.Wrap(err, beaconerr.KindChainViolation)
	}
	t.PayloadHash = hash

	sig, err := a.signer.Sign(ctx, hash)
	if err != nil {
		return nil, err
	}
	t.Signature = sig

	cid, err := canon.ComputeCID(t)
	if err != nil {
		return nil, beaconerr.Wrap(err, beaconerr.KindChainViolation)
	}
	t.CID = cid

	if err := a.commit(ctx, strand, t); err != nil {
		return nil, err
	}
	return t, nil
}

// commit retries Append on transient failures with exponential backoff
// capped well inside the lead-time budget; chain violations and conflicts
// are returned immediately since retrying them can never succeed.
func (a *Assembler) commit(ctx context.Context, strand *types.Strand, t *types.Tixel) error {
	b := backoff.NewExponential(10*time.Millisecond, a.cfg.CommitRetryCap, 5*time.Millisecond)
	attempt := 0
	for {
		attempt++
		err := a.store.Append(ctx, strand, t)
		if err == nil {
			return nil
		}
		if !beaconerr.Is(err, beaconerr.KindTransient) {
			return err
		}
		if a.cfg.CommitMaxAttempts > 0 && attempt >= a.cfg.CommitMaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return beaconerr.Wrap(ctx.Err(), beaconerr.KindTransient)
		case <-time.After(b.NextDuration()):
		}
	}
}
