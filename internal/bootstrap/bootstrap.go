// Package bootstrap implements the Strand Bootstrapper (spec.md §4.7):
// one-shot startup logic that creates the genesis tixel on an empty Chain
// Store, or verifies an existing strand's public key still matches the
// running signer.
package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/twine-protocol/beacon-in-a-box/internal/beacon/types"
	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
	"github.com/twine-protocol/beacon-in-a-box/internal/canon"
	"github.com/twine-protocol/beacon-in-a-box/internal/randomness"
	"github.com/twine-protocol/beacon-in-a-box/internal/scheduler"
	"github.com/twine-protocol/beacon-in-a-box/internal/signer"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// Store is the subset of *store.ChainStore the bootstrapper needs.
type Store interface {
	LoadStrand(ctx context.Context) (*types.Strand, bool, error)
	CreateStrand(ctx context.Context, strand *types.Strand) error
	Append(ctx context.Context, strand *types.Strand, t *types.Tixel) error
}

// strandConfigFile mirrors the on-disk JSON shape from spec.md §6.
type strandConfigFile struct {
	Details map[string]any `json:"details"`
}

// LoadStrandConfig reads the strand metadata file read once at bootstrap.
func LoadStrandConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, beaconerr.Wrap(fmt.Errorf("bootstrap: read strand config: %w", err), beaconerr.KindConfig)
	}
	var f strandConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, beaconerr.Wrap(fmt.Errorf("bootstrap: parse strand config: %w", err), beaconerr.KindConfig)
	}
	return f.Details, nil
}

// RandomnessSource pairs a buffer with its collector, used only for
// gathering the genesis tixel's randomness.
type RandomnessSource struct {
	Buffer    *randomness.Buffer
	Collector *randomness.Collector
}

// Bootstrapper owns the startup strand-creation/verification step.
type Bootstrapper struct {
	store   Store
	signer  signer.Signer
	period  time.Duration
	lead    time.Duration
	primary RandomnessSource
	aux     []RandomnessSource
	log     log.Logger
}

// New returns a Bootstrapper. aux must contain at least one entry beyond
// primary (spec.md §4.2's ≥2-source mixing requirement applies to the
// genesis tixel too).
func New(st Store, sg signer.Signer, period, lead time.Duration, primary RandomnessSource, aux []RandomnessSource, logger log.Logger) *Bootstrapper {
	return &Bootstrapper{store: st, signer: sg, period: period, lead: lead, primary: primary, aux: aux, log: logger}
}

// Ensure runs the bootstrapper: if no strand exists, it creates one and
// commits the genesis tixel, exporting strandJSONPath. If a strand
// already exists, it verifies the stored public key matches the running
// signer's — a mismatch is fatal per spec.md §4.7. Returns the
// (possibly newly created) strand.
func (b *Bootstrapper) Ensure(ctx context.Context, strandConfigPath, strandJSONPath string) (*types.Strand, error) {
	existing, ok, err := b.store.LoadStrand(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		if !bytesEqual(existing.PublicKey, b.signer.PublicKeyDER()) {
			return nil, beaconerr.New(beaconerr.KindConfig, "bootstrap: stored strand public key does not match the running signer's key")
		}
		return existing, nil
	}
	return b.createGenesis(ctx, strandConfigPath, strandJSONPath)
}

func (b *Bootstrapper) createGenesis(ctx context.Context, strandConfigPath, strandJSONPath string) (*types.Strand, error) {
	details, err := LoadStrandConfig(strandConfigPath)
	if err != nil {
		return nil, err
	}

	// Align to the Unix epoch so slot boundaries land on round multiples
	// of the period (e.g. the top of each minute), per spec.md §1.
	now := time.Now().UTC()
	epoch := time.Unix(0, 0).UTC()
	genesisTime := scheduler.AlignSlot(epoch, b.period, b.lead, now).Time

	pubDER := b.signer.PublicKeyDER()
	strandID := types.NewCID(sha256.Sum256(pubDER))
	strand := &types.Strand{
		StrandID:        strandID,
		PublicKey:       pubDER,
		SignatureScheme: "RSASSA-PKCS1-v1_5-SHA256",
		PulsePeriod:     b.period,
		Details:         details,
		GenesisTime:     genesisTime,
	}

	primary, err := randomness.Take(ctx, b.primary.Buffer, b.primary.Collector, b.lead)
	if err != nil {
		return nil, err
	}
	auxBlobs := make([][64]byte, 0, len(b.aux))
	for _, src := range b.aux {
		blob, err := randomness.Take(ctx, src.Buffer, src.Collector, b.lead)
		if err != nil {
			return nil, err
		}
		auxBlobs = append(auxBlobs, blob)
	}
	mixed, err := randomness.Mix(primary, auxBlobs...)
	if err != nil {
		return nil, beaconerr.Wrap(err, beaconerr.KindRandomnessFailure)
	}

	genesis := &types.Tixel{
		StrandID:   strandID,
		Index:      0,
		Timestamp:  genesisTime,
		Randomness: mixed,
	}
	hash, err := canon.PayloadHash(genesis)
	if err != nil {
		return nil, beaconerr.Wrap(err, beaconerr.KindChainViolation)
	}
	genesis.PayloadHash = hash

	sig, err := b.signer.Sign(ctx, hash)
	if err != nil {
		return nil, err
	}
	genesis.Signature = sig

	cid, err := canon.ComputeCID(genesis)
	if err != nil {
		return nil, beaconerr.Wrap(err, beaconerr.KindChainViolation)
	}
	genesis.CID = cid

	if err := b.store.CreateStrand(ctx, strand); err != nil {
		return nil, err
	}
	if err := b.store.Append(ctx, strand, genesis); err != nil {
		return nil, err
	}
	if err := exportStrandJSON(strandJSONPath, strand, genesis); err != nil {
		return nil, err
	}
	b.log.Info("genesis tixel created", "strand", strandID, "cid", genesis.CID)
	return strand, nil
}

// strandExport is the canonical, distributable serialization of the
// genesis record (spec.md §6's "strand export file").
type strandExport struct {
	StrandID        string         `json:"strand_id"`
	PublicKey       string         `json:"public_key_der_hex"`
	SignatureScheme string         `json:"signature_scheme"`
	PulsePeriod     int64          `json:"pulse_period_seconds"`
	Details         map[string]any `json:"details"`
	GenesisTime     int64          `json:"genesis_timestamp"`
	GenesisCID      string         `json:"genesis_cid"`
}

func exportStrandJSON(path string, strand *types.Strand, genesis *types.Tixel) error {
	export := strandExport{
		StrandID:        string(strand.StrandID),
		PublicKey:       fmt.Sprintf("%x", strand.PublicKey),
		SignatureScheme: strand.SignatureScheme,
		PulsePeriod:     int64(strand.PulsePeriod / time.Second),
		Details:         strand.Details,
		GenesisTime:     strand.GenesisTime.Unix(),
		GenesisCID:      string(genesis.CID),
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return beaconerr.Wrap(fmt.Errorf("bootstrap: encode strand export: %w", err), beaconerr.KindConfig)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return beaconerr.Wrap(fmt.Errorf("bootstrap: write strand export: %w", err), beaconerr.KindConfig)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
