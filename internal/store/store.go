// Package store implements the Chain Store (spec.md §4.3): the sole
// component that writes persisted tixel rows, enforcing the chain
// invariants of spec.md §3 at write time.
package store

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/twine-protocol/beacon-in-a-box/internal/beacon/types"
	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
	"github.com/twine-protocol/beacon-in-a-box/internal/canon"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// ChainStore is the authoritative persisted view of one strand and its
// tixels. All writes go through Append, which runs in one ordinary
// database transaction; it takes no row lock and no immediate transaction.
// With SQLite, Open limits the pool to one connection, which serializes
// writers within this process.
type ChainStore struct {
	db  *sql.DB
	log log.Logger
}

// Open connects to the database described by cfg and ensures the schema
// exists.
func Open(cfg *Config, logger log.Logger) (*ChainStore, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.DataSourceName())
	if err != nil {
		return nil, beaconerr.Wrap(fmt.Errorf("store: open db: %w", err), beaconerr.KindConfig)
	}
	if cfg.DriverName() == "sqlite3" {
		db.SetMaxOpenConns(1) // sqlite3 serializes writers anyway; avoid lock contention noise
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, beaconerr.Wrap(fmt.Errorf("store: apply schema: %w", err), beaconerr.KindConfig)
	}
	return &ChainStore{db: db, log: logger}, nil
}

// Close releases the underlying database handle.
func (s *ChainStore) Close() error {
	return s.db.Close()
}

// LoadStrand returns the singleton strand row, or ok=false if none exists
// yet.
func (s *ChainStore) LoadStrand(ctx context.Context) (*types.Strand, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, public_key, scheme, period_seconds, details_json, genesis_ts FROM strand LIMIT 1`)
	var (
		id, scheme, detailsJSON string
		pubKey                  []byte
		periodSec, genesisTS    int64
	)
	if err := row.Scan(&id, &pubKey, &scheme, &periodSec, &detailsJSON, &genesisTS); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, beaconerr.Wrap(fmt.Errorf("store: load strand: %w", err), beaconerr.KindTransient)
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(detailsJSON), &details); err != nil {
		return nil, false, beaconerr.Wrap(fmt.Errorf("store: decode strand details: %w", err), beaconerr.KindChainViolation)
	}
	strand := &types.Strand{
		StrandID:        types.CID(id),
		PublicKey:       pubKey,
		SignatureScheme: scheme,
		PulsePeriod:     time.Duration(periodSec) * time.Second,
		Details:         details,
		GenesisTime:     time.Unix(genesisTS, 0).UTC(),
	}
	return strand, true, nil
}

// CreateStrand inserts the genesis strand row. It fails with KindConflict
// if a strand already exists.
func (s *ChainStore) CreateStrand(ctx context.Context, strand *types.Strand) error {
	_, exists, err := s.LoadStrand(ctx)
	if err != nil {
		return err
	}
	if exists {
		return beaconerr.New(beaconerr.KindConflict, "store: a strand already exists")
	}
	detailsJSON, err := json.Marshal(strand.Details)
	if err != nil {
		return beaconerr.Wrap(fmt.Errorf("store: encode strand details: %w", err), beaconerr.KindConfig)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO strand (id, public_key, scheme, period_seconds, details_json, genesis_ts) VALUES (?, ?, ?, ?, ?, ?)`,
		string(strand.StrandID), strand.PublicKey, strand.SignatureScheme,
		int64(strand.PulsePeriod/time.Second), string(detailsJSON), strand.GenesisTime.UTC().Unix(),
	)
	if err != nil {
		return beaconerr.Wrap(fmt.Errorf("store: insert strand: %w", err), beaconerr.KindTransient)
	}
	return nil
}

// Tip returns the highest committed (index, cid) for strandID, or
// ok=false if the strand has no tixels yet.
func (s *ChainStore) Tip(ctx context.Context, strandID types.CID) (index uint64, cid types.CID, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT idx, cid FROM tixel WHERE strand_id = ? ORDER BY idx DESC LIMIT 1`, string(strandID))
	var cidStr string
	if scanErr := row.Scan(&index, &cidStr); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, "", false, nil
		}
		return 0, "", false, beaconerr.Wrap(fmt.Errorf("store: tip query: %w", scanErr), beaconerr.KindTransient)
	}
	return index, types.CID(cidStr), true, nil
}

// Append validates and persists t, enforcing the invariants of spec.md §3
// against the current tip. The whole operation runs inside a single
// transaction opened with default options, not an immediate one; no lock
// is taken on the strand row, and a second writer of the same index is
// stopped by the tixel table's primary key.
func (s *ChainStore) Append(ctx context.Context, strand *types.Strand, t *types.Tixel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return beaconerr.Wrap(fmt.Errorf("store: begin tx: %w", err), beaconerr.KindTransient)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT idx, cid FROM tixel WHERE strand_id = ? ORDER BY idx DESC LIMIT 1`, string(t.StrandID))
	var prevIndex uint64
	var prevCIDStr string
	hasPrev := true
	if scanErr := row.Scan(&prevIndex, &prevCIDStr); scanErr != nil {
		if scanErr != sql.ErrNoRows {
			return beaconerr.Wrap(fmt.Errorf("store: tip query in append: %w", scanErr), beaconerr.KindTransient)
		}
		hasPrev = false
	}

	if err := validateAgainstTip(strand, t, hasPrev, prevIndex, types.CID(prevCIDStr)); err != nil {
		return err
	}
	if err := verifySignature(strand, t); err != nil {
		return err
	}

	payload, err := canon.EncodePayload(t)
	if err != nil {
		return beaconerr.Wrap(err, beaconerr.KindChainViolation)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tixel (strand_id, idx, cid, timestamp, payload_blob, signature_blob) VALUES (?, ?, ?, ?, ?, ?)`,
		string(t.StrandID), t.Index, string(t.CID), t.Timestamp.UTC().Unix(), payload, t.Signature,
	)
	if err != nil {
		// A PRIMARY KEY or UNIQUE violation here means we lost a race to a
		// concurrent writer targeting the same index.
		return beaconerr.Wrap(fmt.Errorf("store: insert tixel: %w", err), beaconerr.KindConflict)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return beaconerr.New(beaconerr.KindConflict, "store: tixel insert affected no rows")
	}
	if err := tx.Commit(); err != nil {
		return beaconerr.Wrap(fmt.Errorf("store: commit: %w", err), beaconerr.KindTransient)
	}
	s.log.Info("committed tixel", "strand", t.StrandID, "index", t.Index, "cid", t.CID)
	return nil
}

func validateAgainstTip(strand *types.Strand, t *types.Tixel, hasPrev bool, prevIndex uint64, prevCID types.CID) error {
	if hasPrev {
		if t.Index == prevIndex {
			return beaconerr.Newf(beaconerr.KindConflict, "store: index %d already committed", t.Index)
		}
		if t.Index != prevIndex+1 {
			return beaconerr.Newf(beaconerr.KindChainViolation, "store: index %d does not follow tip %d", t.Index, prevIndex)
		}
		if t.PreviousLink != prevCID {
			return beaconerr.Newf(beaconerr.KindChainViolation, "store: previous_link %q does not match tip cid %q", t.PreviousLink, prevCID)
		}
	} else {
		if t.Index != 0 {
			return beaconerr.Newf(beaconerr.KindChainViolation, "store: first tixel must have index 0, got %d", t.Index)
		}
		if !t.PreviousLink.IsZero() {
			return beaconerr.New(beaconerr.KindChainViolation, "store: genesis tixel must not have a previous_link")
		}
	}
	wantTS := strand.GenesisTime.Add(strand.PulsePeriod * time.Duration(t.Index))
	if !t.Timestamp.Equal(wantTS) {
		return beaconerr.Newf(beaconerr.KindChainViolation, "store: timestamp %v does not match expected slot %v", t.Timestamp, wantTS)
	}
	return nil
}

func verifySignature(strand *types.Strand, t *types.Tixel) error {
	pub, err := x509.ParsePKIXPublicKey(strand.PublicKey)
	if err != nil {
		return beaconerr.Wrap(fmt.Errorf("store: parse strand public key: %w", err), beaconerr.KindChainViolation)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return beaconerr.New(beaconerr.KindChainViolation, "store: strand public key is not RSA")
	}
	if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, t.PayloadHash[:], t.Signature); err != nil {
		return beaconerr.Wrap(fmt.Errorf("store: signature verification failed: %w", err), beaconerr.KindChainViolation)
	}
	return nil
}

// Get returns the tixel at index, reconstructed from its stored canonical
// payload and signature.
func (s *ChainStore) Get(ctx context.Context, strandID types.CID, index uint64) (*types.Tixel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cid, payload_blob, signature_blob FROM tixel WHERE strand_id = ? AND idx = ?`, string(strandID), index)
	return scanTixel(row)
}

// GetByCID returns the tixel with the given content address.
func (s *ChainStore) GetByCID(ctx context.Context, strandID types.CID, cid types.CID) (*types.Tixel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cid, payload_blob, signature_blob FROM tixel WHERE strand_id = ? AND cid = ?`, string(strandID), string(cid))
	return scanTixel(row)
}

func scanTixel(row *sql.Row) (*types.Tixel, error) {
	var cidStr string
	var payload, sig []byte
	if err := row.Scan(&cidStr, &payload, &sig); err != nil {
		if err == sql.ErrNoRows {
			return nil, beaconerr.New(beaconerr.KindConflict, "store: no such tixel")
		}
		return nil, beaconerr.Wrap(fmt.Errorf("store: scan tixel: %w", err), beaconerr.KindTransient)
	}
	t, err := canon.Decode(payload)
	if err != nil {
		return nil, beaconerr.Wrap(fmt.Errorf("store: decode stored payload: %w", err), beaconerr.KindChainViolation)
	}
	t.Signature = sig
	t.CID = types.CID(cidStr)
	t.PayloadHash = sha256.Sum256(payload)
	return t, nil
}
