package store

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twine-protocol/beacon-in-a-box/internal/beacon/types"
	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
	"github.com/twine-protocol/beacon-in-a-box/internal/canon"
	"github.com/twine-protocol/beacon-in-a-box/internal/testlog"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

func testLogger(t testing.TB) log.Logger {
	return testlog.Logger(t, log.LevelCrit)
}

type testKey struct {
	priv   *rsa.PrivateKey
	pubDER []byte
}

func mustTestKey(t *testing.T) *testKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return &testKey{priv: priv, pubDER: der}
}

func (k *testKey) sign(t *testing.T, hash [32]byte) []byte {
	t.Helper()
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.priv, crypto.SHA256, hash[:])
	require.NoError(t, err)
	return sig
}

func openTestStore(t *testing.T) (*ChainStore, *testKey) {
	t.Helper()
	key := mustTestKey(t)
	cfg := &Config{Adapter: "sqlite3", Database: filepath.Join(t.TempDir(), "test.db")}
	st, err := Open(cfg, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, key
}

func buildTixel(strandID types.CID, index uint64, genesis time.Time, period time.Duration, prev types.CID) *types.Tixel {
	tx := &types.Tixel{
		StrandID:     strandID,
		Index:        index,
		Timestamp:    genesis.Add(period * time.Duration(index)),
		PreviousLink: prev,
	}
	for i := range tx.Randomness {
		tx.Randomness[i] = byte(index + uint64(i))
	}
	return tx
}

func signAndSeal(t *testing.T, key *testKey, strand *types.Strand, tx *types.Tixel) {
	t.Helper()
	hash, err := canon.PayloadHash(tx)
	require.NoError(t, err)
	tx.PayloadHash = hash
	tx.Signature = key.sign(t, hash)
	cid, err := canon.ComputeCID(tx)
	require.NoError(t, err)
	tx.CID = cid
}

func TestCreateStrandAndGenesisAppend(t *testing.T) {
	st, key := openTestStore(t)
	ctx := context.Background()

	genesis := time.Unix(60, 0).UTC()
	strandID := types.NewCID(sha256.Sum256([]byte("genesis-strand")))
	strand := &types.Strand{
		StrandID:        strandID,
		PublicKey:       key.pubDER,
		SignatureScheme: "RSASSA-PKCS1-v1_5-SHA256",
		PulsePeriod:     60 * time.Second,
		Details:         map[string]any{"name": "ACME"},
		GenesisTime:     genesis,
	}
	require.NoError(t, st.CreateStrand(ctx, strand))

	// Duplicate create must fail.
	err := st.CreateStrand(ctx, strand)
	require.Error(t, err)
	require.True(t, beaconerr.Is(err, beaconerr.KindConflict))

	loaded, ok, err := st.LoadStrand(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, strand.StrandID, loaded.StrandID)

	_, _, ok, err = st.Tip(ctx, strandID)
	require.NoError(t, err)
	require.False(t, ok, "no tixels yet")

	tx0 := buildTixel(strandID, 0, genesis, strand.PulsePeriod, "")
	tx0.StrandID = strandID
	signAndSeal(t, key, strand, tx0)
	require.NoError(t, st.Append(ctx, strand, tx0))

	index, cid, ok, err := st.Tip(ctx, strandID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), index)
	require.Equal(t, tx0.CID, cid)
}

func TestAppendSequenceAndChainValidation(t *testing.T) {
	st, key := openTestStore(t)
	ctx := context.Background()
	genesis := time.Unix(60, 0).UTC()
	strandID := types.NewCID(sha256.Sum256([]byte("seq-strand")))
	strand := &types.Strand{
		StrandID: strandID, PublicKey: key.pubDER, SignatureScheme: "RSASSA-PKCS1-v1_5-SHA256",
		PulsePeriod: 60 * time.Second, Details: map[string]any{}, GenesisTime: genesis,
	}
	require.NoError(t, st.CreateStrand(ctx, strand))

	tx0 := buildTixel(strandID, 0, genesis, strand.PulsePeriod, "")
	signAndSeal(t, key, strand, tx0)
	require.NoError(t, st.Append(ctx, strand, tx0))

	tx1 := buildTixel(strandID, 1, genesis, strand.PulsePeriod, tx0.CID)
	signAndSeal(t, key, strand, tx1)
	require.NoError(t, st.Append(ctx, strand, tx1))

	got, err := st.Get(ctx, strandID, 1)
	require.NoError(t, err)
	require.Equal(t, tx1.CID, got.CID)
	require.Equal(t, tx0.CID, got.PreviousLink)

	byCID, err := st.GetByCID(ctx, strandID, tx1.CID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), byCID.Index)

	// Wrong previous link -> chain violation.
	bad := buildTixel(strandID, 2, genesis, strand.PulsePeriod, tx0.CID) // should point to tx1, not tx0
	signAndSeal(t, key, strand, bad)
	err = st.Append(ctx, strand, bad)
	require.Error(t, err)
	require.True(t, beaconerr.Is(err, beaconerr.KindChainViolation))

	// Duplicate index -> conflict.
	dup := buildTixel(strandID, 1, genesis, strand.PulsePeriod, tx0.CID)
	signAndSeal(t, key, strand, dup)
	err = st.Append(ctx, strand, dup)
	require.Error(t, err)
	require.True(t, beaconerr.Is(err, beaconerr.KindConflict))
}

func TestAppendRejectsBadSignature(t *testing.T) {
	st, key := openTestStore(t)
	ctx := context.Background()
	genesis := time.Unix(0, 0).UTC()
	strandID := types.NewCID(sha256.Sum256([]byte("badsig-strand")))
	strand := &types.Strand{
		StrandID: strandID, PublicKey: key.pubDER, SignatureScheme: "RSASSA-PKCS1-v1_5-SHA256",
		PulsePeriod: 60 * time.Second, Details: map[string]any{}, GenesisTime: genesis,
	}
	require.NoError(t, st.CreateStrand(ctx, strand))

	tx0 := buildTixel(strandID, 0, genesis, strand.PulsePeriod, "")
	hash, err := canon.PayloadHash(tx0)
	require.NoError(t, err)
	tx0.PayloadHash = hash
	tx0.Signature = []byte("not-a-real-signature-but-long-enough-bytes-here")
	cid, err := canon.ComputeCID(tx0)
	require.NoError(t, err)
	tx0.CID = cid

	err = st.Append(ctx, strand, tx0)
	require.Error(t, err)
	require.True(t, beaconerr.Is(err, beaconerr.KindChainViolation))
}
