package supervisor

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/twine-protocol/beacon-in-a-box/internal/config"
	"github.com/twine-protocol/beacon-in-a-box/internal/testlog"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

func testLogger(t testing.TB) log.Logger {
	return testlog.Logger(t, log.LevelCrit)
}

// writeTestKey generates a 2048-bit RSA key and writes it to dir/key.pem
// as an unencrypted PKCS#8 PEM block, returning its path.
func writeTestKey(t *testing.T, dir string) string {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	path := filepath.Join(dir, "key.pem")
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

// writeStrandConfig writes a minimal strand metadata file.
func writeStrandConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "strand.json")
	data, err := json.Marshal(map[string]any{"details": map[string]any{"name": "test-strand"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		LeadTimeSeconds:  1,
		PulsePeriod:      60,
		PrivateKeyPath:   writeTestKey(t, dir),
		RngScript:        "head -c 64 /dev/zero",
		AuxRngScript:     "head -c 64 /dev/urandom",
		RngStoragePath:   filepath.Join(dir, "rng"),
		StrandConfigPath: writeStrandConfig(t, dir),
		StrandJSONPath:   filepath.Join(dir, "strand-export.json"),
		DBAdapter:        "sqlite3",
		DBDatabase:       ":memory:",
	}
}

func TestNewBootstrapsGenesisAndWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	reg := prometheus.NewRegistry()

	sup, err := New(cfg, testLogger(t), reg)
	require.NoError(t, err)
	require.NotNil(t, sup.strand)
	require.Equal(t, uint64(0), sup.strand.GenesisTime.Unix()%60)

	_, err = os.Stat(cfg.StrandJSONPath)
	require.NoError(t, err)

	require.NoError(t, sup.store.Close())
}

func TestNewIsIdempotentAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBDatabase = filepath.Join(t.TempDir(), "beacon.db")
	reg1 := prometheus.NewRegistry()

	sup1, err := New(cfg, testLogger(t), reg1)
	require.NoError(t, err)
	firstStrand := sup1.strand.StrandID
	require.NoError(t, sup1.store.Close())

	reg2 := prometheus.NewRegistry()
	sup2, err := New(cfg, testLogger(t), reg2)
	require.NoError(t, err)
	require.Equal(t, firstStrand, sup2.strand.StrandID)
	require.NoError(t, sup2.store.Close())
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	reg := prometheus.NewRegistry()

	sup, err := New(cfg, testLogger(t), reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}

func TestCheckTipReflectsRecordCommit(t *testing.T) {
	cfg := testConfig(t)
	reg := prometheus.NewRegistry()

	sup, err := New(cfg, testLogger(t), reg)
	require.NoError(t, err)
	defer sup.store.Close()

	_, ok := sup.checkTip()
	require.True(t, ok) // genesis tixel already committed by bootstrap

	sup.recordCommit(7, "tw1deadbeef")
	idx, ok := sup.checkTip()
	require.True(t, ok)
	require.Equal(t, uint64(7), idx)
}
