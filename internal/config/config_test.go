package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BEACON_CONFIG_PATH", "LEAD_TIME_SECONDS", "PULSE_PERIOD_SECONDS", "PRIVATE_KEY_PATH",
		"HSM_ADDRESS", "HSM_AUTH_KEY_ID", "HSM_PASSWORD", "HSM_SIGNING_KEY_ID",
		"RNG_SCRIPT", "AUX_RNG_SCRIPT", "RNG_STORAGE_PATH", "STRAND_CONFIG_PATH",
		"STRAND_JSON_PATH", "STITCH_CONFIG_PATH", "DB_ADAPTER", "DB_DATABASE",
		"DB_HOST", "DB_PORT", "DB_USERNAME", "DB_PASSWORD", "NOTIFY_SOCKET_PATH",
		"METRICS_ADDR", "LOG_LEVEL",
	} {
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRIVATE_KEY_PATH", "/tmp/key.pem")
	t.Setenv("RNG_SCRIPT", "rngd")
	t.Setenv("AUX_RNG_SCRIPT", "rngd-aux")
	t.Setenv("RNG_STORAGE_PATH", "/tmp/rng")
	t.Setenv("STRAND_CONFIG_PATH", "/tmp/strand.json")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/key.pem", cfg.PrivateKeyPath)
	require.False(t, cfg.UsesHSM())
	require.Equal(t, 5, cfg.LeadTimeSeconds)
}

func TestLoadRejectsBothSignerKinds(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRIVATE_KEY_PATH", "/tmp/key.pem")
	t.Setenv("HSM_ADDRESS", "localhost:9000")
	t.Setenv("RNG_SCRIPT", "rngd")
	t.Setenv("AUX_RNG_SCRIPT", "rngd-aux")
	t.Setenv("RNG_STORAGE_PATH", "/tmp/rng")
	t.Setenv("STRAND_CONFIG_PATH", "/tmp/strand.json")

	_, err := Load()
	require.Error(t, err)
	require.True(t, beaconerr.Is(err, beaconerr.KindConfig))
}

func TestLoadTOMLDefaultsOverriddenByEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "beacon.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
private_key_path = "/etc/beacon/key.pem"
rng_script = "rngd"
aux_rng_script = "rngd-aux"
rng_storage_path = "/var/lib/beacon/rng"
strand_config_path = "/etc/beacon/strand.json"
lead_time_seconds = 3
`), 0o644))

	t.Setenv("BEACON_CONFIG_PATH", path)
	t.Setenv("LEAD_TIME_SECONDS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/etc/beacon/key.pem", cfg.PrivateKeyPath)
	require.Equal(t, 7, cfg.LeadTimeSeconds) // env overrides file
}

func TestLoadRequiresSignerConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("RNG_SCRIPT", "rngd")
	t.Setenv("AUX_RNG_SCRIPT", "rngd-aux")
	t.Setenv("RNG_STORAGE_PATH", "/tmp/rng")
	t.Setenv("STRAND_CONFIG_PATH", "/tmp/strand.json")

	_, err := Load()
	require.Error(t, err)
	require.True(t, beaconerr.Is(err, beaconerr.KindConfig))
}
