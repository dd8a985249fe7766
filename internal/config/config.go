// Package config loads the beacon's runtime configuration, per spec.md
// §6: a flat set of environment variables, optionally defaulted from a
// TOML file (SPEC_FULL.md §6C) named by BEACON_CONFIG_PATH. Env vars
// always win over file values, so an operator can override a single
// setting without editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
)

// Config holds every setting spec.md §6 enumerates, plus the aux
// randomness source and notification socket SPEC_FULL.md adds.
type Config struct {
	LeadTimeSeconds int    `toml:"lead_time_seconds"`
	PulsePeriod     int    `toml:"pulse_period_seconds"`
	PrivateKeyPath  string `toml:"private_key_path"`

	HsmAddress      string `toml:"hsm_address"`
	HsmAuthKeyID    string `toml:"hsm_auth_key_id"`
	HsmPassword     string `toml:"hsm_password"`
	HsmSigningKeyID string `toml:"hsm_signing_key_id"`

	RngScript      string `toml:"rng_script"`
	AuxRngScript   string `toml:"aux_rng_script"`
	RngStoragePath string `toml:"rng_storage_path"`

	StrandConfigPath string `toml:"strand_config_path"`
	StrandJSONPath   string `toml:"strand_json_path"`
	StitchConfigPath string `toml:"stitch_config_path"`

	DBAdapter  string `toml:"db_adapter"`
	DBDatabase string `toml:"db_database"`
	DBHost     string `toml:"db_host"`
	DBPort     int    `toml:"db_port"`
	DBUsername string `toml:"db_username"`
	DBPassword string `toml:"db_password"`

	NotifySocketPath string `toml:"notify_socket_path"`
	MetricsAddr      string `toml:"metrics_addr"`

	LogLevel string `toml:"log_level"`
}

// UsesHSM reports whether the Hsm signer variant should be selected
// (presence of HSM parameters selects Hsm, per spec.md §4.5).
func (c *Config) UsesHSM() bool {
	return c.HsmAddress != ""
}

// Lead returns LeadTimeSeconds as a Duration.
func (c *Config) Lead() time.Duration {
	return time.Duration(c.LeadTimeSeconds) * time.Second
}

// Period returns PulsePeriod as a Duration.
func (c *Config) Period() time.Duration {
	return time.Duration(c.PulsePeriod) * time.Second
}

// Load reads defaults from a TOML file at BEACON_CONFIG_PATH (if set and
// present), then overrides every field with the corresponding environment
// variable when present. A missing config file is not an error; a
// malformed one is, since a config error is always fatal at startup
// (spec.md §7).
func Load() (*Config, error) {
	cfg := &Config{
		LeadTimeSeconds: 5,
		PulsePeriod:     60,
		DBAdapter:       "sqlite3",
		LogLevel:        "info",
	}

	if path := os.Getenv("BEACON_CONFIG_PATH"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, beaconerr.Wrap(fmt.Errorf("config: decode %s: %w", path, err), beaconerr.KindConfig)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("LEAD_TIME_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LeadTimeSeconds = n
		}
	}
	if v, ok := os.LookupEnv("PULSE_PERIOD_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PulsePeriod = n
		}
	}
	setStr(&cfg.PrivateKeyPath, "PRIVATE_KEY_PATH")
	setStr(&cfg.HsmAddress, "HSM_ADDRESS")
	setStr(&cfg.HsmAuthKeyID, "HSM_AUTH_KEY_ID")
	setStr(&cfg.HsmPassword, "HSM_PASSWORD")
	setStr(&cfg.HsmSigningKeyID, "HSM_SIGNING_KEY_ID")
	setStr(&cfg.RngScript, "RNG_SCRIPT")
	setStr(&cfg.AuxRngScript, "AUX_RNG_SCRIPT")
	setStr(&cfg.RngStoragePath, "RNG_STORAGE_PATH")
	setStr(&cfg.StrandConfigPath, "STRAND_CONFIG_PATH")
	setStr(&cfg.StrandJSONPath, "STRAND_JSON_PATH")
	setStr(&cfg.StitchConfigPath, "STITCH_CONFIG_PATH")
	setStr(&cfg.DBAdapter, "DB_ADAPTER")
	setStr(&cfg.DBDatabase, "DB_DATABASE")
	setStr(&cfg.DBHost, "DB_HOST")
	setStr(&cfg.DBUsername, "DB_USERNAME")
	setStr(&cfg.DBPassword, "DB_PASSWORD")
	setStr(&cfg.NotifySocketPath, "NOTIFY_SOCKET_PATH")
	setStr(&cfg.MetricsAddr, "METRICS_ADDR")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	if v, ok := os.LookupEnv("DB_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DBPort = n
		}
	}
}

func setStr(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func validate(cfg *Config) error {
	if cfg.LeadTimeSeconds < 1 {
		return beaconerr.New(beaconerr.KindConfig, "config: LEAD_TIME_SECONDS must be >= 1")
	}
	if cfg.PrivateKeyPath != "" && cfg.UsesHSM() {
		return beaconerr.New(beaconerr.KindConfig, "config: PRIVATE_KEY_PATH and HSM_* are mutually exclusive")
	}
	if cfg.PrivateKeyPath == "" && !cfg.UsesHSM() {
		return beaconerr.New(beaconerr.KindConfig, "config: one of PRIVATE_KEY_PATH or HSM_ADDRESS must be set")
	}
	if cfg.RngScript == "" {
		return beaconerr.New(beaconerr.KindConfig, "config: RNG_SCRIPT is required")
	}
	if cfg.AuxRngScript == "" {
		return beaconerr.New(beaconerr.KindConfig, "config: AUX_RNG_SCRIPT is required (spec mandates >= 2 independent randomness sources)")
	}
	if cfg.RngStoragePath == "" {
		return beaconerr.New(beaconerr.KindConfig, "config: RNG_STORAGE_PATH is required")
	}
	if cfg.StrandConfigPath == "" {
		return beaconerr.New(beaconerr.KindConfig, "config: STRAND_CONFIG_PATH is required")
	}
	return nil
}
