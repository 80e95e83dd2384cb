// Package config loads the enclave's runtime configuration: a flat
// struct of environment-derived scalars plus a yaml.v3 per-chain table,
// matching the teacher's pkg/config/config.go (os.Getenv/strconv with
// typed defaults) extended for the bridge's multi-chain shape.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, populated by Load.
type Config struct {
	// EnclaveID identifies this enclave instance in logs and RPC
	// responses.
	EnclaveID string

	// ListenAddress is the C11 RPC server bind address.
	ListenAddress string

	// MetricsAddress is the prometheus /metrics bind address.
	MetricsAddress string

	// RPCTimeout bounds every C11 method dispatch (spec.md §4.11,
	// default 30s).
	RPCTimeout time.Duration

	// DatabaseURL is the lib/pq DSN backing the Max-sensitivity
	// encrypted KV store. Empty disables it — callers fall back to the
	// cometbft-db backend for everything, which is only correct in
	// development.
	DatabaseURL string

	// DatabaseRequired mirrors the teacher's fail-fast-vs-degrade knob:
	// when true, a DatabaseURL connection failure is fatal.
	DatabaseRequired bool

	// DataEncryptionKey is the 32-byte chacha20poly1305 key (hex
	// encoded in the environment) used by the Max-sensitivity store.
	DataEncryptionKey string

	// KVDataDir is the cometbft-db data directory for the None/Min
	// sensitivity backend.
	KVDataDir string

	// StatusPublishingFrequency, UserOpCancellerFrequency and
	// ChallengeResponderFrequency are the default periodic-task
	// intervals, each individually adjustable at runtime via the
	// matching C11 RPC method.
	StatusPublishingFrequency   time.Duration
	UserOpCancellerFrequency    time.Duration
	ChallengeResponderFrequency time.Duration

	// Chains is the per-chain-side table, normally loaded from a YAML
	// file referenced by CHAINS_CONFIG_PATH.
	Chains []ChainConfig
}

// ChainConfig is one side's RPC endpoint, safe-address table and
// fork-absorption window, per spec.md §4.8.
type ChainConfig struct {
	Name             string        `yaml:"name"`
	Platform         string        `yaml:"platform"`
	ChainID          string        `yaml:"chain_id"`
	RPCEndpoint      string        `yaml:"rpc_endpoint"`
	CanonToTipLength uint64        `yaml:"canon_to_tip_length"`
	PrivateKeyPath   string        `yaml:"private_key_path"`
	SafeAddresses    SafeAddresses `yaml:"safe_addresses"`

	// PeerAddress identifies this side's own token-dictionary key on a
	// BTC or EOS platform (an EOS account name, or a fixed symbol like
	// "BTC"); unused for platform "evm", where chain id alone resolves
	// the pipeline.ChainAdapter.
	PeerAddress string `yaml:"peer_address"`
}

// SafeAddresses is the diversion table for a single chain side.
type SafeAddresses struct {
	Router string `yaml:"router"`
	Vault  string `yaml:"vault"`
	Safe   string `yaml:"safe"`
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Load reads the environment into a Config, applying the chains table
// from CHAINS_CONFIG_PATH if set.
func Load() (*Config, error) {
	cfg := &Config{
		EnclaveID:                   getenv("ENCLAVE_ID", "enclave-0"),
		ListenAddress:               getenv("LISTEN_ADDRESS", ":8080"),
		MetricsAddress:              getenv("METRICS_ADDRESS", ":9090"),
		RPCTimeout:                  getenvDuration("RPC_TIMEOUT_MS", 30*time.Second),
		DatabaseURL:                 getenv("DATABASE_URL", ""),
		DatabaseRequired:            getenvBool("DATABASE_REQUIRED", false),
		DataEncryptionKey:           getenv("DATA_ENCRYPTION_KEY", ""),
		KVDataDir:                   getenv("KV_DATA_DIR", "./data"),
		StatusPublishingFrequency:   getenvDuration("STATUS_PUBLISHING_FREQUENCY_MS", 10*time.Second),
		UserOpCancellerFrequency:    getenvDuration("USER_OP_CANCELLER_FREQUENCY_MS", 60*time.Second),
		ChallengeResponderFrequency: getenvDuration("CHALLENGE_RESPONDER_FREQUENCY_MS", 15*time.Second),
	}

	if path := os.Getenv("CHAINS_CONFIG_PATH"); path != "" {
		chains, err := loadChains(path)
		if err != nil {
			return nil, fmt.Errorf("config: load chains: %w", err)
		}
		cfg.Chains = chains
	}

	return cfg, nil
}

func loadChains(path string) ([]ChainConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Chains []ChainConfig `yaml:"chains"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return doc.Chains, nil
}

// ChainByName looks up a chain-side config by its Name field.
func (c *Config) ChainByName(name string) (ChainConfig, bool) {
	for _, chain := range c.Chains {
		if chain.Name == name {
			return chain, true
		}
	}
	return ChainConfig{}, false
}
