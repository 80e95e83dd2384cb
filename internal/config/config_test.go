package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	os.Unsetenv("ENCLAVE_ID")
	os.Unsetenv("LISTEN_ADDRESS")
	os.Unsetenv("RPC_TIMEOUT_MS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnclaveID != "enclave-0" {
		t.Fatalf("got EnclaveID %q, want default", cfg.EnclaveID)
	}
	if cfg.RPCTimeout != 30*time.Second {
		t.Fatalf("got RPCTimeout %v, want 30s default", cfg.RPCTimeout)
	}
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("ENCLAVE_ID", "enclave-7")
	t.Setenv("RPC_TIMEOUT_MS", "5000")
	t.Setenv("DATABASE_REQUIRED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnclaveID != "enclave-7" {
		t.Fatalf("got EnclaveID %q, want enclave-7", cfg.EnclaveID)
	}
	if cfg.RPCTimeout != 5*time.Second {
		t.Fatalf("got RPCTimeout %v, want 5s", cfg.RPCTimeout)
	}
	if !cfg.DatabaseRequired {
		t.Fatal("expected DatabaseRequired true")
	}
}

func TestLoadChainsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/chains.yaml"
	contents := `
chains:
  - name: EVM:1
    platform: evm
    chain_id: "1"
    rpc_endpoint: "https://mainnet.example"
    canon_to_tip_length: 6
    safe_addresses:
      router: "0x1111111111111111111111111111111111111111"
      vault: "0x2222222222222222222222222222222222222222"
      safe: "0x3333333333333333333333333333333333333333"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CHAINS_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	chain, ok := cfg.ChainByName("EVM:1")
	if !ok {
		t.Fatal("expected EVM:1 chain to be loaded")
	}
	if chain.CanonToTipLength != 6 {
		t.Fatalf("got CanonToTipLength %d, want 6", chain.CanonToTipLength)
	}
}
