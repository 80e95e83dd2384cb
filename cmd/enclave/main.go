// Command enclave runs the cross-bridge enclave: the RPC orchestrator
// (C11) fronting the KV store (C1), token dictionary (C4), debug
// signatory set (C10), user-op state machine (C9) and one chain
// pipeline (C8) per configured chain side.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	dbm "github.com/cometbft/cometbft-db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/proofcastlabs/bridge-enclave/internal/btcdeposit"
	"github.com/proofcastlabs/bridge-enclave/internal/config"
	"github.com/proofcastlabs/bridge-enclave/internal/kv"
	"github.com/proofcastlabs/bridge-enclave/internal/pipeline"
	"github.com/proofcastlabs/bridge-enclave/internal/rpcserver"
)

func main() {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the per-chain YAML config (overrides CHAINS_CONFIG_PATH)")
	flag.Parse()

	if configPath != "" {
		os.Setenv("CHAINS_CONFIG_PATH", configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("enclave: failed to load configuration")
	}

	store, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("enclave: failed to open kv store")
	}

	sides := make(map[string]*chainSide, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		privateKey, err := loadPrivateKey(chain.PrivateKeyPath)
		if err != nil {
			log.WithField("chain", chain.Name).WithError(err).Warn("enclave: no private key configured, egress signing disabled")
		}
		safe := pipeline.SafeAddresses{
			Router: common.HexToAddress(chain.SafeAddresses.Router),
			Vault:  common.HexToAddress(chain.SafeAddresses.Vault),
			Safe:   common.HexToAddress(chain.SafeAddresses.Safe),
		}

		side, err := newChainSide(chain, safe, privateKey)
		if err != nil {
			log.WithField("chain", chain.Name).WithError(err).Fatal("enclave: failed to configure chain side")
		}
		sides[chain.Name] = side
		log.WithFields(logrus.Fields{"chain": chain.Name, "platform": chain.Platform}).Info("enclave: chain side configured")
	}

	orch := newOrchestrator(store, log, sides)

	srv := rpcserver.New(rpcserver.Deps{
		UserOps:      orch,
		Signatories:  orch,
		ChainControl: orch,
	}, rpcserver.WithLogger(log), rpcserver.WithTimeout(cfg.RPCTimeout))
	srv.SetCoreConnected(true)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: srv.Handler(),
	}

	go func() {
		log.WithField("addr", cfg.ListenAddress).Info("enclave: rpc server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("enclave: rpc server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("enclave: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("enclave: rpc server shutdown error")
	}
}

// newChainSide dispatches on chain.Platform to build the right
// pipeline.ChainAdapter-backed chainSide: evm/btc/eos each reach a
// different set of C1-adjacent components (evmadapter is stateless;
// btcadapter threads the UTXO ledger and deposit registry; eosadapter
// threads the incremerkle ring), selected the way the teacher's own
// strategy registry picks a ChainExecutionStrategy per chain type.
func newChainSide(chain config.ChainConfig, safe pipeline.SafeAddresses, privateKey []byte) (*chainSide, error) {
	switch pipeline.Platform(chain.Platform) {
	case pipeline.PlatformBTC:
		net, err := btcNetParams(chain.ChainID)
		if err != nil {
			return nil, err
		}
		// No V2/V3 cross-chain deposit schemes are configured yet;
		// V0/V1 deposits (the common case) still validate normally.
		return newBTCSide(chain.Name, net, btcdeposit.ChainIDRegistry{}, chain.PeerAddress, safe, privateKey), nil
	case pipeline.PlatformEOS:
		return newEOSSide(chain.Name, chain.PeerAddress, safe, privateKey), nil
	case pipeline.PlatformEVM, "":
		chainIDInt, ok := new(big.Int).SetString(chain.ChainID, 10)
		if !ok {
			return nil, fmt.Errorf("enclave: invalid chain_id %q for evm chain %q", chain.ChainID, chain.Name)
		}
		return newEVMSide(chain.Name, chainIDInt.Int64(), safe, privateKey), nil
	default:
		return nil, fmt.Errorf("enclave: unknown platform %q for chain %q", chain.Platform, chain.Name)
	}
}

// btcNetParams maps a config chain_id string to the btcsuite network
// parameters it names; BTC has no EVM-style numeric chain id, so this
// field is repurposed as the network name for platform "btc".
func btcNetParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("enclave: unknown btc network %q", name)
	}
}

// openStore picks the cometbft-db-backed store when KVDataDir is set,
// falling back to the in-memory store for local/dev runs, and layers
// the lib/pq-backed encrypted store on top for SensitivityMax keys
// whenever DatabaseURL/DataEncryptionKey are configured, per spec.md
// §4.1's "Max-level values must be encrypted at rest."
func openStore(cfg *config.Config, log *logrus.Logger) (kv.Store, error) {
	var base kv.Store
	if cfg.KVDataDir == "" {
		base = kv.NewMemStore(kv.Logger(log))
	} else {
		var err error
		base, err = kv.NewCometStore("enclave", cfg.KVDataDir, dbm.GoLevelDBBackend, kv.Logger(log))
		if err != nil {
			return nil, err
		}
	}

	if cfg.DatabaseURL == "" {
		log.Warn("enclave: DATABASE_URL not set, max-sensitivity values (e.g. private keys) will not be encrypted at rest")
		return base, nil
	}

	key, err := decodeEncryptionKey(cfg.DataEncryptionKey)
	if err != nil {
		if cfg.DatabaseRequired {
			return nil, fmt.Errorf("enclave: data encryption key: %w", err)
		}
		log.WithError(err).Warn("enclave: invalid DATA_ENCRYPTION_KEY, max-sensitivity values will not be encrypted at rest")
		return base, nil
	}

	maxStore, err := kv.NewEncryptedStore(cfg.DatabaseURL, "enclave_max_values", key, kv.Logger(log))
	if err != nil {
		if cfg.DatabaseRequired {
			return nil, fmt.Errorf("enclave: open encrypted store: %w", err)
		}
		log.WithError(err).Warn("enclave: failed to open encrypted store, max-sensitivity values will not be encrypted at rest")
		return base, nil
	}
	return kv.NewSplitStore(base, maxStore), nil
}

func decodeEncryptionKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("data encryption key must be hex-encoded: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("data encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

func loadPrivateKey(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
