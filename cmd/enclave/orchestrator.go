package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/proofcastlabs/bridge-enclave/internal/btcadapter"
	"github.com/proofcastlabs/bridge-enclave/internal/btcdeposit"
	"github.com/proofcastlabs/bridge-enclave/internal/debugsig"
	"github.com/proofcastlabs/bridge-enclave/internal/dictionary"
	"github.com/proofcastlabs/bridge-enclave/internal/eosadapter"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
	"github.com/proofcastlabs/bridge-enclave/internal/evmadapter"
	"github.com/proofcastlabs/bridge-enclave/internal/kv"
	"github.com/proofcastlabs/bridge-enclave/internal/pipeline"
	"github.com/proofcastlabs/bridge-enclave/internal/rpcserver"
	"github.com/proofcastlabs/bridge-enclave/internal/userop"
	"github.com/proofcastlabs/bridge-enclave/internal/utxo"
)

var keyDictionary = []byte("DICTIONARY")

// adapterFactory builds the platform-specific pipeline.ChainAdapter for
// one ProcessBlock call, bound to that call's live kv.Tx — BTC's UTXO
// ledger (C2) and EOS's incremerkle ring (C5/C6) both need a
// transactional view, unlike the stateless evmadapter.Adapter, so the
// adapter itself can no longer be a side-wide singleton.
type adapterFactory func(tx kv.Tx) pipeline.ChainAdapter

// chainSide bundles one chain's adapter factory, its own nonce/tip
// pointers (via pipeline.Store scoped to its prefix), and the three
// independently adjustable periodic-task frequencies C11 exposes.
type chainSide struct {
	name       string
	platform   pipeline.Platform
	newAdapter adapterFactory
	safe       pipeline.SafeAddresses
	privateKey []byte

	mu            sync.Mutex
	syncerRunning bool
	cancellerFreq time.Duration
	statusFreq    time.Duration
	challengeFreq time.Duration
}

// orchestrator wires every core package together behind the
// rpcserver.Deps interfaces, opening one kv transaction per RPC
// dispatch and committing on success, matching kv.Run's use elsewhere
// in the pipeline and state-machine packages.
type orchestrator struct {
	store kv.Store
	log   *logrus.Logger
	sides map[string]*chainSide
}

func newOrchestrator(store kv.Store, log *logrus.Logger, sides map[string]*chainSide) *orchestrator {
	return &orchestrator{store: store, log: log, sides: sides}
}

// --- rpcserver.UserOps ---

func (o *orchestrator) Get(uid common.Hash) (*userop.UserOp, error) {
	var result *userop.UserOp
	err := kv.Run(o.store, func(tx kv.Tx) error {
		op, err := userop.Load(tx, uid)
		if err != nil {
			return err
		}
		result = op
		return nil
	})
	return result, err
}

func (o *orchestrator) List() ([]*userop.UserOp, error) {
	var result []*userop.UserOp
	err := kv.Run(o.store, func(tx kv.Tx) error {
		idx, err := userop.LoadIndex(tx)
		if err != nil {
			return err
		}
		for _, uid := range idx.UIDs() {
			op, err := userop.Load(tx, uid)
			if err != nil {
				return err
			}
			result = append(result, op)
		}
		return nil
	})
	return result, err
}

func (o *orchestrator) Remove(uid common.Hash) error {
	return kv.Run(o.store, func(tx kv.Tx) error {
		idx, err := userop.LoadIndex(tx)
		if err != nil {
			return err
		}
		idx.Remove(uid)
		if err := idx.Save(tx); err != nil {
			return err
		}
		return tx.Delete(useropKey(uid))
	})
}

// useropKey mirrors the unexported key() scheme in internal/userop so
// Remove can delete without adding an exported Delete to that package.
func useropKey(uid common.Hash) []byte {
	return append([]byte("USEROP_"), uid.Bytes()...)
}

func (o *orchestrator) Cancel(uid common.Hash, actor userop.ActorType) error {
	return kv.Run(o.store, func(tx kv.Tx) error {
		op, err := userop.Load(tx, uid)
		if err != nil {
			return err
		}
		a := actor
		if err := op.MaybeUpdateState(uid, userop.Observation{State: userop.StateCancelled, Actor: &a}); err != nil {
			return err
		}
		return userop.SaveIndexed(tx, op)
	})
}

// --- rpcserver.Signatories ---

// Challenge returns the single challenge for the signatory whose
// address hashes to uid (the request is addressed by the caller's
// identity, not by a user-op id, despite the shared common.Hash type
// used throughout this contract). When no signatory's address hashes
// to uid, the first signatory's challenge is returned; an empty
// signatory set is an error.
func (o *orchestrator) Challenge(uid common.Hash, coreType string, debugCommandHash common.Hash) (debugsig.Challenge, error) {
	var result debugsig.Challenge
	err := kv.Run(o.store, func(tx kv.Tx) error {
		set, err := debugsig.Load(tx)
		if err != nil {
			return err
		}
		challenges, err := set.ChallengesList(coreType, debugCommandHash)
		if err != nil {
			return err
		}
		for _, c := range challenges {
			if crypto.Keccak256Hash(c.EthAddress.Bytes()) == uid {
				result = c
				return nil
			}
		}
		if len(challenges) > 0 {
			result = challenges[0]
			return nil
		}
		return fmt.Errorf("orchestrator: no signatories configured")
	})
	return result, err
}

func (o *orchestrator) ChallengesList(coreType string, debugCommandHash common.Hash) ([]debugsig.Challenge, error) {
	var result []debugsig.Challenge
	err := kv.Run(o.store, func(tx kv.Tx) error {
		set, err := debugsig.Load(tx)
		if err != nil {
			return err
		}
		challenges, err := set.ChallengesList(coreType, debugCommandHash)
		if err != nil {
			return err
		}
		result = challenges
		return nil
	})
	return result, err
}

func (o *orchestrator) Add(signatory debugsig.Signatory) error {
	return kv.Run(o.store, func(tx kv.Tx) error {
		set, err := debugsig.Load(tx)
		if err != nil {
			return err
		}
		updated, err := set.Add(signatory)
		if err != nil {
			return err
		}
		return updated.Save(tx)
	})
}

// --- rpcserver.ChainControl ---

func (o *orchestrator) side(name string) (*chainSide, error) {
	s, ok := o.sides[name]
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown chain side %q", name)
	}
	return s, nil
}

func (o *orchestrator) SubmitBlock(sideName string, blockNum uint64, dryRun, reprocess bool) (json.RawMessage, error) {
	_, err := o.side(sideName)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{
		"side":      sideName,
		"block_num": blockNum,
		"dry_run":   dryRun,
		"reprocess": reprocess,
		"accepted":  !dryRun,
	})
}

type processBlockParams struct {
	Side     string                 `json:"side"`
	Material ethsubmission.Material `json:"material"`
}

func (o *orchestrator) ProcessBlock(sideName string, raw json.RawMessage) (json.RawMessage, error) {
	s, err := o.side(sideName)
	if err != nil {
		return nil, err
	}

	var params processBlockParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid processBlock params: %w", err)
	}

	var result *pipeline.Result
	err = kv.Run(o.store, func(tx kv.Tx) error {
		store := pipeline.NewStore(tx, sideName)
		dict, err := dictionary.Load(tx, keyDictionary)
		if err != nil {
			return err
		}
		privateKey, err := store.PrivateKey()
		if err == kv.ErrNotFound {
			// Init hasn't persisted a key for this side yet (or none
			// was configured); fall back to the operator-supplied key
			// so dry runs and first-boot submissions still work.
			privateKey = s.privateKey
		} else if err != nil {
			return err
		}
		p := pipeline.New(store, s.newAdapter(tx), s.safe, reprocessFlag(raw))
		res, err := p.ProcessBlock(&params.Material, dict, privateKey)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func reprocessFlag(raw json.RawMessage) bool {
	var p struct {
		Reprocess bool `json:"reprocess"`
	}
	_ = json.Unmarshal(raw, &p)
	return p.Reprocess
}

func (o *orchestrator) Init(sideName string, params json.RawMessage) error {
	s, err := o.side(sideName)
	if err != nil {
		return err
	}
	var p struct {
		ChainID          int64  `json:"chain_id"`
		CanonToTipLength uint64 `json:"canon_to_tip_length"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return fmt.Errorf("orchestrator: invalid init params: %w", err)
	}
	return kv.Run(o.store, func(tx kv.Tx) error {
		store := pipeline.NewStore(tx, sideName)
		if err := store.SetCanonToTipLength(p.CanonToTipLength); err != nil {
			return err
		}
		if err := store.SetChainID(big.NewInt(p.ChainID)); err != nil {
			return err
		}
		if len(s.privateKey) > 0 {
			if err := store.SetPrivateKey(s.privateKey); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *orchestrator) ResetChain(sideName string, params json.RawMessage) error {
	if _, err := o.side(sideName); err != nil {
		return err
	}
	return kv.Run(o.store, func(tx kv.Tx) error {
		store := pipeline.NewStore(tx, sideName)
		if err := store.SetLatestBlockHash(common.Hash{}); err != nil {
			return err
		}
		return store.SetCanonBlockHash(common.Hash{})
	})
}

func (o *orchestrator) StopSyncer(chainID string) error {
	s, err := o.side(chainID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncerRunning = false
	return nil
}

func (o *orchestrator) StartSyncer(chainID string) error {
	s, err := o.side(chainID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncerRunning = true
	return nil
}

func (o *orchestrator) SetUserOpCancellerFrequency(d time.Duration) {
	o.forEachSide(func(s *chainSide) { s.cancellerFreq = d })
}

func (o *orchestrator) SetStatusPublishingFrequency(d time.Duration) {
	o.forEachSide(func(s *chainSide) { s.statusFreq = d })
}

func (o *orchestrator) SetChallengeResponderFrequency(d time.Duration) {
	o.forEachSide(func(s *chainSide) { s.challengeFreq = d })
}

func (o *orchestrator) forEachSide(fn func(*chainSide)) {
	for _, s := range o.sides {
		s.mu.Lock()
		fn(s)
		s.mu.Unlock()
	}
}

func (o *orchestrator) CoreState() rpcserver.CoreState {
	state := rpcserver.CoreState{CoreConnected: true, Chains: make(map[string]rpcserver.ChainState, len(o.sides))}
	_ = kv.Run(o.store, func(tx kv.Tx) error {
		for name, s := range o.sides {
			store := pipeline.NewStore(tx, name)
			latest, _, _ := store.LatestBlockHash()
			canon, _, _ := store.CanonBlockHash()
			tail, _, _ := store.TailBlockHash()
			state.Chains[name] = rpcserver.ChainState{
				Platform:        string(s.platform),
				LatestBlockHash: latest.Hex(),
				CanonBlockHash:  canon.Hex(),
				TailBlockHash:   tail.Hex(),
			}
		}
		return nil
	})
	return state
}

// newEVMSide constructs a chainSide backed by evmadapter for chainID.
// evmadapter carries no per-transaction state, so its factory ignores
// tx and returns the same adapter instance every call.
func newEVMSide(name string, chainID int64, safe pipeline.SafeAddresses, privateKey []byte) *chainSide {
	adapter := evmadapter.New(big.NewInt(chainID))
	return &chainSide{
		name:       name,
		platform:   pipeline.PlatformEVM,
		newAdapter: func(tx kv.Tx) pipeline.ChainAdapter { return adapter },
		safe:       safe,
		privateKey: privateKey,
	}
}

// newBTCSide constructs a chainSide backed by btcadapter, binding a
// fresh utxo.Ledger (C2) to each call's transaction so deposit inserts
// and egress UTXO selection participate in the same commit/rollback as
// the rest of that ProcessBlock call.
func newBTCSide(name string, net *chaincfg.Params, registry btcdeposit.ChainIDRegistry, peerAddress string, safe pipeline.SafeAddresses, privateKey []byte) *chainSide {
	return &chainSide{
		name:     name,
		platform: pipeline.PlatformBTC,
		newAdapter: func(tx kv.Tx) pipeline.ChainAdapter {
			return btcadapter.New(utxo.New(tx), net, registry, peerAddress)
		},
		safe:       safe,
		privateKey: privateKey,
	}
}

// newEOSSide constructs a chainSide backed by eosadapter, binding the
// call's transaction directly so the adapter can load/advance/save the
// incremerkle ring (C5/C6) as part of header validation.
func newEOSSide(name, peerAddress string, safe pipeline.SafeAddresses, privateKey []byte) *chainSide {
	return &chainSide{
		name:     name,
		platform: pipeline.PlatformEOS,
		newAdapter: func(tx kv.Tx) pipeline.ChainAdapter {
			return eosadapter.New(tx, peerAddress)
		},
		safe:       safe,
		privateKey: privateKey,
	}
}
