package rpcserver

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/proofcastlabs/bridge-enclave/internal/debugsig"
	"github.com/proofcastlabs/bridge-enclave/internal/userop"
)

// UserOps is the narrow contract the orchestrator uses to look up and
// mutate tracked user ops, backed by internal/userop through a kv
// transaction the implementation manages internally.
type UserOps interface {
	Get(uid common.Hash) (*userop.UserOp, error)
	List() ([]*userop.UserOp, error)
	Remove(uid common.Hash) error
	Cancel(uid common.Hash, actor userop.ActorType) error
}

// Signatories is the narrow contract onto internal/debugsig.
type Signatories interface {
	Challenge(uid common.Hash, coreType string, debugCommandHash common.Hash) (debugsig.Challenge, error)
	ChallengesList(coreType string, debugCommandHash common.Hash) ([]debugsig.Challenge, error)
	Add(signatory debugsig.Signatory) error
}

// ChainControl is the per-chain-side submission and lifecycle surface:
// block submission/processing, syncer start/stop, and the three
// adjustable periodic-task frequencies.
type ChainControl interface {
	SubmitBlock(side string, blockNum uint64, dryRun, reprocess bool) (json.RawMessage, error)
	ProcessBlock(side string, raw json.RawMessage) (json.RawMessage, error)
	Init(side string, params json.RawMessage) error
	ResetChain(side string, params json.RawMessage) error
	StopSyncer(chainID string) error
	StartSyncer(chainID string) error
	SetUserOpCancellerFrequency(d time.Duration)
	SetStatusPublishingFrequency(d time.Duration)
	SetChallengeResponderFrequency(d time.Duration)
	CoreState() CoreState
}

// CoreState is the getCoreState payload: a snapshot of every chain
// side's sync position plus the overall connected flag.
type CoreState struct {
	CoreConnected bool                  `json:"core_connected"`
	Chains        map[string]ChainState `json:"chains"`
}

// ChainState is one chain side's sync position.
type ChainState struct {
	Platform        string `json:"platform"`
	LatestBlockHash string `json:"latest_block_hash"`
	CanonBlockHash  string `json:"canon_block_hash"`
	TailBlockHash   string `json:"tail_block_hash"`
}

// RegistrationSigner is the narrow external collaborator for the
// registration-signature/registration-extension-tx methods, deliberately
// out of this repo's scope per spec.md's Non-goals ("EOS/ETH/BTC key
// derivation primitives"). The RPC layer only shapes the contract.
type RegistrationSigner interface {
	GetRegistrationSignature(params json.RawMessage) ([]byte, error)
	GetRegistrationExtensionTx(params json.RawMessage) ([]byte, error)
}

// MessageSigner is the narrow external collaborator for signMessage.
type MessageSigner interface {
	SignMessage(msg []byte) ([]byte, error)
}

// Attestor is the narrow external collaborator for the attestation
// certificate/signature methods.
type Attestor interface {
	GetAttestationCertificate() ([]byte, error)
	GetAttestationSignature(msg []byte) ([]byte, error)
}

// Deps bundles every collaborator the orchestrator dispatches methods
// to. Each field is independently optional; a nil collaborator causes
// its methods to return a "not configured" error (reported as
// CodeCoreError) rather than panicking.
type Deps struct {
	UserOps            UserOps
	Signatories        Signatories
	ChainControl       ChainControl
	RegistrationSigner RegistrationSigner
	MessageSigner      MessageSigner
	Attestor           Attestor
}
