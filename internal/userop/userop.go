// Package userop implements the user-op state machine (C9): per-
// request lifecycle tracking with a replay-resistant UID computed over
// an ABI-encoded tuple, state-rank merging, and multi-actor
// cancellation, per spec.md §3/§4.9 and
// common/sentinel/src/user_ops/user_op.rs.
package userop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/proofcastlabs/bridge-enclave/internal/coreerr"
	"github.com/proofcastlabs/bridge-enclave/internal/kv"
)

// State is the lifecycle stage of a user op. The numeric values encode
// the total order used to rank incoming observations; cancellation
// carries the acting party alongside the rank so distinct actor types
// can be counted without losing ordering.
type State int

const (
	StateWitnessed State = iota
	StateEnqueued
	StateExecuted
	StateCancelled
)

// ActorType identifies which party in the bridge protocol issued a
// cancellation, used to enforce the "≥2 distinct actor-types" rule.
type ActorType int

const (
	ActorGovernance ActorType = iota
	ActorGuardian
	ActorSentinel
	ActorProtocolQueen
)

// Observation is a single reported state for a user op, optionally
// carrying the actor responsible when State is StateCancelled.
type Observation struct {
	State State      `json:"state"`
	Actor *ActorType `json:"actor,omitempty"`
}

func (o Observation) rank() int { return int(o.State) }

func (o Observation) equal(other Observation) bool {
	if o.State != other.State {
		return false
	}
	if (o.Actor == nil) != (other.Actor == nil) {
		return false
	}
	return o.Actor == nil || *o.Actor == *other.Actor
}

// Log is the fully-specified set of log parameters a user op's UID is
// computed over, mirroring UserOp's ABI-encoded tuple fields exactly
// (origin/destination network ids, nonce, options mask, amounts, asset
// addresses, account strings, user data, is-for-protocol flag).
type Log struct {
	OriginBlockHash                common.Hash    `json:"origin_block_hash"`
	OriginTransactionHash          common.Hash    `json:"origin_transaction_hash"`
	OptionsMask                    common.Hash    `json:"options_mask"`
	Nonce                          *big.Int       `json:"nonce"`
	UnderlyingAssetDecimals        *big.Int       `json:"underlying_asset_decimals"`
	AssetAmount                    *big.Int       `json:"asset_amount"`
	UserDataProtocolFeeAssetAmount *big.Int       `json:"user_data_protocol_fee_asset_amount"`
	NetworkFeeAssetAmount          *big.Int       `json:"network_fee_asset_amount"`
	ForwardNetworkFeeAssetAmount   *big.Int       `json:"forward_network_fee_asset_amount"`
	UnderlyingAssetTokenAddress    common.Address `json:"underlying_asset_token_address"`
	OriginNetworkID                [4]byte        `json:"origin_network_id"`
	DestinationNetworkID           [4]byte        `json:"destination_network_id"`
	ForwardDestinationNetworkID    [4]byte        `json:"forward_destination_network_id"`
	UnderlyingAssetNetworkID       [4]byte        `json:"underlying_asset_network_id"`
	OriginAccount                  string         `json:"origin_account"`
	DestinationAccount             string         `json:"destination_account"`
	UnderlyingAssetName            string         `json:"underlying_asset_name"`
	UnderlyingAssetSymbol          string         `json:"underlying_asset_symbol"`
	UserData                       []byte         `json:"user_data"`
	IsForProtocol                  bool           `json:"is_for_protocol"`
}

var tupleArguments = abi.Arguments{
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("address")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("string")},
	{Type: mustType("string")},
	{Type: mustType("string")},
	{Type: mustType("string")},
	{Type: mustType("bytes")},
	{Type: mustType("bool")},
}

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("userop: bad abi type %q: %v", t, err))
	}
	return ty
}

func zeroPad4(b [4]byte) [32]byte {
	var out [32]byte
	copy(out[:4], b[:])
	return out
}

// ABIEncode packs l's fields into the canonical tuple encoding the UID
// is computed over.
func (l Log) ABIEncode() ([]byte, error) {
	origin4 := zeroPad4(l.OriginNetworkID)
	dest4 := zeroPad4(l.DestinationNetworkID)
	fwd4 := zeroPad4(l.ForwardDestinationNetworkID)
	ul4 := zeroPad4(l.UnderlyingAssetNetworkID)
	return tupleArguments.Pack(
		l.OriginBlockHash,
		l.OriginTransactionHash,
		l.OptionsMask,
		l.Nonce,
		l.UnderlyingAssetDecimals,
		l.AssetAmount,
		l.UserDataProtocolFeeAssetAmount,
		l.NetworkFeeAssetAmount,
		l.ForwardNetworkFeeAssetAmount,
		l.UnderlyingAssetTokenAddress,
		origin4,
		dest4,
		fwd4,
		ul4,
		l.OriginAccount,
		l.DestinationAccount,
		l.UnderlyingAssetName,
		l.UnderlyingAssetSymbol,
		l.UserData,
		l.IsForProtocol,
	)
}

// UID computes the replay-resistant identifier: sha256 over the
// ABI-encoded tuple (not keccak256 — distinct from Ethereum's own
// event-log hashing, per spec.md §4.9).
func (l Log) UID() (common.Hash, error) {
	encoded, err := l.ABIEncode()
	if err != nil {
		return common.Hash{}, fmt.Errorf("userop: abi encode: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return common.BytesToHash(sum[:]), nil
}

// UserOp is a single tracked bridge request.
type UserOp struct {
	UID                common.Hash   `json:"uid"`
	Log                Log           `json:"log"`
	State              State         `json:"state"`
	Actor              *ActorType    `json:"actor,omitempty"`
	PreviousStates     []Observation `json:"previous_states"`
	WitnessedTimestamp uint64        `json:"witnessed_timestamp"`
	OriginNetworkID    [4]byte       `json:"origin_network_id"`
}

// New constructs a freshly witnessed UserOp from log, computing its UID.
func New(log Log, witnessedTimestamp uint64) (*UserOp, error) {
	uid, err := log.UID()
	if err != nil {
		return nil, err
	}
	return &UserOp{
		UID:                uid,
		Log:                log,
		State:              StateWitnessed,
		WitnessedTimestamp: witnessedTimestamp,
		OriginNetworkID:    log.OriginNetworkID,
	}, nil
}

func (u *UserOp) current() Observation { return Observation{State: u.State, Actor: u.Actor} }

// MaybeUpdateState merges an incoming observation for the same UID: the
// higher-ranked state wins; on a tie, or when the incoming state ranks
// lower, it is archived into PreviousStates instead of overwriting
// State, per spec.md §4.9 and the reference's maybe_update_state.
func (u *UserOp) MaybeUpdateState(incomingUID common.Hash, obs Observation) error {
	if u.UID != incomingUID {
		return coreerr.New(coreerr.KindUidMismatch, fmt.Sprintf("userop: uid mismatch: have %s, got %s", u.UID, incomingUID))
	}

	current := u.current()
	if current.rank() >= obs.rank() {
		if !u.containsPrevious(obs) {
			u.PreviousStates = append(u.PreviousStates, obs)
		}
		return nil
	}

	u.PreviousStates = append(u.PreviousStates, current)
	u.State = obs.State
	u.Actor = obs.Actor
	return nil
}

func (u *UserOp) containsPrevious(obs Observation) bool {
	for _, p := range u.PreviousStates {
		if p.equal(obs) {
			return true
		}
	}
	return false
}

// HasBeenEnqueued reports whether State or any PreviousStates entry is
// StateEnqueued.
func (u *UserOp) HasBeenEnqueued() bool {
	if u.State == StateEnqueued {
		return true
	}
	for _, p := range u.PreviousStates {
		if p.State == StateEnqueued {
			return true
		}
	}
	return false
}

// HasBeenWitnessed reports whether State or any PreviousStates entry is
// StateWitnessed.
func (u *UserOp) HasBeenWitnessed() bool {
	if u.State == StateWitnessed {
		return true
	}
	for _, p := range u.PreviousStates {
		if p.State == StateWitnessed {
			return true
		}
	}
	return false
}

// HasBeenCancelled reports whether at least two distinct actor types
// have issued a cancel state for this UID, across current state and
// PreviousStates, per spec.md §4.9.
func (u *UserOp) HasBeenCancelled() bool {
	var actors []ActorType
	if u.State == StateCancelled && u.Actor != nil {
		actors = append(actors, *u.Actor)
	}
	for _, p := range u.PreviousStates {
		if p.State == StateCancelled && p.Actor != nil {
			actors = append(actors, *p.Actor)
		}
	}
	if len(actors) < 2 {
		return false
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i] < actors[j] })
	distinct := actors[:1]
	for _, a := range actors[1:] {
		if a != distinct[len(distinct)-1] {
			distinct = append(distinct, a)
		}
	}
	return len(distinct) >= 2
}

func key(uid common.Hash) []byte {
	return append([]byte("USEROP_"), uid.Bytes()...)
}

var keyIndex = []byte("USEROP_INDEX")

// Index tracks every UID ever saved, since the kv.Tx interface has no
// iteration primitive. Callers that need "list every user op" (C11's
// getUserOps) go through this rather than scanning the store directly.
type Index struct {
	uids []common.Hash
}

// LoadIndex reads the persisted UID index. A missing key yields an
// empty index.
func LoadIndex(tx kv.Tx) (*Index, error) {
	b, err := tx.Get(keyIndex, kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return &Index{}, nil
	}
	if err != nil {
		return nil, err
	}
	var uids []common.Hash
	if err := json.Unmarshal(b, &uids); err != nil {
		return nil, fmt.Errorf("userop: unmarshal index: %w", err)
	}
	return &Index{uids: uids}, nil
}

// Save persists the index.
func (idx *Index) Save(tx kv.Tx) error {
	b, err := json.Marshal(idx.uids)
	if err != nil {
		return fmt.Errorf("userop: marshal index: %w", err)
	}
	return tx.Put(keyIndex, b, kv.SensitivityMin)
}

// UIDs returns a defensive copy of the tracked UIDs.
func (idx *Index) UIDs() []common.Hash {
	cp := make([]common.Hash, len(idx.uids))
	copy(cp, idx.uids)
	return cp
}

// Add appends uid if not already present.
func (idx *Index) Add(uid common.Hash) {
	for _, existing := range idx.uids {
		if existing == uid {
			return
		}
	}
	idx.uids = append(idx.uids, uid)
}

// Remove drops uid from the index, if present.
func (idx *Index) Remove(uid common.Hash) {
	for i, existing := range idx.uids {
		if existing == uid {
			idx.uids = append(idx.uids[:i], idx.uids[i+1:]...)
			return
		}
	}
}

// SaveIndexed persists u and records its UID in the index, the
// combined operation C8/C9 call sites use instead of u.Save alone.
func SaveIndexed(tx kv.Tx, u *UserOp) error {
	if err := u.Save(tx); err != nil {
		return err
	}
	idx, err := LoadIndex(tx)
	if err != nil {
		return err
	}
	idx.Add(u.UID)
	return idx.Save(tx)
}

// Load reads the UserOp persisted for uid.
func Load(tx kv.Tx, uid common.Hash) (*UserOp, error) {
	b, err := tx.Get(key(uid), kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return nil, coreerr.New(coreerr.KindMissingState, fmt.Sprintf("userop: no user op for uid %s", uid))
	}
	if err != nil {
		return nil, err
	}
	var u UserOp
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("userop: unmarshal: %w", err)
	}
	return &u, nil
}

// Save persists u under its UID.
func (u *UserOp) Save(tx kv.Tx) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("userop: marshal: %w", err)
	}
	return tx.Put(key(u.UID), b, kv.SensitivityMin)
}

// Exists reports whether a UserOp is already persisted for uid.
func Exists(tx kv.Tx, uid common.Hash) (bool, error) {
	_, err := tx.Get(key(uid), kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
