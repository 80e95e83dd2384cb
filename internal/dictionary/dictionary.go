// Package dictionary implements the token dictionary (C4): the
// persisted, functional-update registry mapping a peer-chain token to
// its EVM counterpart, fee accrual bookkeeping, and EOS-asset-string
// conversion, per spec.md §3/§4.4 and
// original_source/common/common/src/dictionaries/eos_eth/mod.rs.
package dictionary

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/proofcastlabs/bridge-enclave/internal/kv"
)

// Entry pairs a peer-chain token (EOS account, or an EVM/Algorand
// address held as a string) with its EVM counterpart, plus the fee
// schedule and accrual state attached to the pairing.
type Entry struct {
	PeerTokenDecimals  int            `json:"peer_token_decimals"`
	EthTokenDecimals   int            `json:"eth_token_decimals"`
	PeerSymbol         string         `json:"peer_symbol"`
	EthSymbol          string         `json:"eth_symbol"`
	PeerAddress        string         `json:"peer_address"`
	EthAddress         common.Address `json:"eth_address"`
	EthFeeBasisPoints  uint64         `json:"eth_fee_basis_points"`
	PeerFeeBasisPoints uint64         `json:"peer_fee_basis_points"`
	AccruedFees        *big.Int       `json:"accrued_fees"`
	LastWithdrawal     uint64         `json:"last_withdrawal"`
}

func (e Entry) equal(o Entry) bool {
	b, _ := json.Marshal(e)
	c, _ := json.Marshal(o)
	return string(b) == string(c)
}

// Dictionary is an immutable list of Entry. Every mutator returns a new
// Dictionary; callers persist the returned value via Save, mirroring
// the teacher's and original source's copy-on-write entry list.
type Dictionary struct {
	entries []Entry
}

// New wraps a slice of entries as a Dictionary.
func New(entries []Entry) *Dictionary {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Dictionary{entries: cp}
}

// Entries returns a defensive copy of the dictionary's entries.
func (d *Dictionary) Entries() []Entry {
	cp := make([]Entry, len(d.entries))
	copy(cp, d.entries)
	return cp
}

// Load reads the dictionary blob stored at key from tx. A missing key
// yields an empty dictionary.
func Load(tx kv.Tx, key []byte) (*Dictionary, error) {
	b, err := tx.Get(key, kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return New(nil), nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("dictionary: unmarshal: %w", err)
	}
	return New(entries), nil
}

// Save persists the whole dictionary blob under key, matching the
// original source's save_to_db whole-list-replace semantics.
func (d *Dictionary) Save(tx kv.Tx, key []byte) error {
	b, err := json.Marshal(d.entries)
	if err != nil {
		return fmt.Errorf("dictionary: marshal: %w", err)
	}
	return tx.Put(key, b, kv.SensitivityMin)
}

// GetByEthAddress returns the entry whose EthAddress matches addr.
func (d *Dictionary) GetByEthAddress(addr common.Address) (Entry, error) {
	for _, e := range d.entries {
		if e.EthAddress == addr {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("dictionary: no entry for eth address %s", addr)
}

// GetByPeerAddress returns the entry whose PeerAddress matches addr.
func (d *Dictionary) GetByPeerAddress(addr string) (Entry, error) {
	for _, e := range d.entries {
		if e.PeerAddress == addr {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("dictionary: no entry for peer address %s", addr)
}

// replaceEntry returns a new Dictionary with oldEntry replaced by
// newEntry. If they are equal, the dictionary is returned unchanged.
func (d *Dictionary) replaceEntry(oldEntry, newEntry Entry) *Dictionary {
	if oldEntry.equal(newEntry) {
		return d
	}
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		if e.EthAddress == oldEntry.EthAddress && e.PeerAddress == oldEntry.PeerAddress {
			out = append(out, newEntry)
		} else {
			out = append(out, e)
		}
	}
	return New(out)
}

// IncrementAccruedFee adds addend to the accrued fee of the entry
// matched by addr, skipping zero increments.
func (d *Dictionary) IncrementAccruedFee(addr common.Address, addend *big.Int) (*Dictionary, error) {
	if addend.Sign() == 0 {
		return d, nil
	}
	entry, err := d.GetByEthAddress(addr)
	if err != nil {
		return nil, err
	}
	next := entry
	next.AccruedFees = new(big.Int).Add(entry.AccruedFees, addend)
	return d.replaceEntry(entry, next), nil
}

// WithdrawFees zeroes the accrued fee of the entry matched by addr and
// returns the withdrawn amount alongside the new dictionary state.
func (d *Dictionary) WithdrawFees(addr common.Address, now time.Time) (*Dictionary, *big.Int, error) {
	entry, err := d.GetByEthAddress(addr)
	if err != nil {
		return nil, nil, err
	}
	withdrawn := new(big.Int).Set(entry.AccruedFees)
	next := entry
	next.AccruedFees = big.NewInt(0)
	next.LastWithdrawal = uint64(now.Unix())
	return d.replaceEntry(entry, next), withdrawn, nil
}

// ChangeEthFeeBasisPoints updates the ETH-side fee schedule for addr.
func (d *Dictionary) ChangeEthFeeBasisPoints(addr common.Address, newFee uint64) (*Dictionary, error) {
	entry, err := d.GetByEthAddress(addr)
	if err != nil {
		return nil, err
	}
	next := entry
	next.EthFeeBasisPoints = newFee
	return d.replaceEntry(entry, next), nil
}

// ChangePeerFeeBasisPoints updates the peer-chain-side fee schedule for
// the entry matched by its peer address.
func (d *Dictionary) ChangePeerFeeBasisPoints(peerAddr string, newFee uint64) (*Dictionary, error) {
	entry, err := d.GetByPeerAddress(peerAddr)
	if err != nil {
		return nil, err
	}
	next := entry
	next.PeerFeeBasisPoints = newFee
	return d.replaceEntry(entry, next), nil
}

// removeSymbol strips the trailing " SYMBOL" suffix an EOS asset string
// carries, e.g. "1.0000 EOS" -> "1.0000".
func removeSymbol(asset string) string {
	parts := strings.Fields(asset)
	return parts[0]
}

func decimalAndFractionalParts(asset string) (string, string) {
	stripped := removeSymbol(asset)
	parts := strings.SplitN(stripped, ".", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func rightPadWithZeroes(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat("0", n-len(s))
}

func leftPadWithZeroes(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func rightPadOrTruncate(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return rightPadWithZeroes(s, n)
}

// ConvertPeerAssetToEthAmount converts a peer-chain decimal asset
// string (e.g. "1.5000 EOS") into an Ethereum-denominated amount,
// rescaling the fractional part between the two tokens' decimals, per
// original source's convert_eos_asset_to_eth_amount.
func (e Entry) ConvertPeerAssetToEthAmount(asset string) (*big.Int, error) {
	decimalStr, fractionStr := decimalAndFractionalParts(asset)
	if len(fractionStr) != e.PeerTokenDecimals {
		return nil, fmt.Errorf("dictionary: expected %d decimals in peer asset, found %d", e.PeerTokenDecimals, len(fractionStr))
	}
	var augmented string
	switch {
	case e.EthTokenDecimals > e.PeerTokenDecimals:
		augmented = rightPadWithZeroes(fractionStr, e.EthTokenDecimals)
	case e.EthTokenDecimals == e.PeerTokenDecimals:
		augmented = fractionStr
	default:
		augmented = truncateStr(fractionStr, e.EthTokenDecimals)
	}
	amount, ok := new(big.Int).SetString(decimalStr+augmented, 10)
	if !ok {
		return nil, fmt.Errorf("dictionary: cannot parse %q as integer", decimalStr+augmented)
	}
	return amount, nil
}

// ConvertEthAmountToPeerAssetString is the inverse of
// ConvertPeerAssetToEthAmount, rendering a wei-denominated amount as a
// decimal asset string suffixed with the peer symbol.
func (e Entry) ConvertEthAmountToPeerAssetString(amount *big.Int) (string, error) {
	amountStr := amount.String()
	if len(amountStr) >= e.EthTokenDecimals {
		splitAt := len(amountStr) - e.EthTokenDecimals
		decimalStr, fractionStr := amountStr[:splitAt], amountStr[splitAt:]
		augmentedFraction := rightPadOrTruncate(fractionStr, e.PeerTokenDecimals)
		if decimalStr == "" {
			decimalStr = "0"
		}
		return fmt.Sprintf("%s.%s %s", decimalStr, augmentedFraction, strings.ToUpper(e.PeerSymbol)), nil
	}
	fractionStr := leftPadWithZeroes(amountStr, e.EthTokenDecimals)
	augmentedFraction := rightPadOrTruncate(fractionStr, e.PeerTokenDecimals)
	return fmt.Sprintf("0.%s %s", augmentedFraction, strings.ToUpper(e.PeerSymbol)), nil
}

// ZeroPeerAsset returns the peer-chain asset string for amount 0.
func (e Entry) ZeroPeerAsset() string {
	s, _ := e.ConvertEthAmountToPeerAssetString(big.NewInt(0))
	return s
}

// ConvertEthAmountToPeerAmount rescales a wei-denominated amount into
// the peer token's own integer base units by the two tokens' decimals
// difference, for peer chains (EVM, Algorand) whose native amounts are
// plain integers rather than a decimal asset string like EOS's.
func (e Entry) ConvertEthAmountToPeerAmount(amount *big.Int) *big.Int {
	return scaleByDecimals(amount, e.EthTokenDecimals, e.PeerTokenDecimals)
}

// ConvertPeerAmountToEthAmount is the inverse of
// ConvertEthAmountToPeerAmount.
func (e Entry) ConvertPeerAmountToEthAmount(amount *big.Int) *big.Int {
	return scaleByDecimals(amount, e.PeerTokenDecimals, e.EthTokenDecimals)
}

// scaleByDecimals widens or narrows amount by 10^(toDecimals-fromDecimals),
// the integer-amount rescaling rule shared by EVM-to-EVM and EVM-to-Algorand
// token pairs.
func scaleByDecimals(amount *big.Int, fromDecimals, toDecimals int) *big.Int {
	diff := toDecimals - fromDecimals
	if diff == 0 {
		return new(big.Int).Set(amount)
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs(diff))), nil)
	out := new(big.Int)
	if diff > 0 {
		return out.Mul(amount, factor)
	}
	return out.Div(amount, factor)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
