package debugsig

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func mustKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func sign(t *testing.T, key *ecdsa.PrivateKey, hash common.Hash) []byte {
	t.Helper()
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return sig
}

func TestValidateAcceptsFirstMatchingSignatoryAndIncrementsOnlyItsNonce(t *testing.T) {
	key1, addr1 := mustKey(t)
	_, addr2 := mustKey(t)

	set := New([]Signatory{
		{Name: "alice", EthAddress: addr1},
		{Name: "bob", EthAddress: addr2},
	})

	coreType := "eos"
	cmdHash := common.HexToHash("0xdeadbeef")
	hash, err := HashToSign(coreType, cmdHash, 0)
	if err != nil {
		t.Fatalf("HashToSign: %v", err)
	}
	sig := sign(t, key1, hash)

	updated, err := set.Validate(coreType, cmdHash, sig)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, s := range updated.Signatories() {
		if s.EthAddress == addr1 && s.Nonce != 1 {
			t.Fatalf("expected alice's nonce incremented, got %d", s.Nonce)
		}
		if s.EthAddress == addr2 && s.Nonce != 0 {
			t.Fatalf("expected bob's nonce untouched, got %d", s.Nonce)
		}
	}
}

func TestValidateRejectsUnknownSignature(t *testing.T) {
	_, addr1 := mustKey(t)
	key2, _ := mustKey(t)

	set := New([]Signatory{{Name: "alice", EthAddress: addr1}})

	coreType := "eos"
	cmdHash := common.HexToHash("0xdeadbeef")
	hash, err := HashToSign(coreType, cmdHash, 0)
	if err != nil {
		t.Fatalf("HashToSign: %v", err)
	}
	sig := sign(t, key2, hash)

	if _, err := set.Validate(coreType, cmdHash, sig); err == nil {
		t.Fatal("expected validation error for unrecognized signer, got nil")
	}
}

func TestValidateUsesCurrentNonceNotStale(t *testing.T) {
	key1, addr1 := mustKey(t)
	set := New([]Signatory{{Name: "alice", EthAddress: addr1, Nonce: 3}})

	coreType := "eth"
	cmdHash := common.HexToHash("0x01")

	staleHash, _ := HashToSign(coreType, cmdHash, 0)
	staleSig := sign(t, key1, staleHash)
	if _, err := set.Validate(coreType, cmdHash, staleSig); err == nil {
		t.Fatal("expected stale-nonce signature to be rejected")
	}

	freshHash, _ := HashToSign(coreType, cmdHash, 3)
	freshSig := sign(t, key1, freshHash)
	if _, err := set.Validate(coreType, cmdHash, freshSig); err != nil {
		t.Fatalf("Validate with fresh nonce: %v", err)
	}
}

func TestAddRejectsDuplicateAddress(t *testing.T) {
	_, addr1 := mustKey(t)
	set := New([]Signatory{{Name: "alice", EthAddress: addr1}})
	if _, err := set.Add(Signatory{Name: "alice2", EthAddress: addr1}); err == nil {
		t.Fatal("expected duplicate address rejection, got nil")
	}
}

func TestRemoveDropsSignatory(t *testing.T) {
	_, addr1 := mustKey(t)
	_, addr2 := mustKey(t)
	set := New([]Signatory{{Name: "alice", EthAddress: addr1}, {Name: "bob", EthAddress: addr2}})

	updated, err := set.Remove(addr1)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(updated.Signatories()) != 1 || updated.Signatories()[0].EthAddress != addr2 {
		t.Fatalf("expected only bob remaining, got %+v", updated.Signatories())
	}
}

func TestChallengesListCoversEverySignatory(t *testing.T) {
	_, addr1 := mustKey(t)
	_, addr2 := mustKey(t)
	set := New([]Signatory{{Name: "alice", EthAddress: addr1, Nonce: 1}, {Name: "bob", EthAddress: addr2, Nonce: 2}})

	challenges, err := set.ChallengesList("eos", common.HexToHash("0x02"))
	if err != nil {
		t.Fatalf("ChallengesList: %v", err)
	}
	if len(challenges) != 2 {
		t.Fatalf("got %d challenges, want 2", len(challenges))
	}
}
