package ethsubmission

import "github.com/ethereum/go-ethereum/trie"

// newStackTrieHasher returns a fresh hasher for types.DeriveSha, mirroring
// go-ethereum's own block-building code path for computing ReceiptHash.
func newStackTrieHasher() *trie.StackTrie {
	return trie.NewStackTrie(nil)
}
