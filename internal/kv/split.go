package kv

import "fmt"

// splitStore routes SensitivityMax reads/writes through max (typically
// encryptedStore) and everything else through base (memStore or
// cometStore), so the enclave can run without Postgres configured
// while still satisfying spec.md §4.1's Max-encryption requirement
// once a max Store is supplied.
type splitStore struct {
	base Store
	max  Store
}

// NewSplitStore composes base and max into a single Store.
func NewSplitStore(base, max Store) Store {
	return &splitStore{base: base, max: max}
}

func (s *splitStore) Begin() (Tx, error) {
	baseTx, err := s.base.Begin()
	if err != nil {
		return nil, fmt.Errorf("kv: begin base tx: %w", err)
	}
	maxTx, err := s.max.Begin()
	if err != nil {
		_ = baseTx.Rollback()
		return nil, fmt.Errorf("kv: begin max tx: %w", err)
	}
	return &splitTx{base: baseTx, max: maxTx}, nil
}

type splitTx struct {
	base Tx
	max  Tx
}

func (t *splitTx) Get(key []byte, sensitivity Sensitivity) ([]byte, error) {
	if sensitivity == SensitivityMax {
		return t.max.Get(key, sensitivity)
	}
	return t.base.Get(key, sensitivity)
}

func (t *splitTx) Put(key, value []byte, sensitivity Sensitivity) error {
	if sensitivity == SensitivityMax {
		return t.max.Put(key, value, sensitivity)
	}
	return t.base.Put(key, value, sensitivity)
}

// Delete removes key from both halves, since a Tx caller has no
// sensitivity to dispatch on at delete time and the two stores are
// namespaced by disjoint key sets in practice.
func (t *splitTx) Delete(key []byte) error {
	if err := t.base.Delete(key); err != nil {
		return err
	}
	return t.max.Delete(key)
}

// Commit commits base first, rolling back max and returning the error
// if that fails; the two underlying stores are not a single atomic
// resource, so a crash between the two commits can in principle leave
// them inconsistent — an accepted gap matching the teacher's own
// single-phase Commit/Rollback shape, not a two-phase commit protocol.
func (t *splitTx) Commit() error {
	if err := t.base.Commit(); err != nil {
		_ = t.max.Rollback()
		return fmt.Errorf("kv: commit base: %w", err)
	}
	if err := t.max.Commit(); err != nil {
		return fmt.Errorf("kv: commit max: %w", err)
	}
	return nil
}

func (t *splitTx) Rollback() error {
	err1 := t.base.Rollback()
	err2 := t.max.Rollback()
	if err1 != nil {
		return err1
	}
	return err2
}
