package kv

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/sirupsen/logrus"
)

// cometStore backs SensitivityNone/SensitivityMin keys with a CometBFT
// dbm.DB, the same adapter shape as the teacher's pkg/kvdb.KVAdapter.
type cometStore struct {
	db  dbm.DB
	log *logrus.Logger
}

// NewCometStore opens a CometBFT-backed store at dir using the given
// backend (e.g. dbm.GoLevelDBBackend).
func NewCometStore(name, dir string, backend dbm.BackendType, opts ...WithLogger) (Store, error) {
	db, err := dbm.NewDB(name, backend, dir)
	if err != nil {
		return nil, fmt.Errorf("kv: open cometbft db: %w", err)
	}
	s := &cometStore{db: db, log: logrus.StandardLogger()}
	applyLogger(s, opts...)
	return s, nil
}

func (s *cometStore) setLogger(l *logrus.Logger) { s.log = l }

func (s *cometStore) Begin() (Tx, error) {
	batch := s.db.NewBatch()
	return &cometTx{db: s.db, batch: batch, log: s.log}, nil
}

type cometTx struct {
	db      dbm.DB
	batch   dbm.Batch
	pending map[string][]byte
	deleted map[string]bool
	log     *logrus.Logger
}

func (t *cometTx) Get(key []byte, _ Sensitivity) ([]byte, error) {
	k := string(key)
	if t.deleted != nil && t.deleted[k] {
		return nil, ErrNotFound
	}
	if t.pending != nil {
		if v, ok := t.pending[k]; ok {
			return v, nil
		}
	}
	v, err := t.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("kv: get: %w", err)
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t *cometTx) Put(key, value []byte, _ Sensitivity) error {
	if t.pending == nil {
		t.pending = make(map[string][]byte)
	}
	if t.deleted != nil {
		delete(t.deleted, string(key))
	}
	t.pending[string(key)] = append([]byte(nil), value...)
	return t.batch.Set(key, value)
}

func (t *cometTx) Delete(key []byte) error {
	if t.pending != nil {
		delete(t.pending, string(key))
	}
	if t.deleted == nil {
		t.deleted = make(map[string]bool)
	}
	t.deleted[string(key)] = true
	return t.batch.Delete(key)
}

func (t *cometTx) Commit() error {
	if err := t.batch.WriteSync(); err != nil {
		return fmt.Errorf("kv: commit: %w", err)
	}
	return t.batch.Close()
}

func (t *cometTx) Rollback() error {
	return t.batch.Close()
}
