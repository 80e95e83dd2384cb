// Package kv implements the transactional, sensitivity-aware byte store
// (C1) that every other core component persists through. Mutations are
// always wrapped in Begin/Commit with Rollback on error, per spec.md §4.1.
package kv

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sensitivity tags the at-rest handling a value requires.
type Sensitivity int

const (
	// SensitivityNone requires no special handling.
	SensitivityNone Sensitivity = iota
	// SensitivityMin is low-sensitivity operational state.
	SensitivityMin
	// SensitivityMax must be encrypted at rest by the backing Store.
	SensitivityMax
)

// ErrNotFound is returned by Get when the key is absent. Callers that
// expect a missing key to mean "zero value" (see DN-5a) must check for
// this explicitly rather than treating every error as fatal.
var ErrNotFound = errors.New("kv: key not found")

// Tx is a single transaction's view of the store. Writes made within a Tx
// must be visible to subsequent reads within the same Tx, but no
// read-your-own-writes guarantee is required across transactions.
type Tx interface {
	Get(key []byte, sensitivity Sensitivity) ([]byte, error)
	Put(key, value []byte, sensitivity Sensitivity) error
	Delete(key []byte) error
	Commit() error
	Rollback() error
}

// Store begins transactions against the underlying byte-addressed store.
type Store interface {
	Begin() (Tx, error)
}

// WithLogger is a functional option accepted by every Store constructor in
// this package, matching the teacher's database.WithLogger pattern.
type WithLogger func(loggable)

type loggable interface {
	setLogger(*logrus.Logger)
}

func applyLogger(l loggable, opts ...WithLogger) {
	for _, opt := range opts {
		opt(l)
	}
}

// Logger sets the structured logger used by a Store.
func Logger(log *logrus.Logger) WithLogger {
	return func(l loggable) { l.setLogger(log) }
}

// Run executes fn inside a transaction, committing on success and rolling
// back on any error or panic — the shape every pipeline code path (C8) and
// state-machine mutation (C9, C10) uses to wrap its writes.
func Run(s Store, fn func(Tx) error) (err error) {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// memStore is an in-memory Store for tests, grounded in the teacher's own
// main.go MemoryKV.
type memStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	log    *logrus.Logger
}

// NewMemStore constructs an in-memory Store.
func NewMemStore(opts ...WithLogger) Store {
	s := &memStore{values: make(map[string][]byte), log: logrus.StandardLogger()}
	applyLogger(s, opts...)
	return s
}

func (s *memStore) setLogger(l *logrus.Logger) { s.log = l }

func (s *memStore) Begin() (Tx, error) {
	return &memTx{store: s, writes: make(map[string][]byte), deletes: make(map[string]bool)}, nil
}

type memTx struct {
	store   *memStore
	writes  map[string][]byte
	deletes map[string]bool
}

func (t *memTx) Get(key []byte, _ Sensitivity) ([]byte, error) {
	k := string(key)
	if t.deletes[k] {
		return nil, ErrNotFound
	}
	if v, ok := t.writes[k]; ok {
		return v, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	v, ok := t.store.values[k]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t *memTx) Put(key, value []byte, _ Sensitivity) error {
	k := string(key)
	delete(t.deletes, k)
	t.writes[k] = append([]byte(nil), value...)
	return nil
}

func (t *memTx) Delete(key []byte) error {
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = true
	return nil
}

func (t *memTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for k := range t.deletes {
		delete(t.store.values, k)
	}
	for k, v := range t.writes {
		t.store.values[k] = v
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.writes = nil
	t.deletes = nil
	return nil
}
