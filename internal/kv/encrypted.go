package kv

import (
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

// encryptedStore persists SensitivityMax values in Postgres, encrypted at
// rest with ChaCha20-Poly1305, matching spec.md §4.1's requirement that
// Max-level values be encrypted. Modeled on the teacher's
// pkg/database.Client connection-pooled *sql.DB wrapper.
type encryptedStore struct {
	db    *sql.DB
	aead  cipher.AEAD
	table string
	log   *logrus.Logger
}

// NewEncryptedStore opens a Postgres-backed Store for Max-sensitivity
// values. key must be 32 bytes (ChaCha20-Poly1305's key size).
func NewEncryptedStore(dsn, table string, key []byte, opts ...WithLogger) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: open postgres: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("kv: init aead: %w", err)
	}
	s := &encryptedStore{db: db, aead: aead, table: table, log: logrus.StandardLogger()}
	applyLogger(s, opts...)
	return s, nil
}

func (s *encryptedStore) setLogger(l *logrus.Logger) { s.log = l }

func (s *encryptedStore) Begin() (Tx, error) {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("kv: begin postgres tx: %w", err)
	}
	return &encryptedTx{sqlTx: sqlTx, aead: s.aead, table: s.table}, nil
}

type encryptedTx struct {
	sqlTx *sql.Tx
	aead  cipher.AEAD
	table string
}

func (t *encryptedTx) Get(key []byte, sensitivity Sensitivity) ([]byte, error) {
	if sensitivity != SensitivityMax {
		return nil, errors.New("kv: encryptedStore only serves SensitivityMax keys")
	}
	var ciphertext []byte
	q := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", t.table)
	row := t.sqlTx.QueryRow(q, key)
	if err := row.Scan(&ciphertext); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv: query: %w", err)
	}
	if len(ciphertext) < chacha20poly1305.NonceSize {
		return nil, errors.New("kv: corrupt ciphertext")
	}
	nonce, sealed := ciphertext[:chacha20poly1305.NonceSize], ciphertext[chacha20poly1305.NonceSize:]
	plaintext, err := t.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: decrypt: %w", err)
	}
	return plaintext, nil
}

func (t *encryptedTx) Put(key, value []byte, sensitivity Sensitivity) error {
	if sensitivity != SensitivityMax {
		return errors.New("kv: encryptedStore only serves SensitivityMax keys")
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	ciphertext := t.aead.Seal(nonce, nonce, value, nil)
	q := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, t.table)
	_, err := t.sqlTx.Exec(q, key, ciphertext)
	return err
}

func (t *encryptedTx) Delete(key []byte) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE key = $1", t.table)
	_, err := t.sqlTx.Exec(q, key)
	return err
}

func (t *encryptedTx) Commit() error   { return t.sqlTx.Commit() }
func (t *encryptedTx) Rollback() error { return t.sqlTx.Rollback() }
