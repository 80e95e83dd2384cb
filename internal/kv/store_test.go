package kv

import "testing"

func TestMemStoreRunCommitsOnSuccess(t *testing.T) {
	s := NewMemStore()
	err := Run(s, func(tx Tx) error {
		return tx.Put([]byte("k"), []byte("v"), SensitivityNone)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	err = Run(s, func(tx Tx) error {
		v, getErr := tx.Get([]byte("k"), SensitivityNone)
		if getErr != nil {
			t.Fatalf("Get: %v", getErr)
		}
		if string(v) != "v" {
			t.Fatalf("got %q, want %q", v, "v")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestMemStoreRunRollsBackOnError(t *testing.T) {
	s := NewMemStore()
	wantErr := ErrNotFound
	err := Run(s, func(tx Tx) error {
		if putErr := tx.Put([]byte("k"), []byte("v"), SensitivityNone); putErr != nil {
			return putErr
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("got err %v, want %v", err, wantErr)
	}

	err = Run(s, func(tx Tx) error {
		_, getErr := tx.Get([]byte("k"), SensitivityNone)
		if getErr != ErrNotFound {
			t.Fatalf("expected rolled-back write to be absent, got %v", getErr)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSplitStoreRoutesBySensitivity(t *testing.T) {
	base := NewMemStore()
	max := NewMemStore()
	s := NewSplitStore(base, max)

	err := Run(s, func(tx Tx) error {
		if err := tx.Put([]byte("k"), []byte("plain"), SensitivityMin); err != nil {
			return err
		}
		return tx.Put([]byte("k"), []byte("secret"), SensitivityMax)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	err = Run(base, func(tx Tx) error {
		v, getErr := tx.Get([]byte("k"), SensitivityMin)
		if getErr != nil {
			return getErr
		}
		if string(v) != "plain" {
			t.Fatalf("got base value %q, want %q", v, "plain")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run(base): %v", err)
	}

	err = Run(max, func(tx Tx) error {
		v, getErr := tx.Get([]byte("k"), SensitivityMax)
		if getErr != nil {
			return getErr
		}
		if string(v) != "secret" {
			t.Fatalf("got max value %q, want %q", v, "secret")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run(max): %v", err)
	}

	err = Run(s, func(tx Tx) error {
		v, getErr := tx.Get([]byte("k"), SensitivityMax)
		if getErr != nil {
			return getErr
		}
		if string(v) != "secret" {
			t.Fatalf("got %q through split store, want %q", v, "secret")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestMemStoreReadYourOwnWritesWithinTx(t *testing.T) {
	s := NewMemStore()
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Put([]byte("a"), []byte("1"), SensitivityMin); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := tx.Get([]byte("a"), SensitivityMin)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("got %q, want %q", v, "1")
	}
	if err := tx.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tx.Get([]byte("a"), SensitivityMin); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	_ = tx.Rollback()
}
