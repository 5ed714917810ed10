package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustRecordTransfer(t *testing.T, store *Store, transfer Transfer) string {
	t.Helper()

	id, err := store.RecordTransfer(transfer)
	if err != nil {
		t.Fatalf("record transfer %q: %v", transfer.Filename, err)
	}
	return id
}
