package state

import (
	"bytes"
	"testing"

	"microescrow/storage"
	"microescrow/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewManager(tr)
}

type record struct {
	Owner  [20]byte
	Amount [16]byte
	State  uint8
}

func TestKVRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("escrow")

	ok, err := mgr.KVHas(key)
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if ok {
		t.Fatalf("expected empty key")
	}

	want := record{Owner: [20]byte{0x01}, Amount: [16]byte{15: 0x05}, State: 2}
	if err := mgr.KVPut(key, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got record
	ok, err = mgr.KVGet(key, &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || got != want {
		t.Fatalf("unexpected record %+v (found=%v)", got, ok)
	}

	if err := mgr.KVDelete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVHas(key); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected empty key error")
	}
	if _, err := mgr.KVGet([]byte{}, nil); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestInstanceStorageKeysAreScoped(t *testing.T) {
	a := [20]byte{0x01}
	b := [20]byte{0x02}
	if bytes.Equal(InstanceStorageKey(a, []byte("escrow")), InstanceStorageKey(b, []byte("escrow"))) {
		t.Fatalf("expected distinct keys per instance")
	}
	if bytes.Equal(ContractKey(a), NonceKey(a)) {
		t.Fatalf("expected distinct namespaces")
	}
	want := append([]byte("auth/nonce/"), a[:]...)
	if !bytes.Equal(NonceKey(a), want) {
		t.Fatalf("unexpected nonce key %x", NonceKey(a))
	}
}
