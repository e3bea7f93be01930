package state

import "testing"

type record struct {
	Label string
	Count uint64
}

func TestMemoryRoundTrip(t *testing.T) {
	store := NewMemory()
	if err := store.KVPut([]byte("k"), record{Label: "a", Count: 3}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got record
	ok, err := store.KVGet([]byte("k"), &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || got.Label != "a" || got.Count != 3 {
		t.Fatalf("unexpected value: ok=%v %+v", ok, got)
	}
}

func TestMemoryMissingKey(t *testing.T) {
	store := NewMemory()
	var got record
	ok, err := store.KVGet([]byte("absent"), &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("missing key reported present")
	}
}

func TestMemoryExistenceProbe(t *testing.T) {
	store := NewMemory()
	if err := store.KVPut([]byte("k"), record{Label: "a"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := store.KVGet([]byte("k"), nil)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !ok {
		t.Fatalf("probe missed stored key")
	}
}
