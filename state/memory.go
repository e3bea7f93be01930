// Package state provides key-value backends for the oracle engine. Values
// are rlp-encoded at the boundary so stored types stay independent of the
// backend in use.
package state

import (
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
)

// Memory is an in-process key-value store. It backs tests and
// single-process deployments that do not need durability.
type Memory struct {
	mu sync.RWMutex
	kv map[string][]byte
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{kv: make(map[string][]byte)}
}

// KVPut rlp-encodes the value and stores it under key.
func (m *Memory) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.kv[string(key)] = encoded
	m.mu.Unlock()
	return nil
}

// KVGet decodes the stored value into out. The boolean reports whether the
// key was present; a nil out only probes for existence.
func (m *Memory) KVGet(key []byte, out interface{}) (bool, error) {
	m.mu.RLock()
	encoded, ok := m.kv[string(key)]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}
