// Package storage implements the persistence port: a keyed store with
// get/put/getAll and a single transactional replaceAll, instantiated once
// per record kind (identity, peers, requests, request states, chats,
// sessions, messages, reactions, attachments). Mutation clones the map,
// writes the clone's encrypted snapshot to disk, and only then swaps it
// in, so a crash mid-write never leaves the in-memory map and the
// on-disk file disagreeing with each other.
package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/crypto"
)

// KeyedStore is a generic in-memory, optionally encrypted-file-backed
// implementation of the persistence port's per-record-kind store. Every
// record kind needs only get/put/getAll/replaceAll, which this type
// provides uniformly rather than hand-duplicating the same copy-on-write
// bookkeeping once per store.
type KeyedStore[K comparable, V any] struct {
	mu      sync.RWMutex
	records map[K]V
	path    string
	secret  string
	persist bool
	keyOf   func(V) K
}

// NewKeyedStore returns a purely in-memory store (no encrypted file
// backing), suitable for the engine's tests and for in-process
// composition.
func NewKeyedStore[K comparable, V any](keyOf func(V) K) *KeyedStore[K, V] {
	return &KeyedStore[K, V]{records: make(map[K]V), keyOf: keyOf}
}

// NewEncryptedFileKeyedStore returns a store backed by an encrypted
// snapshot file at path, sealed under passphrase with the same
// PBKDF2/AES-GCM envelope used by the backup format.
// If the file does not exist yet, the store starts empty.
func NewEncryptedFileKeyedStore[K comparable, V any](path, passphrase string, keyOf func(V) K) (*KeyedStore[K, V], error) {
	s := &KeyedStore[K, V]{
		records: make(map[K]V),
		path:    path,
		secret:  passphrase,
		persist: true,
		keyOf:   keyOf,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KeyedStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	return v, ok
}

func (s *KeyedStore[K, V]) Put(record V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keyOf(record)
	next := cloneMap(s.records)
	next[key] = record
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

func (s *KeyedStore[K, V]) GetAll() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.records))
	for _, v := range s.records {
		out = append(out, v)
	}
	return out
}

// ReplaceAll atomically swaps the entire contents of the store, used only
// by restore.
func (s *KeyedStore[K, V]) ReplaceAll(snapshot map[K]V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneMap(snapshot)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

// Delete removes a single record by key. Nothing in this module calls
// it; restore goes through ReplaceAll.
func (s *KeyedStore[K, V]) Delete(key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return nil
	}
	next := cloneMap(s.records)
	delete(next, key)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

func (s *KeyedStore[K, V]) persistLocked(next map[K]V) error {
	if !s.persist {
		return nil
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}
	blob, err := crypto.EncryptWithPassphrase(payload, s.secret)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func (s *KeyedStore[K, V]) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var blob crypto.SealedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return err
	}
	payload, err := crypto.DecryptWithPassphrase(blob, s.secret)
	if err != nil {
		return err
	}
	var records map[K]V
	if err := json.Unmarshal(payload, &records); err != nil {
		return err
	}
	if records == nil {
		records = make(map[K]V)
	}
	s.records = records
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
