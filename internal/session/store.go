package session

import (
	"sync"

	"walletlink/go-client/internal/securestore"
)

// Store persists the session snapshot so a pending connect survives the
// process restart that the wallet redirect may cause.
type Store interface {
	Load() (Snapshot, bool, error)
	Save(Snapshot) error
	Clear() error
}

type MemoryStore struct {
	mu       sync.RWMutex
	snapshot *Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return Snapshot{}, false, nil
	}
	return *s.snapshot, true, nil
}

func (s *MemoryStore) Save(snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = &snapshot
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	return nil
}

// FileStore keeps the snapshot in a single file, sealed when a sealer is set.
type FileStore struct {
	mu     sync.Mutex
	path   string
	sealer *securestore.Sealer
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func NewEncryptedFileStore(path string, sealer *securestore.Sealer) *FileStore {
	return &FileStore{path: path, sealer: sealer}
}

func (s *FileStore) Load() (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snapshot Snapshot
	ok, err := securestore.ReadJSON(s.path, s.sealer, &snapshot)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func (s *FileStore) Save(snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return securestore.WriteJSON(s.path, s.sealer, snapshot)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return securestore.Remove(s.path)
}
