package artifact

import (
	"context"
	"sync"
)

// MemoryStore keeps encoded artifacts in a map. The whole object
// appears under its key in one step, preserving the all-or-nothing
// contract of the real store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// StoreRows encodes rows as CSV and stores the file under the
// course's prefix.
func (s *MemoryStore) StoreRows(_ context.Context, courseID, filename string, rows [][]string) error {
	data, err := EncodeCSV(rows)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[ObjectKey(courseID, filename)] = data
	s.mu.Unlock()
	return nil
}

// Get returns a stored artifact's bytes.
func (s *MemoryStore) Get(courseID, filename string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[ObjectKey(courseID, filename)]
	return data, ok
}

// List returns the stored object keys in no particular order.
func (s *MemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
