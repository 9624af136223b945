// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/jmcleod/ironpass/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func (r *Repository) Put(recordType, recordID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[recordType]; !ok {
		r.data[recordType] = make(map[string][]byte)
	}
	r.data[recordType][recordID] = slices.Clone(data)
	return nil
}

func (r *Repository) Get(recordType, recordID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.data[recordType][recordID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return slices.Clone(data), nil
}

func (r *Repository) All(recordType string) ([]storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.sortedIDsLocked(recordType)
	records := make([]storage.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, storage.Record{ID: id, Data: slices.Clone(r.data[recordType][id])})
	}
	return records, nil
}

func (r *Repository) List(recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIDsLocked(recordType), nil
}

func (r *Repository) sortedIDsLocked(recordType string) []string {
	ids := make([]string, 0, len(r.data[recordType]))
	for id := range r.data[recordType] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Repository) Delete(recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[recordType][recordID]; !ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	delete(r.data[recordType], recordID)
	return nil
}
