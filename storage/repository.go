// Package storage provides the storage abstraction for offline vault
// containers written by the sync path and read by the decrypt path.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrReadOnly is returned by repositories opened for reading only.
	ErrReadOnly = errors.New("repository is read-only")
)

// Record is one stored blob and its identifier.
type Record struct {
	ID   string
	Data []byte
}

// Reader is the view the offline decrypt path gets: it can never mutate.
type Reader interface {
	Get(recordType string, recordID string) ([]byte, error)
	// All returns every record of the type ordered by ID.
	All(recordType string) ([]Record, error)
}

// Repository defines the interface for container storage.
type Repository interface {
	Reader
	Put(recordType string, recordID string, data []byte) error
	List(recordType string) ([]string, error)
	Delete(recordType string, recordID string) error
}
