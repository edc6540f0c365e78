// Package bbolt persists client allocation records using bbolt (embedded
// B+ tree). One bucket maps client_id to a JSON allocation record. Writes are
// transactional — a crash mid-write cannot corrupt previously committed data.
// A restarted daemon replays these records to rebuild its tenant bindings.
package bbolt

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/corey/curserve/internal/ports"
)

var bucketAllocations = []byte("allocations")

// Store implements ports.AllocationStore backed by bbolt.
type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) a bbolt database at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAllocations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bbolt init: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAllocation records a client's allocation, overwriting any prior record.
func (s *Store) SaveAllocation(clientID string, rec *ports.AllocationRecord) error {
	if rec == nil {
		return fmt.Errorf("nil allocation record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal allocation: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllocations).Put([]byte(clientID), data)
	})
}

// LoadAllocations returns all persisted allocation records.
func (s *Store) LoadAllocations() (map[string]*ports.AllocationRecord, error) {
	out := make(map[string]*ports.AllocationRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllocations).ForEach(func(k, v []byte) error {
			var rec ports.AllocationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal allocation %s: %w", k, err)
			}
			out[string(k)] = &rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAllocation removes a client's record. Deleting an absent record is
// not an error.
func (s *Store) DeleteAllocation(clientID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllocations).Delete([]byte(clientID))
	})
}
