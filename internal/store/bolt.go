// Package store persists redacted payment records in BoltDB. Bolt keeps
// everything in a single file, so the service needs no external database
// process. Records hold only redacted payment data (last four, brand,
// token); the full PAN never reaches this package.
package store

import (
	"encoding/json"
	"errors"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/bookhaven/payments/internal/models"
)

const recordBucket = "payment_records"

// ErrNotFound is returned when a requested payment record does not exist.
var ErrNotFound = errors.New("payment record not found")

// Store wraps a BoltDB database and exposes operations for
// SecurePaymentRecord. Records are immutable after creation except for
// their status.
type Store struct {
	db *bolt.DB
}

// New opens (or creates) a BoltDB database at the given path and ensures
// the records bucket exists.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new payment record keyed by its ID.
func (s *Store) Create(record *models.SecurePaymentRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(recordBucket))

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.ID), data)
	})
}

// Get retrieves a single payment record by ID. Returns ErrNotFound if the
// key does not exist.
func (s *Store) Get(id string) (*models.SecurePaymentRecord, error) {
	var record models.SecurePaymentRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(recordBucket))
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &record)
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// List returns all stored payment records.
func (s *Store) List() ([]models.SecurePaymentRecord, error) {
	var records []models.SecurePaymentRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(recordBucket))
		return b.ForEach(func(k, v []byte) error {
			var record models.SecurePaymentRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Empty slice rather than nil so the JSON encoder emits [].
	if records == nil {
		records = []models.SecurePaymentRecord{}
	}
	return records, nil
}

// UpdateStatus transitions a record's status. Status is the only mutable
// field on a payment record; everything else is written once at creation.
func (s *Store) UpdateStatus(id, status string) (*models.SecurePaymentRecord, error) {
	var record models.SecurePaymentRecord

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(recordBucket))

		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(v, &record); err != nil {
			return err
		}

		if record.Status == status {
			// No-op transition, skip the write.
			return nil
		}
		record.Status = status

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}
