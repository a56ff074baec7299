package storage

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const transfersBucket = "transfers"

// BoltStore persists transfer records in a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening transfer database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(transfersBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating transfers bucket: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenBoltStore",
		"path":     path,
	}).Debug("Opened transfer database")

	return &BoltStore{db: db}, nil
}

// Put inserts or replaces a record.
func (s *BoltStore) Put(rec *TransferRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encoding transfer record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(transfersBucket)).Put(rec.ID[:], data)
	})
}

// Get returns the record for id, or ErrNotFound.
func (s *BoltStore) Get(id uuid.UUID) (*TransferRecord, error) {
	var data []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(transfersBucket)).Get(id[:])
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if data == nil {
		return nil, ErrNotFound
	}
	return decodeRecord(data)
}

// Delete removes the record for id.
func (s *BoltStore) Delete(id uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(transfersBucket)).Delete(id[:])
	})
}

// List returns every stored record.
func (s *BoltStore) List() ([]*TransferRecord, error) {
	var out []*TransferRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(transfersBucket)).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
