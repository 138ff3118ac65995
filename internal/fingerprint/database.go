package fingerprint

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "fingerprints"

// BoltCache implements Cache using BoltDB, so reference hashes survive restarts
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache opens (or creates) a BoltDB file at path
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltCache{db: db}, nil
}

// Get retrieves the record for path
func (b *BoltCache) Get(path string) (Record, bool, error) {
	var (
		record Record
		found  bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(path))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("reading fingerprint %s: %w", path, err)
	}
	return record, found, nil
}

// Put saves a record
func (b *BoltCache) Put(record Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling fingerprint: %w", err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(record.Path), data)
	})
}

// Len returns the number of stored records
func (b *BoltCache) Len() (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database
func (b *BoltCache) Close() error {
	return b.db.Close()
}
