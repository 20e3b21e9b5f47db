// Package artifact stores uploaded source documents for the lifetime of
// their scan session. Blobs live in a single bbolt file keyed by session id
// and are deleted when the session reaches a terminal state.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "artifacts"

// ErrNotFound is returned when no artifact exists under the key.
var ErrNotFound = errors.New("artifact not found")

type record struct {
	MediaType string    `json:"media_type"`
	Data      []byte    `json:"data"`
	SavedAt   time.Time `json:"saved_at"`
}

// BoltStore persists artifacts in a bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the artifact database at path.
func NewBoltStore(path string) (*BoltStore, error) {
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
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Save stores a document under the session's key
func (s *BoltStore) Save(key string, mediaType string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		encoded, err := json.Marshal(record{
			MediaType: mediaType,
			Data:      data,
			SavedAt:   time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("marshaling artifact: %w", err)
		}
		return bucket.Put([]byte(key), encoded)
	})
}

// Get retrieves the document and its media type
func (s *BoltStore) Get(key string) ([]byte, string, error) {
	var rec record
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, "", err
	}
	return rec.Data, rec.MediaType, nil
}

// Delete removes the document
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// Close closes the underlying database
func (s *BoltStore) Close() error {
	return s.db.Close()
}
