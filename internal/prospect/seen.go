package prospect

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSeen = []byte("seen_places")

// SeenStore remembers which directory places were already imported for a
// campaign, so repeated searches never create duplicate leads.
type SeenStore struct {
	db *bolt.DB
}

// OpenSeenStore opens (or creates) the dedupe store
func OpenSeenStore(path string) (*SeenStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSeen)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &SeenStore{db: db}, nil
}

func seenKey(campaignID, placeID string) []byte {
	return []byte(campaignID + "/" + placeID)
}

// Seen reports whether the place was already imported for the campaign
func (s *SeenStore) Seen(campaignID, placeID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketSeen).Get(seenKey(campaignID, placeID)) != nil
		return nil
	})
	return found, err
}

// Mark records the place as imported for the campaign
func (s *SeenStore) Mark(campaignID, placeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSeen).Put(seenKey(campaignID, placeID), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

// Close closes the underlying database
func (s *SeenStore) Close() error {
	return s.db.Close()
}
