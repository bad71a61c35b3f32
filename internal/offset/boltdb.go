package offset

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const bucketName = "tail_positions"

// BoltDBStore implements Store using BoltDB.
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore opens (or creates) the positions database at dbPath.
func NewBoltDBStore(dbPath string) (*BoltDBStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A lock timeout usually means a previous agent instance is still
		// holding the file; the user has to stop it first.
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB position store initialized")

	return &BoltDBStore{db: db}, nil
}

// Get retrieves the saved position for a file, 0 if none is stored.
func (s *BoltDBStore) Get(ctx context.Context, filePath string) (uint64, error) {
	var position uint64

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(filePath))
		if val == nil {
			position = 0
			return nil
		}
		if len(val) < 8 {
			return fmt.Errorf("invalid position value")
		}

		position = binary.BigEndian.Uint64(val)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get position: %w", err)
	}

	return position, nil
}

// Set stores the position for a file.
func (s *BoltDBStore) Set(ctx context.Context, filePath string, position uint64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, position)
		return b.Put([]byte(filePath), val)
	})
	if err != nil {
		return fmt.Errorf("failed to set position: %w", err)
	}

	log.Debug().
		Str("file_path", filePath).
		Uint64("position", position).
		Msg("Position updated")

	return nil
}

// Delete removes the saved position for a file.
func (s *BoltDBStore) Delete(ctx context.Context, filePath string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(filePath))
	})
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}

	return nil
}

// List returns every stored position keyed by file path.
func (s *BoltDBStore) List(ctx context.Context) (map[string]uint64, error) {
	result := make(map[string]uint64)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			if len(v) >= 8 {
				result[string(k)] = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	return result, nil
}

// Close closes the BoltDB database.
func (s *BoltDBStore) Close() error {
	log.Info().Msg("Closing BoltDB position store")
	return s.db.Close()
}
