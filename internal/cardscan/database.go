package cardscan

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const layoutsBucketName = "layouts"

// ErrLayoutNotFound is returned when no layout has the requested name
var ErrLayoutNotFound = errors.New("layout not found")

// DB defines the interface for layout storage
type DB interface {
	// SaveLayout creates or replaces a layout
	SaveLayout(layout *Layout) error

	// GetLayout retrieves a layout by name
	GetLayout(name string) (*Layout, error)

	// ListLayouts returns all layouts ordered by name
	ListLayouts() ([]*Layout, error)

	// DeleteLayout removes a layout
	DeleteLayout(name string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(layoutsBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveLayout creates or replaces a layout
func (b *BoltDB) SaveLayout(layout *Layout) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(layoutsBucketName))
		data, err := json.Marshal(layout)
		if err != nil {
			return fmt.Errorf("marshaling layout: %w", err)
		}
		return bucket.Put([]byte(layout.Name), data)
	})
}

// GetLayout retrieves a layout by name
func (b *BoltDB) GetLayout(name string) (*Layout, error) {
	var layout *Layout
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(layoutsBucketName))
		data := bucket.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrLayoutNotFound, name)
		}
		return json.Unmarshal(data, &layout)
	})
	if err != nil {
		return nil, err
	}
	return layout, nil
}

// ListLayouts returns all layouts. Bolt iterates keys in byte order, so the
// result is sorted by name.
func (b *BoltDB) ListLayouts() ([]*Layout, error) {
	layouts := make([]*Layout, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(layoutsBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var layout Layout
			if err := json.Unmarshal(v, &layout); err != nil {
				return fmt.Errorf("unmarshaling layout %s: %w", k, err)
			}
			layouts = append(layouts, &layout)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return layouts, nil
}

// DeleteLayout removes a layout
func (b *BoltDB) DeleteLayout(name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(layoutsBucketName))
		if bucket.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrLayoutNotFound, name)
		}
		return bucket.Delete([]byte(name))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
