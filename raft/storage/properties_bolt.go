package storage

import (
	"fmt"

	"go.etcd.io/bbolt"

	"raftcore/raft"
	"raftcore/raft/codec"
)

var propertiesBucketName = []byte("properties")

// BoltProperties is the durable half of Component C: currentTerm,
// votedFor and any other small properties the role machine needs to
// survive a restart, keyed through raft/codec so the keyspace can
// never collide with the command log's.
//
// Grounded in the teacher's storage/bbolt_storage.go metadataBucket /
// currentTermKey / votedForKey pattern, generalized to an arbitrary
// patch-of-keys store.
type BoltProperties struct {
	db *bbolt.DB
}

// OpenBoltProperties opens (creating if absent) the properties bucket
// on db. The caller owns db's lifecycle beyond Close, which only
// matters if this is the sole owner (see BoltLog, which shares a *bbolt.DB).
func OpenBoltProperties(db *bbolt.DB) (*BoltProperties, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(propertiesBucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open properties store: %w", err)
	}
	return &BoltProperties{db: db}, nil
}

func (p *BoltProperties) Write(patch map[string][]byte) error {
	err := p.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(propertiesBucketName)
		for key, value := range patch {
			if err := bucket.Put(codec.PropertyKey(key), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("properties write: %w", err)
	}
	return nil
}

func (p *BoltProperties) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(propertiesBucketName)
		if v := bucket.Get(codec.PropertyKey(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("properties get %q: %w", key, err)
	}
	return value, value != nil, nil
}

func (p *BoltProperties) Delete(key string) error {
	err := p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(propertiesBucketName).Delete(codec.PropertyKey(key))
	})
	if err != nil {
		return fmt.Errorf("properties delete %q: %w", key, err)
	}
	return nil
}

// Close is a no-op: BoltProperties does not own db's lifecycle, since
// it is typically shared with a BoltLog over the same file. Use db.Close
// directly once every store built on it has been discarded.
func (p *BoltProperties) Close() error { return nil }

var _ raft.PropertiesStore = (*BoltProperties)(nil)
