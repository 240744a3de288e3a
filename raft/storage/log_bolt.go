package storage

import (
	"fmt"
	"iter"
	"sync"

	"go.etcd.io/bbolt"

	"raftcore/raft"
	"raftcore/raft/codec"
)

var logBucketName = []byte("log")

// BoltLog is the durable CommandLog backend of Component D, built on
// the same bbolt.DB the teacher's storage/bbolt_storage.go uses, but
// generalized from a single LogStorage method set into the §4.D
// append algorithm (consistency check, pair-walk, truncation, cluster
// config cache).
type BoltLog struct {
	db *bbolt.DB
	sm raft.StateMachine

	mu    sync.RWMutex
	state logState
}

// NewBoltLog opens db's log bucket in one of the three modes of §4.D:
//
//   - Existing (mode 3) — the bucket already has entries; state is recovered
//     from the last_log_index / cluster_config_index cache keys, with
//     a self-healing rebuild if that cache doesn't check out.
//   - Fresh with bootstrap (mode 1) — bucket is empty and bootstrap != nil: a
//     single index-0 Configure entry is written.
//   - Fresh without bootstrap (mode 2) — bucket is empty and bootstrap == nil:
//     the log stays empty and rejects every Append until a snapshot
//     install (outside this package's scope) populates it.
func NewBoltLog(db *bbolt.DB, sm raft.StateMachine, bootstrap *raft.ClusterConfig) (*BoltLog, error) {
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(logBucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(propertiesBucketName)
		return err
	}); err != nil {
		return nil, fmt.Errorf("open command log: %w", err)
	}

	l := &BoltLog{db: db, sm: sm}

	lastIndexBytes, found, err := l.propertyGet(raft.PropLastIndex)
	if err != nil {
		return nil, fmt.Errorf("open command log: %w", err)
	}

	switch {
	case found:
		lastIndex, ok := decodeIndex(lastIndexBytes)
		if !ok {
			return nil, fmt.Errorf("open command log: malformed %s: %w", raft.PropLastIndex, raft.ErrInternal)
		}
		last, found, err := l.getEntry(raft.Index(lastIndex))
		if err != nil || !found {
			return nil, fmt.Errorf("open command log: missing entry at recorded last index %d: %w", lastIndex, raft.ErrInternal)
		}
		cfg, cfgIndex, err := l.recoverClusterConfig(last.Index)
		if err != nil {
			return nil, err
		}
		l.state = logState{bootstrapped: true, last: last, clusterConfig: cfg, clusterConfigIndex: cfgIndex}

	case bootstrap != nil:
		entry := raft.Bootstrap(*bootstrap)
		if err := l.writeEntry(entry, true); err != nil {
			return nil, fmt.Errorf("open command log: bootstrap: %w", err)
		}
		cfg := entry.Command.Cluster
		cfg.ConfigIndex = 0
		l.state = logState{bootstrapped: true, last: entry, clusterConfig: cfg, clusterConfigIndex: 0}

	default:
		l.state = logState{bootstrapped: false}
	}

	return l, nil
}

// recoverClusterConfig reads the cached cluster_config_index and
// verifies the entry there is actually a Configure entry. On mismatch
// (e.g. a truncation left the cache stale and no later Configure entry
// corrected it) it self-heals by scanning backward from lastIndex.
func (l *BoltLog) recoverClusterConfig(lastIndex raft.Index) (raft.ClusterConfig, raft.Index, error) {
	cfgIndexBytes, found, err := l.propertyGet(raft.PropClusterConfigIndex)
	if err == nil && found {
		if cfgIndex, ok := decodeIndex(cfgIndexBytes); ok && cfgIndex <= lastIndex {
			if entry, found, err := l.getEntry(cfgIndex); err == nil && found && entry.Command.Kind == raft.CommandConfigure {
				cfg := entry.Command.Cluster
				cfg.ConfigIndex = entry.Index
				return cfg, cfgIndex, nil
			}
		}
	}

	for idx := lastIndex; ; idx-- {
		entry, found, err := l.getEntry(idx)
		if err != nil {
			return raft.ClusterConfig{}, 0, fmt.Errorf("rebuild cluster config: %w", err)
		}
		if found && entry.Command.Kind == raft.CommandConfigure {
			cfg := entry.Command.Cluster
			cfg.ConfigIndex = entry.Index
			return cfg, entry.Index, nil
		}
		if idx == 0 {
			return raft.ClusterConfig{}, 0, fmt.Errorf("rebuild cluster config: no Configure entry found down to index 0: %w", raft.ErrInternal)
		}
	}
}

func (l *BoltLog) propertyGet(key string) ([]byte, bool, error) {
	var value []byte
	err := l.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(propertiesBucketName).Get(codec.PropertyKey(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, value != nil, err
}

func (l *BoltLog) getEntry(index raft.Index) (raft.LogEntry, bool, error) {
	var entry raft.LogEntry
	var found bool
	err := l.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(logBucketName).Get(codec.LogKey(uint64(index)))
		if v == nil {
			return nil
		}
		found = true
		var err error
		entry, err = decodeEntry(v)
		return err
	})
	if err != nil {
		return raft.LogEntry{}, false, fmt.Errorf("read entry %d: %w", index, err)
	}
	return entry, found, nil
}

func (l *BoltLog) writeEntry(entry raft.LogEntry, installsConfig bool) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		logBucket := tx.Bucket(logBucketName)
		propsBucket := tx.Bucket(propertiesBucketName)
		if err := logBucket.Put(codec.LogKey(uint64(entry.Index)), data); err != nil {
			return err
		}
		if err := propsBucket.Put(codec.PropertyKey(raft.PropLastIndex), encodeIndex(entry.Index)); err != nil {
			return err
		}
		if installsConfig {
			if err := propsBucket.Put(codec.PropertyKey(raft.PropClusterConfigIndex), encodeIndex(entry.Index)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BoltLog) persistClusterConfigIndex(index raft.Index) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(propertiesBucketName).Put(codec.PropertyKey(raft.PropClusterConfigIndex), encodeIndex(index))
	})
}

func (l *BoltLog) Append(req raft.AppendRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLocked(&l.state, l, l.sm.CommitIndex(), req)
}

// Slice reads the tail index under l.mu once, then relies on bbolt's
// MVCC snapshot isolation rather than l.mu: a long-running view
// transaction may coexist with concurrent Append calls, each seeing a
// consistent point-in-time log. Entries past Last().Index are never
// yielded, even if a truncation left them in the bucket.
func (l *BoltLog) Slice(start raft.Index, end *raft.Index) iter.Seq2[raft.LogEntry, error] {
	return func(yield func(raft.LogEntry, error) bool) {
		l.mu.RLock()
		stop := l.state.last.Index + 1
		l.mu.RUnlock()
		if end != nil && *end < stop {
			stop = *end
		}

		tx, err := l.db.Begin(false)
		if err != nil {
			yield(raft.LogEntry{}, fmt.Errorf("slice: begin read: %w", err))
			return
		}
		defer tx.Rollback()

		cur := tx.Bucket(logBucketName).Cursor()
		for k, v := cur.Seek(codec.LogKey(uint64(start))); k != nil; k, v = cur.Next() {
			idx, ok := codec.DecodeLogIndex(k)
			if !ok {
				break
			}
			if raft.Index(idx) >= stop {
				break
			}
			entry, err := decodeEntry(v)
			if err != nil {
				yield(raft.LogEntry{}, fmt.Errorf("slice: %w", err))
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (l *BoltLog) Last() raft.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.last
}

func (l *BoltLog) ClusterConfig() raft.ClusterConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.clusterConfig
}

// Close does not close the underlying *bbolt.DB: callers that share it
// with a BoltProperties instance must close it themselves once every
// store built on it has been discarded.
func (l *BoltLog) Close() error { return nil }

var _ raft.CommandLog = (*BoltLog)(nil)
var _ backend = (*BoltLog)(nil)
