package storage

import (
	"iter"
	"sync"

	"raftcore/raft"
)

// MemoryLog is Component E: the same CommandLog contract as BoltLog,
// implemented over a map keyed by index instead of bbolt. No fsync, no
// batches — every write is already atomic under mu, so writeEntry and
// persistClusterConfigIndex only ever mutate Go memory.
//
// Grounded in KChinnakotla-Distroo's in-memory log (dummy index-0
// entry, 1-based indexing) for the overall shape, sharing the §4.D
// algorithm in append.go with BoltLog.
type MemoryLog struct {
	sm raft.StateMachine

	mu      sync.RWMutex
	state   logState
	entries map[raft.Index]raft.LogEntry
}

func NewMemoryLog(sm raft.StateMachine, bootstrap *raft.ClusterConfig) *MemoryLog {
	l := &MemoryLog{sm: sm, entries: make(map[raft.Index]raft.LogEntry)}
	if bootstrap != nil {
		entry := raft.Bootstrap(*bootstrap)
		l.entries[0] = entry
		cfg := entry.Command.Cluster
		cfg.ConfigIndex = 0
		l.state = logState{bootstrapped: true, last: entry, clusterConfig: cfg, clusterConfigIndex: 0}
	}
	return l
}

func (l *MemoryLog) getEntry(index raft.Index) (raft.LogEntry, bool, error) {
	entry, ok := l.entries[index]
	return entry, ok, nil
}

func (l *MemoryLog) writeEntry(entry raft.LogEntry, installsConfig bool) error {
	l.entries[entry.Index] = entry
	return nil
}

func (l *MemoryLog) persistClusterConfigIndex(raft.Index) error { return nil }

func (l *MemoryLog) Append(req raft.AppendRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLocked(&l.state, l, l.sm.CommitIndex(), req)
}

func (l *MemoryLog) Slice(start raft.Index, end *raft.Index) iter.Seq2[raft.LogEntry, error] {
	l.mu.RLock()
	last := l.state.last.Index
	stop := last + 1
	if end != nil && *end < stop {
		stop = *end
	}
	var snapshot []raft.LogEntry
	for i := start; i < stop; i++ {
		if entry, ok := l.entries[i]; ok {
			snapshot = append(snapshot, entry)
		}
	}
	l.mu.RUnlock()

	return func(yield func(raft.LogEntry, error) bool) {
		for _, entry := range snapshot {
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (l *MemoryLog) Last() raft.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.last
}

func (l *MemoryLog) ClusterConfig() raft.ClusterConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.clusterConfig
}

func (l *MemoryLog) Close() error { return nil }

var _ raft.CommandLog = (*MemoryLog)(nil)
var _ backend = (*MemoryLog)(nil)
