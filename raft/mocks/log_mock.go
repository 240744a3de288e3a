// Package mocks provides error-injecting test doubles for the
// raft.CommandLog, raft.PropertiesStore and raft.StateMachine
// collaborator interfaces, plus a call-tracking MetricsCollector.
//
// Adapted from the teacher's internal/raft/mocks package: same
// error-injection-field-per-method shape, generalized from the
// teacher's proto.LogEntry/storage.LogStorage pair onto the new
// raft.CommandLog/raft.PropertiesStore/raft.StateMachine contracts.
package mocks

import (
	"fmt"
	"iter"
	"sync"

	"raftcore/raft"
)

// MockCommandLog is a mock raft.CommandLog for server/storage tests
// that need to inject failures or inspect exactly what was appended.
type MockCommandLog struct {
	mu      sync.RWMutex
	entries map[raft.Index]raft.LogEntry
	cluster raft.ClusterConfig

	AppendCalls []raft.AppendRequest

	AppendError error
	CloseError  error
}

// NewMockCommandLog returns a mock seeded with the index-0 bootstrap
// entry for cluster, mirroring CommandLog mode 1 (§4.D).
func NewMockCommandLog(cluster raft.ClusterConfig) *MockCommandLog {
	boot := raft.Bootstrap(cluster)
	return &MockCommandLog{
		entries: map[raft.Index]raft.LogEntry{0: boot},
		cluster: cluster,
	}
}

func (m *MockCommandLog) Append(req raft.AppendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls = append(m.AppendCalls, req)
	if m.AppendError != nil {
		return m.AppendError
	}
	for _, e := range req.Entries {
		m.entries[e.Index] = e
		if e.Command.Kind == raft.CommandConfigure {
			m.cluster = e.Command.Cluster
		}
	}
	return nil
}

func (m *MockCommandLog) Slice(start raft.Index, end *raft.Index) iter.Seq2[raft.LogEntry, error] {
	return func(yield func(raft.LogEntry, error) bool) {
		m.mu.RLock()
		last := m.lastUnsafe()
		m.mu.RUnlock()

		stop := last.Index + 1
		if end != nil && *end < stop {
			stop = *end
		}
		for i := start; i < stop; i++ {
			m.mu.RLock()
			entry, ok := m.entries[i]
			m.mu.RUnlock()
			if !ok {
				if !yield(raft.LogEntry{}, fmt.Errorf("mock log: missing entry at index %d", i)) {
					return
				}
				continue
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (m *MockCommandLog) Last() raft.LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUnsafe()
}

func (m *MockCommandLog) lastUnsafe() raft.LogEntry {
	var max raft.Index
	found := false
	for idx := range m.entries {
		if !found || idx > max {
			max, found = idx, true
		}
	}
	return m.entries[max]
}

func (m *MockCommandLog) ClusterConfig() raft.ClusterConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cluster
}

func (m *MockCommandLog) Close() error { return m.CloseError }

var _ raft.CommandLog = (*MockCommandLog)(nil)
