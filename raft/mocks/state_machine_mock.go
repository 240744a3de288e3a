package mocks

import (
	"sync"

	"raftcore/raft"
)

// MockStateMachine is a mock raft.StateMachine for server tests that
// want to observe exactly what got applied without a real kvfsm.
type MockStateMachine struct {
	mu           sync.Mutex
	commit       raft.Index
	Applied      []raft.LogEntry
	ExecuteCalls int

	ExecuteError error
	ShouldPanic  bool
}

func NewMockStateMachine() *MockStateMachine {
	return &MockStateMachine{}
}

func (m *MockStateMachine) CommitIndex() raft.Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit
}

func (m *MockStateMachine) Execute(entries []raft.LogEntry) error {
	if m.ShouldPanic {
		panic("mock state machine panic")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecuteCalls++
	if m.ExecuteError != nil {
		return m.ExecuteError
	}
	m.Applied = append(m.Applied, entries...)
	if len(entries) > 0 {
		m.commit = entries[len(entries)-1].Index
	}
	return nil
}

// AppliedLogs returns a copy of everything executed so far.
func (m *MockStateMachine) AppliedLogs() []raft.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]raft.LogEntry, len(m.Applied))
	copy(out, m.Applied)
	return out
}

func (m *MockStateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Applied = nil
	m.ExecuteCalls = 0
	m.commit = 0
}

var _ raft.StateMachine = (*MockStateMachine)(nil)
