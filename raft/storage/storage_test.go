package storage

import (
	"sync/atomic"

	"raftcore/raft"
)

// testStateMachine is a minimal raft.StateMachine stub for exercising
// the commit-index guard in appendLocked without pulling in a real FSM.
type testStateMachine struct {
	commitIndex atomic.Uint64
	applied     []raft.LogEntry
}

func (sm *testStateMachine) CommitIndex() raft.Index {
	return raft.Index(sm.commitIndex.Load())
}

func (sm *testStateMachine) Execute(entries []raft.LogEntry) error {
	sm.applied = append(sm.applied, entries...)
	if len(entries) > 0 {
		sm.commitIndex.Store(uint64(entries[len(entries)-1].Index))
	}
	return nil
}

func threeServerConfig() raft.ClusterConfig {
	return raft.ClusterConfig{Peers: []raft.Peer{
		{ID: "a", Address: "a:1", Voting: true},
		{ID: "b", Address: "b:1", Voting: true},
		{ID: "c", Address: "c:1", Voting: true},
	}}
}
