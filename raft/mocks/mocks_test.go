package mocks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raftcore/raft"
)

func TestMockCommandLogAppendAndSlice(t *testing.T) {
	cluster := raft.ClusterConfig{Peers: []raft.Peer{{ID: "a", Voting: true}}}
	log := NewMockCommandLog(cluster)

	err := log.Append(raft.AppendRequest{
		PrevIndex: 0, PrevTerm: 0, Term: 1,
		Entries: []raft.LogEntry{{Index: 1, Term: 1, Command: raft.Command{Kind: raft.CommandUser}}},
	})
	require.NoError(t, err)
	assert.Equal(t, raft.Index(1), log.Last().Index)
	assert.Len(t, log.AppendCalls, 1)

	var got []raft.LogEntry
	for entry, err := range log.Slice(0, nil) {
		require.NoError(t, err)
		got = append(got, entry)
	}
	assert.Len(t, got, 2)
}

func TestMockCommandLogAppendError(t *testing.T) {
	log := NewMockCommandLog(raft.ClusterConfig{})
	log.AppendError = errors.New("boom")
	assert.ErrorIs(t, log.Append(raft.AppendRequest{}), log.AppendError)
}

func TestMockPropertiesStoreWriteGetDelete(t *testing.T) {
	props := NewMockPropertiesStore()
	require.NoError(t, props.Write(map[string][]byte{"k": []byte("v")}))

	v, ok, err := props.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, props.Delete("k"))
	_, ok, err = props.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMockPropertiesStoreWriteNilDeletes(t *testing.T) {
	props := NewMockPropertiesStore()
	require.NoError(t, props.Write(map[string][]byte{"k": []byte("v")}))
	require.NoError(t, props.Write(map[string][]byte{"k": nil}))

	_, ok, err := props.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMockStateMachineExecuteTracksApplied(t *testing.T) {
	sm := NewMockStateMachine()
	err := sm.Execute([]raft.LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 1}})
	require.NoError(t, err)
	assert.Equal(t, raft.Index(2), sm.CommitIndex())
	assert.Equal(t, 1, sm.ExecuteCalls)
	assert.Len(t, sm.AppliedLogs(), 2)

	sm.Reset()
	assert.Equal(t, raft.Index(0), sm.CommitIndex())
	assert.Empty(t, sm.AppliedLogs())
}

func TestMockStateMachineExecuteError(t *testing.T) {
	sm := NewMockStateMachine()
	sm.ExecuteError = errors.New("apply failed")
	err := sm.Execute([]raft.LogEntry{{Index: 1}})
	assert.ErrorIs(t, err, sm.ExecuteError)
	assert.Empty(t, sm.AppliedLogs())
}

func TestMockMetricsCollectorRecordsCounters(t *testing.T) {
	m := NewMockMetricsCollector()
	m.RecordRequestVote()
	m.RecordAppendEntries()
	m.RecordHeartbeat()
	m.RecordElection()
	m.RecordCommandCommitted()
	m.RecordCommandLatency(0)
	m.RecordElectionDuration(0)

	assert.Equal(t, 1, m.RequestVote)
	assert.Equal(t, 1, m.AppendEntries)
	assert.Equal(t, 1, m.Heartbeat)
	assert.Equal(t, 1, m.Election)
	assert.Equal(t, 1, m.CommandsCommitted)
	assert.Len(t, m.CommandLatencies, 1)
	assert.Len(t, m.ElectionDurations, 1)

	m.Reset()
	assert.Zero(t, m.RequestVote)
}
