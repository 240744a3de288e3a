package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raftcore/raft"
)

func TestMemoryPropertiesWriteGetDelete(t *testing.T) {
	p := NewMemoryProperties()

	_, found, err := p.Get(raft.PropCurrentTerm)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, p.Write(map[string][]byte{
		raft.PropCurrentTerm: {0, 0, 0, 0, 0, 0, 0, 3},
		raft.PropVotedFor:    []byte("peer-a"),
	}))

	v, found, err := p.Get(raft.PropCurrentTerm)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 3}, v)

	require.NoError(t, p.Delete(raft.PropVotedFor))
	_, found, err = p.Get(raft.PropVotedFor)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltPropertiesWriteGetDelete(t *testing.T) {
	db := openTestDB(t)
	p, err := OpenBoltProperties(db)
	require.NoError(t, err)

	require.NoError(t, p.Write(map[string][]byte{raft.PropVotedFor: []byte("peer-b")}))
	v, found, err := p.Get(raft.PropVotedFor)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("peer-b"), v)

	require.NoError(t, p.Delete(raft.PropVotedFor))
	_, found, err = p.Get(raft.PropVotedFor)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltPropertiesSurvivesReopen(t *testing.T) {
	db := openTestDB(t)
	p, err := OpenBoltProperties(db)
	require.NoError(t, err)
	require.NoError(t, p.Write(map[string][]byte{raft.PropCurrentTerm: encodeIndex(7)}))

	reopened, err := OpenBoltProperties(db)
	require.NoError(t, err)
	v, found, err := reopened.Get(raft.PropCurrentTerm)
	require.NoError(t, err)
	require.True(t, found)
	idx, ok := decodeIndex(v)
	require.True(t, ok)
	assert.Equal(t, raft.Index(7), idx)
}
