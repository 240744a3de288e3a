package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raftcore/raft"
	"raftcore/raft/storage"
	"raftcore/raft/transport"
)

// nodeHandle lets a Bus be wired to a Node before the Node exists:
// NewMemoryBus needs a Handler immediately, but the Node it will
// eventually delegate to is only constructed afterward.
type nodeHandle struct {
	node *Node
}

func (h *nodeHandle) RequestVote(req raft.RequestVoteReq) (raft.RequestVoteResp, error) {
	return h.node.RequestVote(req)
}

func (h *nodeHandle) AppendEntries(req raft.AppendEntriesReq) (raft.AppendEntriesResp, error) {
	return h.node.AppendEntries(req)
}

func (h *nodeHandle) ClientRequest(req raft.ClientRequest) raft.ClientResponse {
	return h.node.ClientRequest(req)
}

type testSM struct {
	mu      sync.Mutex
	commit  raft.Index
	applied []raft.LogEntry
}

func (sm *testSM) CommitIndex() raft.Index {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.commit
}

func (sm *testSM) Execute(entries []raft.LogEntry) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.applied = append(sm.applied, entries...)
	sm.commit = entries[len(entries)-1].Index
	return nil
}

func (sm *testSM) appliedCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.applied)
}

func threeNodeCluster() raft.ClusterConfig {
	return raft.ClusterConfig{Peers: []raft.Peer{
		{ID: "a", Voting: true},
		{ID: "b", Voting: true},
		{ID: "c", Voting: true},
	}}
}

type testCluster struct {
	nodes map[raft.PeerID]*Node
	sms   map[raft.PeerID]*testSM
}

func newTestCluster(t *testing.T, ids []raft.PeerID, cluster raft.ClusterConfig) *testCluster {
	t.Helper()
	reg := transport.NewMemoryRegistry()
	tc := &testCluster{nodes: make(map[raft.PeerID]*Node), sms: make(map[raft.PeerID]*testSM)}

	for _, id := range ids {
		sm := &testSM{}
		log := storage.NewMemoryLog(sm, &cluster)
		props := storage.NewMemoryProperties()
		handle := &nodeHandle{}
		bus := transport.NewMemoryBus(reg, id, handle, 0)

		node, err := NewNode(Config{
			ID:      id,
			Log:     log,
			Props:   props,
			SM:      sm,
			Bus:     bus,
			TickMin: 3,
			TickMax: 6,
		})
		require.NoError(t, err)
		handle.node = node

		tc.nodes[id] = node
		tc.sms[id] = sm
	}
	return tc
}

func (tc *testCluster) leader(t *testing.T) *Node {
	t.Helper()
	var found *Node
	for _, n := range tc.nodes {
		if n.Role() == Leader {
			require.Nil(t, found, "more than one leader")
			found = n
		}
	}
	return found
}

func electLeader(t *testing.T, tc *testCluster, candidate raft.PeerID) *Node {
	t.Helper()
	n := tc.nodes[candidate]
	for i := 0; i < 8; i++ {
		n.Tick()
	}
	require.Eventually(t, func() bool { return n.Role() == Leader }, time.Second, 5*time.Millisecond)
	return n
}

func TestNodeStartsAsFollower(t *testing.T) {
	tc := newTestCluster(t, []raft.PeerID{"a", "b", "c"}, threeNodeCluster())
	assert.Equal(t, Follower, tc.nodes["a"].Role())
}

func TestNodeElectsLeaderOnTickerExpiry(t *testing.T) {
	tc := newTestCluster(t, []raft.PeerID{"a", "b", "c"}, threeNodeCluster())
	leader := electLeader(t, tc, "a")
	assert.Equal(t, raft.PeerID("a"), func() raft.PeerID {
		id, _ := leader.LeaderID()
		return id
	}())

	for id, n := range tc.nodes {
		if id == "a" {
			continue
		}
		assert.Eventually(t, func() bool { return n.Role() == Follower }, time.Second, 5*time.Millisecond)
	}
}

func TestNodeClientRequestCommitsAndApplies(t *testing.T) {
	tc := newTestCluster(t, []raft.PeerID{"a", "b", "c"}, threeNodeCluster())
	leaderNode := electLeader(t, tc, "a")

	respCh := make(chan raft.ClientResponse, 1)
	go func() {
		respCh <- leaderNode.ClientRequest(raft.ClientRequest{
			Command: raft.Command{Kind: raft.CommandUser, User: []byte("hello")},
		})
	}()

	select {
	case resp := <-respCh:
		assert.True(t, resp.Success)
		assert.Equal(t, raft.PeerID("a"), resp.LeaderID)
		assert.Equal(t, raft.Index(1), resp.EntryIndex)
	case <-time.After(2 * time.Second):
		t.Fatal("client request never committed")
	}

	assert.Eventually(t, func() bool { return tc.sms["a"].appliedCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNodeClientRequestFailsOnFollower(t *testing.T) {
	tc := newTestCluster(t, []raft.PeerID{"a", "b", "c"}, threeNodeCluster())
	follower := tc.nodes["b"]

	respCh := make(chan raft.ClientResponse, 1)
	go func() {
		respCh <- follower.ClientRequest(raft.ClientRequest{Command: raft.Command{Kind: raft.CommandUser}})
	}()

	select {
	case resp := <-respCh:
		assert.False(t, resp.Success)
	case <-time.After(time.Second):
		t.Fatal("expected immediate rejection on a non-leader")
	}
}

func TestRequestVoteRejectsStaleTerm(t *testing.T) {
	tc := newTestCluster(t, []raft.PeerID{"a"}, raft.ClusterConfig{Peers: []raft.Peer{{ID: "a", Voting: true}}})
	n := tc.nodes["a"]
	electLeader(t, tc, "a") // bumps currentTerm to 1

	resp, err := n.RequestVote(raft.RequestVoteReq{Term: 0, CandidateID: "ghost"})
	require.NoError(t, err)
	assert.False(t, resp.VoteGranted)
	assert.Equal(t, raft.Term(1), resp.Term)
}

func TestRequestVoteGrantsOnceThenRefusesDifferentCandidate(t *testing.T) {
	tc := newTestCluster(t, []raft.PeerID{"a"}, raft.ClusterConfig{Peers: []raft.Peer{{ID: "a", Voting: true}}})
	n := tc.nodes["a"]

	resp1, err := n.RequestVote(raft.RequestVoteReq{Term: 5, CandidateID: "x", LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	assert.True(t, resp1.VoteGranted)

	resp2, err := n.RequestVote(raft.RequestVoteReq{Term: 5, CandidateID: "y", LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	assert.False(t, resp2.VoteGranted)

	resp3, err := n.RequestVote(raft.RequestVoteReq{Term: 5, CandidateID: "x", LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	assert.True(t, resp3.VoteGranted, "re-requesting the same candidate in the same term reaffirms the vote")
}

func TestAppendEntriesStepsDownCandidate(t *testing.T) {
	tc := newTestCluster(t, []raft.PeerID{"a"}, raft.ClusterConfig{Peers: []raft.Peer{{ID: "a", Voting: true}, {ID: "b", Voting: true}}})
	n := tc.nodes["a"]
	n.mailbox.call(func(done func()) {
		n.startElection()
		done()
	})
	require.Equal(t, Candidate, n.Role())

	resp, err := n.AppendEntries(raft.AppendEntriesReq{Term: 9, LeaderID: "b", PrevLogIndex: 0, PrevLogTerm: 0})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, Follower, n.Role())
	leaderID, ok := n.LeaderID()
	assert.True(t, ok)
	assert.Equal(t, raft.PeerID("b"), leaderID)
}

func TestAppendEntriesRejectsOlderTerm(t *testing.T) {
	tc := newTestCluster(t, []raft.PeerID{"a"}, raft.ClusterConfig{Peers: []raft.Peer{{ID: "a", Voting: true}}})
	n := tc.nodes["a"]
	electLeader(t, tc, "a") // currentTerm becomes 1

	resp, err := n.AppendEntries(raft.AppendEntriesReq{Term: 0, LeaderID: "ghost"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, raft.Term(1), resp.Term)
}

// A non-voting peer never counts toward a majority, but it must still
// receive and apply replicated entries.
func TestNonVotingPeerStillReceivesAppendEntries(t *testing.T) {
	cluster := raft.ClusterConfig{Peers: []raft.Peer{
		{ID: "a", Voting: true},
		{ID: "b", Voting: true},
		{ID: "c", Voting: false},
	}}
	tc := newTestCluster(t, []raft.PeerID{"a", "b", "c"}, cluster)
	leaderNode := electLeader(t, tc, "a")

	respCh := make(chan raft.ClientResponse, 1)
	go func() {
		respCh <- leaderNode.ClientRequest(raft.ClientRequest{
			Command: raft.Command{Kind: raft.CommandUser, User: []byte("foo")},
		})
	}()

	select {
	case resp := <-respCh:
		assert.True(t, resp.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("client request never committed")
	}

	// Followers learn the new commit index from the leader's next
	// AppendEntries, so keep the leader's heartbeats going.
	assert.Eventually(t, func() bool {
		leaderNode.Tick()
		return tc.sms["c"].appliedCount() == 1
	}, time.Second, 5*time.Millisecond)
}
