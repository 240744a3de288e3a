package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raftcore/raft"
)

type stubHandler struct {
	mu               sync.Mutex
	requestVoteCalls int
	grant            bool
	term             raft.Term
	gate             chan struct{}
}

func (h *stubHandler) RequestVote(req raft.RequestVoteReq) (raft.RequestVoteResp, error) {
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	h.requestVoteCalls++
	h.mu.Unlock()
	return raft.RequestVoteResp{Term: h.term, VoteGranted: h.grant}, nil
}

func (h *stubHandler) AppendEntries(req raft.AppendEntriesReq) (raft.AppendEntriesResp, error) {
	return raft.AppendEntriesResp{Term: h.term, Success: true}, nil
}

func (h *stubHandler) ClientRequest(req raft.ClientRequest) raft.ClientResponse {
	return raft.ClientResponse{Success: true}
}

func TestMemoryBusDeliversRequestVote(t *testing.T) {
	reg := NewMemoryRegistry()
	follower := &stubHandler{grant: true, term: 3}
	NewMemoryBus(reg, "follower", follower, 0)
	candidateBus := NewMemoryBus(reg, "candidate", &stubHandler{}, 0)

	respCh := make(chan raft.RequestVoteResp, 1)
	candidateBus.Send("follower", &raft.RequestVoteReq{Term: 3, CandidateID: "candidate"}, func(resp any, err error) {
		require.NoError(t, err)
		respCh <- *resp.(*raft.RequestVoteResp)
	})

	select {
	case resp := <-respCh:
		assert.True(t, resp.VoteGranted)
		assert.Equal(t, raft.Term(3), resp.Term)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestMemoryBusUnknownPeerErrors(t *testing.T) {
	reg := NewMemoryRegistry()
	bus := NewMemoryBus(reg, "solo", &stubHandler{}, 0)

	errCh := make(chan error, 1)
	bus.Send("ghost", &raft.RequestVoteReq{}, func(resp any, err error) {
		errCh <- err
	})

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrUnknownPeer)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestMemoryBusCancelSuppressesResponse(t *testing.T) {
	reg := NewMemoryRegistry()
	gate := make(chan struct{})
	NewMemoryBus(reg, "follower", &stubHandler{grant: true, gate: gate}, 0)
	candidateBus := NewMemoryBus(reg, "candidate", &stubHandler{}, 0)

	called := make(chan struct{}, 1)
	id := candidateBus.Send("follower", &raft.RequestVoteReq{}, func(resp any, err error) {
		called <- struct{}{}
	})
	// The follower's handler is blocked on gate, so the response cannot
	// have been delivered yet — Cancel is guaranteed to win the race.
	candidateBus.Cancel(id)
	close(gate)

	select {
	case <-called:
		t.Fatal("onResponse should have been suppressed by Cancel")
	case <-time.After(100 * time.Millisecond):
	}
}
