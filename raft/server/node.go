package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"raftcore/raft"
	"raftcore/raft/notify"
	"raftcore/raft/transport"
)

// Node is Component F: the Raft role machine. Every field below this
// comment that is not snap, bus, log, props, sm, ticker, mailbox,
// metrics or events is confined to the mailbox goroutine — only jobs
// submitted through mailbox may read or write them. This is the
// single-threaded cooperative model §5 requires, generalized from the
// teacher's serverState (a RWMutex per field) into run-to-completion
// closures, since §5 asks for one task at a time rather than
// fine-grained locking.
type Node struct {
	id raft.PeerID

	log   raft.CommandLog
	props raft.PropertiesStore
	sm    raft.StateMachine
	bus   transport.Bus

	mailbox *mailbox
	ticker  *Ticker
	snap    snapshot

	metrics MetricsCollector
	events  *notify.Notifier

	tickMin int

	// --- mailbox-confined below ---

	role        Role
	currentTerm raft.Term
	votedFor    *raft.PeerID
	leaderID    *raft.PeerID

	grantedVotes map[raft.PeerID]struct{}
	nextIndex    map[raft.PeerID]raft.Index

	outstanding map[transport.MessageID]struct{}
	pendingReqs map[raft.Index][]pendingClient

	electionStart time.Time

	closed bool
}

type pendingClient struct {
	term raft.Term
	ch   chan raft.ClientResponse
}

// Config bundles the dependencies wired into a Node. Bus, Log, and
// Props are required; Metrics and Events are optional observability
// hooks (§12 Supplemented Features) a nil value disables.
type Config struct {
	ID      raft.PeerID
	Log     raft.CommandLog
	Props   raft.PropertiesStore
	SM      raft.StateMachine
	Bus     transport.Bus
	Metrics MetricsCollector
	Events  *notify.Notifier

	// TickMin/TickMax bound the non-leader election countdown in
	// ticks (§4.F Ticker); TickMin-1 (floor 1) is the leader's
	// heartbeat interval.
	TickMin, TickMax int
}

// NewNode constructs a Node from cfg, restoring currentTerm/votedFor
// from Props and starting the mailbox goroutine. The node begins as a
// Follower regardless of what it was when last shut down (§4.F
// Startup -> Follower).
func NewNode(cfg Config) (*Node, error) {
	if cfg.TickMin <= 0 {
		cfg.TickMin = 10
	}
	if cfg.TickMax <= cfg.TickMin {
		cfg.TickMax = cfg.TickMin * 2
	}

	n := &Node{
		id:           cfg.ID,
		log:          cfg.Log,
		props:        cfg.Props,
		sm:           cfg.SM,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
		events:       cfg.Events,
		tickMin:      cfg.TickMin,
		mailbox:      newMailbox(),
		ticker:       NewTicker(cfg.TickMin, cfg.TickMax),
		role:         Follower,
		grantedVotes: make(map[raft.PeerID]struct{}),
		nextIndex:    make(map[raft.PeerID]raft.Index),
		outstanding:  make(map[transport.MessageID]struct{}),
		pendingReqs:  make(map[raft.Index][]pendingClient),
	}

	if termBytes, found, err := cfg.Props.Get(raft.PropCurrentTerm); err != nil {
		return nil, fmt.Errorf("node init: %w", err)
	} else if found {
		n.currentTerm = raft.Term(decodeTerm(termBytes))
	}
	if votedForBytes, found, err := cfg.Props.Get(raft.PropVotedFor); err != nil {
		return nil, fmt.Errorf("node init: %w", err)
	} else if found && len(votedForBytes) > 0 {
		v := raft.PeerID(votedForBytes)
		n.votedFor = &v
	}

	n.publishSnapshot()
	go n.mailbox.run()
	return n, nil
}

func decodeTerm(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func encodeTerm(t raft.Term) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t))
	return b
}

// Close stops the mailbox goroutine and fails every client request
// still waiting on commit. It does not close Log/Props/Bus — callers
// that share them with other components must close them separately.
func (n *Node) Close() error {
	n.mailbox.call(func(done func()) {
		n.closed = true
		n.failPending(n.pendingReqs)
		n.pendingReqs = make(map[raft.Index][]pendingClient)
		n.cancelOutstanding()
		done()
	})
	n.mailbox.close()
	return nil
}

// Role, LeaderID, CurrentTerm are lock-free reads of the last
// published snapshot — safe to call from any goroutine, including
// from inside a metrics scrape or a test assertion, without going
// through the mailbox.
func (n *Node) Role() Role            { return n.snap.get().role }
func (n *Node) CurrentTerm() raft.Term { return raft.Term(n.snap.get().currentTerm) }
func (n *Node) LeaderID() (raft.PeerID, bool) {
	s := n.snap.get()
	return raft.PeerID(s.leaderID), s.leaderID != ""
}

func (n *Node) publishSnapshot() {
	var leader, votedFor string
	if n.leaderID != nil {
		leader = string(*n.leaderID)
	}
	if n.votedFor != nil {
		votedFor = string(*n.votedFor)
	}
	n.snap.publish(nodeSnapshot{
		role:        n.role,
		currentTerm: uint64(n.currentTerm),
		leaderID:    leader,
		votedFor:    votedFor,
	})
}

func (n *Node) persistTermVote() error {
	patch := map[string][]byte{raft.PropCurrentTerm: encodeTerm(n.currentTerm)}
	if n.votedFor != nil {
		patch[raft.PropVotedFor] = []byte(*n.votedFor)
	} else {
		patch[raft.PropVotedFor] = nil
	}
	return n.props.Write(patch)
}

// Tick drives the Ticker by one step (§4.F Ticker). The caller is
// expected to invoke this on a fixed wall-clock interval (e.g. via
// time.Ticker); Node does not schedule its own timer, so tests can
// drive elections deterministically tick by tick.
func (n *Node) Tick() {
	n.mailbox.submit(func() {
		if n.closed || !n.ticker.Tick() {
			return
		}
		if n.role == Leader {
			n.ticker.ResetLeader()
			if n.metrics != nil {
				n.metrics.RecordHeartbeat()
			}
			n.broadcastAppend()
		} else {
			n.startElection()
		}
	})
}

// setRole centralizes every role transition: cancel outstanding
// messages (§4.F "on entering any role"), fail pending client waiters
// that can no longer be satisfied by this node, publish the
// RoleChanged event, and refresh the external snapshot.
func (n *Node) setRole(to Role, leader *raft.PeerID) {
	from := n.role
	n.cancelOutstanding()
	if to != Leader {
		n.failPending(n.pendingReqs)
		n.pendingReqs = make(map[raft.Index][]pendingClient)
	}
	n.role = to
	n.leaderID = leader
	n.publishSnapshot()
	if n.events != nil && from != to {
		notify.Notify(n.events, notify.NewNotification(RoleChanged, RoleChangedPayload{From: from, To: to, Term: uint64(n.currentTerm)}))
	}
}

func (n *Node) becomeFollower(term raft.Term, leader *raft.PeerID) {
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = nil
		_ = n.persistTermVote()
	}
	n.ticker.ResetNonLeader()
	n.setRole(Follower, leader)
}

func (n *Node) startElection() {
	n.currentTerm++
	self := n.id
	n.votedFor = &self
	if err := n.persistTermVote(); err != nil {
		return
	}
	n.ticker.ResetNonLeader()
	n.grantedVotes = map[raft.PeerID]struct{}{n.id: {}}
	n.electionStart = time.Now()
	n.setRole(Candidate, nil)

	if n.metrics != nil {
		n.metrics.RecordElection()
	}

	cluster := n.log.ClusterConfig()
	last := n.log.Last()
	term := n.currentTerm

	if n.hasMajority(cluster, n.grantedVotes) {
		n.becomeLeader()
		return
	}

	for _, peer := range cluster.VotingIDs() {
		if peer == n.id {
			continue
		}
		peer := peer
		req := &raft.RequestVoteReq{
			Term:         term,
			CandidateID:  n.id,
			LastLogIndex: last.Index,
			LastLogTerm:  last.Term,
		}
		id := n.bus.Send(peer, req, func(resp any, err error) {
			n.mailbox.submit(func() { n.handleVoteResponse(peer, term, resp, err) })
		})
		n.outstanding[id] = struct{}{}
	}
}

func (n *Node) handleVoteResponse(peer raft.PeerID, sentTerm raft.Term, resp any, err error) {
	if n.closed || n.role != Candidate || sentTerm != n.currentTerm {
		return
	}
	if err != nil {
		return
	}
	voteResp, ok := resp.(*raft.RequestVoteResp)
	if !ok {
		return
	}
	if voteResp.Term > n.currentTerm {
		n.becomeFollower(voteResp.Term, nil)
		return
	}
	if !voteResp.VoteGranted {
		return
	}
	n.grantedVotes[peer] = struct{}{}
	if n.hasMajority(n.log.ClusterConfig(), n.grantedVotes) {
		n.becomeLeader()
	}
}

func (n *Node) hasMajority(cluster raft.ClusterConfig, votes map[raft.PeerID]struct{}) bool {
	count := 0
	for _, id := range cluster.VotingIDs() {
		if _, ok := votes[id]; ok {
			count++
		}
	}
	return count >= cluster.Majority()
}

func (n *Node) becomeLeader() {
	self := n.id
	if n.metrics != nil && !n.electionStart.IsZero() {
		n.metrics.RecordElectionDuration(time.Since(n.electionStart))
		n.electionStart = time.Time{}
	}
	n.ticker.ResetLeader()
	n.nextIndex = make(map[raft.PeerID]raft.Index)
	next := n.log.Last().Index + 1
	for _, peer := range n.log.ClusterConfig().AllIDs() {
		if peer != n.id {
			n.nextIndex[peer] = next
		}
	}
	n.setRole(Leader, &self)
	n.broadcastAppend()
}

// RequestVote handles an incoming RequestVote RPC, serialized through
// the mailbox per §5. Implements §4.F's five-step algorithm.
func (n *Node) RequestVote(req raft.RequestVoteReq) (raft.RequestVoteResp, error) {
	var resp raft.RequestVoteResp
	var callErr error
	n.mailbox.call(func(done func()) {
		resp, callErr = n.handleRequestVote(req)
		done()
	})
	return resp, callErr
}

func (n *Node) handleRequestVote(req raft.RequestVoteReq) (raft.RequestVoteResp, error) {
	if n.metrics != nil {
		n.metrics.RecordRequestVote()
	}

	if req.Term < n.currentTerm {
		return raft.RequestVoteResp{Term: n.currentTerm, VoteGranted: false}, nil
	}

	termChanged := false
	if req.Term > n.currentTerm {
		termChanged = true
		n.currentTerm = req.Term
		n.votedFor = nil
		if n.role == Candidate || n.role == Leader {
			n.setRole(Follower, nil)
		}
	}

	if n.votedFor != nil && *n.votedFor == req.CandidateID {
		if termChanged {
			if err := n.persistTermVote(); err != nil {
				return raft.RequestVoteResp{}, err
			}
		}
		return raft.RequestVoteResp{Term: n.currentTerm, VoteGranted: true}, nil
	}

	last := n.log.Last()
	upToDate := last.Term < req.LastLogTerm ||
		(last.Term == req.LastLogTerm && last.Index <= req.LastLogIndex)
	grant := n.votedFor == nil && upToDate

	if grant {
		candidate := req.CandidateID
		n.votedFor = &candidate
	}
	if grant || termChanged {
		if err := n.persistTermVote(); err != nil {
			return raft.RequestVoteResp{}, err
		}
	}
	if grant {
		n.ticker.ResetNonLeader()
		n.publishSnapshot()
		if n.events != nil {
			notify.Notify(n.events, notify.NewNotification(VoteGranted, VoteGrantedPayload{From: string(req.CandidateID), Term: uint64(n.currentTerm)}))
		}
	}

	return raft.RequestVoteResp{Term: n.currentTerm, VoteGranted: grant}, nil
}

// AppendEntries handles an incoming AppendEntries RPC (heartbeat or
// replication — the two are unified, per §4.F's replication driver).
// Implements §4.F's six-step algorithm.
func (n *Node) AppendEntries(req raft.AppendEntriesReq) (raft.AppendEntriesResp, error) {
	var resp raft.AppendEntriesResp
	var callErr error
	n.mailbox.call(func(done func()) {
		resp, callErr = n.handleAppendEntries(req)
		done()
	})
	return resp, callErr
}

func (n *Node) handleAppendEntries(req raft.AppendEntriesReq) (raft.AppendEntriesResp, error) {
	if n.metrics != nil {
		if len(req.Entries) == 0 {
			n.metrics.RecordHeartbeat()
		} else {
			n.metrics.RecordAppendEntries()
		}
	}

	if req.Term < n.currentTerm {
		return raft.AppendEntriesResp{Term: n.currentTerm, Success: false}, nil
	}

	if req.Term > n.currentTerm {
		n.currentTerm = req.Term
		n.votedFor = nil
		if err := n.persistTermVote(); err != nil {
			return raft.AppendEntriesResp{}, err
		}
	}

	leader := req.LeaderID
	if n.role == Candidate || n.role == Leader {
		n.setRole(Follower, &leader)
	} else {
		n.leaderID = &leader
		n.publishSnapshot()
	}
	n.ticker.ResetNonLeader()

	err := n.log.Append(raft.AppendRequest{
		PrevIndex:   req.PrevLogIndex,
		PrevTerm:    req.PrevLogTerm,
		Entries:     req.Entries,
		CommitIndex: req.CommitIndex,
		Term:        req.Term,
	})
	if err != nil {
		if errors.Is(err, raft.ErrTermMismatch) || errors.Is(err, raft.ErrInvalidIndex) {
			return raft.AppendEntriesResp{Term: n.currentTerm, Success: false}, nil
		}
		return raft.AppendEntriesResp{}, err
	}

	if req.CommitIndex > n.sm.CommitIndex() {
		if err := n.applyCommitted(req.CommitIndex); err != nil {
			return raft.AppendEntriesResp{}, err
		}
	}

	return raft.AppendEntriesResp{Term: n.currentTerm, Success: true}, nil
}

// ClientRequest submits req for replication (§4.F). If this node is
// not Leader it fails immediately with the best-known leader. If it
// is, it returns only after the entry commits (or this node loses
// leadership first) — the wait happens outside the mailbox so
// replication responses can still be processed while the caller
// blocks.
func (n *Node) ClientRequest(req raft.ClientRequest) raft.ClientResponse {
	respCh := make(chan raft.ClientResponse, 1)
	n.mailbox.submit(func() {
		n.handleClientRequest(req, respCh)
	})
	return <-respCh
}

func (n *Node) handleClientRequest(req raft.ClientRequest, respCh chan raft.ClientResponse) {
	if n.role != Leader {
		var leader raft.PeerID
		if n.leaderID != nil {
			leader = *n.leaderID
		}
		respCh <- raft.ClientResponse{LeaderID: leader, Success: false}
		return
	}

	entry := raft.LogEntry{
		Index:   n.log.Last().Index + 1,
		Term:    n.currentTerm,
		Command: req.Command,
	}
	appendErr := n.log.Append(raft.AppendRequest{
		PrevIndex:   n.log.Last().Index,
		PrevTerm:    n.log.Last().Term,
		Entries:     []raft.LogEntry{entry},
		CommitIndex: n.sm.CommitIndex(),
		Term:        n.currentTerm,
	})
	if appendErr != nil {
		respCh <- raft.ClientResponse{LeaderID: n.id, Success: false}
		return
	}

	n.pendingReqs[entry.Index] = append(n.pendingReqs[entry.Index], pendingClient{term: entry.Term, ch: respCh})
	n.broadcastAppend()
}

// broadcastAppend sends AppendEntries to every peer but self, voting
// or not, unifying heartbeat and replication: the entries slice is
// whatever is new since next_index[p], empty when the peer is caught
// up. Non-voting peers still need the log (§8 Scenario 3) even though
// they never count toward a majority.
func (n *Node) broadcastAppend() {
	for _, peer := range n.log.ClusterConfig().AllIDs() {
		if peer != n.id {
			n.sendAppendTo(peer)
		}
	}
}

func (n *Node) sendAppendTo(peer raft.PeerID) {
	next, ok := n.nextIndex[peer]
	if !ok {
		next = n.log.Last().Index + 1
		n.nextIndex[peer] = next
	}
	prevIndex := next - 1
	prevTerm := n.termAt(prevIndex)

	var entries []raft.LogEntry
	for entry, err := range n.log.Slice(next, nil) {
		if err != nil {
			return
		}
		entries = append(entries, entry)
	}

	term := n.currentTerm
	sentCount := len(entries)
	req := &raft.AppendEntriesReq{
		Term:         term,
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		CommitIndex:  n.sm.CommitIndex(),
	}
	id := n.bus.Send(peer, req, func(resp any, err error) {
		n.mailbox.submit(func() { n.handleAppendResponse(peer, prevIndex, sentCount, term, resp, err) })
	})
	n.outstanding[id] = struct{}{}
}

func (n *Node) termAt(index raft.Index) raft.Term {
	if index == n.log.Last().Index {
		return n.log.Last().Term
	}
	end := index + 1
	for entry, err := range n.log.Slice(index, &end) {
		if err != nil {
			return 0
		}
		return entry.Term
	}
	return 0
}

func (n *Node) handleAppendResponse(peer raft.PeerID, sentPrevIndex raft.Index, sentCount int, sentTerm raft.Term, resp any, err error) {
	if n.closed || n.role != Leader || sentTerm != n.currentTerm {
		return
	}
	if err != nil {
		return
	}
	appendResp, ok := resp.(*raft.AppendEntriesResp)
	if !ok {
		return
	}
	if appendResp.Term > n.currentTerm {
		n.becomeFollower(appendResp.Term, nil)
		return
	}
	if !appendResp.Success {
		if cur := n.nextIndex[peer]; cur > 0 {
			n.nextIndex[peer] = cur - 1
		}
		n.sendAppendTo(peer)
		return
	}

	lastSent := sentPrevIndex + raft.Index(sentCount)
	if lastSent+1 > n.nextIndex[peer] {
		n.nextIndex[peer] = lastSent + 1
	}
	n.advanceCommit()
}

// advanceCommit implements the replication driver's commit rule: find
// the highest N a majority of voting peers have replicated through,
// and execute the newly committed suffix on the state machine.
func (n *Node) advanceCommit() {
	cluster := n.log.ClusterConfig()
	votingIDs := cluster.VotingIDs()
	matches := make([]raft.Index, 0, len(votingIDs))
	for _, id := range votingIDs {
		if id == n.id {
			matches = append(matches, n.log.Last().Index)
			continue
		}
		next := n.nextIndex[id]
		if next > 0 {
			matches = append(matches, next-1)
		} else {
			matches = append(matches, 0)
		}
	}
	if len(matches) == 0 {
		return
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	majority := cluster.Majority()
	if majority <= 0 || majority > len(matches) {
		return
	}
	n.applyCommitted(matches[majority-1])
}

func (n *Node) applyCommitted(upTo raft.Index) error {
	commit := n.sm.CommitIndex()
	if upTo <= commit {
		return nil
	}
	end := upTo + 1
	var entries []raft.LogEntry
	for entry, err := range n.log.Slice(commit+1, &end) {
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil
	}
	if err := n.sm.Execute(entries); err != nil {
		return err
	}
	if n.metrics != nil {
		n.metrics.RecordCommandCommitted()
	}
	n.resolvePending(entries)
	return nil
}

func (n *Node) resolvePending(entries []raft.LogEntry) {
	for _, entry := range entries {
		waiters, ok := n.pendingReqs[entry.Index]
		if !ok {
			continue
		}
		delete(n.pendingReqs, entry.Index)
		for _, w := range waiters {
			success := w.term == entry.Term
			w.ch <- raft.ClientResponse{
				LeaderID:   n.id,
				EntryTerm:  entry.Term,
				EntryIndex: entry.Index,
				Success:    success,
			}
		}
	}
}

func (n *Node) failPending(pending map[raft.Index][]pendingClient) {
	var leader raft.PeerID
	if n.leaderID != nil {
		leader = *n.leaderID
	}
	for _, waiters := range pending {
		for _, w := range waiters {
			w.ch <- raft.ClientResponse{LeaderID: leader, Success: false}
		}
	}
}

func (n *Node) cancelOutstanding() {
	for id := range n.outstanding {
		n.bus.Cancel(id)
	}
	n.outstanding = make(map[transport.MessageID]struct{})
}
