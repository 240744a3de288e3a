package raft

import "iter"

// StateMachine is the external collaborator defined in §6: opaque to
// the core, it executes committed commands. The role machine
// guarantees entries are delivered in index order with no gaps,
// starting at CommitIndex()+1.
type StateMachine interface {
	CommitIndex() Index
	Execute(entries []LogEntry) error
}

// AppendRequest is the input to CommandLog.Append (Component D §4.D).
type AppendRequest struct {
	PrevIndex Index
	PrevTerm  Term
	Entries   []LogEntry
	// CommitIndex is the caller's current commit index; Append fails
	// InvalidIndex if it would advance past the log's own tail.
	CommitIndex Index
	// Term is the request's own term — the AppendEntriesReq.Term of
	// the RPC this append call originated from. §4.D's entry-validity
	// rule ("entry.term <= request_term") needs it explicitly; the
	// compressed append({prev_index, prev_term, entries}) signature in
	// the component design omits it, so it is carried here instead.
	Term Term
}

// CommandLog is the contract shared by the durable (raft/storage
// BoltLog) and in-memory (MemoryLog) backends — Components D and E.
type CommandLog interface {
	// Append runs the consistency check, pair-walk and truncation
	// algorithm of §4.D and durably commits the result.
	Append(req AppendRequest) error

	// Slice returns entries with start <= index < end, clamped to
	// last().index+1. end == nil means unbounded. The returned
	// sequence is lazy and single-pass; iteration stops and the
	// underlying cursor is released as soon as the consumer stops
	// pulling or an error is yielded.
	Slice(start Index, end *Index) iter.Seq2[LogEntry, error]

	// Last returns a snapshot of the last entry (the index-0 sentinel
	// if the log was opened empty, or the zero LogEntry if the log
	// has never been bootstrapped — see CommandLog modes in §4.D).
	Last() LogEntry

	// ClusterConfig returns the cluster membership currently in
	// effect (derived from the most recent Configure entry at or
	// below Last().Index).
	ClusterConfig() ClusterConfig

	// Close releases the backing store. Idempotent.
	Close() error
}

// PropertiesStore is the durable small key/value store of Component C:
// currentTerm, votedFor, and the command log's own recovery cache
// keys. Write is atomic over the whole patch.
type PropertiesStore interface {
	Write(patch map[string][]byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	Close() error
}

// Reserved PropertiesStore keys (§3 Durable properties, §6 Persistent
// storage layout).
const (
	PropCurrentTerm        = "currentTerm"
	PropVotedFor           = "votedFor"
	PropLastIndex          = "last_log_index"
	PropClusterConfigIndex = "cluster_config_index"
)

// RequestVoteReq/Resp and AppendEntriesReq/Resp are the message-bus
// envelopes of §6. A heartbeat is an AppendEntriesReq with Entries == nil.
type RequestVoteReq struct {
	Term         Term
	CandidateID  PeerID
	LastLogIndex Index
	LastLogTerm  Term
}

type RequestVoteResp struct {
	Term        Term
	VoteGranted bool
}

type AppendEntriesReq struct {
	Term         Term
	LeaderID     PeerID
	PrevLogIndex Index
	PrevLogTerm  Term
	Entries      []LogEntry
	CommitIndex  Index
}

type AppendEntriesResp struct {
	Term    Term
	Success bool
}

// ClientRequest is the input to Node.ClientRequest (§4.F).
type ClientRequest struct {
	Command Command
}

// ClientResponse is the output of Node.ClientRequest (§4.F).
type ClientResponse struct {
	LeaderID   PeerID
	EntryTerm  Term
	EntryIndex Index
	Success    bool
}
