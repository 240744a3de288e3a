// Package server implements Components F and G: the Raft role machine
// (Node) and the randomized tick source (Ticker) that drives it.
//
// Grounded in the teacher's internal/raft/server package: State/serverState
// for the role enum and thread-safe accessors, types.go for the event
// types, and server.go for BeginElection / RequestVote / AppendEntries
// shape — generalized from a fixed three-node demo into the full role
// machine of spec §4.F.
package server

import (
	"time"

	"raftcore/raft/notify"
)

// Role is a node's position in the Raft role machine (§4.F).
type Role uint8

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// Notification topics (§12 Supplemented Features). Node publishes
// RoleChanged and VoteGranted; ElectionTimeoutExpired is defined but
// Node never publishes it. Listeners observe role transitions without
// polling; none of this is read by the role machine itself.
const (
	RoleChanged notify.Topic = iota
	ElectionTimeoutExpired
	VoteGranted
)

// RoleChangedPayload travels with RoleChanged events.
type RoleChangedPayload struct {
	From, To Role
	Term     uint64
}

// VoteGrantedPayload travels with VoteGranted events, mirroring the
// teacher's types.go payload of the same name.
type VoteGrantedPayload struct {
	From string
	Term uint64
}

// MetricsCollector is the optional hook a Node reports RPC and election
// activity through (§12 Supplemented Features). A nil collector is a
// valid, no-op choice — every call site nil-checks before recording.
type MetricsCollector interface {
	RecordRequestVote()
	RecordAppendEntries()
	RecordHeartbeat()
	RecordElection()
	RecordElectionDuration(time.Duration)
	RecordCommandCommitted()
	RecordCommandLatency(time.Duration)
}
