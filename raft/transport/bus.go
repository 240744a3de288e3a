// Package transport implements Component H: the message-bus adapter
// nodes use to exchange RequestVote/AppendEntries RPCs. Delivery is
// unordered and may drop — the role machine relies on the replication
// driver's retries and the ticker's re-election, never on the bus.
//
// Grounded in the teacher's internal/raft/server/transport.go (peer
// dial pool, retry-on-dial) and grpc_raft_resolver.go (custom "raft://"
// scheme resolving peer IDs to addresses), generalized from a
// synchronous grpc.ClientConn.Invoke call into the async
// send/on_response shape §4.G requires — a mailbox-driven Node must
// never block its single goroutine on network I/O.
package transport

import "raftcore/raft"

// MessageID identifies one outstanding Send call, returned so the
// caller can Cancel it on a role transition.
type MessageID uint64

// Bus is the thin send/cancel contract of §4.G. message is one of
// *raft.RequestVoteReq, *raft.AppendEntriesReq or *raft.ClientRequest;
// onResponse is called at most once, from a goroutine the caller does
// not control, with either the matching *raft.RequestVoteResp/
// *raft.AppendEntriesResp/*raft.ClientResponse or a non-nil error
// (unknown peer, dial failure, timeout). It is not called at all if
// Cancel fired first, or if the bus dropped the message (MemoryBus
// with a non-zero dropRate). Implementations MUST NOT call onResponse
// synchronously from within Send — Node's onResponse callbacks submit
// back into its mailbox, and a synchronous call would deadlock it.
type Bus interface {
	Send(to raft.PeerID, message any, onResponse func(resp any, err error)) MessageID

	// Cancel suppresses a not-yet-delivered onResponse call for id. If
	// the response already arrived and onResponse already ran, Cancel
	// is a no-op. Implementations MUST make the cancel-vs-deliver race
	// safe: at most one of Cancel's suppression or onResponse's
	// delivery wins, never both.
	Cancel(id MessageID)

	// Close stops delivering new responses and releases transport
	// resources (connections, goroutines). Idempotent.
	Close() error
}

// ErrUnknownPeer is returned to onResponse when to names a peer the
// Bus has no address for.
var ErrUnknownPeer = rpcError("transport: unknown peer")

type rpcError string

func (e rpcError) Error() string { return string(e) }
