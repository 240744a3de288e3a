package raft

import (
	"errors"
	"fmt"
)

// Error kinds from Error Handling Design §7. Storage and server code
// wraps these with fmt.Errorf("...: %w", ErrX) and callers classify
// with errors.Is.
var (
	// ErrInvalidTerm: request term is behind, or an entry's term
	// exceeds the request term. Reported, not retried.
	ErrInvalidTerm = errors.New("raft: invalid term")
	// ErrInvalidIndex: non-monotonic index, or commit index ahead of
	// the last entry. Reported.
	ErrInvalidIndex = errors.New("raft: invalid index")
	// ErrTermMismatch: the AppendEntries consistency check failed.
	// The follower returns success=false; the leader retries at a
	// lower prevIndex.
	ErrTermMismatch = errors.New("raft: term mismatch")
	// ErrNotLeader: a client contacted a non-leader. Use
	// AsNotLeaderError to recover the best-known leader id.
	ErrNotLeader = errors.New("raft: not leader")
	// ErrNotReady: a component was used before it signalled readiness.
	ErrNotReady = errors.New("raft: not ready")
	// ErrInternal: backing-store I/O failure, or an attempted
	// truncation below the commit index. Fatal to the in-flight
	// operation, not to the node.
	ErrInternal = errors.New("raft: internal error")
)

// NotLeaderError carries the best-known leader id alongside
// ErrNotLeader, mirroring the teacher's AddServerResponse.LeaderId
// pattern but as a typed error instead of a side channel.
type NotLeaderError struct {
	LeaderID PeerID
}

func (e *NotLeaderError) Error() string {
	if e.LeaderID == "" {
		return "raft: not leader (no known leader)"
	}
	return fmt.Sprintf("raft: not leader (leader is %s)", e.LeaderID)
}

func (e *NotLeaderError) Is(target error) bool { return target == ErrNotLeader }

// AsNotLeaderError extracts the best-known leader id from err, if any.
func AsNotLeaderError(err error) (PeerID, bool) {
	var nle *NotLeaderError
	if errors.As(err, &nle) {
		return nle.LeaderID, true
	}
	return "", false
}
