// Package storage implements Components C, D and E: the durable
// properties store and the two CommandLog backends (bbolt-backed and
// in-memory) sharing the append algorithm of §4.D.
//
// Grounded in the teacher's storage/bbolt_storage.go (bucket layout,
// uint64 key helpers) and storage/log.go (interface shape), and in
// KChinnakotla-Distroo's in-memory log (dummy index-0 entry, 1-based
// indexing) for the MemoryLog backend.
package storage

import (
	"fmt"
	"iter"

	"raftcore/raft"
	"raftcore/raft/merge"
)

// logState is the in-memory cache shared by both CommandLog backends:
// the last entry, and the cluster configuration currently in effect.
// appendLocked keeps it consistent with the durable tail; Last and
// ClusterConfig read it directly.
type logState struct {
	bootstrapped       bool
	last               raft.LogEntry
	clusterConfig      raft.ClusterConfig
	clusterConfigIndex raft.Index
}

// backend is what each CommandLog implementation supplies to the
// shared append algorithm. Every method runs with the log's mutex
// held by the caller.
type backend interface {
	getEntry(index raft.Index) (raft.LogEntry, bool, error)

	// writeEntry durably persists entry as a single atomic batch. When
	// installsConfig is true, entry is a Configure entry that is about
	// to become the cluster's active configuration, and the cluster-
	// config cache key is persisted alongside it in the same batch.
	writeEntry(entry raft.LogEntry, installsConfig bool) error

	// persistClusterConfigIndex corrects the on-disk cluster-config
	// cache after a truncation that did not write a fresh Configure
	// entry in the same call. Best-effort: recovery self-heals by
	// rebuilding the cache from the log tail if this is skipped.
	persistClusterConfigIndex(index raft.Index) error
}

// sliceSeq adapts a plain slice of entries into the lazy iter.Seq2 shape
// raft/merge expects.
func sliceSeq(entries []raft.LogEntry) iter.Seq2[raft.LogEntry, error] {
	return func(yield func(raft.LogEntry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// existingSeqFromBackend walks [start, end) of the log already on
// backend via point lookups, in index order.
func existingSeqFromBackend(b backend, start, end raft.Index) iter.Seq2[raft.LogEntry, error] {
	return func(yield func(raft.LogEntry, error) bool) {
		for i := start; i < end; i++ {
			entry, found, err := b.getEntry(i)
			if err != nil {
				yield(raft.LogEntry{}, err)
				return
			}
			if !found {
				continue
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// appendLocked runs the consistency check, pair-walk, truncation and
// post-commit check of §4.D. Both BoltLog.Append and MemoryLog.Append
// are thin wrappers around this.
func appendLocked(state *logState, b backend, commitIndex raft.Index, req raft.AppendRequest) error {
	if !state.bootstrapped {
		return fmt.Errorf("append: log has no entries yet: %w", raft.ErrTermMismatch)
	}

	prevEntry, found, err := b.getEntry(req.PrevIndex)
	if err != nil {
		return fmt.Errorf("append: read entry at %d: %w", req.PrevIndex, raft.ErrInternal)
	}
	if !found {
		return fmt.Errorf("append: no entry at %d: %w", req.PrevIndex, raft.ErrTermMismatch)
	}
	if prevEntry.Term != req.PrevTerm {
		return fmt.Errorf("append: entry %d has term %d, want %d: %w", req.PrevIndex, prevEntry.Term, req.PrevTerm, raft.ErrTermMismatch)
	}

	expected := req.PrevIndex + 1
	existingEnd := state.last.Index + 1
	truncated := false
	lastTermSeen := req.PrevTerm
	pendingLatestConfigIndex := state.clusterConfigIndex

	incoming := sliceSeq(req.Entries)
	existing := existingSeqFromBackend(b, expected, existingEnd)

	for pair, mergeErr := range merge.Merge(incoming, existing, func(e raft.LogEntry) uint64 { return uint64(e.Index) }) {
		if mergeErr != nil {
			return fmt.Errorf("append: %w", mergeErr)
		}
		if pair.Left == nil {
			break // incoming exhausted: remaining existing tail is untouched
		}
		entry := *pair.Left

		if entry.Index != expected {
			return fmt.Errorf("append: entry index %d, expected %d: %w", entry.Index, expected, raft.ErrInvalidIndex)
		}
		if entry.Term < lastTermSeen {
			return fmt.Errorf("append: entry %d term %d precedes term %d: %w", entry.Index, entry.Term, lastTermSeen, raft.ErrInvalidTerm)
		}
		if entry.Term > req.Term {
			return fmt.Errorf("append: entry %d term %d exceeds request term %d: %w", entry.Index, entry.Term, req.Term, raft.ErrInvalidTerm)
		}
		lastTermSeen = entry.Term

		matchesExisting := pair.Right != nil && pair.Right.Term == entry.Term
		switch {
		case matchesExisting && !truncated:
			// already present, nothing to write

		case pair.Right != nil && !truncated:
			if commitIndex >= entry.Index {
				return fmt.Errorf("append: refusing to truncate at %d at or below commit index %d: %w", entry.Index, commitIndex, raft.ErrInternal)
			}
			for entry.Index <= state.clusterConfigIndex {
				cfgEntry, found, err := b.getEntry(state.clusterConfigIndex)
				if err != nil || !found || cfgEntry.Command.Kind != raft.CommandConfigure {
					return fmt.Errorf("append: walking config chain from %d: %w", state.clusterConfigIndex, raft.ErrInternal)
				}
				priorIndex := cfgEntry.Command.PrevConfigIndex
				priorEntry, found, err := b.getEntry(priorIndex)
				if err != nil || !found {
					return fmt.Errorf("append: walking config chain to %d: %w", priorIndex, raft.ErrInternal)
				}
				cfg := priorEntry.Command.Cluster
				cfg.ConfigIndex = priorEntry.Index
				state.clusterConfigIndex = priorIndex
				state.clusterConfig = cfg
				pendingLatestConfigIndex = priorIndex
			}
			truncated = true
			if err := writeAndApply(state, b, entry, &pendingLatestConfigIndex); err != nil {
				return err
			}

		default:
			if err := writeAndApply(state, b, entry, &pendingLatestConfigIndex); err != nil {
				return err
			}
		}

		expected++
	}

	if truncated {
		_ = b.persistClusterConfigIndex(state.clusterConfigIndex)
	}

	if state.last.Index < req.CommitIndex {
		return fmt.Errorf("append: commit index %d ahead of last entry %d: %w", req.CommitIndex, state.last.Index, raft.ErrInvalidIndex)
	}
	return nil
}

func writeAndApply(state *logState, b backend, entry raft.LogEntry, pendingLatestConfigIndex *raft.Index) error {
	installs := entry.Command.Kind == raft.CommandConfigure && entry.Index > state.clusterConfigIndex
	if installs {
		prev := state.clusterConfigIndex
		if *pendingLatestConfigIndex > prev {
			prev = *pendingLatestConfigIndex
		}
		entry.Command.PrevConfigIndex = prev
	}

	if err := b.writeEntry(entry, installs); err != nil {
		return fmt.Errorf("append: write entry %d: %w", entry.Index, err)
	}

	state.last = entry
	if installs {
		state.clusterConfigIndex = entry.Index
		cfg := entry.Command.Cluster
		cfg.ConfigIndex = entry.Index
		state.clusterConfig = cfg
		*pendingLatestConfigIndex = entry.Index
	}
	return nil
}
