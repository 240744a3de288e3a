package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"raftcore/raft"
)

func encodeEntry(entry raft.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, fmt.Errorf("encode entry %d: %w", entry.Index, err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (raft.LogEntry, error) {
	var entry raft.LogEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return raft.LogEntry{}, fmt.Errorf("decode entry: %w", err)
	}
	return entry, nil
}

func encodeIndex(index raft.Index) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(index))
	return b
}

func decodeIndex(b []byte) (raft.Index, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return raft.Index(binary.BigEndian.Uint64(b)), true
}
