package transport

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"

	"raftcore/raft"
)

// gobCodecName is registered with grpc's encoding package and selected
// per-call via grpc.CallContentSubtype / grpc.ForceCodec. There is no
// protoc-generated RaftService in this module — gRPC remains the real
// transport substrate (framing, HTTP/2 multiplexing, the "raft://"
// resolver below) while the wire payload itself is gob, matching the
// encoding the command log already uses for its entries.
const gobCodecName = "raft-gob"

type gobCodec struct{}

func (gobCodec) Name() string { return gobCodecName }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("raft-gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("raft-gob unmarshal: %w", err)
	}
	return nil
}

// gob requires every concrete type crossing an interface{} boundary to
// be registered once, up front.
func init() {
	gob.Register(&raft.RequestVoteReq{})
	gob.Register(&raft.RequestVoteResp{})
	gob.Register(&raft.AppendEntriesReq{})
	gob.Register(&raft.AppendEntriesResp{})
	gob.Register(&raft.ClientRequest{})
	gob.Register(&raft.ClientResponse{})

	encoding.RegisterCodec(gobCodec{})
}
