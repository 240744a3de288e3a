package transport

import (
	"math/rand"
	"sync"

	"raftcore/raft"
)

// MemoryBus is an in-process Bus for tests and single-binary demos: a
// registry of peer ids to other MemoryBus instances, with delivery run
// on its own goroutine per Send so callers never block.
//
// Grounded in the teacher's idRegistry (grpc_raft_resolver.go) for the
// "shared registry of peer id to live endpoint" shape, replacing gRPC
// dialing with a direct handler call since there is no wire boundary
// to cross in-process.
type MemoryBus struct {
	self     raft.PeerID
	registry *MemoryRegistry

	handler Handler

	mu        sync.Mutex
	cancelled map[MessageID]struct{}
	nextID    uint64
	dropRate  float64
	rng       *rand.Rand
}

// Handler is what a MemoryBus delivers RequestVote/AppendEntries/
// ClientRequest messages to — satisfied by *server.Node's methods of
// the same names once adapted to this shape by the caller.
type Handler interface {
	RequestVote(req raft.RequestVoteReq) (raft.RequestVoteResp, error)
	AppendEntries(req raft.AppendEntriesReq) (raft.AppendEntriesResp, error)
	ClientRequest(req raft.ClientRequest) raft.ClientResponse
}

type MemoryRegistry struct {
	mu  sync.RWMutex
	bus map[raft.PeerID]*MemoryBus
}

// NewMemoryRegistry creates a fresh registry. Every MemoryBus that
// shares a registry can Send to every other bus registered on it.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{bus: make(map[raft.PeerID]*MemoryBus)}
}

// NewMemoryBus registers a bus for self on reg, delivering inbound
// RPCs to handler. dropRate in [0,1) simulates §4.G's "delivery is
// unordered and may drop."
func NewMemoryBus(reg *MemoryRegistry, self raft.PeerID, handler Handler, dropRate float64) *MemoryBus {
	b := &MemoryBus{
		self:      self,
		registry:  reg,
		handler:   handler,
		cancelled: make(map[MessageID]struct{}),
		dropRate:  dropRate,
		rng:       rand.New(rand.NewSource(rand.Int63())),
	}
	reg.mu.Lock()
	reg.bus[self] = b
	reg.mu.Unlock()
	return b
}

func (b *MemoryBus) Send(to raft.PeerID, message any, onResponse func(resp any, err error)) MessageID {
	b.mu.Lock()
	b.nextID++
	id := MessageID(b.nextID)
	b.mu.Unlock()

	go b.deliver(id, to, message, onResponse)
	return id
}

func (b *MemoryBus) deliver(id MessageID, to raft.PeerID, message any, onResponse func(resp any, err error)) {
	if b.shouldDrop() {
		return
	}

	b.registry.mu.RLock()
	peer, ok := b.registry.bus[to]
	b.registry.mu.RUnlock()
	if !ok {
		b.respond(id, onResponse, nil, ErrUnknownPeer)
		return
	}

	var resp any
	var err error
	switch req := message.(type) {
	case *raft.RequestVoteReq:
		var r raft.RequestVoteResp
		r, err = peer.handler.RequestVote(*req)
		resp = &r
	case *raft.AppendEntriesReq:
		var r raft.AppendEntriesResp
		r, err = peer.handler.AppendEntries(*req)
		resp = &r
	case *raft.ClientRequest:
		r := peer.handler.ClientRequest(*req)
		resp = &r
	default:
		err = rpcError("transport: unsupported message type")
	}

	b.respond(id, onResponse, resp, err)
}

func (b *MemoryBus) respond(id MessageID, onResponse func(resp any, err error), resp any, err error) {
	b.mu.Lock()
	_, cancelled := b.cancelled[id]
	delete(b.cancelled, id)
	b.mu.Unlock()
	if cancelled {
		return
	}
	onResponse(resp, err)
}

func (b *MemoryBus) shouldDrop() bool {
	if b.dropRate <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64() < b.dropRate
}

func (b *MemoryBus) Cancel(id MessageID) {
	b.mu.Lock()
	b.cancelled[id] = struct{}{}
	b.mu.Unlock()
}

func (b *MemoryBus) Close() error { return nil }

var _ Bus = (*MemoryBus)(nil)
