package transport

import (
	"fmt"
	"sync"

	"google.golang.org/grpc/resolver"

	"raftcore/raft"
)

// raftScheme backs grpc targets of the form "raft:///<peer-id>". A
// peer's address is looked up at dial time (and on every
// RegisterPeerAddress update) through a process-wide registry, rather
// than baked into the dial target — cluster membership changes
// without tearing down the grpc.ClientConn.
//
// Grounded in the teacher's grpc_raft_resolver.go (idRegistry +
// raftBuilder/raftResolver), generalized from ServerID/ServerAddress
// to raft.PeerID/string.
const raftScheme = "raft"

type peerRegistry struct {
	mu       sync.RWMutex
	records  map[raft.PeerID]string
	watchers map[raft.PeerID]map[*raftResolver]struct{}
}

var globalPeerRegistry = &peerRegistry{
	records:  make(map[raft.PeerID]string),
	watchers: make(map[raft.PeerID]map[*raftResolver]struct{}),
}

// RegisterPeerAddress sets/updates the dial address for id and
// notifies any resolver currently watching it.
func RegisterPeerAddress(id raft.PeerID, addr string) {
	globalPeerRegistry.mu.Lock()
	globalPeerRegistry.records[id] = addr
	watchers := globalPeerRegistry.watchers[id]
	globalPeerRegistry.mu.Unlock()

	for w := range watchers {
		w.pushCurrent()
	}
}

type raftBuilder struct{}

func (raftBuilder) Scheme() string { return raftScheme }

func (raftBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	id := raft.PeerID(target.Endpoint())
	if id == "" {
		if p := target.URL.Path; len(p) > 0 {
			if p[0] == '/' {
				p = p[1:]
			}
			id = raft.PeerID(p)
		}
	}
	if id == "" {
		return nil, fmt.Errorf("raft resolver: empty target endpoint: %+v", target)
	}

	r := &raftResolver{id: id, cc: cc}
	r.subscribe()
	r.pushCurrent()
	return r, nil
}

type raftResolver struct {
	id raft.PeerID
	cc resolver.ClientConn
}

func (r *raftResolver) ResolveNow(resolver.ResolveNowOptions) { r.pushCurrent() }

func (r *raftResolver) Close() {
	globalPeerRegistry.mu.Lock()
	defer globalPeerRegistry.mu.Unlock()
	if set, ok := globalPeerRegistry.watchers[r.id]; ok {
		delete(set, r)
		if len(set) == 0 {
			delete(globalPeerRegistry.watchers, r.id)
		}
	}
}

func (r *raftResolver) subscribe() {
	globalPeerRegistry.mu.Lock()
	defer globalPeerRegistry.mu.Unlock()
	set := globalPeerRegistry.watchers[r.id]
	if set == nil {
		set = make(map[*raftResolver]struct{})
		globalPeerRegistry.watchers[r.id] = set
	}
	set[r] = struct{}{}
}

func (r *raftResolver) pushCurrent() {
	globalPeerRegistry.mu.RLock()
	addr, ok := globalPeerRegistry.records[r.id]
	globalPeerRegistry.mu.RUnlock()

	if !ok || addr == "" {
		_ = r.cc.UpdateState(resolver.State{Addresses: nil})
		return
	}
	_ = r.cc.UpdateState(resolver.State{Addresses: []resolver.Address{{Addr: addr}}})
}

func init() {
	resolver.Register(raftBuilder{})
}
