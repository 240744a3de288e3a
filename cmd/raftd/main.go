// Command raftd is a single-node Raft server: it opens a durable log
// and properties store, wires a kvfsm.KV state machine, and serves
// RequestVote/AppendEntries/ClientRequest over the gRPC bus.
//
// Grounded in the teacher's cmd/raft/single-server/main.go: same
// flag-based configuration, data-directory bootstrap, and
// signal.NotifyContext shutdown sequence, generalized from the
// teacher's always-dynamic single-server-joins-a-leader flow onto a
// fixed voting set supplied up front on the command line (the
// Configure/prev_config_index chain still lets the set change later,
// at runtime, through a ClientRequest carrying a CommandConfigure —
// raftd itself just doesn't expose that as a flag).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"raftcore/examples/kvfsm"
	"raftcore/raft"
	"raftcore/raft/metrics"
	"raftcore/raft/notify"
	"raftcore/raft/server"
	"raftcore/raft/storage"
	"raftcore/raft/transport"
)

func main() {
	id := flag.String("id", "", "server id (generated via uuid if empty)")
	addr := flag.String("addr", "localhost:50051", "own gRPC listen address")
	peersFlag := flag.String("peers", "", "comma-separated id=addr pairs for the full voting set, including this server")
	dataDir := flag.String("data", "./data", "directory for the bbolt database")
	tick := flag.Duration("tick", 50*time.Millisecond, "wall-clock interval between Node.Tick calls")
	tickMin := flag.Int("tick-min", 10, "minimum non-leader election countdown, in ticks")
	tickMax := flag.Int("tick-max", 20, "maximum non-leader election countdown, in ticks")
	flag.Parse()

	if *id == "" {
		*id = uuid.New().String()
	}
	self := raft.PeerID(*id)

	cluster, err := parsePeers(*peersFlag, self, *addr)
	if err != nil {
		log.Fatalf("[RAFTD-%s] bad -peers: %v", self, err)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("[RAFTD-%s] create data directory: %v", self, err)
	}
	dbPath := filepath.Join(*dataDir, string(self)+".db")
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		log.Fatalf("[RAFTD-%s] open %s: %v", self, dbPath, err)
	}
	defer db.Close()

	sm := kvfsm.New(self)
	commandLog, err := storage.NewBoltLog(db, sm, &cluster)
	if err != nil {
		log.Fatalf("[RAFTD-%s] open log: %v", self, err)
	}
	props, err := storage.OpenBoltProperties(db)
	if err != nil {
		log.Fatalf("[RAFTD-%s] open properties: %v", self, err)
	}

	bus := transport.NewGRPCBus(self)
	for _, peer := range cluster.Peers {
		if peer.ID == self {
			continue
		}
		if err := bus.AddPeer(peer.ID, peer.Address); err != nil {
			log.Fatalf("[RAFTD-%s] dial peer %s: %v", self, peer.ID, err)
		}
	}

	events := notify.NewNotifier()
	go logRoleChanges(self, events)

	node, err := server.NewNode(server.Config{
		ID:      self,
		Log:     commandLog,
		Props:   props,
		SM:      sm,
		Bus:     bus,
		Metrics: metrics.NewMetrics(),
		Events:  events,
		TickMin: *tickMin,
		TickMax: *tickMax,
	})
	if err != nil {
		log.Fatalf("[RAFTD-%s] start node: %v", self, err)
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("[RAFTD-%s] listen on %s: %v", self, *addr, err)
	}
	grpcServer := transport.NewServer(node)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("[RAFTD-%s] grpc server stopped: %v", self, err)
		}
	}()

	stopTicks := make(chan struct{})
	go func() {
		ticker := time.NewTicker(*tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				node.Tick()
			case <-stopTicks:
				return
			}
		}
	}()

	log.Printf("[RAFTD-%s] listening on %s, voting set: %s", self, *addr, *peersFlag)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()

	log.Printf("[RAFTD-%s] shutting down", self)
	close(stopTicks)
	grpcServer.GracefulStop()
	_ = node.Close()
	_ = bus.Close()
	events.Drain()
	log.Printf("[RAFTD-%s] stopped", self)
}

func parsePeers(flagValue string, self raft.PeerID, selfAddr string) (raft.ClusterConfig, error) {
	cluster := raft.ClusterConfig{}
	sawSelf := false

	if flagValue == "" {
		cluster.Peers = append(cluster.Peers, raft.Peer{ID: self, Address: selfAddr, Voting: true})
		return cluster, nil
	}

	for _, pair := range strings.Split(flagValue, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return raft.ClusterConfig{}, fmt.Errorf("expected id=addr, got %q", pair)
		}
		id, addr := raft.PeerID(parts[0]), parts[1]
		if id == self {
			sawSelf = true
			addr = selfAddr
		}
		cluster.Peers = append(cluster.Peers, raft.Peer{ID: id, Address: addr, Voting: true})
	}
	if !sawSelf {
		cluster.Peers = append(cluster.Peers, raft.Peer{ID: self, Address: selfAddr, Voting: true})
	}
	return cluster, nil
}

func logRoleChanges(self raft.PeerID, events *notify.Notifier) {
	ch := make(chan *notify.Notification[server.RoleChangedPayload], 8)
	notify.Listen(events, server.RoleChanged, ch, notify.ListenerOptions{})
	for event := range ch {
		log.Printf("[RAFTD-%s] [TERM-%d] role changed: %s -> %s",
			self, event.Payload.Term, event.Payload.From, event.Payload.To)
	}
}
