// Command raftctl is a minimal CLI that submits one command to a
// running raftd and prints the result.
//
// Grounded in the teacher's cmd/raft/manual_client/main.go: same
// -server/-cmd flag shape and leader-hint retry message on failure,
// rewritten against the finished Node.ClientRequest API (a
// raft.ClientRequest carrying the SET/DEL command the examples/kvfsm
// state machine understands) sent over the gRPC bus's ClientRequest
// method rather than the teacher's proto.ClientCommandRequest RPC.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"raftcore/raft"
	"raftcore/raft/transport"
)

func main() {
	serverAddr := flag.String("server", "localhost:50051", "raftd address to connect to")
	command := flag.String("cmd", "SET test=hello", "command to submit (e.g. 'SET key=value' or 'DEL key')")
	timeout := flag.Duration("timeout", 10*time.Second, "how long to wait for a response; the gRPC call itself is also cut off after transport.RPCTimeout (50ms)")
	flag.Parse()

	fmt.Println("================================================")
	fmt.Println("raftctl - submitting a command to the cluster")
	fmt.Printf("Server:  %s\n", *serverAddr)
	fmt.Printf("Command: %s\n", *command)
	fmt.Println("================================================")

	bus := transport.NewGRPCBus("raftctl")
	defer bus.Close()

	if err := bus.AddPeer(raft.PeerID(*serverAddr), *serverAddr); err != nil {
		fmt.Fprintf(os.Stderr, "failed to dial %s: %v\n", *serverAddr, err)
		os.Exit(1)
	}

	respCh := make(chan raft.ClientResponse, 1)
	errCh := make(chan error, 1)
	bus.Send(raft.PeerID(*serverAddr), &raft.ClientRequest{
		Command: raft.Command{Kind: raft.CommandUser, User: []byte(*command)},
	}, func(resp any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		respCh <- *resp.(*raft.ClientResponse)
	})

	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nerror submitting command: %v\n\nIs raftd running at %s?\n", err, *serverAddr)
		os.Exit(1)
	case resp := <-respCh:
		if resp.Success {
			fmt.Println("\nSUCCESS")
			fmt.Printf("  committed at index %d, term %d\n", resp.EntryIndex, resp.EntryTerm)
		} else {
			fmt.Println("\nFAILED - server is not the leader")
			if resp.LeaderID != "" {
				fmt.Printf("  leader hint: %s\n", resp.LeaderID)
				fmt.Printf("  retry: raftctl -server <leader-addr> -cmd %q\n", *command)
			} else {
				fmt.Println("  no leader hint available; try another server in the cluster")
			}
			os.Exit(1)
		}
	case <-time.After(*timeout):
		fmt.Fprintf(os.Stderr, "\ntimed out waiting for a response from %s\n", *serverAddr)
		os.Exit(1)
	}
}
