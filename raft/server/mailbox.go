package server

// mailbox is the serialization primitive §5 requires: a single
// goroutine drains jobs one at a time, so every RPC handler, tick, and
// client request that touches node state runs to completion before
// the next one starts. No mutex guards role/currentTerm/votedFor/
// leaderID/peerIndexes — the mailbox is the lock.
//
// Grounded in the teacher's serverState pattern (internal/raft/server
// state.go), replaced here with run-to-completion closures rather
// than a RWMutex per field, since §5 asks for a single cooperative
// task rather than fine-grained locking.
type mailbox struct {
	jobs chan func()
	done chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		jobs: make(chan func()),
		done: make(chan struct{}),
	}
}

// run drains jobs until close is called. Intended to be the body of
// the one goroutine a Node starts.
func (m *mailbox) run() {
	for {
		select {
		case job := <-m.jobs:
			job()
		case <-m.done:
			return
		}
	}
}

// submit enqueues job and blocks until it has been picked up by run.
// It does not wait for job to finish — callers that need the result
// pass their own response channel inside job.
func (m *mailbox) submit(job func()) {
	select {
	case m.jobs <- job:
	case <-m.done:
	}
}

// call submits job and blocks until it signals completion via done(),
// the pattern every synchronous RPC handler (RequestVote, AppendEntries,
// ClientRequest) uses to turn a fire-and-forget mailbox job into a
// normal blocking method call.
func (m *mailbox) call(job func(done func())) {
	reply := make(chan struct{})
	m.submit(func() {
		job(func() { close(reply) })
	})
	select {
	case <-reply:
	case <-m.done:
	}
}

// close stops run and makes any future submit/call a no-op.
func (m *mailbox) close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}
