// Package notify is the role machine's event fan-out: Node publishes
// RoleChanged/VoteGranted notifications (§12 Supplemented Features)
// without knowing or caring who, if anyone, is listening.
//
// Adapted from the teacher's internal/pubsub.PubSubClient: the same
// type-erasure trick (a closure per listener captures its own typed
// channel so heterogeneous payload types share one registry map) and
// the same buffered-queue-plus-drain shutdown shape, renamed onto
// this package's own vocabulary — Notifier/Topic/Notification/Listen
// /Notify — since a Raft node's role events are the only thing this
// package ever carries, not a general-purpose event bus.
package notify

import (
	"log"
	"sync"
	"sync/atomic"
)

// Topic identifies a class of notification, e.g. server.RoleChanged.
type Topic int

// ListenerOptions configures delivery to one listener.
type ListenerOptions struct {
	// IsBlocking makes Notify block until this listener's channel has
	// room. False (the default) drops the notification instead of
	// stalling every other listener behind a slow one.
	IsBlocking bool
}

// ListenerID identifies one Listen call; StopListening needs it back.
type ListenerID uint64

var nextListenerID uint64

// Notification carries Payload under Topic with compile-time type
// safety: Notification[RoleChangedPayload] and
// Notification[VoteGrantedPayload] are distinct concrete types.
type Notification[T any] struct {
	Topic   Topic
	Payload T
}

func NewNotification[T any](topic Topic, payload T) *Notification[T] {
	return &Notification[T]{Topic: topic, Payload: payload}
}

// listener is the type-erased half of a Listen registration: deliver
// closes over the caller's typed channel so the registry can hold
// listeners for many different payload types in one map.
type listener struct {
	deliver func(topic Topic, payload any) bool
	close   func()

	opts    ListenerOptions
	dropped uint64
}

// Notifier fans a single event stream out to any number of typed
// listeners. Safe for concurrent Listen/StopListening/Notify calls.
type Notifier struct {
	mu sync.RWMutex
	wg sync.WaitGroup

	listeners map[Topic]map[ListenerID]*listener

	queue chan queued

	closing atomic.Bool
}

type queued struct {
	topic   Topic
	payload any
}

func NewNotifier() *Notifier {
	n := &Notifier{
		listeners: make(map[Topic]map[ListenerID]*listener),
		queue:     make(chan queued, 100),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Listen registers ch to receive every Notification published on
// topic. The caller owns ch's buffer size; StopListening(topic, id)
// closes it. Because Go methods can't declare their own type
// parameters, this has to be a free function taking *Notifier first,
// the same shape as slices.Sort.
func Listen[T any](n *Notifier, topic Topic, ch chan *Notification[T], opts ListenerOptions) ListenerID {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := ListenerID(atomic.AddUint64(&nextListenerID, 1))
	l := &listener{
		opts: opts,
		deliver: func(t Topic, payload any) bool {
			typed, ok := payload.(T)
			if !ok {
				log.Printf("[NOTIFIER] topic %v: expected payload %T, got %T", t, *new(T), payload)
				return false
			}
			note := &Notification[T]{Topic: t, Payload: typed}
			if opts.IsBlocking {
				ch <- note
				return true
			}
			select {
			case ch <- note:
				return true
			default:
				return false
			}
		},
		close: func() { close(ch) },
	}

	if _, ok := n.listeners[topic]; !ok {
		n.listeners[topic] = make(map[ListenerID]*listener)
	}
	n.listeners[topic][id] = l
	return id
}

// StopListening removes a listener and closes its channel.
func (n *Notifier) StopListening(topic Topic, id ListenerID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	listeners, ok := n.listeners[topic]
	if !ok {
		return
	}
	l, ok := listeners[id]
	if !ok {
		return
	}
	delete(listeners, id)
	l.close()
	if len(listeners) == 0 {
		delete(n.listeners, topic)
	}
}

// Notify publishes note to every current listener on note.Topic.
//
// Held under RLock so Close/Drain (which need the write lock to close
// n.queue) can never run concurrently with a send on it — the classic
// send-on-closed-channel race, closed by making the closer wait for
// every in-flight Notify to release its RLock first.
func Notify[T any](n *Notifier, note *Notification[T]) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closing.Load() {
		return
	}
	n.queue <- queued{topic: note.Topic, payload: note.Payload}
}

// Close stops accepting new notifications and closes the queue
// immediately, without waiting for it to drain. Idempotent.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closing.Load() {
		return
	}
	n.closing.Store(true)
	close(n.queue)
}

// Drain closes the queue and blocks until every already-queued
// notification has been delivered and run has exited. Idempotent.
func (n *Notifier) Drain() {
	n.mu.Lock()
	if n.closing.Load() {
		n.mu.Unlock()
		n.wg.Wait()
		return
	}
	n.closing.Store(true)
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for msg := range n.queue {
		n.mu.RLock()
		for id, l := range n.listeners[msg.topic] {
			if !l.deliver(msg.topic, msg.payload) && !l.opts.IsBlocking {
				atomic.AddUint64(&l.dropped, 1)
			}
			_ = id
		}
		n.mu.RUnlock()
	}
}
