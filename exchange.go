package jetstream

import (
	"math/rand/v2"
	"sync"
)

// Subscriber receives messages dispatched by an Exchange. Client (local)
// and the server connection / remote-client plumbing all implement it.
type Subscriber interface {
	OnMessage(qid string, message []byte)
}

// subscription is one (key, Qid, subscriber-set) entry of the by-qid table.
type subscription struct {
	qid     Qid
	clients map[Subscriber]struct{}
}

// Exchange is the in-memory pub/sub routing table (spec.md §4.B). It keeps
// two mutually consistent mappings — by-qid and by-client — guarded by a
// single RWMutex, following the teacher's option-(b) concurrency model: a
// short critical section around routing state accessed by many connection
// goroutines at once, mirroring session.go's streamLock over s.streams.
type Exchange struct {
	mu          sync.RWMutex
	clients     map[Subscriber][]Qid        // client -> qids subscribed, in order
	subscribers map[string]*subscription    // qid key -> subscription
}

// NewExchange constructs an empty Exchange.
func NewExchange() *Exchange {
	return &Exchange{
		clients:     make(map[Subscriber][]Qid),
		subscribers: make(map[string]*subscription),
	}
}

// Connect registers client with the exchange. Connecting an already
// connected client resets its subscription list to empty.
func (e *Exchange) Connect(client Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if qids, ok := e.clients[client]; ok {
		for _, qid := range append([]Qid(nil), qids...) {
			e.unsubscribeLocked(qid, client)
		}
	}
	e.clients[client] = nil
}

// Disconnect unsubscribes client from everything it holds and removes it
// from the exchange. Disconnecting a client that was never connected is a
// no-op.
func (e *Exchange) Disconnect(client Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	qids, ok := e.clients[client]
	if !ok {
		return
	}
	// Copy before mutating: unsubscribeLocked mutates e.clients[client].
	for _, qid := range append([]Qid(nil), qids...) {
		e.unsubscribeLocked(qid, client)
	}
	delete(e.clients, client)
}

// DisconnectAll disconnects every currently connected client, across every
// listener and including local Clients, and returns them. It only updates
// the exchange's tables: it does not close any connection or change a
// Client's own connected state. Listener.Stop does not call it; Stop
// closes the connections that listener accepted instead.
func (e *Exchange) DisconnectAll() []Subscriber {
	e.mu.RLock()
	all := make([]Subscriber, 0, len(e.clients))
	for c := range e.clients {
		all = append(all, c)
	}
	e.mu.RUnlock()
	for _, c := range all {
		e.Disconnect(c)
	}
	return all
}

// Subscribe registers client's interest in qid. client must already be
// connected; duplicate Subscribe calls for the same qid create independent
// entries (Unsubscribe removes one occurrence, not all).
func (e *Exchange) Subscribe(qid Qid, client Subscriber) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.clients[client]; !ok {
		return ErrNotConnected
	}
	key := qid.key()
	sub, ok := e.subscribers[key]
	if !ok {
		sub = &subscription{qid: qid, clients: make(map[Subscriber]struct{})}
		e.subscribers[key] = sub
	}
	sub.clients[client] = struct{}{}
	e.clients[client] = append(e.clients[client], qid)
	return nil
}

// Unsubscribe removes one occurrence of qid from client's subscriptions.
func (e *Exchange) Unsubscribe(qid Qid, client Subscriber) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.clients[client]; !ok {
		return ErrNotConnected
	}
	return e.unsubscribeLocked(qid, client)
}

func (e *Exchange) unsubscribeLocked(qid Qid, client Subscriber) error {
	key := qid.key()
	sub, ok := e.subscribers[key]
	if !ok {
		return nil
	}
	qids := e.clients[client]
	for i, q := range qids {
		if q.key() == key {
			qids = append(qids[:i], qids[i+1:]...)
			e.clients[client] = qids
			break
		}
	}
	for _, q := range qids {
		if q.key() == key {
			return nil // another occurrence keeps client subscribed
		}
	}
	delete(sub.clients, client)
	if len(sub.clients) == 0 {
		delete(e.subscribers, key)
	}
	return nil
}

// Dispatch routes message to subscribers matching the literal target qid:
// every key that equals it, or whose pattern matches it (anchored at the
// start). Multicast delivers to every matching subscriber; unicast
// delivers to exactly one, chosen uniformly at random, and silently drops
// the message when no subscriber matches (spec.md §4.B: "no queueing for
// absent subscribers").
func (e *Exchange) Dispatch(qid string, message []byte, multicast bool) {
	e.mu.RLock()
	recipients := make(map[Subscriber]struct{})
	for _, sub := range e.subscribers {
		if sub.qid.matches(qid) {
			for c := range sub.clients {
				recipients[c] = struct{}{}
			}
		}
	}
	e.mu.RUnlock()

	if len(recipients) == 0 {
		return
	}
	if multicast {
		for c := range recipients {
			c.OnMessage(qid, message)
		}
		return
	}
	pick := rand.IntN(len(recipients))
	i := 0
	for c := range recipients {
		if i == pick {
			c.OnMessage(qid, message)
			return
		}
		i++
	}
}
