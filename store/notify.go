package store

import (
	"sync"
)

// ChangeType represents the type of store change.
type ChangeType int

const (
	// ChangeSet indicates a value was set or updated.
	ChangeSet ChangeType = iota

	// ChangeDelete indicates a value was removed.
	ChangeDelete
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeSet:
		return "set"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change represents one store mutation.
type Change struct {
	// Path is the full path of the changed key.
	Path string

	// Type is the type of change.
	Type ChangeType

	// Value is the new value. Zero for deletes.
	Value Value

	// Source identifies the writer, see Store.Client.
	Source string
}

// Observer is called when a watched path changes.
type Observer func(change Change)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	path     string
	notifier *Notifier
}

// Path returns the path prefix the subscription observes.
func (s *Subscription) Path() string { return s.path }

// Unsubscribe removes this subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

// Notifier fans changes out to path-scoped observers.
//
// Delivery happens on the notifier's own goroutine, in the order changes
// were submitted. Notify never blocks the writer, so an observer may
// safely hand the change to a queue drained by the same goroutine that
// performed the write.
type Notifier struct {
	mu sync.Mutex

	observers map[uint64]pathObserver
	nextID    uint64

	pending  []Change
	inflight int
	idle     *sync.Cond
	wake     chan struct{}

	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

type pathObserver struct {
	path     string
	observer Observer
}

// NewNotifier creates a notifier and starts its delivery goroutine.
func NewNotifier() *Notifier {
	n := &Notifier{
		observers: make(map[uint64]pathObserver),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	n.idle = sync.NewCond(&n.mu)

	n.wg.Add(1)
	go n.processAsync()
	return n
}

// SubscribePath registers an observer for path and everything beneath it.
// Subscribing to "/apps/gnome15/g19_0" receives changes to
// "/apps/gnome15/g19_0/active_profile".
func (n *Notifier) SubscribePath(path string, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.observers[id] = pathObserver{path: path, observer: observer}

	return &Subscription{id: id, path: path, notifier: n}
}

// Count returns the number of subscriptions whose path is prefix or lies
// beneath it.
func (n *Notifier) Count(prefix string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	count := 0
	for _, po := range n.observers {
		if Under(prefix, po.path) {
			count++
		}
	}
	return count
}

// Notify queues changes for delivery.
func (n *Notifier) Notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.pending = append(n.pending, changes...)
	n.inflight += len(changes)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every queued change has been delivered.
func (n *Notifier) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.inflight > 0 && !n.closed {
		n.idle.Wait()
	}
}

// Close shuts down the notifier after delivering what is already queued.
// It is safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.idle.Broadcast()
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.observers, id)
}

// deliverChange sends a change to all matching observers.
func (n *Notifier) deliverChange(change Change) {
	n.mu.Lock()
	var observers []Observer
	for _, po := range n.observers {
		if Under(po.path, change.Path) {
			observers = append(observers, po.observer)
		}
	}
	n.mu.Unlock()

	// Call observers outside the lock
	for _, obs := range observers {
		obs(change)
	}
}

func (n *Notifier) drain() {
	for {
		n.mu.Lock()
		batch := n.pending
		n.pending = nil
		n.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, change := range batch {
			n.deliverChange(change)
		}

		n.mu.Lock()
		n.inflight -= len(batch)
		if n.inflight == 0 {
			n.idle.Broadcast()
		}
		n.mu.Unlock()
	}
}

// processAsync handles asynchronous notification delivery.
func (n *Notifier) processAsync() {
	defer n.wg.Done()

	for {
		select {
		case <-n.wake:
			n.drain()
		case <-n.done:
			n.drain()
			return
		}
	}
}
