package store

import (
	"context"
	"sync"
)

// closedChan is returned by WaitChan for thresholds that are already
// met, so callers can select on it uniformly.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Mailbox is the ordered collection of accepted messages together with
// the count-based waiter registry. Append, reset, and waiter
// registration all run under one mutex so that store-append,
// count-increment, and the wake check form a single atomic step: no
// observer can ever see the message slice and the accepted counter
// disagree, and no threshold is woken twice.
type Mailbox struct {
	mu       sync.Mutex
	messages []Message
	accepted int
	waiters  map[int]chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		waiters: make(map[int]chan struct{}),
	}
}

// Append stores an accepted message, increments the accepted count,
// and wakes the waiter registered at exactly the new count, if any.
// It returns the new count. Rejected requests must never call Append.
func (mb *Mailbox) Append(m Message) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.messages = append(mb.messages, m)
	mb.accepted++
	if ch, ok := mb.waiters[mb.accepted]; ok {
		delete(mb.waiters, mb.accepted)
		close(ch)
	}
	return mb.accepted
}

// Accepted returns the number of messages accepted since the last reset.
func (mb *Mailbox) Accepted() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.accepted
}

// List returns a copy of the stored messages, newest first.
func (mb *Mailbox) List() []Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	out := make([]Message, 0, len(mb.messages))
	for i := len(mb.messages) - 1; i >= 0; i-- {
		out = append(out, mb.messages[i])
	}
	return out
}

// WaitChan returns a channel that is closed once the accepted count
// reaches n. If the count is already there, the returned channel is
// already closed and nothing is registered. Concurrent callers waiting
// on the same threshold share one channel and one wake.
func (mb *Mailbox) WaitChan(n int) <-chan struct{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.accepted >= n {
		return closedChan
	}
	if ch, ok := mb.waiters[n]; ok {
		return ch
	}
	ch := make(chan struct{})
	mb.waiters[n] = ch
	return ch
}

// Wait blocks until the accepted count reaches n or ctx is done. The
// mailbox itself imposes no timeout; deadlines come from the caller's
// context.
func (mb *Mailbox) Wait(ctx context.Context, n int) error {
	select {
	case <-mb.WaitChan(n):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset empties the mailbox: messages and the accepted count are
// cleared together. Registered waiters survive; they are woken only
// when fresh sends bring the count back up to their threshold.
func (mb *Mailbox) Reset() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.messages = nil
	mb.accepted = 0
}

// Snapshot returns the stored messages in insertion order, for the
// admin state endpoint.
func (mb *Mailbox) Snapshot() []Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]Message, len(mb.messages))
	copy(out, mb.messages)
	return out
}

// LoadSnapshot replaces the mailbox contents. The accepted count
// follows the loaded messages, and any waiter whose threshold the new
// count satisfies is woken, so loaded state behaves like state that
// arrived through Append.
func (mb *Mailbox) LoadSnapshot(messages []Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.messages = make([]Message, len(messages))
	copy(mb.messages, messages)
	mb.accepted = len(mb.messages)
	for n, ch := range mb.waiters {
		if n <= mb.accepted {
			delete(mb.waiters, n)
			close(ch)
		}
	}
}
