package redisipc

import (
	"context"
	"time"
)

type mailboxValue struct {
	entry Entry
	err   error
}

// mailbox is the single-assignment rendezvous cell a caller blocks on while
// its request is in flight. Exactly one of deliver or fail wins; later calls
// are dropped silently, which is how redundant replies (a dispatcher reclaim
// racing a consumer that already finalized) stay harmless.
type mailbox struct {
	ch chan mailboxValue
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan mailboxValue, 1)}
}

// deliver places a reply entry in the mailbox if it is still empty.
func (m *mailbox) deliver(entry Entry) {
	select {
	case m.ch <- mailboxValue{entry: entry}:
	default:
	}
}

// fail places an error in the mailbox if it is still empty.
func (m *mailbox) fail(err error) {
	select {
	case m.ch <- mailboxValue{err: err}:
	default:
	}
}

// take blocks until a value arrives, the timeout elapses, or ctx is done.
// Expiry surfaces as ErrTimeout; the sweeper never wakes a mailbox.
func (m *mailbox) take(ctx context.Context, timeout time.Duration) (Entry, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-m.ch:
		return v.entry, v.err
	case <-timer.C:
		return Entry{}, ErrTimeout
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}
