package redisipc

import (
	"fmt"
	"sync"
	"time"
)

type ledgerRow struct {
	expiresAt time.Time
	mailbox   *mailbox
}

// ledger is the local correlation table from outstanding request ids to their
// waiting mailboxes. Rows live from send-start to send-return; a background
// sweeper deletes rows whose deadline passed so that a caller which abandoned
// its wait (context cancellation) does not leak a row forever.
type ledger struct {
	entryTimeout    time.Duration
	cleanupInterval time.Duration

	mu   sync.Mutex
	rows map[string]*ledgerRow

	done chan struct{}
	wg   sync.WaitGroup
}

func newLedger(entryTimeout, cleanupInterval time.Duration) *ledger {
	return &ledger{
		entryTimeout:    entryTimeout,
		cleanupInterval: cleanupInterval,
		rows:            make(map[string]*ledgerRow),
	}
}

// start launches the background sweeper.
func (l *ledger) start() {
	l.done = make(chan struct{})
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
}

// stop halts the sweeper and waits for it to exit. Rows are left in place;
// their callers still observe their own bounded-wait timeout.
func (l *ledger) stop() {
	if l.done == nil {
		return
	}
	close(l.done)
	l.wg.Wait()
	l.done = nil
}

// Store registers an outstanding request and returns its freshly created
// mailbox. An id collision fails with ErrDuplicateEntry.
func (l *ledger) Store(entry Entry) (*mailbox, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.rows[entry.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.ID)
	}

	row := &ledgerRow{
		expiresAt: time.Now().Add(l.entryTimeout),
		mailbox:   newMailbox(),
	}
	l.rows[entry.ID] = row
	return row.mailbox, nil
}

// Fetch returns the mailbox waiting on the entry's id, if any.
func (l *ledger) Fetch(entry Entry) (*mailbox, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[entry.ID]
	if !ok {
		return nil, false
	}
	return row.mailbox, true
}

// Contains reports whether a row exists for the entry's id.
func (l *ledger) Contains(entry Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.rows[entry.ID]
	return ok
}

// Delete removes the row for the entry's id. Idempotent.
func (l *ledger) Delete(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.rows, entry.ID)
}

// Expired reports whether the id is absent or its deadline has passed.
func (l *ledger) Expired(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[id]
	if !ok {
		return true
	}
	return time.Now().After(row.expiresAt)
}

// Len reports the number of outstanding rows.
func (l *ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.rows)
}

// sweep deletes rows whose deadline passed. It never touches mailboxes: the
// awaiting caller discovers the timeout through its own bounded wait.
func (l *ledger) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, row := range l.rows {
		if now.After(row.expiresAt) {
			delete(l.rows, id)
		}
	}
}
