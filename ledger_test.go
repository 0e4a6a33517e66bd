package redisipc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLedgerStoreAndFetch(t *testing.T) {
	led := newLedger(time.Second, time.Second)
	entry := newRequestEntry("hi", "a", "b", "")

	mb, err := led.Store(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mb == nil {
		t.Fatal("expected a mailbox")
	}
	if !led.Contains(entry) {
		t.Fatal("ledger should contain the stored entry")
	}

	fetched, ok := led.Fetch(entry)
	if !ok || fetched != mb {
		t.Fatal("fetch must return the mailbox created by store")
	}
}

func TestLedgerDuplicateStore(t *testing.T) {
	led := newLedger(time.Second, time.Second)
	entry := newRequestEntry("hi", "a", "b", "")

	if _, err := led.Store(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := led.Store(entry); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestLedgerDeleteIdempotent(t *testing.T) {
	led := newLedger(time.Second, time.Second)
	entry := newRequestEntry("hi", "a", "b", "")

	if _, err := led.Store(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	led.Delete(entry)
	led.Delete(entry)

	if led.Contains(entry) {
		t.Fatal("entry should be gone")
	}
	if _, ok := led.Fetch(entry); ok {
		t.Fatal("fetch after delete should miss")
	}
}

func TestLedgerExpired(t *testing.T) {
	led := newLedger(5*time.Millisecond, time.Hour)
	entry := newRequestEntry("hi", "a", "b", "")

	if !led.Expired("missing") {
		t.Fatal("absent ids are expired")
	}

	if _, err := led.Store(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if led.Expired(entry.ID) {
		t.Fatal("fresh row should not be expired")
	}

	time.Sleep(20 * time.Millisecond)
	if !led.Expired(entry.ID) {
		t.Fatal("row past its deadline should be expired")
	}
}

func TestLedgerSweeperRemovesExpiredRows(t *testing.T) {
	led := newLedger(5*time.Millisecond, 5*time.Millisecond)
	led.start()
	defer led.stop()

	entry := newRequestEntry("hi", "a", "b", "")
	mb, err := led.Store(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for led.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove the expired row")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The sweeper never wakes a mailbox; the caller's own bounded wait
	// surfaces the timeout.
	if _, err := mb.take(context.Background(), time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected the mailbox to stay empty, got %v", err)
	}
}

func TestLedgerConcurrentAccess(t *testing.T) {
	led := newLedger(time.Second, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				entry := Entry{ID: fmt.Sprintf("%02d-%03d", i, j), Status: StatusPending}
				if _, err := led.Store(entry); err != nil {
					t.Errorf("store: %v", err)
					return
				}
				led.Fetch(entry)
				led.Contains(entry)
				led.Delete(entry)
			}
		}(i)
	}
	wg.Wait()

	if n := led.Len(); n != 0 {
		t.Fatalf("expected empty ledger, found %d rows", n)
	}
}
