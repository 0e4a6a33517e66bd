package redisipc

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeCommands is an in-process stand-in for the Redis command façade, used
// by the consumer and dispatcher unit tests.
type fakeCommands struct {
	mu       sync.Mutex
	instance string

	nextID      int
	published   []Entry
	unread      []Entry
	reclaimable []Entry
	pending     map[string][]Entry
	claims      map[string][]Entry
	acked       map[string]int
	deleted     map[string]int
	available   map[string][]string
	info        map[string]consumerStats
	readErr     error
}

var _ commandClient = (*fakeCommands)(nil)

func newFakeCommands(instance string) *fakeCommands {
	return &fakeCommands{
		instance:  instance,
		pending:   make(map[string][]Entry),
		claims:    make(map[string][]Entry),
		acked:     make(map[string]int),
		deleted:   make(map[string]int),
		available: make(map[string][]string),
		info:      make(map[string]consumerStats),
	}
}

func (f *fakeCommands) AddToStream(_ context.Context, entry Entry) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	entry.RedisID = fmt.Sprintf("%d-0", f.nextID)
	f.published = append(f.published, entry)
	return entry, nil
}

func (f *fakeCommands) NextUnreadEntry(_ context.Context, _ string) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return Entry{}, false, f.readErr
	}
	if len(f.unread) == 0 {
		return Entry{}, false, nil
	}
	entry := f.unread[0]
	f.unread = f.unread[1:]
	return entry, true, nil
}

func (f *fakeCommands) NextPendingEntry(_ context.Context, consumer string) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return Entry{}, false, f.readErr
	}
	list := f.pending[consumer]
	if len(list) == 0 {
		return Entry{}, false, nil
	}
	entry := list[0]
	f.pending[consumer] = list[1:]
	return entry, true, nil
}

func (f *fakeCommands) NextReclaimedEntry(_ context.Context, _ string, _ time.Duration) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return Entry{}, false, f.readErr
	}
	if len(f.reclaimable) == 0 {
		return Entry{}, false, nil
	}
	entry := f.reclaimable[0]
	f.reclaimable = f.reclaimable[1:]
	return entry, true, nil
}

func (f *fakeCommands) ClaimEntry(_ context.Context, consumer string, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.claims[consumer] = append(f.claims[consumer], entry)
	f.pending[consumer] = append(f.pending[consumer], entry)
	return nil
}

func (f *fakeCommands) AcknowledgeEntry(_ context.Context, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acked[entry.RedisID]++
	return nil
}

func (f *fakeCommands) DeleteEntry(_ context.Context, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted[entry.RedisID]++
	return nil
}

func (f *fakeCommands) ConsumerInfo(_ context.Context, filterFor []string) (map[string]consumerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info := make(map[string]consumerStats)
	if len(filterFor) == 0 {
		for name, stats := range f.info {
			info[name] = stats
		}
		return info, nil
	}
	for _, name := range filterFor {
		if stats, ok := f.info[name]; ok {
			info[name] = stats
		}
	}
	return info, nil
}

func (f *fakeCommands) AvailableConsumerNames(_ context.Context, instance string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.available[instance]...), nil
}

func (f *fakeCommands) MakeConsumerAvailable(_ context.Context, consumer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, name := range f.available[f.instance] {
		if name == consumer {
			return nil
		}
	}
	f.available[f.instance] = append(f.available[f.instance], consumer)
	return nil
}

func (f *fakeCommands) MakeConsumerUnavailable(_ context.Context, consumer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := f.available[f.instance]
	for i, name := range names {
		if name == consumer {
			f.available[f.instance] = append(names[:i:i], names[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeCommands) publishedEntries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Entry(nil), f.published...)
}

func (f *fakeCommands) ackCount(redisID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.acked[redisID]
}

func (f *fakeCommands) deleteCount(redisID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.deleted[redisID]
}

func (f *fakeCommands) claimedBy(consumer string) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Entry(nil), f.claims[consumer]...)
}

func (f *fakeCommands) addPending(consumer string, entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending[consumer] = append(f.pending[consumer], entry)
}

func (f *fakeCommands) addUnread(entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unread = append(f.unread, entry)
}

func (f *fakeCommands) addReclaimable(entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reclaimable = append(f.reclaimable, entry)
}

func (f *fakeCommands) setAvailable(instance string, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.available[instance] = names
}

func (f *fakeCommands) setInfo(name string, stats consumerStats) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.info[name] = stats
}
