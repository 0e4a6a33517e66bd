package redisipc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itsthedevman/redis-ipc/internal/logctx"
)

// dispatcher routes entries to consumers; it never accepts entries itself.
// On each tick it tries three reads in order: reclaimed entries abandoned by
// a crashed consumer, unread entries, then its own pending list (entries it
// read earlier but failed to hand off).
type dispatcher struct {
	name        string
	group       string
	instance    string
	commands    commandClient
	interval    time.Duration
	reclaimIdle time.Duration
	onError     ErrorHandler
	log         *slog.Logger

	mu    sync.Mutex
	state workerState
	done  chan struct{}
	wg    sync.WaitGroup
}

func newDispatcher(name, group, instance string, cmds commandClient, interval, reclaimIdle time.Duration, onError ErrorHandler, log *slog.Logger) *dispatcher {
	return &dispatcher{
		name:        name,
		group:       group,
		instance:    instance,
		commands:    cmds,
		interval:    interval,
		reclaimIdle: reclaimIdle,
		onError:     onError,
		log:         log,
	}
}

// listen starts the tick loop. A dispatcher with nothing to dispatch to is a
// configuration mistake, so it refuses to start until at least one consumer
// of its own instance has joined the availability list.
func (d *dispatcher) listen(ctx context.Context) error {
	names, err := d.commands.AvailableConsumerNames(ctx, d.instance)
	if err != nil {
		return fmt.Errorf("dispatcher %s read availability: %w", d.name, err)
	}
	if len(names) == 0 {
		return fmt.Errorf("dispatcher %s: %w", d.name, ErrNoConsumersAvailable)
	}

	d.mu.Lock()
	if d.state != workerIdle {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher %s is not idle", d.name)
	}
	d.state = workerRunning
	d.done = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)
	return nil
}

// stop halts the tick loop and waits for any in-flight tick to finish.
func (d *dispatcher) stop() {
	d.mu.Lock()
	if d.state != workerRunning {
		d.mu.Unlock()
		return
	}
	d.state = workerStopping
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()

	d.mu.Lock()
	d.state = workerStopped
	d.mu.Unlock()
}

func (d *dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ctx = logctx.WithConsumerData(ctx, &logctx.ConsumerData{Name: d.name, Role: "dispatcher"})
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *dispatcher) tick(ctx context.Context) {
	entry, ok := d.nextEntry(ctx)
	if !ok {
		return
	}
	d.route(ctx, entry)
}

func (d *dispatcher) nextEntry(ctx context.Context) (Entry, bool) {
	reads := []func(context.Context) (Entry, bool, error){
		func(ctx context.Context) (Entry, bool, error) {
			return d.commands.NextReclaimedEntry(ctx, d.name, d.reclaimIdle)
		},
		func(ctx context.Context) (Entry, bool, error) {
			return d.commands.NextUnreadEntry(ctx, d.name)
		},
		func(ctx context.Context) (Entry, bool, error) {
			return d.commands.NextPendingEntry(ctx, d.name)
		},
	}

	for _, read := range reads {
		entry, ok, err := read(ctx)
		if err != nil {
			d.reportError(ctx, fmt.Errorf("dispatcher %s read: %w", d.name, err))
			return Entry{}, false
		}
		if ok {
			return entry, true
		}
	}
	return Entry{}, false
}

func (d *dispatcher) route(ctx context.Context, entry Entry) {
	ctx = logctx.WithEntryData(ctx, &logctx.EntryData{
		ID:               entry.ID,
		Status:           string(entry.Status),
		SourceGroup:      entry.SourceGroup,
		DestinationGroup: entry.DestinationGroup,
	})

	if entry.DestinationGroup != d.group {
		// Consumer-group fan-out delivered a copy of this entry to its real
		// group as well. Drop it from this dispatcher's pending list only;
		// the entry stays in the stream.
		d.acknowledge(ctx, entry)
		return
	}

	if !entry.Status.valid() {
		d.log.WarnContext(ctx, "purging entry with invalid status")
		d.acknowledge(ctx, entry)
		d.delete(ctx, entry)
		return
	}

	// Requests go to a consumer of this dispatcher's own instance; replies go
	// back to the instance that published the request.
	target := d.instance
	if entry.Status != StatusPending && entry.InstanceID != "" {
		target = entry.InstanceID
	}

	names, err := d.commands.AvailableConsumerNames(ctx, target)
	if err != nil {
		// Leave the entry in this dispatcher's pending list; the next tick
		// retries it via NextPendingEntry.
		d.reportError(ctx, fmt.Errorf("dispatcher %s read availability for %s: %w", d.name, target, err))
		return
	}
	if len(names) == 0 {
		d.dispatchFailure(ctx, entry, target)
		return
	}

	winner := d.selectConsumer(ctx, names)
	if err := d.commands.ClaimEntry(ctx, winner, entry); err != nil {
		d.reportError(ctx, fmt.Errorf("dispatcher %s claim %s to %s: %w", d.name, entry.ID, winner, err))
		return
	}
	d.log.DebugContext(ctx, "dispatched entry", slog.String("to", winner))
}

func (d *dispatcher) selectConsumer(ctx context.Context, names []string) string {
	info, err := d.commands.ConsumerInfo(ctx, names)
	if err != nil {
		// An empty snapshot ranks every candidate as never-seen; dispatch
		// still proceeds.
		d.reportError(ctx, fmt.Errorf("dispatcher %s consumer info: %w", d.name, err))
		info = nil
	}
	return leastBusy(names, info)
}

// dispatchFailure purges an entry that has no live consumer to go to. The
// caller would otherwise wait out its full timeout, so when the entry is a
// request that can be routed back, a rejection is published in its place.
func (d *dispatcher) dispatchFailure(ctx context.Context, entry Entry, target string) {
	d.log.WarnContext(ctx, "no consumers available", slog.String("target_instance", target))
	d.acknowledge(ctx, entry)
	d.delete(ctx, entry)

	if entry.Status != StatusPending || entry.InstanceID == "" {
		return
	}
	reply := entry.Rejected(fmt.Sprintf("no consumers available in group %q", d.group))
	if _, err := d.commands.AddToStream(ctx, reply); err != nil {
		d.log.ErrorContext(ctx, "publish dispatch-failure rejection failed", slog.String("error", err.Error()))
	}
}

func (d *dispatcher) acknowledge(ctx context.Context, entry Entry) {
	if err := d.commands.AcknowledgeEntry(ctx, entry); err != nil {
		d.log.WarnContext(ctx, "acknowledge failed", slog.String("error", err.Error()))
	}
}

func (d *dispatcher) delete(ctx context.Context, entry Entry) {
	if err := d.commands.DeleteEntry(ctx, entry); err != nil {
		d.log.WarnContext(ctx, "delete failed", slog.String("error", err.Error()))
	}
}

func (d *dispatcher) reportError(ctx context.Context, err error) {
	d.log.ErrorContext(ctx, "dispatcher error", slog.String("error", err.Error()))
	if d.onError != nil {
		d.onError(err)
	}
}
