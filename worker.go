package redisipc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itsthedevman/redis-ipc/internal/logctx"
)

type workerState int

const (
	workerIdle workerState = iota
	workerRunning
	workerStopping
	workerStopped
)

// consumer drains its own pending-entry list on a periodic tick, classifies
// each entry, and finalizes it. Entries land in its pending list only when a
// dispatcher claims them there.
type consumer struct {
	name      string
	group     string
	commands  commandClient
	ledger    *ledger
	onRequest RequestHandler
	onError   ErrorHandler
	interval  time.Duration
	log       *slog.Logger

	mu    sync.Mutex
	state workerState
	done  chan struct{}
	wg    sync.WaitGroup
}

func newConsumer(name, group string, cmds commandClient, led *ledger, onRequest RequestHandler, onError ErrorHandler, interval time.Duration, log *slog.Logger) *consumer {
	return &consumer{
		name:      name,
		group:     group,
		commands:  cmds,
		ledger:    led,
		onRequest: onRequest,
		onError:   onError,
		interval:  interval,
		log:       log,
	}
}

// listen joins the instance's availability list and starts the tick loop.
func (c *consumer) listen(ctx context.Context) error {
	c.mu.Lock()
	if c.state != workerIdle {
		c.mu.Unlock()
		return fmt.Errorf("consumer %s is not idle", c.name)
	}
	c.state = workerRunning
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.commands.MakeConsumerAvailable(ctx, c.name); err != nil {
		c.mu.Lock()
		c.state = workerIdle
		c.mu.Unlock()
		return fmt.Errorf("consumer %s join availability: %w", c.name, err)
	}

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// stop leaves the availability list, halts the tick loop, and waits for any
// in-flight tick to finish.
func (c *consumer) stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != workerRunning {
		c.mu.Unlock()
		return nil
	}
	c.state = workerStopping
	c.mu.Unlock()

	err := c.commands.MakeConsumerUnavailable(ctx, c.name)

	close(c.done)
	c.wg.Wait()

	c.mu.Lock()
	c.state = workerStopped
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("consumer %s leave availability: %w", c.name, err)
	}
	return nil
}

func (c *consumer) run(ctx context.Context) {
	defer c.wg.Done()

	ctx = logctx.WithConsumerData(ctx, &logctx.ConsumerData{Name: c.name, Role: "consumer"})
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick performs one iteration: read at most one entry from this consumer's
// pending list and process it to completion. Finalization happens inside the
// tick body, so the next tick can never observe a half-processed entry.
func (c *consumer) tick(ctx context.Context) {
	entry, ok, err := c.commands.NextPendingEntry(ctx, c.name)
	if err != nil {
		c.reportError(ctx, fmt.Errorf("consumer %s read pending entry: %w", c.name, err))
		return
	}
	if !ok {
		return
	}
	c.process(ctx, entry)
}

func (c *consumer) process(ctx context.Context, entry Entry) {
	ctx = logctx.WithEntryData(ctx, &logctx.EntryData{
		ID:               entry.ID,
		Status:           string(entry.Status),
		SourceGroup:      entry.SourceGroup,
		DestinationGroup: entry.DestinationGroup,
	})
	defer c.finalize(ctx, entry)

	switch {
	case entry.DestinationGroup != c.group || !entry.Status.valid():
		c.log.DebugContext(ctx, "purging invalid entry")
	case entry.Status == StatusPending:
		c.handleRequest(ctx, entry)
	default:
		c.deliverReply(ctx, entry)
	}
}

// deliverReply routes a terminal entry to the caller blocked on its id. A
// reply with no ledger row belongs to a caller that already timed out, or is
// a redundant redelivery; either way it is dropped.
func (c *consumer) deliverReply(ctx context.Context, entry Entry) {
	mb, ok := c.ledger.Fetch(entry)
	if !ok {
		c.log.DebugContext(ctx, "dropping reply with no waiting caller")
		return
	}
	mb.deliver(entry)
}

// handleRequest invokes the user's request handler. The handler is expected
// to publish the reply itself via FulfillRequest or RejectRequest; when it
// fails instead, the consumer publishes the rejection on its behalf so the
// caller is not left waiting out its timeout.
func (c *consumer) handleRequest(ctx context.Context, entry Entry) {
	err := c.invokeHandler(ctx, entry)
	if err == nil {
		return
	}

	c.reportError(ctx, err)

	reply := entry.Rejected(err.Error())
	if _, pubErr := c.commands.AddToStream(ctx, reply); pubErr != nil {
		c.log.ErrorContext(ctx, "publish rejection failed", slog.String("error", pubErr.Error()))
	}
}

func (c *consumer) invokeHandler(ctx context.Context, entry Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return c.onRequest(ctx, entry)
}

// finalize acks and deletes the entry. Both are idempotent on Redis, so a
// dispatcher reclaim racing this finalization is harmless.
func (c *consumer) finalize(ctx context.Context, entry Entry) {
	if err := c.commands.AcknowledgeEntry(ctx, entry); err != nil {
		c.log.WarnContext(ctx, "acknowledge failed", slog.String("error", err.Error()))
	}
	if err := c.commands.DeleteEntry(ctx, entry); err != nil {
		c.log.WarnContext(ctx, "delete failed", slog.String("error", err.Error()))
	}
}

func (c *consumer) reportError(ctx context.Context, err error) {
	c.log.ErrorContext(ctx, "consumer error", slog.String("error", err.Error()))
	if c.onError != nil {
		c.onError(err)
	}
}
