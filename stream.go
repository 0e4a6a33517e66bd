package redisipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/itsthedevman/redis-ipc/internal/logctx"
)

// RequestHandler services one inbound request entry. Implementations reply by
// calling FulfillRequest or RejectRequest with the entry they were given; a
// returned error (or a panic) is routed to the error handler and published to
// the caller as a rejection.
type RequestHandler func(ctx context.Context, entry Entry) error

// ErrorHandler receives every error raised inside a consumer or dispatcher
// tick, including request-handler failures.
type ErrorHandler func(err error)

// Stream is the lifecycle façade for one (stream, group, instance) triple: it
// owns the Redis client, the correlation ledger, and the consumer and
// dispatcher pools, and exposes the request/response API.
type Stream struct {
	stream     string
	group      string
	instanceID string

	mu          sync.Mutex
	onRequest   RequestHandler
	onError     ErrorHandler
	connected   bool
	cfg         Config
	client      redis.UniversalClient
	ownsClient  bool
	commands    *commands
	ledger      *ledger
	consumers   []*consumer
	dispatchers []*dispatcher
	cancel      context.CancelFunc
	log         *slog.Logger
}

// New builds a disconnected coordinator for the given stream and group. Each
// coordinator carries its own instance token, so several processes may share
// one group name and still receive their own replies.
func New(stream, group string) *Stream {
	return &Stream{
		stream:     stream,
		group:      group,
		instanceID: newInstanceID(),
	}
}

// OnRequest sets the handler invoked for each inbound request. Required
// before Connect.
func (s *Stream) OnRequest(handler RequestHandler) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRequest = handler
	return s
}

// OnError sets the handler invoked for tick and request-handler errors.
// Required before Connect.
func (s *Stream) OnError(handler ErrorHandler) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = handler
	return s
}

// Connect builds the Redis client, recreates the consumer group, and starts
// the ledger sweeper, consumer pool, and dispatcher pool.
func (s *Stream) Connect(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return ErrAlreadyConnected
	}
	if s.onRequest == nil || s.onError == nil {
		return ErrMissingHandler
	}

	cfg = cfg.withDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	// Attach the fixed attributes before wrapping: Logger.With would call the
	// embedded handler's WithAttrs and drop the logctx wrapper.
	logger = slog.New(logctx.Handler{Handler: logger.Handler().WithAttrs([]slog.Attr{
		slog.String("stream", s.stream),
		slog.String("group", s.group),
		slog.String("instance", s.instanceID),
	})})

	client := cfg.Client
	ownsClient := false
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.connectionCount(),
		})
		ownsClient = true
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.ConnectTimeout
	ping := func() error { return client.Ping(ctx).Err() }
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		if ownsClient {
			_ = client.Close()
		}
		return fmt.Errorf("redis ping: %w", err)
	}

	cmds := newCommands(client, s.stream, s.group, s.instanceID, cfg.AvailabilityTTL, logger)

	// Recreate the group from scratch so this connect never inherits history.
	if err := cmds.DestroyGroup(ctx); err != nil {
		if ownsClient {
			_ = client.Close()
		}
		return err
	}
	if err := cmds.CreateGroup(ctx); err != nil {
		if ownsClient {
			_ = client.Close()
		}
		return err
	}
	if err := cmds.PruneConsumers(ctx, cfg.AvailabilityTTL); err != nil {
		logger.WarnContext(ctx, "prune consumers failed", slog.String("error", err.Error()))
	}

	led := newLedger(cfg.EntryTimeout, cfg.CleanupInterval)
	led.start()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var (
		consumers   []*consumer
		dispatchers []*dispatcher
	)
	teardown := func() {
		for _, d := range dispatchers {
			d.stop()
		}
		for _, c := range consumers {
			_ = c.stop(runCtx)
		}
		cancel()
		led.stop()
		if ownsClient {
			_ = client.Close()
		}
	}

	for i := 0; i < cfg.ConsumerCount; i++ {
		name := fmt.Sprintf("%s:consumer:%d", s.instanceID, i)
		if err := cmds.CreateConsumer(ctx, name); err != nil {
			teardown()
			return err
		}
		c := newConsumer(name, s.group, cmds, led, s.onRequest, s.onError, cfg.ConsumerInterval, logger)
		if err := c.listen(runCtx); err != nil {
			teardown()
			return err
		}
		consumers = append(consumers, c)
	}

	for i := 0; i < cfg.DispatcherCount; i++ {
		name := fmt.Sprintf("%s:dispatcher:%d", s.instanceID, i)
		if err := cmds.CreateConsumer(ctx, name); err != nil {
			teardown()
			return err
		}
		d := newDispatcher(name, s.group, s.instanceID, cmds, cfg.DispatcherInterval, cfg.ReclaimIdle, s.onError, logger)
		if err := d.listen(runCtx); err != nil {
			teardown()
			return err
		}
		dispatchers = append(dispatchers, d)
	}

	s.cfg = cfg
	s.client = client
	s.ownsClient = ownsClient
	s.commands = cmds
	s.ledger = led
	s.consumers = consumers
	s.dispatchers = dispatchers
	s.cancel = cancel
	s.log = logger
	s.connected = true

	logger.InfoContext(ctx, "connected",
		slog.Int("consumers", len(consumers)),
		slog.Int("dispatchers", len(dispatchers)),
	)
	return nil
}

// Connected reports whether Connect has completed and Disconnect has not.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect shuts everything down in reverse dependency order: dispatchers
// first so nothing new is handed to consumers, then consumers, then the
// ledger sweeper and the Redis client.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancelShutdown()

	for _, d := range s.dispatchers {
		d.stop()
	}

	var firstErr error
	for _, c := range s.consumers {
		if err := c.stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, c := range s.consumers {
		if err := s.commands.DeleteConsumer(ctx, c.name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, d := range s.dispatchers {
		if err := s.commands.DeleteConsumer(ctx, d.name); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.cancel()
	s.ledger.stop()

	if s.ownsClient {
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.log.Info("disconnected")
	s.consumers = nil
	s.dispatchers = nil
	s.connected = false
	return firstErr
}

// SendToGroup publishes a request to another group and blocks until a reply
// arrives or the entry timeout elapses. Protocol-level failures never surface
// as errors; they come back as a rejected Response. The returned error is
// reserved for misuse (calling on a disconnected coordinator) and context
// cancellation.
func (s *Stream) SendToGroup(ctx context.Context, content, to string) (Response, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return Response{}, ErrNotConnected
	}
	cmds, led, timeout := s.commands, s.ledger, s.cfg.EntryTimeout
	s.mu.Unlock()

	entry := newRequestEntry(content, s.group, to, s.instanceID)

	// The ledger row must exist before the entry is published: the reply can
	// arrive before AddToStream returns.
	mb, err := led.Store(entry)
	if err != nil {
		return NewRejectedResponse(err), nil
	}
	defer led.Delete(entry)

	published, err := cmds.AddToStream(ctx, entry)
	if err != nil {
		return NewRejectedResponse(err), nil
	}

	reply, err := mb.take(ctx, timeout)
	switch {
	case err == nil && reply.Status == StatusFulfilled:
		return NewFulfilledResponse(reply.Content), nil
	case err == nil:
		return NewRejectedResponse(reply.Content), nil
	case errors.Is(err, ErrTimeout):
		// Nobody picked the request up in time; purge the orphan so the
		// stream drains back to its starting length.
		_ = cmds.DeleteEntry(context.WithoutCancel(ctx), published)
		return NewRejectedResponse(ErrTimeout), nil
	case ctx.Err() != nil:
		_ = cmds.DeleteEntry(context.WithoutCancel(ctx), published)
		return Response{}, ctx.Err()
	default:
		return NewRejectedResponse(err), nil
	}
}

// FulfillRequest publishes the fulfilled reply for a request entry. Never
// blocks on the caller's response.
func (s *Stream) FulfillRequest(ctx context.Context, entry Entry, content string) error {
	return s.publishReply(ctx, entry.Fulfilled(content))
}

// RejectRequest publishes the rejected reply for a request entry.
func (s *Stream) RejectRequest(ctx context.Context, entry Entry, content string) error {
	return s.publishReply(ctx, entry.Rejected(content))
}

func (s *Stream) publishReply(ctx context.Context, reply Entry) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	cmds := s.commands
	s.mu.Unlock()

	if _, err := cmds.AddToStream(ctx, reply); err != nil {
		return fmt.Errorf("publish %s reply for entry %s: %w", reply.Status, reply.ID, err)
	}
	return nil
}
