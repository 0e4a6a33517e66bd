package redisipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cursors for consumer-group reads: ">" yields entries never delivered to any
// consumer; "0" replays this consumer's own pending-entry list.
const (
	cursorUnread  = ">"
	cursorPending = "0"
)

// commandClient is the slice of the command façade that consumers and
// dispatchers depend on. Narrow on purpose so tests can substitute an
// in-process fake.
type commandClient interface {
	AddToStream(ctx context.Context, entry Entry) (Entry, error)
	NextUnreadEntry(ctx context.Context, consumer string) (Entry, bool, error)
	NextPendingEntry(ctx context.Context, consumer string) (Entry, bool, error)
	NextReclaimedEntry(ctx context.Context, consumer string, minIdle time.Duration) (Entry, bool, error)
	ClaimEntry(ctx context.Context, consumer string, entry Entry) error
	AcknowledgeEntry(ctx context.Context, entry Entry) error
	DeleteEntry(ctx context.Context, entry Entry) error
	ConsumerInfo(ctx context.Context, filterFor []string) (map[string]consumerStats, error)
	AvailableConsumerNames(ctx context.Context, instance string) ([]string, error)
	MakeConsumerAvailable(ctx context.Context, consumer string) error
	MakeConsumerUnavailable(ctx context.Context, consumer string) error
}

// commands is the single concurrency-safe surface over every stream operation
// the core issues. Connections come from the client's pool, checked out per
// command; no call here blocks a connection long-term. Benign command errors
// (group already exists, entry already acknowledged) are suppressed; transport
// errors propagate wrapped.
type commands struct {
	client          redis.UniversalClient
	stream          string
	group           string
	instance        string
	availabilityTTL time.Duration
	log             *slog.Logger
}

var _ commandClient = (*commands)(nil)

func newCommands(client redis.UniversalClient, stream, group, instance string, availabilityTTL time.Duration, log *slog.Logger) *commands {
	return &commands{
		client:          client,
		stream:          stream,
		group:           group,
		instance:        instance,
		availabilityTTL: availabilityTTL,
		log:             log,
	}
}

// AddToStream publishes the entry's field map and returns the entry with its
// server-generated redis id populated.
func (c *commands) AddToStream(ctx context.Context, entry Entry) (Entry, error) {
	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: entry.fields(),
	}).Result()
	if err != nil {
		return entry, fmt.Errorf("xadd to %s: %w", c.stream, err)
	}
	entry.RedisID = id
	return entry, nil
}

// NextUnreadEntry reads at most one entry never delivered to any consumer of
// the group, delivering it into consumer's pending list.
func (c *commands) NextUnreadEntry(ctx context.Context, consumer string) (Entry, bool, error) {
	return c.readFromStream(ctx, consumer, cursorUnread)
}

// NextPendingEntry replays at most one entry from consumer's own pending
// list. Failsafe for entries read or claimed but not yet finalized.
func (c *commands) NextPendingEntry(ctx context.Context, consumer string) (Entry, bool, error) {
	return c.readFromStream(ctx, consumer, cursorPending)
}

func (c *commands) readFromStream(ctx context.Context, consumer, cursor string) (Entry, bool, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: consumer,
		Streams:  []string{c.stream, cursor},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("xreadgroup %s as %s: %w", c.group, consumer, err)
	}
	return c.firstEntry(ctx, res)
}

// NextReclaimedEntry claims at most one entry that has sat unacknowledged in
// any consumer's pending list longer than minIdle. Failsafe for crashed
// consumers.
func (c *commands) NextReclaimedEntry(ctx context.Context, consumer string, minIdle time.Duration) (Entry, bool, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || isMissingGroup(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("xautoclaim as %s: %w", consumer, err)
	}
	return c.firstMessage(ctx, msgs)
}

func (c *commands) firstEntry(ctx context.Context, res []redis.XStream) (Entry, bool, error) {
	for _, stream := range res {
		entry, ok, err := c.firstMessage(ctx, stream.Messages)
		if err != nil || ok {
			return entry, ok, err
		}
	}
	return Entry{}, false, nil
}

func (c *commands) firstMessage(ctx context.Context, msgs []redis.XMessage) (Entry, bool, error) {
	for _, m := range msgs {
		if len(m.Values) == 0 {
			// The stream entry was deleted while still referenced by a
			// pending list. Ack the ghost away.
			_ = c.client.XAck(ctx, c.stream, c.group, m.ID).Err()
			continue
		}
		entry, err := entryFromMessage(m)
		if err != nil {
			c.log.WarnContext(ctx, "purging malformed stream message", slog.String("redis_id", m.ID), slog.String("error", err.Error()))
			_ = c.client.XAck(ctx, c.stream, c.group, m.ID).Err()
			_ = c.client.XDel(ctx, c.stream, m.ID).Err()
			continue
		}
		return entry, true, nil
	}
	return Entry{}, false, nil
}

// ClaimEntry moves the entry into consumer's pending list regardless of how
// recently it was delivered elsewhere.
func (c *commands) ClaimEntry(ctx context.Context, consumer string, entry Entry) error {
	err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: consumer,
		MinIdle:  0,
		Messages: []string{entry.RedisID},
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("xclaim %s to %s: %w", entry.RedisID, consumer, err)
	}
	return nil
}

// AcknowledgeEntry removes the entry from whichever pending list holds it.
// Idempotent; acknowledging an unknown id is a no-op on Redis.
func (c *commands) AcknowledgeEntry(ctx context.Context, entry Entry) error {
	if entry.RedisID == "" {
		return nil
	}
	err := c.client.XAck(ctx, c.stream, c.group, entry.RedisID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("xack %s: %w", entry.RedisID, err)
	}
	return nil
}

// DeleteEntry removes the entry from the stream itself. Idempotent.
func (c *commands) DeleteEntry(ctx context.Context, entry Entry) error {
	if entry.RedisID == "" {
		return nil
	}
	err := c.client.XDel(ctx, c.stream, entry.RedisID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("xdel %s: %w", entry.RedisID, err)
	}
	return nil
}

// CreateGroup creates the consumer group, creating the stream alongside it
// and skipping any history already present. An existing group is benign.
func (c *commands) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// DestroyGroup removes the consumer group and every pending list under it.
// A missing group or stream is benign.
func (c *commands) DestroyGroup(ctx context.Context) error {
	err := c.client.XGroupDestroy(ctx, c.stream, c.group).Err()
	if err != nil && !isMissingGroup(err) {
		return fmt.Errorf("destroy group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// DeleteStream removes the stream key outright.
func (c *commands) DeleteStream(ctx context.Context) error {
	if err := c.client.Del(ctx, c.stream).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete stream %s: %w", c.stream, err)
	}
	return nil
}

// CreateConsumer registers the consumer name with the group so it shows up in
// ConsumerInfo snapshots before its first read.
func (c *commands) CreateConsumer(ctx context.Context, consumer string) error {
	err := c.client.XGroupCreateConsumer(ctx, c.stream, c.group, consumer).Err()
	if err != nil && !isMissingGroup(err) {
		return fmt.Errorf("create consumer %s: %w", consumer, err)
	}
	return nil
}

// DeleteConsumer removes the consumer name from the group. Any entries still
// pending on it become reclaimable immediately.
func (c *commands) DeleteConsumer(ctx context.Context, consumer string) error {
	err := c.client.XGroupDelConsumer(ctx, c.stream, c.group, consumer).Err()
	if err != nil && !isMissingGroup(err) {
		return fmt.Errorf("delete consumer %s: %w", consumer, err)
	}
	return nil
}

// PruneConsumers removes consumer names with no pending entries that have
// been idle longer than minIdle, so crashed instances do not accumulate in
// the group's snapshots forever.
func (c *commands) PruneConsumers(ctx context.Context, minIdle time.Duration) error {
	info, err := c.ConsumerInfo(ctx, nil)
	if err != nil {
		return err
	}
	for name, stats := range info {
		if stats.Pending == 0 && stats.Idle > minIdle {
			if err := c.DeleteConsumer(ctx, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// ConsumerInfo snapshots the group's consumers, optionally filtered to the
// given names. A missing group yields an empty snapshot.
func (c *commands) ConsumerInfo(ctx context.Context, filterFor []string) (map[string]consumerStats, error) {
	rows, err := c.client.XInfoConsumers(ctx, c.stream, c.group).Result()
	if err != nil {
		if isMissingGroup(err) {
			return map[string]consumerStats{}, nil
		}
		return nil, fmt.Errorf("xinfo consumers %s: %w", c.group, err)
	}

	var filter map[string]struct{}
	if len(filterFor) > 0 {
		filter = make(map[string]struct{}, len(filterFor))
		for _, name := range filterFor {
			filter[name] = struct{}{}
		}
	}

	info := make(map[string]consumerStats, len(rows))
	for _, row := range rows {
		if filter != nil {
			if _, ok := filter[row.Name]; !ok {
				continue
			}
		}
		info[row.Name] = consumerStats{
			Pending:  row.Pending,
			Idle:     row.Idle,
			Inactive: row.Inactive,
		}
	}
	return info, nil
}

// AvailableConsumerNames lists the consumers currently listening within the
// given instance.
func (c *commands) AvailableConsumerNames(ctx context.Context, instance string) ([]string, error) {
	names, err := c.client.LRange(ctx, c.availabilityKey(instance), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read availability list for %s: %w", instance, err)
	}
	return names, nil
}

// IsConsumerAvailable reports membership in this instance's availability
// list.
func (c *commands) IsConsumerAvailable(ctx context.Context, consumer string) (bool, error) {
	err := c.client.LPos(ctx, c.availabilityKey(c.instance), consumer, redis.LPosArgs{}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lpos %s: %w", consumer, err)
	}
	return true, nil
}

// MakeConsumerAvailable adds the consumer to this instance's availability
// list, once, and refreshes the list's expiry.
func (c *commands) MakeConsumerAvailable(ctx context.Context, consumer string) error {
	available, err := c.IsConsumerAvailable(ctx, consumer)
	if err != nil {
		return err
	}
	key := c.availabilityKey(c.instance)
	if !available {
		if err := c.client.RPush(ctx, key, consumer).Err(); err != nil {
			return fmt.Errorf("rpush %s to %s: %w", consumer, key, err)
		}
	}
	if err := c.client.Expire(ctx, key, c.availabilityTTL).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// MakeConsumerUnavailable removes the consumer from this instance's
// availability list. Idempotent.
func (c *commands) MakeConsumerUnavailable(ctx context.Context, consumer string) error {
	err := c.client.LRem(ctx, c.availabilityKey(c.instance), 0, consumer).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lrem %s: %w", consumer, err)
	}
	return nil
}

// StreamLength reports the number of entries currently in the stream.
func (c *commands) StreamLength(ctx context.Context) (int64, error) {
	n, err := c.client.XLen(ctx, c.stream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("xlen %s: %w", c.stream, err)
	}
	return n, nil
}

func (c *commands) availabilityKey(instance string) string {
	return c.stream + ":" + c.group + ":" + instance + ":consumers"
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func isMissingGroup(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NOGROUP") || strings.Contains(msg, "no such key") ||
		strings.Contains(msg, "requires the key to exist")
}
