package redisipc

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Status describes where an entry sits in its request/response lifecycle.
// An entry starts out pending and moves to exactly one terminal status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusRejected  Status = "rejected"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusFulfilled, StatusRejected:
		return true
	}
	return false
}

// Wire field names. RedisID is never written as a field; it is the stream's
// native id and is assigned by Redis on publish.
const (
	fieldID               = "id"
	fieldStatus           = "status"
	fieldContent          = "content"
	fieldSourceGroup      = "source_group"
	fieldDestinationGroup = "destination_group"
	fieldInstanceID       = "instance_id"
)

// Entry is one unit of communication on the stream: a request or a reply.
// Entries are immutable values; status transitions produce new entries.
type Entry struct {
	// ID is the 32-character hex correlation id, generated by the sender and
	// preserved across status transitions.
	ID string

	// RedisID is the stream's native monotonic id, assigned on publish and
	// used for ack/claim/delete.
	RedisID string

	Status Status

	// Content is the opaque user payload. Serialization of compound values is
	// the caller's concern; this library moves strings.
	Content string

	SourceGroup      string
	DestinationGroup string

	// InstanceID is the publisher's per-process token. Present on replies so
	// they route back to the right process when multiple processes share a
	// group name.
	InstanceID string
}

// newRequestEntry builds a pending entry with a fresh correlation id.
func newRequestEntry(content, sourceGroup, destinationGroup, instanceID string) Entry {
	return Entry{
		ID:               newEntryID(),
		Status:           StatusPending,
		Content:          content,
		SourceGroup:      sourceGroup,
		DestinationGroup: destinationGroup,
		InstanceID:       instanceID,
	}
}

// Fulfilled produces the reply variant for a successful request: terminal
// status, source and destination swapped, content replaced. The receiver is
// not mutated.
func (e Entry) Fulfilled(content string) Entry {
	return e.reply(StatusFulfilled, content)
}

// Rejected produces the reply variant for a failed request.
func (e Entry) Rejected(content string) Entry {
	return e.reply(StatusRejected, content)
}

func (e Entry) reply(status Status, content string) Entry {
	return Entry{
		ID:               e.ID,
		Status:           status,
		Content:          content,
		SourceGroup:      e.DestinationGroup,
		DestinationGroup: e.SourceGroup,
		InstanceID:       e.InstanceID,
	}
}

// Equal reports whether two entries correlate to the same request.
func (e Entry) Equal(other Entry) bool {
	return e.ID != "" && e.ID == other.ID
}

// fields produces the stream field-value map. The instance id is omitted when
// empty so single-process callers write no placeholder field.
func (e Entry) fields() map[string]any {
	values := map[string]any{
		fieldID:               e.ID,
		fieldStatus:           string(e.Status),
		fieldContent:          e.Content,
		fieldSourceGroup:      e.SourceGroup,
		fieldDestinationGroup: e.DestinationGroup,
	}
	if e.InstanceID != "" {
		values[fieldInstanceID] = e.InstanceID
	}
	return values
}

// entryFromMessage rebuilds an entry from a raw stream message. Values arrive
// from go-redis as strings; anything else is formatted best-effort.
func entryFromMessage(m redis.XMessage) (Entry, error) {
	e := Entry{
		RedisID:          m.ID,
		ID:               messageField(m, fieldID),
		Status:           Status(messageField(m, fieldStatus)),
		Content:          messageField(m, fieldContent),
		SourceGroup:      messageField(m, fieldSourceGroup),
		DestinationGroup: messageField(m, fieldDestinationGroup),
		InstanceID:       messageField(m, fieldInstanceID),
	}
	if e.ID == "" {
		return e, fmt.Errorf("stream message %s carries no entry id", m.ID)
	}
	return e, nil
}

func messageField(m redis.XMessage, name string) string {
	v, ok := m.Values[name]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// newEntryID returns a 32-character hex correlation id.
func newEntryID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// newInstanceID returns the short random token identifying one process within
// a group.
func newInstanceID() string {
	return newEntryID()[:8]
}
