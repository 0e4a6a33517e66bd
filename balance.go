package redisipc

import "time"

// consumerStats is one consumer's row from the group's XINFO CONSUMERS
// snapshot.
type consumerStats struct {
	// Pending is the number of delivered-but-unacknowledged entries.
	Pending int64
	// Idle is the time since the consumer's last attempted interaction.
	Idle time.Duration
	// Inactive is the time since the consumer's last successful interaction.
	// Zero means the consumer has never gone quiet on Redis.
	Inactive time.Duration
}

// balanceKey is the total-order ranking key for dispatch candidates, ordered
// as (absent desc, pending asc, idleInactive desc, idle desc). A consumer
// absent from the snapshot has never been seen by Redis and is truly idle, so
// it ranks ahead of everything.
type balanceKey struct {
	absent       bool
	pending      int64
	idleInactive time.Duration
	idle         time.Duration
}

func keyFor(name string, info map[string]consumerStats) balanceKey {
	stats, seen := info[name]
	key := balanceKey{
		absent:  !seen,
		pending: stats.Pending,
		idle:    stats.Idle,
	}
	if seen && stats.Inactive == 0 {
		key.idleInactive = stats.Idle
	}
	return key
}

// less reports whether a ranks strictly ahead of b for receiving the next
// entry.
func (a balanceKey) less(b balanceKey) bool {
	if a.absent != b.absent {
		return a.absent
	}
	if a.pending != b.pending {
		return a.pending < b.pending
	}
	if a.idleInactive != b.idleInactive {
		return a.idleInactive > b.idleInactive
	}
	return a.idle > b.idle
}

// leastBusy picks the best candidate from names given the snapshot. names
// must be non-empty.
func leastBusy(names []string, info map[string]consumerStats) string {
	best := names[0]
	bestKey := keyFor(best, info)
	for _, name := range names[1:] {
		if key := keyFor(name, info); key.less(bestKey) {
			best, bestKey = name, key
		}
	}
	return best
}
