package redisipc

import (
	"fmt"
	"testing"
	"time"
)

func TestLeastBusyPrefersUnseenConsumer(t *testing.T) {
	info := map[string]consumerStats{
		"seen": {Pending: 0, Idle: time.Hour},
	}
	if got := leastBusy([]string{"seen", "fresh"}, info); got != "fresh" {
		t.Fatalf("expected the never-seen consumer, got %q", got)
	}
}

func TestLeastBusyPrefersFewerPending(t *testing.T) {
	info := map[string]consumerStats{
		"busy": {Pending: 3, Idle: time.Minute},
		"free": {Pending: 1, Idle: time.Second},
	}
	if got := leastBusy([]string{"busy", "free"}, info); got != "free" {
		t.Fatalf("expected the consumer with fewer pending entries, got %q", got)
	}
}

func TestLeastBusyPrefersLeastRecentlyBusy(t *testing.T) {
	// Pending ties and both are active on Redis (inactive == 0): the longer
	// idle time wins.
	info := map[string]consumerStats{
		"recent": {Pending: 1, Idle: time.Second},
		"stale":  {Pending: 1, Idle: time.Minute},
	}
	if got := leastBusy([]string{"recent", "stale"}, info); got != "stale" {
		t.Fatalf("expected the least recently busy consumer, got %q", got)
	}
}

func TestLeastBusyIdleFallback(t *testing.T) {
	// Pending ties but one consumer has gone quiet (inactive > 0), so the
	// inactive-aware rank is void and raw idle decides.
	info := map[string]consumerStats{
		"quiet": {Pending: 1, Idle: time.Minute, Inactive: time.Minute},
		"other": {Pending: 1, Idle: time.Second, Inactive: time.Second},
	}
	if got := leastBusy([]string{"other", "quiet"}, info); got != "quiet" {
		t.Fatalf("expected the larger idle time to win, got %q", got)
	}
}

func TestBalanceKeyStrictWeakOrder(t *testing.T) {
	durations := []time.Duration{0, time.Second, time.Minute}
	var keys []balanceKey
	keys = append(keys, balanceKey{absent: true})
	for _, pending := range []int64{0, 1, 5} {
		for _, idle := range durations {
			for _, idleInactive := range []time.Duration{0, idle} {
				keys = append(keys, balanceKey{pending: pending, idle: idle, idleInactive: idleInactive})
			}
		}
	}

	for _, a := range keys {
		if a.less(a) {
			t.Fatalf("irreflexivity violated for %+v", a)
		}
		for _, b := range keys {
			if a.less(b) && b.less(a) {
				t.Fatalf("antisymmetry violated for %+v vs %+v", a, b)
			}
			for _, c := range keys {
				if a.less(b) && b.less(c) && !a.less(c) {
					t.Fatalf("transitivity violated for %+v, %+v, %+v", a, b, c)
				}
			}
		}
	}
}

func TestLeastBusyDistributesFreshLoad(t *testing.T) {
	// Ten assignments over five consumers: every consumer must receive one
	// entry before any receives a second.
	names := make([]string, 5)
	for i := range names {
		names[i] = fmt.Sprintf("consumer:%d", i)
	}

	info := map[string]consumerStats{}
	assigned := map[string]int{}
	for i := 0; i < 10; i++ {
		winner := leastBusy(names, info)
		assigned[winner]++
		stats := info[winner]
		stats.Pending++
		info[winner] = stats

		if i == 4 {
			for _, name := range names {
				if assigned[name] != 1 {
					t.Fatalf("after 5 assignments %q has %d entries", name, assigned[name])
				}
			}
		}
	}
	for _, name := range names {
		if assigned[name] != 2 {
			t.Fatalf("uneven final distribution: %v", assigned)
		}
	}
}
