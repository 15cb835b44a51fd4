// Package version tracks per-record last-mutation timestamps for optimistic
// concurrency checks.
//
// The tracker is in-process state: it gives no consistency guarantee across
// multiple server instances or restarts. Two processes behind a load balancer
// would each believe they hold the authoritative timestamp for the same
// record, so this is only sound for a single-instance deployment.
package version

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the timestamp map. Evicted records simply read as
// never-seen, which makes the next write against them a forced write.
const DefaultCapacity = 100_000

// Tracker maps record IDs to the wall-clock timestamp of their last observed
// mutation (local write or webhook-driven external change). Entries are
// created lazily and evicted LRU once the capacity is reached. The cache is
// internally synchronized, so the tracker is safe for concurrent use.
type Tracker struct {
	entries *lru.Cache[string, time.Time]
	now     func() time.Time
}

// New creates a tracker with the given capacity; capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, time.Time](capacity)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &Tracker{entries: entries, now: time.Now}
}

// Current returns the last known mutation time for a record, or false if the
// record has never been observed (or was evicted).
func (t *Tracker) Current(id string) (time.Time, bool) {
	return t.entries.Get(id)
}

// RecordMutation marks a record as mutated now and returns the new timestamp.
func (t *Tracker) RecordMutation(id string) time.Time {
	ts := t.now().UTC()
	t.entries.Add(id, ts)
	return ts
}

// Check applies the write-conflict protocol: lastSeen is the version token
// the client claims to have edited against, in RFC3339Nano form. An empty
// token is a forced write. A write conflicts only when the tracker knows a
// version and the client's token differs from it.
func (t *Tracker) Check(id, lastSeen string) bool {
	if lastSeen == "" {
		return false
	}
	current, ok := t.Current(id)
	if !ok {
		return false
	}
	return Token(current) != lastSeen
}

// Len reports how many records are currently tracked.
func (t *Tracker) Len() int {
	return t.entries.Len()
}

// Token renders a tracked timestamp as the version string exchanged with
// clients.
func Token(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
