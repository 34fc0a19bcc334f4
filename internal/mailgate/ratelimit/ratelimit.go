// Package ratelimit implements per-credential fixed-window request
// accounting. Windows are aligned to wall-clock boundaries and counters
// live in a sharded in-process map, so decisions stay on the request's
// hot path with no I/O. Counters are ephemeral: a restart resets them,
// which is an accepted trade-off for a single-instance gate.
package ratelimit

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// Window names reported in deny decisions.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// shardCount trades memory for contention; requests for different keys
// should almost never share a lock.
const shardCount = 32

// idleWindows is how many full hour windows a key may sit unused before
// its counters are evicted.
const idleWindows = 2

// Limits carries a credential's configured ceilings.
type Limits struct {
	PerMinute int
	PerHour   int
}

// Decision is the outcome of one check-and-consume call.
type Decision struct {
	Allowed bool

	// Window and RetryAfter are set only on denial. RetryAfter is whole
	// seconds until the exhausted window resets, never less than 1.
	Window     string
	RetryAfter int

	// Remaining counts are set only on allowance.
	RemainingMinute int
	RemainingHour   int
}

type entry struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	lastSeen    time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Limiter tracks minute and hour windows per key. The zero value is not
// usable; construct with New.
type Limiter struct {
	shards [shardCount]*shard
	now    func() time.Time
}

func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock lets tests drive window boundaries deterministically.
func NewWithClock(now func() time.Time) *Limiter {
	l := &Limiter{now: now}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// CheckAndConsume atomically checks both windows for key and, only if
// both have capacity, charges one unit to each. A denied request is not
// charged against either window, so a briefly-over-limit client is not
// starved into the next window. If both windows are exhausted at once,
// the minute window's retry-after is reported, being the sooner reset.
func (l *Limiter) CheckAndConsume(key string, limits Limits) Decision {
	now := l.now()
	minuteStart := now.Truncate(time.Minute)
	hourStart := now.Truncate(time.Hour)

	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}

	// Roll windows past their boundary. A long-idle entry rolls both,
	// which is the lazy equivalent of eviction.
	if !e.minuteStart.Equal(minuteStart) {
		e.minuteStart = minuteStart
		e.minuteCount = 0
	}
	if !e.hourStart.Equal(hourStart) {
		e.hourStart = hourStart
		e.hourCount = 0
	}
	e.lastSeen = now

	minuteExceeded := e.minuteCount+1 > limits.PerMinute
	hourExceeded := e.hourCount+1 > limits.PerHour

	switch {
	case minuteExceeded:
		return Decision{
			Allowed:    false,
			Window:     WindowMinute,
			RetryAfter: retryAfter(now, minuteStart.Add(time.Minute)),
		}
	case hourExceeded:
		return Decision{
			Allowed:    false,
			Window:     WindowHour,
			RetryAfter: retryAfter(now, hourStart.Add(time.Hour)),
		}
	}

	e.minuteCount++
	e.hourCount++

	return Decision{
		Allowed:         true,
		RemainingMinute: limits.PerMinute - e.minuteCount,
		RemainingHour:   limits.PerHour - e.hourCount,
	}
}

// Sweep removes counters for keys idle longer than two full hour
// windows. Housekeeping calls this periodically to bound memory.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-idleWindows * time.Hour)

	var removed int
	for _, s := range l.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if e.lastSeen.Before(cutoff) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len reports tracked keys across all shards, for health reporting.
func (l *Limiter) Len() int {
	var n int
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func retryAfter(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
