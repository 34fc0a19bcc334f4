package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixedClock is a settable clock for deterministic window boundaries.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(start time.Time) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: start}
	return NewWithClock(clock.now), clock
}

// windowStart is mid-minute so retry-after values are interesting.
var windowStart = time.Date(2025, 5, 1, 10, 0, 20, 0, time.UTC)

func TestAllowsUpToMinuteLimit(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(windowStart)
	limits := Limits{PerMinute: 2, PerHour: 100}

	d := l.CheckAndConsume("abc123", limits)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.RemainingMinute)
	require.Equal(t, 99, d.RemainingHour)

	d = l.CheckAndConsume("abc123", limits)
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.RemainingMinute)

	d = l.CheckAndConsume("abc123", limits)
	require.False(t, d.Allowed)
	require.Equal(t, WindowMinute, d.Window)
	// Window opened at 10:00:00, so 40 seconds remain.
	require.Equal(t, 40, d.RetryAfter)
}

func TestWindowResetReadmits(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(windowStart)
	limits := Limits{PerMinute: 2, PerHour: 100}

	require.True(t, l.CheckAndConsume("abc123", limits).Allowed)
	require.True(t, l.CheckAndConsume("abc123", limits).Allowed)
	require.False(t, l.CheckAndConsume("abc123", limits).Allowed)

	clock.advance(61 * time.Second)

	d := l.CheckAndConsume("abc123", limits)
	require.True(t, d.Allowed, "new minute window must readmit")
	require.Equal(t, 1, d.RemainingMinute)
}

func TestDenialIsNotCharged(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(windowStart)
	limits := Limits{PerMinute: 1, PerHour: 2}

	require.True(t, l.CheckAndConsume("k", limits).Allowed)

	// Hammer the exhausted minute window; none of these may charge the
	// hour window.
	for range 10 {
		require.False(t, l.CheckAndConsume("k", limits).Allowed)
	}

	clock.advance(time.Minute)
	d := l.CheckAndConsume("k", limits)
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.RemainingHour, "only two real consumptions so far")
}

func TestHourLimit(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(windowStart)
	limits := Limits{PerMinute: 10, PerHour: 3}

	for range 3 {
		require.True(t, l.CheckAndConsume("k", limits).Allowed)
	}

	d := l.CheckAndConsume("k", limits)
	require.False(t, d.Allowed)
	require.Equal(t, WindowHour, d.Window)
	// Hour window opened at 10:00:00; 59m40s remain.
	require.Equal(t, 3580, d.RetryAfter)

	// A minute boundary does not help an exhausted hour window.
	clock.advance(2 * time.Minute)
	require.False(t, l.CheckAndConsume("k", limits).Allowed)

	clock.advance(time.Hour)
	require.True(t, l.CheckAndConsume("k", limits).Allowed)
}

func TestMinuteWinsWhenBothExceeded(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(windowStart)
	limits := Limits{PerMinute: 1, PerHour: 1}

	require.True(t, l.CheckAndConsume("k", limits).Allowed)

	d := l.CheckAndConsume("k", limits)
	require.False(t, d.Allowed)
	require.Equal(t, WindowMinute, d.Window, "tighter window reported on double exceedance")
	require.Equal(t, 40, d.RetryAfter)
}

func TestRetryAfterNeverBelowOne(t *testing.T) {
	t.Parallel()

	// One tick before the boundary.
	l, _ := newTestLimiter(time.Date(2025, 5, 1, 10, 0, 59, int(999*time.Millisecond), time.UTC))
	limits := Limits{PerMinute: 1, PerHour: 100}

	require.True(t, l.CheckAndConsume("k", limits).Allowed)
	d := l.CheckAndConsume("k", limits)
	require.False(t, d.Allowed)
	require.GreaterOrEqual(t, d.RetryAfter, 1)
}

func TestKeysDoNotInterfere(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(windowStart)
	limits := Limits{PerMinute: 1, PerHour: 10}

	require.True(t, l.CheckAndConsume("a", limits).Allowed)
	require.False(t, l.CheckAndConsume("a", limits).Allowed)
	require.True(t, l.CheckAndConsume("b", limits).Allowed, "b has its own windows")
}

// Exactly N concurrent requests are admitted for a limit of N; the rest
// are denied. Repeated runs must not flake, otherwise check-and-increment
// has a lost-update race.
func TestConcurrentAdmissionIsExact(t *testing.T) {
	t.Parallel()

	const limit = 50
	const attempts = 200

	for run := range 5 {
		l, _ := newTestLimiter(windowStart)
		limits := Limits{PerMinute: limit, PerHour: 10 * limit}

		var admitted atomic.Int64
		var wg sync.WaitGroup
		wg.Add(attempts)
		for range attempts {
			go func() {
				defer wg.Done()
				if l.CheckAndConsume("shared", limits).Allowed {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		require.EqualValues(t, limit, admitted.Load(), "run %d admitted wrong count", run)
	}
}

func TestSweepEvictsIdleKeys(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(windowStart)
	limits := Limits{PerMinute: 10, PerHour: 100}

	l.CheckAndConsume("idle", limits)
	l.CheckAndConsume("busy", limits)
	require.Equal(t, 2, l.Len())

	clock.advance(90 * time.Minute)
	l.CheckAndConsume("busy", limits)

	clock.advance(40 * time.Minute) // "idle" now idle for >2h
	removed := l.Sweep()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, l.Len())
}
