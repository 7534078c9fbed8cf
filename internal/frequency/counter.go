// Package frequency counts calls per actor over a sliding one-minute window.
// Training (feedback ETL) and serving use the same window definition: the
// count of calls by one actor in (ts-window, ts], the current call included.
package frequency

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"auditrisk/pkg/models"
)

// DefaultWindow is the freq_1min window.
const DefaultWindow = time.Minute

// Counter records a call and returns the actor's count inside the window.
type Counter interface {
	Observe(ctx context.Context, actor string, ts time.Time) (int64, error)
	Close() error
}

// MemoryCounter keeps a timestamp-ordered deque per actor.
type MemoryCounter struct {
	mu       sync.Mutex
	window   time.Duration
	byActor  map[string][]time.Time
	latest   time.Time
	observed int
}

// NewMemoryCounter creates an in-process counter.
func NewMemoryCounter(window time.Duration) *MemoryCounter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryCounter{
		window:  window,
		byActor: make(map[string][]time.Time),
	}
}

// Observe implements Counter.
func (c *MemoryCounter) Observe(_ context.Context, actor string, ts time.Time) (int64, error) {
	actor = normalizeActor(actor)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ts.After(c.latest) {
		c.latest = ts
	}

	times := c.byActor[actor]
	idx := sort.Search(len(times), func(i int) bool { return times[i].After(ts) })
	times = append(times, time.Time{})
	copy(times[idx+1:], times[idx:])
	times[idx] = ts
	times = c.prune(times)
	c.byActor[actor] = times

	c.observed++
	if c.observed%4096 == 0 {
		c.sweep()
	}

	return countIn(times, ts.Add(-c.window), ts), nil
}

// Actors returns the number of actors with live window state.
func (c *MemoryCounter) Actors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byActor)
}

// Close implements Counter.
func (c *MemoryCounter) Close() error { return nil }

// prune drops entries that can no longer fall in any window ending at or
// after the latest observed timestamp.
func (c *MemoryCounter) prune(times []time.Time) []time.Time {
	cutoff := c.latest.Add(-c.window)
	idx := 0
	for idx < len(times) && !times[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		times = times[idx:]
	}
	return times
}

func (c *MemoryCounter) sweep() {
	for actor, times := range c.byActor {
		times = c.prune(times)
		if len(times) == 0 {
			delete(c.byActor, actor)
			continue
		}
		c.byActor[actor] = times
	}
}

// countIn counts sorted timestamps in (from, to].
func countIn(times []time.Time, from, to time.Time) int64 {
	lo := sort.Search(len(times), func(i int) bool { return times[i].After(from) })
	hi := sort.Search(len(times), func(i int) bool { return times[i].After(to) })
	return int64(hi - lo)
}

func normalizeActor(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "unknown"
	}
	return actor
}

// RollingCounts fills Freq1Min for a batch of historical events, visiting
// them in time order per actor. The input slice order is preserved.
func RollingCounts(events []models.AuditEvent, window time.Duration) {
	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return events[order[a]].Timestamp.Before(events[order[b]].Timestamp)
	})

	c := NewMemoryCounter(window)
	ctx := context.Background()
	for _, i := range order {
		n, _ := c.Observe(ctx, events[i].Actor, events[i].Timestamp)
		events[i].Freq1Min = n
	}
}
