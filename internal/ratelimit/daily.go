package ratelimit

import (
	"sync"
	"time"
)

// DailyCounter is a small fixed cap that resets at local midnight.
type DailyCounter struct {
	mu    sync.Mutex
	limit int
	loc   *time.Location
	day   time.Time
	count int
}

func NewDailyCounter(limit int, loc *time.Location) *DailyCounter {
	if loc == nil {
		loc = time.Local
	}
	return &DailyCounter{limit: limit, loc: loc}
}

// TryIncrement counts one use if today's limit has not been reached. A timestamp from a day
// before the current one is refused and leaves the count alone.
func (c *DailyCounter) TryIncrement(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.roll(now) || c.count >= c.limit {
		return false
	}
	c.count++
	return true
}

// Remaining is how many uses are left on now's day. It does not change the counter; a day
// before the current one has none left.
func (c *DailyCounter) Remaining(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	day := c.dayOf(now)
	switch {
	case c.day.IsZero() || day.After(c.day):
		return c.limit
	case day.Before(c.day):
		return 0
	}
	return c.limit - c.count
}

func (c *DailyCounter) dayOf(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// roll moves the counter forward to now's day. It reports false when now belongs to an
// earlier day; the counter never moves backwards.
func (c *DailyCounter) roll(now time.Time) bool {
	day := c.dayOf(now)
	switch {
	case c.day.IsZero() || day.After(c.day):
		c.day = day
		c.count = 0
	case day.Before(c.day):
		return false
	}
	return true
}
