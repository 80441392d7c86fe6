// Package ratelimit caps how many survey invitations a device receives.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"example.com/geosurvey/internal/domain"
)

// Defaults observed across the survey prototypes: three invitations per rolling day, at least
// thirty minutes apart for the same trigger source.
const (
	DefaultCap         = 3
	DefaultWindow      = 24 * time.Hour
	DefaultMinInterval = 30 * time.Minute
)

type Config struct {
	Cap         int
	Window      time.Duration
	MinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cap <= 0 {
		c.Cap = DefaultCap
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	return c
}

// Record is one admitted trigger.
type Record struct {
	Source domain.TriggerSource
	At     time.Time
}

// Limiter admits triggers against a rolling-window cap shared by all sources plus a minimum
// spacing per source. Admission is a single serialized check-and-append, so concurrent callers
// can never both take the last slot.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	records []Record
}

func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg.withDefaults()}
}

func (l *Limiter) Config() Config { return l.cfg }

// TryAdmit prunes records that left the window, then admits and records the trigger when the
// window has room and no trigger of the same source lies within MinInterval of now, on either side.
// Timestamps may arrive out of order; records are kept sorted by time.
func (l *Limiter) TryAdmit(src domain.TriggerSource, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	if len(l.records) >= l.cfg.Cap {
		return false
	}
	for _, r := range l.records {
		if r.Source != src {
			continue
		}
		d := now.Sub(r.At)
		if d < 0 {
			d = -d
		}
		if d < l.cfg.MinInterval {
			return false
		}
	}
	i := sort.Search(len(l.records), func(i int) bool { return l.records[i].At.After(now) })
	l.records = append(l.records, Record{})
	copy(l.records[i+1:], l.records[i:])
	l.records[i] = Record{Source: src, At: now}
	return true
}

// Count returns how many records are inside the window as of now.
func (l *Limiter) Count(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	return len(l.records)
}

// Records returns a copy of the retained records, oldest first.
func (l *Limiter) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// records older than the window are dropped; a record exactly Window old is gone.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	kept := l.records[:0]
	for _, r := range l.records {
		if r.At.After(cutoff) {
			kept = append(kept, r)
		}
	}
	l.records = kept
}
