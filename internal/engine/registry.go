package engine

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry owns one Engine per device, created on first use. Engines that receive no input for
// longer than the policy window are evicted by Run; by then their rate-limit history has expired.
type Registry struct {
	policy  Policy
	deps    Deps
	idleTTL time.Duration

	mu      sync.RWMutex
	engines map[string]*Engine
}

func NewRegistry(p Policy, d Deps) *Registry {
	return &Registry{
		policy:  p,
		deps:    d.withDefaults(),
		idleTTL: idleTTL(p),
		engines: make(map[string]*Engine),
	}
}

func idleTTL(p Policy) time.Duration {
	ttl := p.Window
	if p.DwellThreshold > ttl {
		ttl = p.DwellThreshold
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return ttl
}

func (r *Registry) Policy() Policy { return r.policy }

// Get returns the device's engine, creating it if needed.
func (r *Registry) Get(device string) *Engine {
	r.mu.RLock()
	e, ok := r.engines[device]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[device]; ok {
		return e
	}
	e = New(device, r.policy, r.deps)
	r.engines[device] = e
	return e
}

// Lookup returns the device's engine without creating one.
func (r *Registry) Lookup(device string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[device]
	return e, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// Devices lists known device ids in sorted order.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.engines))
	for id := range r.engines {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) snapshot() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}

// PollAll runs the dwell check on every engine.
func (r *Registry) PollAll(now time.Time) {
	for _, e := range r.snapshot() {
		e.Poll(now)
	}
}

// Run polls every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	r.deps.Log.Info().Dur("interval", interval).Msg("dwell poller started")
	for {
		select {
		case <-ctx.Done():
			r.deps.Log.Info().Msg("dwell poller stopped")
			return
		case <-t.C:
			now := r.deps.Clock()
			r.PollAll(now)
			if n := r.EvictIdle(now); n > 0 {
				r.deps.Log.Debug().Int("evicted", n).Int("engines", r.Len()).Msg("idle engines evicted")
			}
		}
	}
}

// EvictIdle stops and forgets engines whose last input is more than the idle TTL before now.
// It returns how many were removed.
func (r *Registry) EvictIdle(now time.Time) int {
	cutoff := now.Add(-r.idleTTL)
	var idle []*Engine
	r.mu.Lock()
	for id, e := range r.engines {
		if e.LastActive().Before(cutoff) {
			delete(r.engines, id)
			idle = append(idle, e)
		}
	}
	r.mu.Unlock()
	for _, e := range idle {
		e.Stop()
	}
	return len(idle)
}

// StopAll stops every engine.
func (r *Registry) StopAll() {
	for _, e := range r.snapshot() {
		e.Stop()
	}
}
