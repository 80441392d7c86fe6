package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OneEnginePerDevice(t *testing.T) {
	r := NewRegistry(DefaultPolicy(), Deps{Index: testIndex(t), Log: zerolog.Nop()})

	var wg sync.WaitGroup
	got := make([]*Engine, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("a")
		}(i)
	}
	wg.Wait()
	for _, e := range got {
		assert.Same(t, got[0], e)
	}

	r.Get("b")
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.Devices())

	_, ok := r.Lookup("c")
	assert.False(t, ok)
}

func TestRegistry_PollAllFiresDwell(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(DefaultPolicy(), Deps{Index: testIndex(t), Emitter: rec, Log: zerolog.Nop()})

	r.Get("a").DeliverSample(parkLat, parkLon, at(0))
	r.Get("b").DeliverSample(lakeLat, lakeLon, at(100))

	r.PollAll(at(300))
	require.Len(t, rec.all(), 2)
	assert.Equal(t, "a", rec.all()[0].DeviceID)

	r.PollAll(at(400))
	assert.Len(t, rec.all(), 4)
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	var mu sync.Mutex
	now := t0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	rec := &recorder{}
	r := NewRegistry(DefaultPolicy(), Deps{Index: testIndex(t), Emitter: rec, Clock: clock, Log: zerolog.Nop()})
	r.Get("a").DeliverSample(parkLat, parkLon, t0)

	mu.Lock()
	now = t0.Add(10 * time.Minute)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestRegistry_EvictIdleEngines(t *testing.T) {
	var mu sync.Mutex
	now := t0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	r := NewRegistry(DefaultPolicy(), Deps{Index: testIndex(t), Clock: clock, Log: zerolog.Nop()})

	r.Get("quiet").DeliverSample(parkLat, parkLon, t0)
	advance(time.Hour)
	r.Get("busy").DeliverLevel(30, clock())

	assert.Zero(t, r.EvictIdle(t0.Add(12*time.Hour)))

	assert.Equal(t, 1, r.EvictIdle(t0.Add(24*time.Hour+time.Minute)))
	_, ok := r.Lookup("quiet")
	assert.False(t, ok)
	_, ok = r.Lookup("busy")
	assert.True(t, ok)

	// a returning device gets a fresh engine
	assert.NotNil(t, r.Get("quiet"))
	assert.Equal(t, 2, r.Len())
}
