package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/geosurvey/internal/domain"
	"example.com/geosurvey/internal/geo"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

const (
	parkLat, parkLon = 38.60, -90.20
	lakeLat, lakeLon = 38.61, -90.20
)

type recorder struct {
	mu   sync.Mutex
	reqs []domain.NotificationRequest
}

func (r *recorder) Emit(req domain.NotificationRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return true
}

func (r *recorder) all() []domain.NotificationRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NotificationRequest(nil), r.reqs...)
}

type geocoderFunc func(ctx context.Context, lat, lon float64) (string, error)

func (f geocoderFunc) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	return f(ctx, lat, lon)
}

func testIndex(t *testing.T) *geo.Index {
	t.Helper()
	ix := geo.NewIndex()
	require.NoError(t, ix.Load([]geo.Area{
		{Name: "Park", Boundary: geo.NewCircle(parkLat, parkLon, 100)},
		{Name: "Lake", Boundary: geo.NewCircle(lakeLat, lakeLon, 100)},
	}))
	return ix
}

func newTestEngine(t *testing.T, p Policy, g Geocoder) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	var n atomic.Int64
	e := New("device-1", p, Deps{
		Index:    testIndex(t),
		Emitter:  rec,
		Geocoder: g,
		Clock:    func() time.Time { return t0 },
		Location: time.UTC,
		Log:      zerolog.Nop(),
		NewID:    func() string { return fmt.Sprintf("n%d", n.Add(1)) },
	})
	return e, rec
}

func TestEngine_DwellFiresOnceAtThreshold(t *testing.T) {
	e, rec := newTestEngine(t, DefaultPolicy(), nil)

	for s := 0; s <= 600; s += 60 {
		e.DeliverSample(parkLat, parkLon, at(s))
		if s < 300 {
			assert.Empty(t, rec.all(), "no invite before 300s (t=%d)", s)
		}
	}
	e.Poll(at(900))

	reqs := rec.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, at(300), reqs[0].CreatedAt)
	assert.Equal(t, domain.SourceLocation, reqs[0].Source)
	assert.Equal(t, "Park", reqs[0].AreaName)
	assert.Equal(t, "device-1", reqs[0].DeviceID)
	assert.Contains(t, reqs[0].Body, "Park")
	assert.Contains(t, reqs[0].Body, "5 minutes")
}

func TestEngine_DwellSchedulesReminderPair(t *testing.T) {
	e, rec := newTestEngine(t, DefaultPolicy(), nil)

	e.DeliverSample(parkLat, parkLon, at(0))
	e.Poll(at(300))

	reqs := rec.all()
	require.Len(t, reqs, 2)
	first, reminder := reqs[0], reqs[1]
	assert.False(t, first.IsReminder)
	assert.Equal(t, time.Second, first.FireDelay)
	assert.True(t, reminder.IsReminder)
	assert.Equal(t, domain.ReminderID(first.Identifier), reminder.Identifier)
	assert.Equal(t, 5*time.Minute, reminder.FireDelay)
	assert.Equal(t, DefaultPolicy().DeepLinkURL, reminder.DeepLinkURL)
	assert.Contains(t, reminder.Body, DefaultPolicy().DeepLinkURL)
}

func TestEngine_SwitchBeforeThresholdNeverFires(t *testing.T) {
	e, rec := newTestEngine(t, DefaultPolicy(), nil)

	e.DeliverSample(parkLat, parkLon, at(0))
	e.DeliverSample(parkLat, parkLon, at(100))
	e.DeliverSample(lakeLat, lakeLon, at(200))
	e.Poll(at(320))
	assert.Empty(t, rec.all(), "park dwell was abandoned, lake not yet at threshold")

	e.Poll(at(500))
	reqs := rec.all()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "Lake", reqs[0].AreaName)
	assert.Equal(t, at(500), reqs[0].CreatedAt)
}

func TestEngine_StaleAndDuplicateSamplesDropped(t *testing.T) {
	e, rec := newTestEngine(t, DefaultPolicy(), nil)

	e.DeliverSample(parkLat, parkLon, at(100))
	e.DeliverSample(parkLat, parkLon, at(100))
	e.DeliverSample(lakeLat, lakeLon, at(50)) // older, ignored
	assert.Equal(t, "Park", e.Snapshot(at(100)).AreaName)

	e.Poll(at(400))
	require.Len(t, rec.all(), 2)
}

func TestEngine_AudioPauseSkipsLimiter(t *testing.T) {
	p := DefaultPolicy()
	p.MinInterval = 0
	e, rec := newTestEngine(t, p, nil)

	e.DeliverLevel(40, at(0))
	assert.Empty(t, rec.all(), "quiet level")

	e.DeliverLevel(62, at(10))
	require.Len(t, rec.all(), 1)
	assert.Equal(t, domain.SourceAudio, rec.all()[0].Source)
	assert.Equal(t, at(10).Add(15*time.Minute), e.Snapshot(at(10)).AudioPausedUntil)

	// loud again inside the pause: suppressed, no limiter slot consumed
	e.DeliverLevel(80, at(10+10*60))
	assert.Len(t, rec.all(), 1)
	assert.Equal(t, 1, e.Snapshot(at(10+10*60)).TriggersInWindow)

	e.DeliverLevel(50, at(10+15*60))
	assert.Len(t, rec.all(), 2, "threshold is inclusive and pause has ended")
}

func TestEngine_ConversationDailyLimit(t *testing.T) {
	p := DefaultPolicy()
	p.DailyCap = 10
	p.MinInterval = 0
	e, rec := newTestEngine(t, p, nil)

	for i := 0; i < 5; i++ {
		e.DeliverConversationDetected(at(i * 60))
	}
	assert.Len(t, rec.all(), 3)
	assert.Equal(t, 0, e.Snapshot(at(300)).ConversationRemaining)
	assert.Equal(t, 3, e.Snapshot(at(300)).TriggersInWindow, "suppressed signals do not use limiter slots")

	nextDay := time.Date(2026, 5, 5, 0, 0, 1, 0, time.UTC)
	e.DeliverConversationDetected(nextDay)
	assert.Len(t, rec.all(), 4)
}

func TestEngine_CapSharedAcrossSources(t *testing.T) {
	p := DefaultPolicy()
	e, rec := newTestEngine(t, p, nil)

	e.DeliverSample(parkLat, parkLon, at(0))
	e.Poll(at(300)) // location: 2 requests, 1 slot
	e.DeliverLevel(70, at(400))
	e.DeliverConversationDetected(at(500))
	e.DeliverConversationDetected(at(3000)) // cap reached
	assert.Len(t, rec.all(), 4)
	assert.Equal(t, 3, e.Snapshot(at(3000)).TriggersInWindow)

	dayLater := at(24*3600 + 501)
	e.DeliverConversationDetected(dayLater)
	assert.Len(t, rec.all(), 5)
}

func TestEngine_MixedClocksFreeWindowByTimestamp(t *testing.T) {
	p := DefaultPolicy()
	p.DailyCap = 2
	e, rec := newTestEngine(t, p, nil)

	// a device-stamped audio level arrives before a replayed location batch that starts earlier
	e.DeliverLevel(70, at(1000))
	e.DeliverSample(parkLat, parkLon, at(0))
	e.Poll(at(300))
	require.Len(t, rec.all(), 3)
	assert.Equal(t, 2, e.Snapshot(at(1000)).TriggersInWindow)

	// the dwell record at 300s has left the window, the audio one at 1000s has not
	e.DeliverConversationDetected(at(24*3600 + 600))
	require.Len(t, rec.all(), 4)
	assert.Equal(t, domain.SourceConversation, rec.all()[3].Source)

	// a conversation signal stamped on the previous day does not reopen that day's quota
	e.DeliverConversationDetected(at(3600))
	assert.Len(t, rec.all(), 4)
	assert.Equal(t, 2, e.Snapshot(at(24*3600+600)).ConversationRemaining)
}

func TestEngine_StopResetsDwell(t *testing.T) {
	e, rec := newTestEngine(t, DefaultPolicy(), nil)

	e.DeliverSample(parkLat, parkLon, at(0))
	e.DeliverSample(parkLat, parkLon, at(200))
	e.DeliverLevel(90, at(210))
	require.Len(t, rec.all(), 1)

	e.Stop()
	snap := e.Snapshot(at(220))
	assert.Empty(t, snap.AreaName)
	assert.True(t, snap.AudioPausedUntil.IsZero())
	assert.Equal(t, 1, snap.TriggersInWindow, "rate-limit history survives stop")

	e.Poll(at(400))
	assert.Len(t, rec.all(), 1)

	// monitoring resumes with a fresh dwell
	e.DeliverSample(parkLat, parkLon, at(250))
	e.Poll(at(540))
	assert.Len(t, rec.all(), 1)
	e.Poll(at(550))
	assert.Len(t, rec.all(), 3)
}

func TestEngine_NeighborhoodCooldown(t *testing.T) {
	e, rec := newTestEngine(t, DefaultPolicy(), nil)

	e.OnReverseGeocode(parkLat, parkLon, "Soulard", nil, at(0))
	require.Len(t, rec.all(), 1)
	assert.Equal(t, domain.SourceNeighborhood, rec.all()[0].Source)
	assert.Equal(t, "Welcome to Soulard", rec.all()[0].Body)

	e.OnReverseGeocode(parkLat, parkLon, "Soulard", nil, at(120))
	assert.Len(t, rec.all(), 1, "same neighborhood")

	e.OnReverseGeocode(parkLat, parkLon, "Lafayette Square", nil, at(30))
	assert.Len(t, rec.all(), 1, "inside cool-down")
	assert.Equal(t, "Soulard", e.Snapshot(at(30)).Neighborhood)

	e.OnReverseGeocode(parkLat, parkLon, "Lafayette Square", nil, at(61))
	assert.Len(t, rec.all(), 2)
	assert.Equal(t, "Lafayette Square", e.Snapshot(at(61)).Neighborhood)

	// neighborhood invites do not use the survey cap
	assert.Equal(t, 0, e.Snapshot(at(61)).TriggersInWindow)
}

func TestEngine_NeighborhoodErrorsAreSkipped(t *testing.T) {
	e, rec := newTestEngine(t, DefaultPolicy(), nil)

	e.OnReverseGeocode(parkLat, parkLon, "", errors.New("timeout"), at(0))
	e.OnReverseGeocode(parkLat, parkLon, "  ", nil, at(10))
	assert.Empty(t, rec.all())
	assert.Empty(t, e.Snapshot(at(10)).Neighborhood)
}

func TestEngine_GeocodeRunsAsync(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	g := geocoderFunc(func(ctx context.Context, lat, lon float64) (string, error) {
		calls.Add(1)
		select {
		case <-release:
			return "Tower Grove", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	e, rec := newTestEngine(t, DefaultPolicy(), g)

	e.DeliverSample(parkLat, parkLon, at(0))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	e.DeliverSample(parkLat, parkLon, at(60)) // lookup still in flight
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Tower Grove", rec.all()[0].AreaName)

	// the next sample starts a fresh lookup; same name, no new invite
	e.DeliverSample(parkLat, parkLon, at(120))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
}

func TestEngine_StopDiscardsInFlightGeocode(t *testing.T) {
	started := make(chan struct{})
	g := geocoderFunc(func(ctx context.Context, lat, lon float64) (string, error) {
		close(started)
		<-ctx.Done()
		return "Too Late", nil
	})
	e, rec := newTestEngine(t, DefaultPolicy(), g)

	e.DeliverSample(parkLat, parkLon, at(0))
	<-started
	e.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.all())
	assert.Empty(t, e.Snapshot(at(1)).Neighborhood)
}

func TestEngine_ConcurrentProducers(t *testing.T) {
	p := DefaultPolicy()
	p.MinInterval = 0
	e, rec := newTestEngine(t, p, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			e.DeliverLevel(90, at(i))
		}(i)
		go func(i int) {
			defer wg.Done()
			e.DeliverConversationDetected(at(i))
		}(i)
		go func(i int) {
			defer wg.Done()
			e.DeliverSample(parkLat, parkLon, at(i))
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, len(rec.all()), 3)
	assert.LessOrEqual(t, e.Snapshot(at(10)).TriggersInWindow, 3)
}
