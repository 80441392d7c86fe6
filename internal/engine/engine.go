// Package engine decides when a device should be invited to take a survey.
//
// One Engine serves one device. Location samples, audio levels, conversation signals, dwell polls
// and reverse-geocode results all enter through methods that take the engine's single mutex, so the
// dwell state, the rate-limit window and the pause/cool-down timestamps are only ever touched by one
// producer at a time. Nothing inside the lock blocks: notifications leave through a non-blocking
// Emitter and geocoding runs in its own goroutine.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/geosurvey/internal/domain"
	"example.com/geosurvey/internal/dwell"
	"example.com/geosurvey/internal/geo"
	"example.com/geosurvey/internal/metrics"
	"example.com/geosurvey/internal/ratelimit"
)

// Emitter hands a notification request to the notification system without waiting for it.
// It returns false when the request could not be queued.
type Emitter interface {
	Emit(req domain.NotificationRequest) bool
}

// Geocoder resolves a coordinate to a neighborhood name.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// Deps are the collaborators shared by every engine of a registry.
type Deps struct {
	Index    *geo.Index
	Emitter  Emitter
	Geocoder Geocoder // optional
	Clock    func() time.Time
	Location *time.Location // midnight resets
	Log      zerolog.Logger
	NewID    func() string
}

func (d Deps) withDefaults() Deps {
	if d.Index == nil {
		d.Index = geo.NewIndex()
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}

type Engine struct {
	mu sync.Mutex

	device string
	policy Policy
	deps   Deps
	log    zerolog.Logger

	tracker      *dwell.Tracker
	limiter      *ratelimit.Limiter
	conversation *ratelimit.DailyCounter
	hoodLimiter  *ratelimit.Limiter

	hasLast           bool
	lastLat, lastLon  float64
	lastAt            time.Time
	audioPausedUntil  time.Time
	neighborhood      string
	neighborhoodAt    time.Time
	geocodeCancel     context.CancelFunc
	geocodeGeneration uint64
	lastActive        time.Time // service clock, for idle eviction
}

func New(device string, p Policy, d Deps) *Engine {
	d = d.withDefaults()
	return &Engine{
		device:       device,
		policy:       p,
		deps:         d,
		log:          d.Log.With().Str("device", device).Logger(),
		tracker:      dwell.NewTracker(p.DwellThreshold),
		limiter:      ratelimit.New(ratelimit.Config{Cap: p.DailyCap, Window: p.Window, MinInterval: p.MinInterval}),
		conversation: ratelimit.NewDailyCounter(p.ConversationDailyLimit, d.Location),
		hoodLimiter:  ratelimit.New(ratelimit.Config{Cap: p.NeighborhoodDailyCap, Window: p.Window, MinInterval: p.NeighborhoodCooldown}),
		lastActive:   d.Clock(),
	}
}

// LastActive is when the engine last received input, on the service clock.
func (e *Engine) LastActive() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActive
}

func (e *Engine) DeviceID() string { return e.device }

// DeliverSample feeds one location fix. Samples older than the last accepted one and exact
// repeats of it are dropped.
func (e *Engine) DeliverSample(lat, lon float64, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = e.deps.Clock()

	if e.hasLast {
		switch {
		case ts.Before(e.lastAt):
			metrics.SamplesDropped.WithLabelValues("stale").Inc()
			e.log.Debug().Time("ts", ts).Time("last", e.lastAt).Msg("stale sample dropped")
			return
		case ts.Equal(e.lastAt) && lat == e.lastLat && lon == e.lastLon:
			metrics.SamplesDropped.WithLabelValues("duplicate").Inc()
			return
		}
	}
	e.hasLast, e.lastLat, e.lastLon, e.lastAt = true, lat, lon, ts
	metrics.SamplesReceived.WithLabelValues("location").Inc()

	var name string
	if a, ok := e.deps.Index.Resolve(lat, lon); ok {
		name = a.Name
	}
	tr := e.tracker.Observe(name, ts)
	if tr.Kind != dwell.Unchanged {
		metrics.DwellTransitions.WithLabelValues(tr.Kind.String()).Inc()
		e.log.Info().
			Str("transition", tr.Kind.String()).
			Str("area", name).
			Str("previous", tr.Previous).
			Dur("abandoned", tr.Abandoned).
			Msg("dwell transition")
	}
	if tr.Completion != nil {
		e.dwellCompleteLocked(*tr.Completion)
	}
	e.requestGeocodeLocked(lat, lon)
}

// Poll runs the periodic dwell check so a stationary device still reaches the threshold.
func (e *Engine) Poll(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.tracker.Poll(now); ok {
		e.dwellCompleteLocked(c)
	}
}

func (e *Engine) dwellCompleteLocked(c dwell.Completion) {
	log := e.log.With().Str("area", c.AreaName).Dur("elapsed", c.Elapsed).Logger()
	if !e.limiter.TryAdmit(domain.SourceLocation, c.At) {
		metrics.Triggers.WithLabelValues(string(domain.SourceLocation), metrics.Rejected).Inc()
		log.Info().Msg("dwell complete, rate limited")
		return
	}
	metrics.Triggers.WithLabelValues(string(domain.SourceLocation), metrics.Admitted).Inc()
	log.Info().Msg("dwell complete, inviting")

	id := e.deps.NewID()
	cp := e.policy.Copy
	e.emitLocked(domain.NotificationRequest{
		Identifier:  id,
		Source:      domain.SourceLocation,
		Title:       cp.DwellTitle,
		Body:        e.policy.render(cp.DwellBody, c.AreaName),
		DeepLinkURL: e.policy.DeepLinkURL,
		FireDelay:   e.policy.InitialDelay,
		AreaName:    c.AreaName,
		CreatedAt:   c.At,
	})
	e.emitLocked(domain.NotificationRequest{
		Identifier:  domain.ReminderID(id),
		Source:      domain.SourceLocation,
		Title:       cp.ReminderTitle,
		Body:        e.policy.render(cp.ReminderBody, c.AreaName),
		DeepLinkURL: e.policy.DeepLinkURL,
		FireDelay:   e.policy.reminderDelay(),
		IsReminder:  true,
		AreaName:    c.AreaName,
		CreatedAt:   c.At,
	})
}

// DeliverLevel feeds one audio metering reading. After an admitted loud reading, levels are
// ignored for the pause window.
func (e *Engine) DeliverLevel(db float64, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = e.deps.Clock()
	metrics.SamplesReceived.WithLabelValues("audio").Inc()

	if ts.Before(e.audioPausedUntil) {
		metrics.Triggers.WithLabelValues(string(domain.SourceAudio), metrics.Suppressed).Inc()
		return
	}
	if db < e.policy.LoudnessThresholdDB {
		return
	}
	if !e.limiter.TryAdmit(domain.SourceAudio, ts) {
		metrics.Triggers.WithLabelValues(string(domain.SourceAudio), metrics.Rejected).Inc()
		e.log.Debug().Float64("db", db).Msg("loud audio, rate limited")
		return
	}
	metrics.Triggers.WithLabelValues(string(domain.SourceAudio), metrics.Admitted).Inc()
	e.audioPausedUntil = ts.Add(e.policy.AudioPause)
	e.log.Info().Float64("db", db).Time("paused_until", e.audioPausedUntil).Msg("loud audio, inviting")

	cp := e.policy.Copy
	e.emitLocked(domain.NotificationRequest{
		Identifier:  e.deps.NewID(),
		Source:      domain.SourceAudio,
		Title:       cp.AudioTitle,
		Body:        e.policy.render(cp.AudioBody, ""),
		DeepLinkURL: e.policy.DeepLinkURL,
		FireDelay:   e.policy.InitialDelay,
		CreatedAt:   ts,
	})
}

// DeliverConversationDetected feeds a conversation-detector hit.
func (e *Engine) DeliverConversationDetected(ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = e.deps.Clock()
	metrics.SamplesReceived.WithLabelValues("conversation").Inc()

	if e.conversation.Remaining(ts) <= 0 {
		metrics.Triggers.WithLabelValues(string(domain.SourceConversation), metrics.Suppressed).Inc()
		e.log.Debug().Msg("conversation cap reached for today")
		return
	}
	if !e.limiter.TryAdmit(domain.SourceConversation, ts) {
		metrics.Triggers.WithLabelValues(string(domain.SourceConversation), metrics.Rejected).Inc()
		return
	}
	e.conversation.TryIncrement(ts)
	metrics.Triggers.WithLabelValues(string(domain.SourceConversation), metrics.Admitted).Inc()
	e.log.Info().Msg("conversation detected, inviting")

	cp := e.policy.Copy
	e.emitLocked(domain.NotificationRequest{
		Identifier:  e.deps.NewID(),
		Source:      domain.SourceConversation,
		Title:       cp.ConversationTitle,
		Body:        e.policy.render(cp.ConversationBody, ""),
		DeepLinkURL: e.policy.DeepLinkURL,
		FireDelay:   e.policy.InitialDelay,
		CreatedAt:   ts,
	})
}

// requestGeocodeLocked starts a reverse geocode unless one is already running.
func (e *Engine) requestGeocodeLocked(lat, lon float64) {
	if e.deps.Geocoder == nil || e.geocodeCancel != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.policy.GeocodeTimeout)
	e.geocodeCancel = cancel
	gen := e.geocodeGeneration
	g := e.deps.Geocoder

	go func() {
		defer cancel()
		name, err := g.ReverseGeocode(ctx, lat, lon)

		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.geocodeGeneration {
			return // stopped meanwhile
		}
		e.geocodeCancel = nil
		e.neighborhoodLocked(name, err, e.deps.Clock())
	}()
}

// OnReverseGeocode accepts a geocoding result produced outside the engine.
func (e *Engine) OnReverseGeocode(lat, lon float64, name string, err error, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Debug().Float64("lat", lat).Float64("lon", lon).Msg("reverse geocode result")
	e.neighborhoodLocked(name, err, now)
}

// neighborhoodLocked announces a neighborhood change once the cool-down has passed. The
// observed name only advances when an announcement is attempted, so a change seen during the
// cool-down is announced by a later sample.
func (e *Engine) neighborhoodLocked(name string, err error, now time.Time) {
	if err != nil {
		metrics.GeocodeFailures.Inc()
		e.log.Warn().Err(err).Msg("reverse geocode failed, skipping neighborhood check")
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		metrics.GeocodeFailures.Inc()
		e.log.Debug().Msg("neighborhood not found")
		return
	}
	if name == e.neighborhood {
		return
	}
	if !e.neighborhoodAt.IsZero() && now.Sub(e.neighborhoodAt) < e.policy.NeighborhoodCooldown {
		metrics.Triggers.WithLabelValues(string(domain.SourceNeighborhood), metrics.Suppressed).Inc()
		return
	}
	prev := e.neighborhood
	e.neighborhood, e.neighborhoodAt = name, now
	if !e.hoodLimiter.TryAdmit(domain.SourceNeighborhood, now) {
		metrics.Triggers.WithLabelValues(string(domain.SourceNeighborhood), metrics.Rejected).Inc()
		return
	}
	metrics.Triggers.WithLabelValues(string(domain.SourceNeighborhood), metrics.Admitted).Inc()
	e.log.Info().Str("neighborhood", name).Str("previous", prev).Msg("entered new neighborhood")

	cp := e.policy.Copy
	e.emitLocked(domain.NotificationRequest{
		Identifier: e.deps.NewID(),
		Source:     domain.SourceNeighborhood,
		Title:      cp.NeighborhoodTitle,
		Body:       e.policy.render(cp.NeighborhoodBody, name),
		FireDelay:  e.policy.InitialDelay,
		AreaName:   name,
		CreatedAt:  now,
	})
}

func (e *Engine) emitLocked(req domain.NotificationRequest) {
	req.DeviceID = e.device
	if e.deps.Emitter == nil {
		return
	}
	if !e.deps.Emitter.Emit(req) {
		e.log.Warn().Str("id", req.Identifier).Str("source", string(req.Source)).Msg("notification dropped, queue full")
	}
}

// Stop abandons the current dwell, lifts the audio pause and cancels an in-flight geocode.
// Rate-limit history is kept. The engine accepts new input afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracker.Reset()
	e.audioPausedUntil = time.Time{}
	e.hasLast = false
	e.geocodeGeneration++
	if e.geocodeCancel != nil {
		e.geocodeCancel()
		e.geocodeCancel = nil
	}
	e.log.Info().Msg("monitoring stopped")
}

// Snapshot is a read-only view of an engine's state.
type Snapshot struct {
	DeviceID              string    `json:"device_id"`
	AreaName              string    `json:"area_name,omitempty"`
	EnteredAt             time.Time `json:"entered_at,omitempty"`
	DwellFired            bool      `json:"dwell_fired"`
	TriggersInWindow      int       `json:"triggers_in_window"`
	AudioPausedUntil      time.Time `json:"audio_paused_until,omitempty"`
	Neighborhood          string    `json:"neighborhood,omitempty"`
	ConversationRemaining int       `json:"conversation_remaining"`
}

func (e *Engine) Snapshot(now time.Time) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.tracker.State()
	return Snapshot{
		DeviceID:              e.device,
		AreaName:              st.AreaName,
		EnteredAt:             st.EnteredAt,
		DwellFired:            st.Fired,
		TriggersInWindow:      e.limiter.Count(now),
		AudioPausedUntil:      e.audioPausedUntil,
		Neighborhood:          e.neighborhood,
		ConversationRemaining: e.conversation.Remaining(now),
	}
}
