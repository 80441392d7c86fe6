// Package transporthttp exposes the device-facing API: sample ingestion, interaction reports,
// device state, area lookup, trigger metrics and the websocket push channel.
package transporthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"example.com/geosurvey/internal/config"
	"example.com/geosurvey/internal/domain"
	"example.com/geosurvey/internal/engine"
	"example.com/geosurvey/internal/geo"
	"example.com/geosurvey/internal/idempotency"
	"example.com/geosurvey/internal/metrics"
	spg "example.com/geosurvey/internal/storage/postgres"
)

// TriggerStats answers the trigger metrics endpoint and the readiness probe.
type TriggerStats interface {
	Ready(ctx context.Context) error
	QueryTriggerTotals(ctx context.Context, f spg.TriggerFilter) (spg.TriggerTotals, error)
	QueryTriggerBucketsDaily(ctx context.Context, f spg.TriggerFilter) ([]spg.TriggerBucket, error)
}

// Notifier is the part of the notification system handlers talk to.
type Notifier interface {
	Acknowledge(ctx context.Context, rec domain.InteractionRecord) bool
	Pending(device string) []string
	CancelDevice(ctx context.Context, device string) int
}

// DeviceSockets serves the websocket push channel.
type DeviceSockets interface {
	ServeWS(w http.ResponseWriter, r *http.Request, device string) error
}

type ServerDeps struct {
	Cfg      config.Config
	Engines  *engine.Registry
	Index    *geo.Index
	Notifier Notifier
	Sockets  DeviceSockets
	Stats    TriggerStats // nil when running without a database
	Now      func() time.Time
	Log      zerolog.Logger
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func accepted(w http.ResponseWriter, n int) {
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "accepted_count": n})
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if d.Index.Len() == 0 {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "no areas loaded", nil)
		return
	}
	if d.Stats != nil {
		if err := d.Stats.Ready(r.Context()); err != nil {
			WriteProblem(w, http.StatusServiceUnavailable, "not ready", "database not reachable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "areas": d.Index.Len()})
}

// --- Location samples (single or bulk) ---

type locationReq struct {
	domain.Sample
	Samples []domain.Sample `json:"samples"`
}

func (d *ServerDeps) HandlePostLocation(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req locationReq
	if err := decodeJSONStrict(r, &req); err != nil {
		metrics.SamplesDropped.WithLabelValues("invalid").Inc()
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	now := d.Now()

	if req.Samples == nil {
		if errs := domain.ValidateSample(&req.Sample, now, d.Cfg.ClockSkew); len(errs) > 0 {
			metrics.SamplesDropped.WithLabelValues("invalid").Inc()
			WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", fieldProblems("", errs, nil))
			return
		}
		d.Engines.Get(req.DeviceID).DeliverSample(req.Latitude, req.Longitude, domain.Time(req.Timestamp))
		accepted(w, 1)
		return
	}

	ptrs := make([]*domain.Sample, len(req.Samples))
	for i := range req.Samples {
		ptrs[i] = &req.Samples[i]
	}
	if all, top := domain.ValidateBulk(ptrs, domain.MaxBulkSamples, now, d.Cfg.ClockSkew); top != nil {
		metrics.SamplesDropped.WithLabelValues("invalid").Add(float64(len(req.Samples)))
		var prob map[string][]string
		for i, arr := range all {
			if len(arr) > 0 {
				prob = fieldProblems(indexed("samples", i), arr, prob)
			}
		}
		WriteProblem(w, http.StatusBadRequest, "validation failed", top.Error(), prob)
		return
	}
	// devices buffer fixes while offline; replay them oldest first
	sort.SliceStable(req.Samples, func(i, j int) bool { return req.Samples[i].Timestamp < req.Samples[j].Timestamp })
	for _, s := range req.Samples {
		d.Engines.Get(s.DeviceID).DeliverSample(s.Latitude, s.Longitude, domain.Time(s.Timestamp))
	}
	d.Log.Debug().Int("count", len(req.Samples)).Msg("bulk location samples delivered")
	accepted(w, len(req.Samples))
}

// --- Audio levels ---

func (d *ServerDeps) HandlePostAudio(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var a domain.AudioLevel
	if err := decodeJSONStrict(r, &a); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if errs := domain.ValidateAudioLevel(&a, d.Now(), d.Cfg.ClockSkew); len(errs) > 0 {
		metrics.SamplesDropped.WithLabelValues("invalid").Inc()
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", fieldProblems("", errs, nil))
		return
	}
	d.Engines.Get(a.DeviceID).DeliverLevel(a.Decibels, domain.Time(a.Timestamp))
	accepted(w, 1)
}

// --- Conversation signals ---

func (d *ServerDeps) HandlePostConversation(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var c domain.ConversationSignal
	if err := decodeJSONStrict(r, &c); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if errs := domain.ValidateConversation(&c, d.Now(), d.Cfg.ClockSkew); len(errs) > 0 {
		metrics.SamplesDropped.WithLabelValues("invalid").Inc()
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", fieldProblems("", errs, nil))
		return
	}
	d.Engines.Get(c.DeviceID).DeliverConversationDetected(domain.Time(c.Timestamp))
	accepted(w, 1)
}

// --- Notification interactions ---

func (d *ServerDeps) HandlePostInteraction(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	id := mux.Vars(r)["id"]
	var in domain.Interaction
	if err := decodeJSONStrict(r, &in); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if errs := domain.ValidateInteraction(&in, d.Now(), d.Cfg.ClockSkew); len(errs) > 0 {
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", fieldProblems("", errs, nil))
		return
	}
	key, src := idempotency.InteractionKey(in.InteractionID, id, in.DeviceID, in.InteractionType, in.Timestamp)
	cancelled := d.Notifier.Acknowledge(r.Context(), domain.InteractionRecord{
		Key:             key,
		NotificationID:  id,
		DeviceID:        in.DeviceID,
		InteractionType: in.InteractionType,
		At:              domain.Time(in.Timestamp),
	})
	d.Log.Info().
		Str("notification", id).
		Str("device", in.DeviceID).
		Str("interaction", in.InteractionType).
		Str("key_source", string(src)).
		Bool("reminder_cancelled", cancelled).
		Msg("interaction recorded")
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "recorded", "key": key, "reminder_cancelled": cancelled})
}

// --- Devices ---

func (d *ServerDeps) HandleStopDevice(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	device := mux.Vars(r)["device"]
	if e, ok := d.Engines.Lookup(device); ok {
		e.Stop()
	}
	cancelled := 0
	if v, _ := strconv.ParseBool(r.URL.Query().Get("cancel_pending")); v {
		cancelled = d.Notifier.CancelDevice(r.Context(), device)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "cancelled": cancelled})
}

type deviceStateResp struct {
	engine.Snapshot
	Pending []string `json:"pending_notifications"`
}

func (d *ServerDeps) HandleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	e, ok := d.Engines.Lookup(device)
	if !ok {
		WriteProblem(w, http.StatusNotFound, "not found", "no samples received from device", nil)
		return
	}
	resp := deviceStateResp{Snapshot: e.Snapshot(d.Now()), Pending: d.Notifier.Pending(device)}
	if resp.Pending == nil {
		resp.Pending = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Areas ---

func parseCoord(q string, min, max float64) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(q), 64)
	if err != nil || v < min || v > max {
		return 0, false
	}
	return v, true
}

func (d *ServerDeps) HandleResolveArea(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prob := map[string][]string{}
	lat, ok := parseCoord(q.Get("lat"), -90, 90)
	if !ok {
		prob["lat"] = []string{"must be a number within [-90, 90]"}
	}
	lon, ok := parseCoord(q.Get("lon"), -180, 180)
	if !ok {
		prob["lon"] = []string{"must be a number within [-180, 180]"}
	}
	if len(prob) > 0 {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "lat and lon are required", prob)
		return
	}
	a, found := d.Index.Resolve(lat, lon)
	resp := map[string]any{"found": found}
	if found {
		resp["area"] = a.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Trigger metrics ---

type triggerMetricsResp struct {
	Totals  spg.TriggerTotals   `json:"totals"`
	Buckets []spg.TriggerBucket `json:"buckets,omitempty"`
}

const defaultWindowSeconds = int64(24 * 60 * 60)  // last 24h default
const maxWindowSeconds = int64(90 * 24 * 60 * 60) // cap at 90 days (guardrail)

func (d *ServerDeps) HandleGetTriggerMetrics(w http.ResponseWriter, r *http.Request) {
	if d.Stats == nil {
		WriteProblem(w, http.StatusServiceUnavailable, "unavailable", "audit log not configured", nil)
		return
	}
	q := r.URL.Query()
	source := strings.TrimSpace(q.Get("source"))
	switch domain.TriggerSource(source) {
	case "", domain.SourceLocation, domain.SourceAudio, domain.SourceConversation, domain.SourceNeighborhood:
	default:
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "unknown source", nil)
		return
	}

	now := d.Now().Unix()
	from, to := now-defaultWindowSeconds, now
	if s := q.Get("to"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "to must be epoch seconds", nil)
			return
		}
		to, from = v, v-defaultWindowSeconds
	}
	if s := q.Get("from"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "from must be epoch seconds", nil)
			return
		}
		from = v
	}
	if from > to {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "from must not be after to", nil)
		return
	}
	// guardrail: cap excessively large ranges
	if to-from > maxWindowSeconds {
		from = to - maxWindowSeconds
	}

	f := spg.TriggerFilter{DeviceID: strings.TrimSpace(q.Get("device_id")), Source: source, From: from, To: to}
	ctx := r.Context()
	var resp triggerMetricsResp
	var err error
	if resp.Totals, err = d.Stats.QueryTriggerTotals(ctx, f); err != nil {
		d.Log.Error().Err(err).Msg("trigger totals query")
		WriteProblem(w, http.StatusInternalServerError, "query error", "could not read audit log", nil)
		return
	}
	if q.Get("group_by") == "day" {
		if resp.Buckets, err = d.Stats.QueryTriggerBucketsDaily(ctx, f); err != nil {
			d.Log.Error().Err(err).Msg("trigger buckets query")
			WriteProblem(w, http.StatusInternalServerError, "query error", "could not read audit log", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Websocket ---

func (d *ServerDeps) HandleWS(w http.ResponseWriter, r *http.Request) {
	device := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if device == "" || len(device) > domain.MaxDeviceIDLen {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "device_id is required", nil)
		return
	}
	if err := d.Sockets.ServeWS(w, r, device); err != nil {
		// the upgrader already wrote the HTTP error
		d.Log.Debug().Err(err).Str("device", device).Msg("websocket upgrade failed")
	}
}
