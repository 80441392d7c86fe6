package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/geosurvey/internal/domain"
	"example.com/geosurvey/internal/idempotency"
	"example.com/geosurvey/internal/metrics"
)

// Pusher delivers an encoded frame to a device and reports how many connections took it.
type Pusher interface {
	SendToDevice(device string, data []byte) int
}

// AuditSink receives lifecycle records. Enqueue must not block.
type AuditSink interface {
	Enqueue(rec domain.AuditRecord) bool
}

// firedRetention bounds how long a fired identifier still counts as a duplicate.
const firedRetention = 24 * time.Hour

type pending struct {
	req    domain.NotificationRequest
	fireAt time.Time
	timer  *time.Timer
}

type Scheduler struct {
	pusher Pusher
	audit  AuditSink
	clock  func() time.Time
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pending
	fired   map[string]time.Time
	closed  bool
}

func NewScheduler(pusher Pusher, audit AuditSink, clock func() time.Time, log zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		pusher:  pusher,
		audit:   audit,
		clock:   clock,
		log:     log.With().Str("component", "scheduler").Logger(),
		pending: make(map[string]*pending),
		fired:   make(map[string]time.Time),
	}
}

// Schedule arms a timer that delivers req after its FireDelay. An identifier that is pending or
// fired within the last day is rejected.
func (s *Scheduler) Schedule(ctx context.Context, req domain.NotificationRequest) error {
	if err := ctx.Err(); err != nil {
		return &SchedulingError{ID: req.Identifier, Err: err}
	}
	if req.Identifier == "" || req.DeviceID == "" {
		return &SchedulingError{ID: req.Identifier, Err: errors.New("identifier and device are required")}
	}

	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &SchedulingError{ID: req.Identifier, Err: errors.New("scheduler closed")}
	}
	s.pruneFiredLocked(now)
	if _, ok := s.pending[req.Identifier]; ok {
		return &SchedulingError{ID: req.Identifier, Err: ErrDuplicateIdentifier}
	}
	if _, ok := s.fired[req.Identifier]; ok {
		return &SchedulingError{ID: req.Identifier, Err: ErrDuplicateIdentifier}
	}

	delay := req.FireDelay
	if delay < 0 {
		delay = 0
	}
	p := &pending{req: req, fireAt: now.Add(delay)}
	id := req.Identifier
	p.timer = time.AfterFunc(delay, func() { s.fire(id) })
	s.pending[id] = p

	metrics.Notifications.WithLabelValues(string(domain.StatusScheduled)).Inc()
	s.record(p, domain.StatusScheduled, now)
	s.log.Debug().Str("id", id).Str("device", req.DeviceID).Dur("delay", delay).Msg("notification scheduled")
	return nil
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return // cancelled meanwhile
	}
	delete(s.pending, id)
	now := s.clock()
	s.fired[id] = now
	s.mu.Unlock()

	status := domain.StatusDelivered
	data, err := encodeNotification(p.req, now)
	if err != nil || s.pusher == nil || s.pusher.SendToDevice(p.req.DeviceID, data) == 0 {
		status = domain.StatusFailed
		s.log.Warn().Err(err).Str("id", id).Str("device", p.req.DeviceID).Msg("notification not delivered, device offline")
	} else {
		s.log.Info().Str("id", id).Str("device", p.req.DeviceID).Str("source", string(p.req.Source)).Msg("notification delivered")
	}
	metrics.Notifications.WithLabelValues(string(status)).Inc()
	s.record(p, status, now)
}

// Cancel stops a pending notification.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		p.timer.Stop()
	}
	s.mu.Unlock()
	if !ok {
		return ErrUnknownNotification
	}
	metrics.Notifications.WithLabelValues(string(domain.StatusCancelled)).Inc()
	s.record(p, domain.StatusCancelled, s.clock())
	s.log.Debug().Str("id", id).Msg("notification cancelled")
	return nil
}

// CancelDevice cancels every pending notification of a device and returns how many.
func (s *Scheduler) CancelDevice(ctx context.Context, device string) int {
	n := 0
	for _, id := range s.Pending(device) {
		if s.Cancel(ctx, id) == nil {
			n++
		}
	}
	return n
}

// Acknowledge records a user interaction. Acting on an initial notification cancels its pending
// reminder; it reports whether one was cancelled.
func (s *Scheduler) Acknowledge(ctx context.Context, rec domain.InteractionRecord) bool {
	if s.audit != nil {
		r := rec
		s.audit.Enqueue(domain.AuditRecord{Interaction: &r})
	}
	if domain.IsReminderID(rec.NotificationID) {
		return false
	}
	rid := domain.ReminderID(rec.NotificationID)
	s.mu.Lock()
	p, ok := s.pending[rid]
	s.mu.Unlock()
	if !ok || p.req.DeviceID != rec.DeviceID {
		return false
	}
	return s.Cancel(ctx, rid) == nil
}

// Pending lists the pending notification ids of a device, sorted.
func (s *Scheduler) Pending(device string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, p := range s.pending {
		if p.req.DeviceID == device {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Close stops every timer. Pending notifications are dropped without a status change.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.closed = true
}

func (s *Scheduler) pruneFiredLocked(now time.Time) {
	for id, at := range s.fired {
		if now.Sub(at) > firedRetention {
			delete(s.fired, id)
		}
	}
}

func (s *Scheduler) record(p *pending, status domain.NotificationStatus, at time.Time) {
	if s.audit == nil {
		return
	}
	ok := s.audit.Enqueue(domain.AuditRecord{Notification: &domain.NotificationRecord{
		ID:          p.req.Identifier,
		DeviceID:    p.req.DeviceID,
		Source:      p.req.Source,
		Title:       p.req.Title,
		Body:        p.req.Body,
		DeepLinkURL: p.req.DeepLinkURL,
		FireAt:      p.fireAt,
		IsReminder:  p.req.IsReminder,
		Status:      status,
		UpdatedAt:   at,
	}})
	if !ok {
		s.log.Warn().Str("id", p.req.Identifier).Msg("audit queue full")
	}
}

// HandleFrame accepts an interaction reported over the device's websocket. Other frames are
// ignored.
func (s *Scheduler) HandleFrame(device string, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Debug().Err(err).Str("device", device).Msg("unreadable frame")
		return
	}
	if in.Type != MessageInteraction {
		return
	}
	switch in.InteractionType {
	case domain.InteractionOpened, domain.InteractionDismissed:
	default:
		s.log.Debug().Str("device", device).Str("interaction", in.InteractionType).Msg("unknown interaction type")
		return
	}
	if in.NotificationID == "" || in.Timestamp <= 0 {
		return
	}
	key, _ := idempotency.InteractionKey(in.InteractionID, in.NotificationID, device, in.InteractionType, in.Timestamp)
	s.Acknowledge(context.Background(), domain.InteractionRecord{
		Key:             key,
		NotificationID:  in.NotificationID,
		DeviceID:        device,
		InteractionType: in.InteractionType,
		At:              domain.Time(in.Timestamp),
	})
}
