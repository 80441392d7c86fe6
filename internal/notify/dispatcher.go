package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"example.com/geosurvey/internal/domain"
	"example.com/geosurvey/internal/metrics"
)

// Dispatcher queues requests from the engines and hands them to the Scheduler on its own
// goroutine, so an engine never waits on scheduling.
type Dispatcher struct {
	queue     chan domain.NotificationRequest
	scheduler *Scheduler
	log       zerolog.Logger
	done      chan struct{}
}

func NewDispatcher(s *Scheduler, queueSize int, log zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		queue:     make(chan domain.NotificationRequest, queueSize),
		scheduler: s,
		log:       log.With().Str("component", "dispatcher").Logger(),
		done:      make(chan struct{}),
	}
}

// Emit queues req. It returns false when the queue is full.
func (d *Dispatcher) Emit(req domain.NotificationRequest) bool {
	select {
	case d.queue <- req:
		return true
	default:
		metrics.Notifications.WithLabelValues(string(domain.StatusFailed)).Inc()
		return false
	}
}

// Start runs the worker until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-d.queue:
				if err := d.scheduler.Schedule(ctx, req); err != nil {
					metrics.Notifications.WithLabelValues(string(domain.StatusFailed)).Inc()
					ev := d.log.Warn()
					if errors.Is(err, ErrDuplicateIdentifier) {
						ev = d.log.Error()
					}
					ev.Err(err).Str("id", req.Identifier).Str("device", req.DeviceID).Msg("scheduling failed")
				}
			}
		}
	}()
}

// Done is closed when the worker exits.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }
