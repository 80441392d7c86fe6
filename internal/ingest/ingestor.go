// Package ingest batches audit records in memory and hands them to a Writer.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"example.com/geosurvey/internal/domain"
	"example.com/geosurvey/internal/metrics"
)

// Writer persists a batch and reports how many rows changed.
type Writer interface {
	InsertBatch(ctx context.Context, batch []domain.AuditRecord) (int64, error)
}

const shutdownFlushTimeout = 5 * time.Second

type Ingestor struct {
	queue        chan domain.AuditRecord
	writer       Writer
	batchMaxSize int
	batchMaxWait time.Duration
	log          zerolog.Logger
	done         chan struct{}
}

func NewIngestor(writer Writer, queueMaxSize, batchMaxSize int, batchMaxWait time.Duration, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		queue:        make(chan domain.AuditRecord, queueMaxSize),
		writer:       writer,
		batchMaxSize: batchMaxSize,
		batchMaxWait: batchMaxWait,
		log:          log.With().Str("component", "ingest").Logger(),
		done:         make(chan struct{}),
	}
}

// Start runs the batching worker until ctx is done. Records still queued at that point are
// flushed with a fresh deadline.
func (ig *Ingestor) Start(ctx context.Context) {
	go func() {
		defer close(ig.done)
		batch := make([]domain.AuditRecord, 0, ig.batchMaxSize)
		t := time.NewTimer(ig.batchMaxWait)
		defer t.Stop()

		resetTimer := func() {
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(ig.batchMaxWait)
		}

		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				resetTimer()
				return
			}
			affected, err := ig.writer.InsertBatch(ctx, batch)
			if err != nil {
				metrics.AuditRows.WithLabelValues("dropped").Add(float64(len(batch)))
				ig.log.Error().Err(err).Int("dropped", len(batch)).Msg("batch insert failed")
			} else {
				metrics.AuditRows.WithLabelValues("written").Add(float64(affected))
				ig.log.Debug().Int64("affected", affected).Int("size", len(batch)).Msg("batch insert ok")
			}
			batch = batch[:0]
			resetTimer()
		}

		for {
			select {
			case <-ctx.Done():
				fctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
			drain:
				for {
					select {
					case rec := <-ig.queue:
						batch = append(batch, rec)
						if len(batch) >= ig.batchMaxSize {
							flush(fctx)
						}
					default:
						break drain
					}
				}
				flush(fctx)
				cancel()
				return
			case rec := <-ig.queue:
				batch = append(batch, rec)
				if len(batch) >= ig.batchMaxSize {
					flush(ctx)
				}
			case <-t.C:
				flush(ctx)
			}
		}
	}()
}

// Done is closed once the worker has flushed and exited.
func (ig *Ingestor) Done() <-chan struct{} { return ig.done }

// Enqueue never blocks; it reports false when the queue is full.
func (ig *Ingestor) Enqueue(rec domain.AuditRecord) bool {
	select {
	case ig.queue <- rec:
		return true
	default:
		metrics.AuditRows.WithLabelValues("dropped").Inc()
		return false
	}
}
