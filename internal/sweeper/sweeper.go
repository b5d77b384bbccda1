// Package sweeper turns due ledger retries into queue tasks and purges old
// terminal entries. Publishing is at-least-once: the worker's admission guard
// makes a double-published task harmless.
package sweeper

import (
	"context"
	"time"

	"github.com/austindbirch/mooring/internal/ledger"
	"github.com/austindbirch/mooring/internal/logging"
	"github.com/austindbirch/mooring/internal/metrics"
	"github.com/austindbirch/mooring/internal/pipeline"
	"github.com/austindbirch/mooring/internal/tracing"
)

// Publisher pushes a message onto a topic. Satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Sweeper owns the retry and purge loops.
type Sweeper struct {
	Store     ledger.Store
	Publisher Publisher
	Topic     string
	Metrics   *metrics.Collector
	Logger    *logging.Logger

	Interval time.Duration
	Batch    int

	Retention     time.Duration
	PurgeInterval time.Duration

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run blocks, sweeping on Interval and purging on PurgeInterval, until the
// context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	sweep := time.NewTicker(s.Interval)
	defer sweep.Stop()
	purge := time.NewTicker(s.PurgeInterval)
	defer purge.Stop()

	s.Logger.WithContext(ctx).
		WithField("interval", s.Interval.String()).
		WithField("batch", s.Batch).
		Info("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.Logger.Plain().Info("sweeper stopped")
			return
		case <-sweep.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.Logger.WithContext(ctx).WithError(err).Error("sweep failed")
			} else if n > 0 {
				s.Logger.WithContext(ctx).WithField("published", n).Debug("sweep published retries")
			}
		case <-purge.C:
			if err := s.Purge(ctx); err != nil {
				s.Logger.WithContext(ctx).WithError(err).Error("purge failed")
			}
		}
	}
}

// Sweep publishes a retry task for every due entry, up to Batch, and returns
// how many were published. A publish failure stops the pass; the next sweep
// retries from the ledger.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "sweeper.Sweep")
	defer span.End()

	due, err := s.Store.ListDueForRetry(ctx, s.now(), s.Batch)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}
	s.Metrics.UpdateRetryBacklog(float64(len(due)))

	published := 0
	for _, entry := range due {
		task := pipeline.RetryTask{
			EventID:      entry.EventID,
			EventType:    entry.EventType,
			Attempt:      entry.RetryCount,
			Source:       "sweep",
			TraceHeaders: tracing.PropagateTraceToNSQ(ctx),
		}
		body, err := task.Marshal()
		if err != nil {
			s.Logger.WithContext(ctx).WithEvent(entry.EventID).WithError(err).
				Error("retry task marshal failed, skipping entry")
			continue
		}
		if err := s.Publisher.Publish(s.Topic, body); err != nil {
			tracing.SetSpanError(ctx, err)
			return published, err
		}
		s.Metrics.RecordRetry("sweep")
		published++
	}
	return published, nil
}

// Purge removes terminal entries older than the retention cutoff.
func (s *Sweeper) Purge(ctx context.Context) error {
	cutoff := s.now().Add(-s.Retention)
	purged, err := s.Store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return err
	}
	if purged > 0 {
		s.Logger.WithContext(ctx).
			WithField("purged", purged).
			WithField("cutoff", cutoff.Format(time.RFC3339)).
			Info("purged terminal ledger entries")
	}
	return nil
}
