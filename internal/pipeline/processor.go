// Package pipeline ties the ledger, dispatcher, backoff policy, and audit
// sink into the idempotent processing flow shared by the receiver and the
// retry worker.
package pipeline

import (
	"context"
	"time"

	"github.com/austindbirch/mooring/internal/audit"
	"github.com/austindbirch/mooring/internal/backoff"
	"github.com/austindbirch/mooring/internal/dispatch"
	"github.com/austindbirch/mooring/internal/event"
	"github.com/austindbirch/mooring/internal/ledger"
	"github.com/austindbirch/mooring/internal/logging"
	"github.com/austindbirch/mooring/internal/metrics"
	"github.com/austindbirch/mooring/internal/tracing"
)

// Outcome is the pipeline-level result of handling one delivery.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailedRetrying Outcome = "failed_retrying"
	OutcomeFailedTerminal Outcome = "failed_terminal"
	OutcomeSkipped        Outcome = "skipped"
	// OutcomeDuplicate means the ledger already holds a terminal entry.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInFlight means another worker owns the entry, or its retry is
	// not yet due. The delivery is acknowledged without processing.
	OutcomeInFlight Outcome = "in_flight"
)

// Result pairs the outcome with the ledger entry it settled on. Entry may be
// nil for OutcomeInFlight when the row vanished mid-flight.
type Result struct {
	Outcome Outcome
	Entry   *ledger.Entry
}

// Processor runs deliveries through the ledger gate and the handler registry.
type Processor struct {
	Store    ledger.Store
	Registry *dispatch.Registry
	Audit    audit.Sink
	Backoff  backoff.Policy
	Metrics  *metrics.Collector
	Logger   *logging.Logger

	// MaxRetries seeds new ledger entries.
	MaxRetries int
	// ProcessedBy identifies this instance in the ledger.
	ProcessedBy string

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Process handles a verified inbound delivery. Errors are returned only for
// infrastructure failures before admission; once the ledger admits the event,
// every path resolves to an Outcome.
func (p *Processor) Process(ctx context.Context, evt *event.Event) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Process")
	defer span.End()

	p.Metrics.RecordReceived(evt.Type)

	adm, err := p.Store.TryBeginProcessing(ctx, ledger.BeginParams{
		EventID:     evt.ID,
		EventType:   evt.Type,
		APIVersion:  evt.APIVersion,
		Payload:     evt.Payload,
		MaxRetries:  p.MaxRetries,
		ProcessedBy: p.ProcessedBy,
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}

	switch adm.Outcome {
	case ledger.AlreadyTerminal:
		p.Metrics.RecordDuplicate("terminal")
		p.audit(ctx, "webhook.duplicate", evt.ID, false, map[string]any{
			"kind":   "terminal",
			"status": adm.Entry.Status,
		})
		p.Logger.WithContext(ctx).WithEvent(evt.ID).WithEventType(evt.Type).
			WithStatus(string(adm.Entry.Status)).
			Info("duplicate delivery for terminal entry, acknowledged")
		return Result{Outcome: OutcomeDuplicate, Entry: adm.Entry}, nil

	case ledger.AlreadyInFlight:
		p.Metrics.RecordDuplicate("in_flight")
		p.audit(ctx, "webhook.duplicate", evt.ID, false, map[string]any{"kind": "in_flight"})
		p.Logger.WithContext(ctx).WithEvent(evt.ID).WithEventType(evt.Type).
			Info("duplicate delivery for in-flight entry, acknowledged")
		return Result{Outcome: OutcomeInFlight, Entry: adm.Entry}, nil
	}

	return p.run(ctx, evt, adm.Entry), nil
}

// ProcessRetry handles a retry task from the queue. ok-style: losing the
// admission guard is normal (another worker won, or the schedule moved).
func (p *Processor) ProcessRetry(ctx context.Context, task RetryTask) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.ProcessRetry")
	defer span.End()

	entry, ok, err := p.Store.BeginRetry(ctx, task.EventID, p.ProcessedBy)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}
	if !ok {
		p.Logger.WithContext(ctx).WithEvent(task.EventID).
			WithField("attempt", task.Attempt).
			Info("retry task lost the admission guard, dropping")
		return Result{Outcome: OutcomeInFlight}, nil
	}

	evt := &event.Event{
		ID:         entry.EventID,
		Type:       entry.EventType,
		APIVersion: entry.APIVersion,
		Payload:    entry.Payload,
		ReceivedAt: p.now(),
	}
	return p.run(ctx, evt, entry), nil
}

// run dispatches an admitted event and settles the ledger. Transition
// failures after the handler ran are logged, not surfaced: the handler's work
// is done and the delivery must still be acknowledged.
func (p *Processor) run(ctx context.Context, evt *event.Event, entry *ledger.Entry) Result {
	start := p.now()
	res := p.Registry.Dispatch(ctx, evt)
	elapsed := p.now().Sub(start)

	log := p.Logger.WithContext(ctx).WithEvent(evt.ID).WithEventType(evt.Type).
		WithField("attempt", entry.RetryCount).
		WithField("elapsed_ms", elapsed.Milliseconds())

	switch res.Status {
	case dispatch.StatusSuccess:
		if err := p.Store.MarkCompleted(ctx, evt.ID); err != nil {
			log.WithError(err).Error("handler succeeded but ledger completion failed")
		}
		p.Metrics.RecordOutcome(evt.Type, string(OutcomeCompleted), elapsed)
		p.audit(ctx, "webhook.processed", evt.ID, false, map[string]any{
			"details": res.Details,
			"attempt": entry.RetryCount,
		})
		log.WithStatus(string(ledger.StatusCompleted)).Info("event processed")
		entry.Status = ledger.StatusCompleted
		return Result{Outcome: OutcomeCompleted, Entry: entry}

	case dispatch.StatusSkipped:
		if err := p.Store.MarkSkipped(ctx, evt.ID, res.Details); err != nil {
			log.WithError(err).Error("ledger skip transition failed")
		}
		p.Metrics.RecordOutcome(evt.Type, string(OutcomeSkipped), elapsed)
		p.audit(ctx, "webhook.skipped", evt.ID, false, map[string]any{"reason": res.Details})
		log.WithStatus(string(ledger.StatusSkipped)).Info("event skipped")
		entry.Status = ledger.StatusSkipped
		return Result{Outcome: OutcomeSkipped, Entry: entry}

	default:
		return p.fail(ctx, evt, entry, res, elapsed, log)
	}
}

func (p *Processor) fail(ctx context.Context, evt *event.Event, entry *ledger.Entry, res dispatch.Result, elapsed time.Duration, log *logging.LogEntry) Result {
	errMsg := "handler failed"
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	newCount := entry.RetryCount + 1
	retrying := res.Retryable && newCount < entry.MaxRetries

	var nextRetryAt *time.Time
	if retrying {
		next := p.now().Add(p.Backoff.NextDelay(entry.RetryCount))
		nextRetryAt = &next
	}
	if err := p.Store.MarkFailed(ctx, evt.ID, errMsg, nextRetryAt); err != nil {
		log.WithError(err).Error("ledger failure transition failed")
	}
	entry.Status = ledger.StatusFailed
	entry.RetryCount = newCount
	entry.NextRetryAt = nextRetryAt
	entry.LastError = errMsg

	if retrying {
		p.Metrics.RecordOutcome(evt.Type, string(OutcomeFailedRetrying), elapsed)
		p.audit(ctx, "webhook.failed", evt.ID, false, map[string]any{
			"error":         errMsg,
			"retry_count":   newCount,
			"next_retry_at": nextRetryAt,
		})
		log.WithError(res.Err).WithStatus(string(ledger.StatusFailed)).
			WithField("next_retry_at", nextRetryAt.Format(time.RFC3339)).
			Warn("event failed, retry scheduled")
		return Result{Outcome: OutcomeFailedRetrying, Entry: entry}
	}

	p.Metrics.RecordOutcome(evt.Type, string(OutcomeFailedTerminal), elapsed)
	p.audit(ctx, "webhook.failed_terminal", evt.ID, false, map[string]any{
		"error":       errMsg,
		"retry_count": newCount,
		"retryable":   res.Retryable,
	})
	log.WithError(res.Err).WithStatus(string(ledger.StatusFailed)).
		Error("event failed terminally")
	return Result{Outcome: OutcomeFailedTerminal, Entry: entry}
}

func (p *Processor) audit(ctx context.Context, action, eventID string, security bool, details map[string]any) {
	rec := audit.New(action, "event", eventID, security, details)
	rec.TraceID = tracing.GetTraceID(ctx)
	if err := p.Audit.Write(ctx, rec); err != nil {
		p.Logger.WithContext(ctx).WithEvent(eventID).WithError(err).
			Error("audit write failed")
	}
}
