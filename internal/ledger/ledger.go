// Package ledger is the durable idempotency store. One Entry exists per
// upstream event id; its status only moves forward, and TryBeginProcessing is
// the single atomic gate that decides whether a delivery gets processed.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the processing state of a ledger entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

var (
	// ErrNotFound is returned when no entry exists for an event id.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrStaleTransition is returned when a guarded status update matched no
	// row, meaning a newer state already superseded the caller's view.
	ErrStaleTransition = errors.New("ledger entry is not in the expected status")
	// ErrTerminal is returned when an operation targets a permanently
	// terminal entry (completed entries never leave that state).
	ErrTerminal = errors.New("ledger entry is terminal")
)

// Entry is one row of the idempotency ledger.
type Entry struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	APIVersion  string          `json:"api_version"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	ProcessedBy string          `json:"processed_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the entry can never be processed again.
// A failed entry with retry budget left is not terminal.
func (e *Entry) Terminal() bool {
	switch e.Status {
	case StatusCompleted, StatusSkipped:
		return true
	case StatusFailed:
		return e.RetryCount >= e.MaxRetries
	default:
		return false
	}
}

// Outcome classifies the result of TryBeginProcessing.
type Outcome int

const (
	// Admitted means this caller owns processing for the entry.
	Admitted Outcome = iota
	// AlreadyInFlight means another caller is processing the entry, or a
	// retry is scheduled but not yet due. Benign; respond success.
	AlreadyInFlight
	// AlreadyTerminal means the entry finished (completed, skipped, or
	// failed with the retry budget exhausted). Benign; respond success.
	AlreadyTerminal
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case AlreadyInFlight:
		return "already_in_flight"
	case AlreadyTerminal:
		return "already_terminal"
	default:
		return "unknown"
	}
}

// Admission is the result of the atomic begin-processing gate.
type Admission struct {
	Outcome Outcome
	Entry   *Entry
}

// BeginParams carries everything needed to create or re-admit an entry.
type BeginParams struct {
	EventID     string
	EventType   string
	APIVersion  string
	Payload     json.RawMessage
	MaxRetries  int
	ProcessedBy string
}

// Stats summarizes ledger activity over a rolling window.
type Stats struct {
	Window      time.Duration  `json:"window"`
	Counts      map[Status]int `json:"counts"`
	DueForRetry int            `json:"due_for_retry"`
}

// Store is the persistence contract the pipeline requires. Implementations
// must make TryBeginProcessing and BeginRetry atomic: two concurrent calls for
// the same event id admit at most one caller.
type Store interface {
	// TryBeginProcessing inserts a new entry at processing, or re-admits a
	// failed entry whose retry is due and whose budget remains. Any other
	// existing entry is reported as in-flight or terminal without mutation.
	TryBeginProcessing(ctx context.Context, p BeginParams) (Admission, error)

	// BeginRetry re-admits a failed, due entry for the retry path. ok is
	// false when the guard did not match (someone else got there first, the
	// retry is not due, or the budget is exhausted).
	BeginRetry(ctx context.Context, eventID, processedBy string) (entry *Entry, ok bool, err error)

	// MarkCompleted finalizes a processing entry. Guarded: the entry must be
	// in processing, otherwise ErrStaleTransition.
	MarkCompleted(ctx context.Context, eventID string) error

	// MarkFailed records a failed attempt, incrementing the retry count.
	// nextRetryAt nil means no further retries (terminal failure).
	MarkFailed(ctx context.Context, eventID, lastError string, nextRetryAt *time.Time) error

	// MarkSkipped finalizes a processing entry whose type has no handler.
	MarkSkipped(ctx context.Context, eventID, reason string) error

	// RequeueForRetry makes a failed entry due immediately, granting one
	// extra attempt if the budget is exhausted. Completed and skipped
	// entries return ErrTerminal.
	RequeueForRetry(ctx context.Context, eventID string) error

	// Get returns the entry for an event id, or ErrNotFound.
	Get(ctx context.Context, eventID string) (*Entry, error)

	// List returns entries filtered by status (empty status means all),
	// newest first.
	List(ctx context.Context, status Status, limit int) ([]Entry, error)

	// ListDueForRetry returns failed entries with budget left whose
	// next_retry_at is at or before now, oldest due first.
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]Entry, error)

	// Stats returns per-status counts over the window plus the current due
	// backlog.
	Stats(ctx context.Context, window time.Duration) (Stats, error)

	// PurgeTerminal deletes terminal entries older than the cutoff and
	// returns how many were removed.
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}
