package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// opTimeout bounds every ledger query so a slow database degrades the
// endpoint instead of hanging it.
const opTimeout = 800 * time.Millisecond

// PostgresStore implements Store on a pgx connection pool. All atomicity
// guarantees ride on single guarded statements; no explicit transactions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const entryColumns = `event_id, event_type, api_version, payload, status, retry_count,
	max_retries, next_retry_at, last_error, processed_by, created_at, updated_at, completed_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.EventID, &e.EventType, &e.APIVersion, &e.Payload, &e.Status,
		&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.LastError,
		&e.ProcessedBy, &e.CreatedAt, &e.UpdatedAt, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// TryBeginProcessing is a single upsert. A fresh event id inserts at
// processing. A conflicting row is only updated when it is a failed entry
// whose retry is due with budget remaining; everything else leaves the row
// untouched and falls through to classification.
func (s *PostgresStore) TryBeginProcessing(ctx context.Context, p BeginParams) (Admission, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload := p.Payload
	if payload == nil {
		payload = []byte("{}")
	}

	query := fmt.Sprintf(`
		INSERT INTO mooring.webhook_ledger
			(event_id, event_type, api_version, payload, status, max_retries, processed_by)
		VALUES ($1, $2, $3, $4, 'processing', $5, $6)
		ON CONFLICT (event_id) DO UPDATE SET
			status       = 'processing',
			processed_by = EXCLUDED.processed_by,
			last_error   = '',
			updated_at   = now()
		WHERE webhook_ledger.status = 'failed'
		  AND webhook_ledger.retry_count < webhook_ledger.max_retries
		  AND webhook_ledger.next_retry_at <= now()
		RETURNING %s`, entryColumns)

	entry, err := scanEntry(s.pool.QueryRow(ctx, query,
		p.EventID, p.EventType, p.APIVersion, payload, p.MaxRetries, p.ProcessedBy))
	if err == nil {
		return Admission{Outcome: Admitted, Entry: entry}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Admission{}, fmt.Errorf("begin processing %s: %w", p.EventID, err)
	}

	// The upsert touched nothing. The existing row decides the outcome.
	existing, err := s.Get(ctx, p.EventID)
	if err != nil {
		// The row could have been purged between statements; treat as
		// in-flight so the delivery is acknowledged without reprocessing.
		if errors.Is(err, ErrNotFound) {
			return Admission{Outcome: AlreadyInFlight}, nil
		}
		return Admission{}, err
	}
	if existing.Terminal() {
		return Admission{Outcome: AlreadyTerminal, Entry: existing}, nil
	}
	return Admission{Outcome: AlreadyInFlight, Entry: existing}, nil
}

func (s *PostgresStore) BeginRetry(ctx context.Context, eventID, processedBy string) (*Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE mooring.webhook_ledger SET
			status       = 'processing',
			processed_by = $2,
			last_error   = '',
			updated_at   = now()
		WHERE event_id = $1
		  AND status = 'failed'
		  AND retry_count < max_retries
		  AND next_retry_at <= now()
		RETURNING %s`, entryColumns)

	entry, err := scanEntry(s.pool.QueryRow(ctx, query, eventID, processedBy))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("begin retry %s: %w", eventID, err)
	}
	return entry, true, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE mooring.webhook_ledger SET
			status        = 'completed',
			next_retry_at = NULL,
			updated_at    = now(),
			completed_at  = now()
		WHERE event_id = $1 AND status = 'processing'`, eventID)
	if err != nil {
		return fmt.Errorf("mark completed %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark completed %s: %w", eventID, ErrStaleTransition)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, eventID, lastError string, nextRetryAt *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE mooring.webhook_ledger SET
			status        = 'failed',
			retry_count   = retry_count + 1,
			next_retry_at = $2,
			last_error    = $3,
			updated_at    = now()
		WHERE event_id = $1 AND status = 'processing'`, eventID, nextRetryAt, lastError)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark failed %s: %w", eventID, ErrStaleTransition)
	}
	return nil
}

func (s *PostgresStore) MarkSkipped(ctx context.Context, eventID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE mooring.webhook_ledger SET
			status        = 'skipped',
			next_retry_at = NULL,
			last_error    = $2,
			updated_at    = now(),
			completed_at  = now()
		WHERE event_id = $1 AND status = 'processing'`, eventID, reason)
	if err != nil {
		return fmt.Errorf("mark skipped %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark skipped %s: %w", eventID, ErrStaleTransition)
	}
	return nil
}

// RequeueForRetry is the operator replay path. An exhausted budget gets one
// extra attempt so the replay is not a no-op.
func (s *PostgresStore) RequeueForRetry(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE mooring.webhook_ledger SET
			max_retries   = GREATEST(max_retries, retry_count + 1),
			next_retry_at = now(),
			updated_at    = now()
		WHERE event_id = $1 AND status = 'failed'`, eventID)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", eventID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	existing, err := s.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if existing.Status == StatusCompleted || existing.Status == StatusSkipped {
		return fmt.Errorf("requeue %s: %w", eventID, ErrTerminal)
	}
	return fmt.Errorf("requeue %s: %w", eventID, ErrStaleTransition)
}

func (s *PostgresStore) Get(ctx context.Context, eventID string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM mooring.webhook_ledger WHERE event_id = $1`, entryColumns)
	entry, err := scanEntry(s.pool.QueryRow(ctx, query, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", eventID, err)
	}
	return entry, nil
}

func (s *PostgresStore) List(ctx context.Context, status Status, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM mooring.webhook_ledger ORDER BY created_at DESC LIMIT $1`, entryColumns), limit)
	} else {
		rows, err = s.pool.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM mooring.webhook_ledger WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, entryColumns), status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *PostgresStore) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM mooring.webhook_ledger
		WHERE status = 'failed'
		  AND retry_count < max_retries
		  AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2`, entryColumns)

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	stats := Stats{Window: window, Counts: make(map[Status]int)}

	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM mooring.webhook_ledger
		WHERE updated_at >= now() - $1::interval
		GROUP BY status`, window.String())
	if err != nil {
		return Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats row: %w", err)
		}
		stats.Counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate stats rows: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM mooring.webhook_ledger
		WHERE status = 'failed'
		  AND retry_count < max_retries
		  AND next_retry_at <= now()`).Scan(&stats.DueForRetry)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger due count: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mooring.webhook_ledger
		WHERE updated_at < $1
		  AND (status IN ('completed', 'skipped')
		       OR (status = 'failed' AND retry_count >= max_retries))`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge ledger: %w", err)
	}
	return tag.RowsAffected(), nil
}
