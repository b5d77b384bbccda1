package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same transition semantics as
// PostgresStore. Used in tests and for local development without a database.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		Now:     time.Now,
	}
}

func (s *MemoryStore) clone(e *Entry) *Entry {
	c := *e
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		c.NextRetryAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

func (s *MemoryStore) retryDue(e *Entry, now time.Time) bool {
	return e.Status == StatusFailed &&
		e.RetryCount < e.MaxRetries &&
		e.NextRetryAt != nil && !e.NextRetryAt.After(now)
}

func (s *MemoryStore) TryBeginProcessing(_ context.Context, p BeginParams) (Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()

	existing, ok := s.entries[p.EventID]
	if !ok {
		payload := p.Payload
		if payload == nil {
			payload = []byte("{}")
		}
		e := &Entry{
			EventID:     p.EventID,
			EventType:   p.EventType,
			APIVersion:  p.APIVersion,
			Payload:     append([]byte(nil), payload...),
			Status:      StatusProcessing,
			MaxRetries:  p.MaxRetries,
			ProcessedBy: p.ProcessedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.entries[p.EventID] = e
		return Admission{Outcome: Admitted, Entry: s.clone(e)}, nil
	}

	if s.retryDue(existing, now) {
		existing.Status = StatusProcessing
		existing.ProcessedBy = p.ProcessedBy
		existing.LastError = ""
		existing.UpdatedAt = now
		return Admission{Outcome: Admitted, Entry: s.clone(existing)}, nil
	}
	if existing.Terminal() {
		return Admission{Outcome: AlreadyTerminal, Entry: s.clone(existing)}, nil
	}
	return Admission{Outcome: AlreadyInFlight, Entry: s.clone(existing)}, nil
}

func (s *MemoryStore) BeginRetry(_ context.Context, eventID, processedBy string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()

	e, ok := s.entries[eventID]
	if !ok || !s.retryDue(e, now) {
		return nil, false, nil
	}
	e.Status = StatusProcessing
	e.ProcessedBy = processedBy
	e.LastError = ""
	e.UpdatedAt = now
	return s.clone(e), true, nil
}

func (s *MemoryStore) transition(eventID string, apply func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[eventID]
	if !ok {
		return fmt.Errorf("%s: %w", eventID, ErrNotFound)
	}
	if e.Status != StatusProcessing {
		return fmt.Errorf("%s: %w", eventID, ErrStaleTransition)
	}
	apply(e)
	e.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, eventID string) error {
	return s.transition(eventID, func(e *Entry) {
		now := s.Now()
		e.Status = StatusCompleted
		e.NextRetryAt = nil
		e.CompletedAt = &now
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, eventID, lastError string, nextRetryAt *time.Time) error {
	return s.transition(eventID, func(e *Entry) {
		e.Status = StatusFailed
		e.RetryCount++
		e.NextRetryAt = nextRetryAt
		e.LastError = lastError
	})
}

func (s *MemoryStore) MarkSkipped(_ context.Context, eventID, reason string) error {
	return s.transition(eventID, func(e *Entry) {
		now := s.Now()
		e.Status = StatusSkipped
		e.NextRetryAt = nil
		e.LastError = reason
		e.CompletedAt = &now
	})
}

func (s *MemoryStore) RequeueForRetry(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[eventID]
	if !ok {
		return fmt.Errorf("%s: %w", eventID, ErrNotFound)
	}
	if e.Status == StatusCompleted || e.Status == StatusSkipped {
		return fmt.Errorf("%s: %w", eventID, ErrTerminal)
	}
	if e.Status != StatusFailed {
		return fmt.Errorf("%s: %w", eventID, ErrStaleTransition)
	}
	now := s.Now()
	if e.MaxRetries < e.RetryCount+1 {
		e.MaxRetries = e.RetryCount + 1
	}
	e.NextRetryAt = &now
	e.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Get(_ context.Context, eventID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(e), nil
}

func (s *MemoryStore) List(_ context.Context, status Status, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var out []Entry
	for _, e := range s.entries {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, *s.clone(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListDueForRetry(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []Entry
	for _, e := range s.entries {
		if s.retryDue(e, now) {
			out = append(out, *s.clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context, window time.Duration) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	cutoff := now.Add(-window)
	stats := Stats{Window: window, Counts: make(map[Status]int)}
	for _, e := range s.entries {
		if !e.UpdatedAt.Before(cutoff) {
			stats.Counts[e.Status]++
		}
		if s.retryDue(e, now) {
			stats.DueForRetry++
		}
	}
	return stats, nil
}

func (s *MemoryStore) PurgeTerminal(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, e := range s.entries {
		if e.Terminal() && e.UpdatedAt.Before(olderThan) {
			delete(s.entries, id)
			purged++
		}
	}
	return purged, nil
}
