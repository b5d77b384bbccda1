package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(now time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.Now = func() time.Time { return now }
	return s
}

func beginParams(id string) BeginParams {
	return BeginParams{
		EventID:     id,
		EventType:   "payment.succeeded",
		APIVersion:  "2025-01-01",
		Payload:     []byte(`{"amount":100}`),
		MaxRetries:  3,
		ProcessedBy: "receiver-test",
	}
}

func TestTryBeginProcessingNewEvent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(now)

	adm, err := s.TryBeginProcessing(context.Background(), beginParams("evt_1"))
	if err != nil {
		t.Fatalf("TryBeginProcessing() error: %v", err)
	}
	if adm.Outcome != Admitted {
		t.Fatalf("outcome = %v, want Admitted", adm.Outcome)
	}
	if adm.Entry.Status != StatusProcessing {
		t.Errorf("status = %q, want processing", adm.Entry.Status)
	}
	if adm.Entry.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", adm.Entry.RetryCount)
	}
}

func TestTryBeginProcessingDuplicateInFlight(t *testing.T) {
	s := newTestStore(time.Now())
	ctx := context.Background()

	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_1")); err != nil {
		t.Fatal(err)
	}
	adm, err := s.TryBeginProcessing(ctx, beginParams("evt_1"))
	if err != nil {
		t.Fatal(err)
	}
	if adm.Outcome != AlreadyInFlight {
		t.Errorf("outcome = %v, want AlreadyInFlight", adm.Outcome)
	}
}

func TestTryBeginProcessingDuplicateTerminal(t *testing.T) {
	s := newTestStore(time.Now())
	ctx := context.Background()

	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_1")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted(ctx, "evt_1"); err != nil {
		t.Fatal(err)
	}

	adm, err := s.TryBeginProcessing(ctx, beginParams("evt_1"))
	if err != nil {
		t.Fatal(err)
	}
	if adm.Outcome != AlreadyTerminal {
		t.Errorf("outcome = %v, want AlreadyTerminal", adm.Outcome)
	}
	if adm.Entry.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", adm.Entry.Status)
	}
}

func TestTryBeginProcessingReadmitsDueFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(now)
	ctx := context.Background()

	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_1")); err != nil {
		t.Fatal(err)
	}
	due := now.Add(time.Second)
	if err := s.MarkFailed(ctx, "evt_1", "handler exploded", &due); err != nil {
		t.Fatal(err)
	}

	// Not due yet: the duplicate is acknowledged without re-admission.
	adm, err := s.TryBeginProcessing(ctx, beginParams("evt_1"))
	if err != nil {
		t.Fatal(err)
	}
	if adm.Outcome != AlreadyInFlight {
		t.Fatalf("before due: outcome = %v, want AlreadyInFlight", adm.Outcome)
	}

	// Past due: the duplicate delivery drives the retry.
	s.Now = func() time.Time { return due.Add(time.Second) }
	adm, err = s.TryBeginProcessing(ctx, beginParams("evt_1"))
	if err != nil {
		t.Fatal(err)
	}
	if adm.Outcome != Admitted {
		t.Fatalf("after due: outcome = %v, want Admitted", adm.Outcome)
	}
	if adm.Entry.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", adm.Entry.RetryCount)
	}
}

func TestTryBeginProcessingExhaustedBudgetIsTerminal(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(now)
	ctx := context.Background()

	p := beginParams("evt_1")
	p.MaxRetries = 1
	if _, err := s.TryBeginProcessing(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, "evt_1", "boom", nil); err != nil {
		t.Fatal(err)
	}

	adm, err := s.TryBeginProcessing(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if adm.Outcome != AlreadyTerminal {
		t.Errorf("outcome = %v, want AlreadyTerminal", adm.Outcome)
	}
}

func TestConcurrentAdmissionAdmitsExactlyOne(t *testing.T) {
	s := newTestStore(time.Now())
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	admitted := make(chan Outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := s.TryBeginProcessing(ctx, beginParams("evt_race"))
			if err != nil {
				t.Error(err)
				return
			}
			admitted <- adm.Outcome
		}()
	}
	wg.Wait()
	close(admitted)

	var wins int
	for o := range admitted {
		if o == Admitted {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("admitted %d callers, want exactly 1", wins)
	}
}

func TestMarkTransitionsRequireProcessing(t *testing.T) {
	s := newTestStore(time.Now())
	ctx := context.Background()

	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_1")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted(ctx, "evt_1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		op   func() error
	}{
		{name: "complete again", op: func() error { return s.MarkCompleted(ctx, "evt_1") }},
		{name: "fail after completion", op: func() error { return s.MarkFailed(ctx, "evt_1", "late", nil) }},
		{name: "skip after completion", op: func() error { return s.MarkSkipped(ctx, "evt_1", "late") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, ErrStaleTransition) {
				t.Errorf("error = %v, want ErrStaleTransition", err)
			}
		})
	}
}

func TestBeginRetryGuards(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(now)
	ctx := context.Background()

	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_1")); err != nil {
		t.Fatal(err)
	}
	due := now.Add(-time.Second)
	if err := s.MarkFailed(ctx, "evt_1", "boom", &due); err != nil {
		t.Fatal(err)
	}

	entry, ok, err := s.BeginRetry(ctx, "evt_1", "worker-1")
	if err != nil || !ok {
		t.Fatalf("BeginRetry() = ok=%v err=%v, want admission", ok, err)
	}
	if entry.Status != StatusProcessing {
		t.Errorf("status = %q, want processing", entry.Status)
	}

	// A second worker racing on the same task loses the guard.
	if _, ok, err := s.BeginRetry(ctx, "evt_1", "worker-2"); err != nil || ok {
		t.Errorf("second BeginRetry() = ok=%v err=%v, want ok=false", ok, err)
	}

	if _, ok, _ := s.BeginRetry(ctx, "evt_missing", "worker-1"); ok {
		t.Error("BeginRetry() admitted an unknown event")
	}
}

func TestRequeueForRetry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(now)
	ctx := context.Background()

	p := beginParams("evt_1")
	p.MaxRetries = 1
	if _, err := s.TryBeginProcessing(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, "evt_1", "boom", nil); err != nil {
		t.Fatal(err)
	}

	// Exhausted budget, but a replay grants one more attempt.
	if err := s.RequeueForRetry(ctx, "evt_1"); err != nil {
		t.Fatalf("RequeueForRetry() error: %v", err)
	}
	entry, err := s.Get(ctx, "evt_1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.MaxRetries != entry.RetryCount+1 {
		t.Errorf("max_retries = %d, want %d", entry.MaxRetries, entry.RetryCount+1)
	}
	if entry.NextRetryAt == nil || entry.NextRetryAt.After(now) {
		t.Errorf("next_retry_at = %v, want due now", entry.NextRetryAt)
	}

	// Completed entries stay completed.
	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_2")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted(ctx, "evt_2"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequeueForRetry(ctx, "evt_2"); !errors.Is(err, ErrTerminal) {
		t.Errorf("RequeueForRetry(completed) = %v, want ErrTerminal", err)
	}
}

func TestListDueForRetry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(now)
	ctx := context.Background()

	mkFailed := func(id string, due time.Time) {
		t.Helper()
		if _, err := s.TryBeginProcessing(ctx, beginParams(id)); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkFailed(ctx, id, "boom", &due); err != nil {
			t.Fatal(err)
		}
	}
	mkFailed("evt_late", now.Add(-2*time.Minute))
	mkFailed("evt_recent", now.Add(-time.Second))
	mkFailed("evt_future", now.Add(time.Hour))

	due, err := s.ListDueForRetry(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	if due[0].EventID != "evt_late" || due[1].EventID != "evt_recent" {
		t.Errorf("order = [%s, %s], want oldest due first", due[0].EventID, due[1].EventID)
	}
}

func TestPurgeTerminal(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(now)
	ctx := context.Background()

	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_done")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted(ctx, "evt_done"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_open")); err != nil {
		t.Fatal(err)
	}

	purged, err := s.PurgeTerminal(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := s.Get(ctx, "evt_done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("terminal entry survived purge: %v", err)
	}
	if _, err := s.Get(ctx, "evt_open"); err != nil {
		t.Errorf("in-flight entry was purged: %v", err)
	}
}

func TestStats(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(now)
	ctx := context.Background()

	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_1")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted(ctx, "evt_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TryBeginProcessing(ctx, beginParams("evt_2")); err != nil {
		t.Fatal(err)
	}
	due := now.Add(-time.Second)
	if err := s.MarkFailed(ctx, "evt_2", "boom", &due); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Counts[StatusCompleted] != 1 || stats.Counts[StatusFailed] != 1 {
		t.Errorf("counts = %v, want 1 completed and 1 failed", stats.Counts)
	}
	if stats.DueForRetry != 1 {
		t.Errorf("due_for_retry = %d, want 1", stats.DueForRetry)
	}
}
