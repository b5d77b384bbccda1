package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/mooring/internal/ledger"
	"github.com/austindbirch/mooring/internal/logging"
	"github.com/austindbirch/mooring/internal/metrics"
	"github.com/austindbirch/mooring/internal/pipeline"
)

type fakePublisher struct {
	tasks   []pipeline.RetryTask
	failAll bool
}

func (f *fakePublisher) Publish(_ string, body []byte) error {
	if f.failAll {
		return errors.New("nsqd unreachable")
	}
	task, err := pipeline.UnmarshalRetryTask(body)
	if err != nil {
		return err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func newSweeper(store *ledger.MemoryStore, pub Publisher, now time.Time) *Sweeper {
	return &Sweeper{
		Store:         store,
		Publisher:     pub,
		Topic:         "retries",
		Metrics:       metrics.New(prometheus.NewRegistry()),
		Logger:        logging.New("sweeper-test"),
		Interval:      time.Second,
		Batch:         10,
		Retention:     time.Hour,
		PurgeInterval: time.Minute,
		Now:           func() time.Time { return now },
	}
}

func seedFailed(t *testing.T, store *ledger.MemoryStore, id string, due time.Time) {
	t.Helper()
	ctx := context.Background()
	adm, err := store.TryBeginProcessing(ctx, ledger.BeginParams{
		EventID: id, EventType: "payment.succeeded",
		Payload: []byte(`{}`), MaxRetries: 5, ProcessedBy: "test",
	})
	if err != nil || adm.Outcome != ledger.Admitted {
		t.Fatalf("seed %s: %v %v", id, adm.Outcome, err)
	}
	if err := store.MarkFailed(ctx, id, "boom", &due); err != nil {
		t.Fatal(err)
	}
}

func TestSweepPublishesDueEntries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := ledger.NewMemoryStore()
	store.Now = func() time.Time { return now }
	pub := &fakePublisher{}
	s := newSweeper(store, pub, now)

	seedFailed(t, store, "evt_due_1", now.Add(-time.Minute))
	seedFailed(t, store, "evt_due_2", now.Add(-time.Second))
	seedFailed(t, store, "evt_future", now.Add(time.Hour))

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if n != 2 || len(pub.tasks) != 2 {
		t.Fatalf("published %d tasks (%d reported), want 2", len(pub.tasks), n)
	}
	if pub.tasks[0].EventID != "evt_due_1" || pub.tasks[1].EventID != "evt_due_2" {
		t.Errorf("task order = [%s, %s], want oldest due first", pub.tasks[0].EventID, pub.tasks[1].EventID)
	}
	for _, task := range pub.tasks {
		if task.Source != "sweep" {
			t.Errorf("task source = %q, want sweep", task.Source)
		}
		if task.Attempt != 1 {
			t.Errorf("task attempt = %d, want 1", task.Attempt)
		}
	}
}

func TestSweepRespectsBatch(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := ledger.NewMemoryStore()
	store.Now = func() time.Time { return now }
	pub := &fakePublisher{}
	s := newSweeper(store, pub, now)
	s.Batch = 2

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		seedFailed(t, store, id, now.Add(-time.Minute))
	}

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("published %d, want batch limit 2", n)
	}
}

func TestSweepStopsOnPublishFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := ledger.NewMemoryStore()
	store.Now = func() time.Time { return now }
	pub := &fakePublisher{failAll: true}
	s := newSweeper(store, pub, now)

	seedFailed(t, store, "evt_1", now.Add(-time.Minute))

	if _, err := s.Sweep(context.Background()); err == nil {
		t.Error("Sweep() swallowed a publish failure")
	}
	// The entry stays due for the next pass.
	due, err := store.ListDueForRetry(context.Background(), now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Errorf("due entries after failed sweep = %d, want 1", len(due))
	}
}

func TestPurgeRemovesOldTerminalEntries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := ledger.NewMemoryStore()
	old := now.Add(-2 * time.Hour)
	store.Now = func() time.Time { return old }
	ctx := context.Background()

	adm, err := store.TryBeginProcessing(ctx, ledger.BeginParams{
		EventID: "evt_old", EventType: "ping", MaxRetries: 5, ProcessedBy: "test",
	})
	if err != nil || adm.Outcome != ledger.Admitted {
		t.Fatal("seed failed")
	}
	if err := store.MarkCompleted(ctx, "evt_old"); err != nil {
		t.Fatal(err)
	}

	store.Now = func() time.Time { return now }
	s := newSweeper(store, &fakePublisher{}, now)

	if err := s.Purge(ctx); err != nil {
		t.Fatalf("Purge() error: %v", err)
	}
	if _, err := store.Get(ctx, "evt_old"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("old terminal entry survived purge: %v", err)
	}
}
