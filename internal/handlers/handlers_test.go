package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/austindbirch/mooring/internal/dispatch"
	"github.com/austindbirch/mooring/internal/event"
	"github.com/austindbirch/mooring/internal/logging"
)

func newRegistry() *dispatch.Registry {
	r := dispatch.NewRegistry()
	RegisterDefaults(r, logging.New("handlers-test"))
	return r
}

func TestRegisterDefaults(t *testing.T) {
	types := newRegistry().Types()
	want := []string{"customer.updated", "payment.failed", "payment.refunded", "payment.succeeded", "ping"}
	if len(types) != len(want) {
		t.Fatalf("registered types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestPaymentHandler(t *testing.T) {
	r := newRegistry()

	tests := []struct {
		name       string
		payload    string
		wantStatus dispatch.Status
	}{
		{
			name:       "valid payment",
			payload:    `{"payment_id":"pay_1","amount":2500,"currency":"usd"}`,
			wantStatus: dispatch.StatusSuccess,
		},
		{
			name:       "missing payment_id",
			payload:    `{"amount":2500}`,
			wantStatus: dispatch.StatusFailure,
		},
		{
			name:       "malformed payload",
			payload:    `{"payment_id":`,
			wantStatus: dispatch.StatusFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Dispatch(context.Background(), &event.Event{
				ID:         "evt_1",
				Type:       "payment.succeeded",
				Payload:    []byte(tt.payload),
				ReceivedAt: time.Now(),
			})
			if res.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", res.Status, tt.wantStatus)
			}
			if tt.wantStatus == dispatch.StatusFailure && res.Retryable {
				t.Error("payload decode failures must not be retryable")
			}
		})
	}
}

func TestCustomerHandler(t *testing.T) {
	r := newRegistry()

	res := r.Dispatch(context.Background(), &event.Event{
		ID:      "evt_1",
		Type:    "customer.updated",
		Payload: []byte(`{"customer_id":"cus_1","email":"a@example.com"}`),
	})
	if res.Status != dispatch.StatusSuccess {
		t.Errorf("status = %q, want success", res.Status)
	}

	res = r.Dispatch(context.Background(), &event.Event{
		ID:      "evt_2",
		Type:    "customer.updated",
		Payload: []byte(`{}`),
	})
	if res.Status != dispatch.StatusFailure {
		t.Errorf("missing customer_id status = %q, want failure", res.Status)
	}
}

func TestPingHandler(t *testing.T) {
	res := newRegistry().Dispatch(context.Background(), &event.Event{ID: "evt_1", Type: "ping"})
	if res.Status != dispatch.StatusSuccess {
		t.Errorf("status = %q, want success", res.Status)
	}
}
