// Package handlers holds the built-in event handlers. Each handler decodes
// its payload shape and reports whether a failure is worth retrying: decode
// errors are permanent, downstream errors are not.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/austindbirch/mooring/internal/dispatch"
	"github.com/austindbirch/mooring/internal/event"
	"github.com/austindbirch/mooring/internal/logging"
)

// PaymentPayload is the payload shape for payment.* events.
type PaymentPayload struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Customer  string `json:"customer,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// CustomerPayload is the payload shape for customer.* events.
type CustomerPayload struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
}

// RegisterDefaults binds the built-in handlers onto the registry.
func RegisterDefaults(r *dispatch.Registry, log *logging.Logger) {
	r.Register("ping", handlePing(log))
	r.Register("payment.succeeded", handlePayment(log, "payment recorded"))
	r.Register("payment.failed", handlePayment(log, "payment failure recorded"))
	r.Register("payment.refunded", handlePayment(log, "refund recorded"))
	r.Register("customer.updated", handleCustomerUpdated(log))
}

func handlePing(log *logging.Logger) dispatch.Handler {
	return func(ctx context.Context, evt *event.Event) dispatch.Result {
		log.WithContext(ctx).WithEvent(evt.ID).Debug("ping received")
		return dispatch.Result{Status: dispatch.StatusSuccess, Details: "pong"}
	}
}

func handlePayment(log *logging.Logger, details string) dispatch.Handler {
	return func(ctx context.Context, evt *event.Event) dispatch.Result {
		var p PaymentPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return dispatch.Result{
				Status: dispatch.StatusFailure,
				Err:    fmt.Errorf("decode %s payload: %w", evt.Type, err),
			}
		}
		if p.PaymentID == "" {
			return dispatch.Result{
				Status: dispatch.StatusFailure,
				Err:    fmt.Errorf("%s payload missing payment_id", evt.Type),
			}
		}

		log.WithContext(ctx).WithEvent(evt.ID).WithEventType(evt.Type).
			WithField("payment_id", p.PaymentID).
			WithField("amount", p.Amount).
			Info(details)
		return dispatch.Result{Status: dispatch.StatusSuccess, Details: details}
	}
}

func handleCustomerUpdated(log *logging.Logger) dispatch.Handler {
	return func(ctx context.Context, evt *event.Event) dispatch.Result {
		var c CustomerPayload
		if err := json.Unmarshal(evt.Payload, &c); err != nil {
			return dispatch.Result{
				Status: dispatch.StatusFailure,
				Err:    fmt.Errorf("decode customer payload: %w", err),
			}
		}
		if c.CustomerID == "" {
			return dispatch.Result{
				Status: dispatch.StatusFailure,
				Err:    fmt.Errorf("customer payload missing customer_id"),
			}
		}

		log.WithContext(ctx).WithEvent(evt.ID).
			WithField("customer_id", c.CustomerID).
			Info("customer update recorded")
		return dispatch.Result{Status: dispatch.StatusSuccess, Details: "customer update recorded"}
	}
}
