// Package server is the HTTP surface: the public webhook endpoint plus the
// JWT-protected admin API the moorctl CLI talks to.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/mooring/internal/audit"
	"github.com/austindbirch/mooring/internal/auth"
	"github.com/austindbirch/mooring/internal/config"
	"github.com/austindbirch/mooring/internal/event"
	"github.com/austindbirch/mooring/internal/health"
	"github.com/austindbirch/mooring/internal/ledger"
	"github.com/austindbirch/mooring/internal/logging"
	"github.com/austindbirch/mooring/internal/metrics"
	"github.com/austindbirch/mooring/internal/pipeline"
	"github.com/austindbirch/mooring/internal/ratelimit"
	"github.com/austindbirch/mooring/internal/signature"
	"github.com/austindbirch/mooring/internal/tracing"
)

// maxBodyBytes caps inbound webhook payloads.
const maxBodyBytes = 1 << 20

// Publisher pushes a retry task onto the queue. Satisfied by *nsq.Producer
// through the sweeper's adapter; nil disables immediate replay dispatch.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Server wires the pipeline behind HTTP handlers.
type Server struct {
	Processor *pipeline.Processor
	Limiter   ratelimit.Limiter
	Store     ledger.Store
	Audit     audit.Sink
	Metrics   *metrics.Collector
	Logger    *logging.Logger
	Health    *health.Checker
	Validator *auth.Validator
	Registry  *prometheus.Registry

	Signature config.Signature
	KeyHeader string

	// Publisher and RetriesTopic enable immediate dispatch on admin replay.
	Publisher    Publisher
	RetriesTopic string

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Routes builds the full mux. Admin routes are wrapped in JWT middleware when
// a validator is configured; without one they are not mounted at all.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks", s.handleWebhook)
	mux.HandleFunc("GET /v1/ping", s.handlePing)
	if s.Health != nil {
		mux.HandleFunc("GET /healthz", s.Health.Handler())
	}
	if s.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}

	if s.Validator != nil {
		admin := http.NewServeMux()
		admin.HandleFunc("GET /v1/ledger", s.handleListLedger)
		admin.HandleFunc("GET /v1/ledger/{event_id}", s.handleGetEntry)
		admin.HandleFunc("POST /v1/ledger/{event_id}/replay", s.handleReplay)
		admin.HandleFunc("GET /v1/retries/due", s.handleDueRetries)
		admin.HandleFunc("GET /v1/stats", s.handleStats)
		mux.Handle("/v1/", s.Validator.Middleware(admin))
	}
	return mux
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "server.handleWebhook")
	defer span.End()

	key := s.clientKey(r)
	if !s.allow(ctx, w, r, key) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
		return
	}

	tolerance := time.Duration(s.Signature.ToleranceSeconds) * time.Second
	err = signature.Verify(body,
		r.Header.Get(s.Signature.SignatureHeader),
		r.Header.Get(s.Signature.TimestampHeader),
		s.Signature.Secret, tolerance, s.now())
	if err != nil {
		s.Metrics.RecordSignatureReject()
		s.securityAudit(ctx, r, "webhook.rejected", key, map[string]any{"reason": err.Error()})
		s.Logger.WithContext(ctx).WithClientKey(key).WithError(err).
			Warn("webhook signature rejected")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	evt, err := event.Parse(body, s.now())
	if err != nil {
		s.securityAudit(ctx, r, "webhook.malformed", key, map[string]any{"reason": err.Error()})
		http.Error(w, fmt.Sprintf("invalid event: %v", err), http.StatusBadRequest)
		return
	}

	// The delivery is committed once admitted; a dropped client connection
	// must not abort processing mid-flight.
	res, err := s.Processor.Process(context.WithoutCancel(ctx), evt)
	if err != nil {
		s.Logger.WithContext(ctx).WithEvent(evt.ID).WithError(err).
			Error("ledger admission failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": evt.ID,
		"outcome":  res.Outcome,
	})
}

// allow runs the rate limiter. Limiter errors fail open: dropping valid
// deliveries hurts more than letting a burst through while Redis recovers.
func (s *Server) allow(ctx context.Context, w http.ResponseWriter, r *http.Request, key string) bool {
	res, err := s.Limiter.Allow(ctx, key)
	if err != nil {
		s.Logger.WithContext(ctx).WithClientKey(key).WithError(err).
			Warn("rate limiter unavailable, failing open")
		return true
	}
	if res.Allowed {
		return true
	}

	s.Metrics.RecordRateLimited()
	s.securityAudit(ctx, r, "webhook.rate_limited", key, map[string]any{
		"retry_after_ms": res.RetryAfter.Milliseconds(),
	})
	retryAfter := int(res.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	return false
}

func (s *Server) clientKey(r *http.Request) string {
	if s.KeyHeader != "" {
		if key := r.Header.Get(s.KeyHeader); key != "" {
			return key
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) securityAudit(ctx context.Context, r *http.Request, action, key string, details map[string]any) {
	rec := audit.New(action, "delivery", key, true, details)
	rec.RemoteIP = r.RemoteAddr
	rec.UserAgent = r.UserAgent()
	rec.TraceID = tracing.GetTraceID(ctx)
	if err := s.Audit.Write(ctx, rec); err != nil {
		s.Logger.WithContext(ctx).WithError(err).Error("audit write failed")
	}
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mooring"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
