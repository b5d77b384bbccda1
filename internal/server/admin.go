package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/austindbirch/mooring/internal/audit"
	"github.com/austindbirch/mooring/internal/auth"
	"github.com/austindbirch/mooring/internal/ledger"
	"github.com/austindbirch/mooring/internal/pipeline"
	"github.com/austindbirch/mooring/internal/tracing"
)

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.Store.Get(r.Context(), r.PathValue("event_id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	status := ledger.Status(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)
	entries, err := s.Store.List(r.Context(), status, limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleDueRetries(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	entries, err := s.Store.ListDueForRetry(r.Context(), s.now(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	err := s.Store.RequeueForRetry(r.Context(), eventID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, ledger.ErrTerminal):
		http.Error(w, "entry is terminal and cannot be replayed", http.StatusConflict)
		return
	case errors.Is(err, ledger.ErrStaleTransition):
		http.Error(w, "entry is not in a replayable state", http.StatusConflict)
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}

	dispatched := false
	if s.Publisher != nil && s.RetriesTopic != "" {
		entry, getErr := s.Store.Get(r.Context(), eventID)
		if getErr == nil {
			task := pipeline.RetryTask{
				EventID:      entry.EventID,
				EventType:    entry.EventType,
				Attempt:      entry.RetryCount,
				Source:       "replay",
				TraceHeaders: tracing.PropagateTraceToNSQ(r.Context()),
			}
			if body, mErr := task.Marshal(); mErr == nil {
				if pubErr := s.Publisher.Publish(s.RetriesTopic, body); pubErr == nil {
					s.Metrics.RecordRetry("replay")
					dispatched = true
				} else {
					s.Logger.WithContext(r.Context()).WithEvent(eventID).WithError(pubErr).
						Warn("replay publish failed, sweeper will pick it up")
				}
			}
		}
	}

	actor := "unknown"
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		actor = claims.Subject
	}
	rec := audit.New("ledger.replay", "event", eventID, false, map[string]any{
		"actor":      actor,
		"dispatched": dispatched,
	})
	rec.TraceID = tracing.GetTraceID(r.Context())
	if err := s.Audit.Write(r.Context(), rec); err != nil {
		s.Logger.WithContext(r.Context()).WithError(err).Error("audit write failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"event_id":   eventID,
		"dispatched": dispatched,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}
	stats, err := s.Store.Stats(r.Context(), window)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.Logger.WithContext(r.Context()).WithError(err).
		WithField("path", r.URL.Path).
		Error("admin request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}
