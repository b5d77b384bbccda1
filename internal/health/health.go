// Package health exposes readiness checks over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check probes one dependency. Return nil when healthy.
type Check func(ctx context.Context) error

// Checker aggregates named dependency checks into one readiness handler.
type Checker struct {
	checks map[string]Check
}

func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Add registers a named check. Not safe to call after serving starts.
func (c *Checker) Add(name string, check Check) {
	c.checks[name] = check
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Handler runs every check with a short deadline and reports 200 when all
// pass, 503 otherwise.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := response{Status: "ok", Checks: make(map[string]string, len(c.checks))}
		for name, check := range c.checks {
			if err := check(ctx); err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
