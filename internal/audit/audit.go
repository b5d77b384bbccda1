// Package audit records security and processing decisions to a durable sink.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is one audit entry. Details is arbitrary structured context.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	// Security marks entries produced by a rejected or suspicious request
	// (bad signature, rate limit, auth failure).
	Security  bool            `json:"security"`
	Details   json.RawMessage `json:"details,omitempty"`
	RemoteIP  string          `json:"remote_ip,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	TraceID   string          `json:"trace_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Sink persists audit records. Write failures must not break request
// handling; callers log and continue.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// New builds a record with a fresh id and timestamp. Details marshalling
// errors are swallowed: a record with empty details is still worth keeping.
func New(action, resourceType, resourceID string, security bool, details any) Record {
	rec := Record{
		ID:           uuid.New(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Security:     security,
		CreatedAt:    time.Now().UTC(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			rec.Details = raw
		}
	}
	return rec
}
