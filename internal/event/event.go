// Package event defines the verified, parsed form of one inbound webhook
// notification.
package event

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrMissingID   = errors.New("event id is required")
	ErrMissingType = errors.New("event type is required")
)

// Event is one verified inbound notification. ID is the upstream source's
// globally unique identifier and the natural deduplication key.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	APIVersion string          `json:"api_version"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"-"`
}

// Parse decodes a raw verified body into an Event. The payload stays opaque;
// handlers decode it according to Type and APIVersion.
func Parse(raw []byte, receivedAt time.Time) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, err
	}
	if evt.ID == "" {
		return nil, ErrMissingID
	}
	if evt.Type == "" {
		return nil, ErrMissingType
	}
	evt.ReceivedAt = receivedAt
	return &evt, nil
}
