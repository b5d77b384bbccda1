package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// RetryTask is the NSQ message the sweeper publishes for a due retry. The
// payload itself stays in the ledger; the task only names the entry so a
// worker can re-admit it through the guard.
type RetryTask struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	// Attempt is the retry count at publish time, for logging only. The
	// ledger guard is authoritative.
	Attempt int `json:"attempt"`
	// Source is "sweep" or "replay".
	Source string `json:"source"`
	// TraceHeaders carries W3C trace context across the queue.
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func (t RetryTask) Marshal() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal retry task %s: %w", t.EventID, err)
	}
	return data, nil
}

func UnmarshalRetryTask(data []byte) (RetryTask, error) {
	var t RetryTask
	if err := json.Unmarshal(data, &t); err != nil {
		return RetryTask{}, fmt.Errorf("unmarshal retry task: %w", err)
	}
	if t.EventID == "" {
		return RetryTask{}, fmt.Errorf("retry task missing event_id")
	}
	return t, nil
}

// DeadLetter is the envelope published for an entry whose retry budget ran
// out, for offline inspection.
type DeadLetter struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
	FailedAt   time.Time `json:"failed_at"`
}

func (d DeadLetter) Marshal() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal dead letter %s: %w", d.EventID, err)
	}
	return data, nil
}
