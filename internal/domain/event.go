package domain

import "time"

// ProgressEvent is one immutable progress message for a project.
// Events are ordered per project; no ordering holds across projects.
type ProgressEvent struct {
	ProjectID string                 `json:"project_id"`
	Kind      EventKind              `json:"event"`
	Payload   map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent builds a timestamped event for a project
func NewEvent(projectID string, kind EventKind, payload map[string]interface{}) ProgressEvent {
	return ProgressEvent{
		ProjectID: projectID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ProgressPayload is the data object carried by progress_update,
// stage_change and complete events on the wire
type ProgressPayload struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	CurrentStage string `json:"current_stage"`
	Timestamp    string `json:"timestamp"`
}

// ErrorPayload is the error object carried by error events on the wire
type ErrorPayload struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Stage      string   `json:"stage"`
	IsRetryable bool     `json:"is_retryable"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`
	Solutions  []string `json:"solutions,omitempty"`
}
