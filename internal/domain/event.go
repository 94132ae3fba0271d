package domain

import "time"

// EventType classifies progress events emitted over a job's stream.
type EventType string

const (
	EventProgress         EventType = "progress"
	EventStepComplete     EventType = "step_complete"
	EventWorkflowComplete EventType = "workflow_complete"
	EventWorkflowError    EventType = "workflow_error"
)

// ProgressEvent is one entry in a job's progress stream. Events are
// ephemeral; the job record is the durable source of truth.
type ProgressEvent struct {
	JobID           string            `json:"job_id"`
	Step            StepID            `json:"step_id,omitempty"`
	Type            EventType         `json:"event_type"`
	ProgressPercent int               `json:"progress_percent"`
	Payload         map[string]string `json:"payload,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Terminal reports whether e closes the job's stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventWorkflowComplete || e.Type == EventWorkflowError
}
