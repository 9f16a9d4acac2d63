// Package events provides an in-process publish/subscribe bus that decouples
// engine state changes from their observers. Delivery is synchronous and
// at-most-once: subscribers registered at publish time receive the event in
// registration order, and nothing is replayed to late subscribers.
package events

import "time"

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Event types published by the engine.
const (
	WorkflowCreated         = "workflow.created"
	WorkflowStarted         = "workflow.started"
	WorkflowCompleted       = "workflow.completed"
	WorkflowFailed          = "workflow.failed"
	WorkflowWaitingApproval = "workflow.waiting_approval"
	WorkflowDeleted         = "workflow.deleted"

	TaskStarted          = "task.started"
	TaskCompleted        = "task.completed"
	TaskFailed           = "task.failed"
	TaskAwaitingApproval = "task.awaiting_approval"
	TaskApproved         = "task.approved"
	TaskRejected         = "task.rejected"

	StageChanged   = "pipeline.stage_changed"
	DocumentFailed = "pipeline.document_failed"
	DocumentReset  = "pipeline.document_reset"

	SessionStarted   = "session.started"
	SessionCompleted = "session.completed"
	SessionCancelled = "session.cancelled"
)

// Event is a typed notification with an opaque key-value payload.
type Event struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler processes a single delivered event.
type Handler func(Event)
