package workflows

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus enumerates the lifecycle states of a task.
type TaskStatus string

const (
	TaskPending          TaskStatus = "pending"
	TaskInProgress       TaskStatus = "in_progress"
	TaskAwaitingApproval TaskStatus = "awaiting_approval"
	TaskCompleted        TaskStatus = "completed"
	TaskFailed           TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ApprovalStatus enumerates the decision states of a gated task.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Task is an independently schedulable unit of work bound to one agent
// capability. Lower Priority schedules sooner; ties break by creation order.
type Task struct {
	ID               uuid.UUID      `json:"id"`
	WorkflowID       uuid.UUID      `json:"workflow_id"`
	Capability       string         `json:"capability"`
	Priority         int            `json:"priority"`
	Position         int            `json:"position"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           TaskStatus     `json:"status"`
	Approval         ApprovalStatus `json:"approval_status"`
	Parameters       map[string]any `json:"parameters"`
	Result           map[string]any `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Runnable reports whether the scheduler may dispatch the task: it must be
// pending, and a gated task additionally requires an approved decision.
func (t *Task) Runnable() bool {
	if t.Status != TaskPending {
		return false
	}
	return !t.RequiresApproval || t.Approval == ApprovalApproved
}

// Clone returns a copy safe to hand to callers.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}

// TaskSpec describes one task within a workflow creation request.
type TaskSpec struct {
	Capability       string         `json:"capability"`
	Priority         int            `json:"priority"`
	RequiresApproval bool           `json:"requires_approval"`
	Parameters       map[string]any `json:"parameters"`
}
