package workflows

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalRequest records the pause point of a gated task awaiting a human
// decision. Parameters snapshots the task parameters at request time so a
// reviewer sees exactly what would execute.
type ApprovalRequest struct {
	TaskID      uuid.UUID      `json:"task_id"`
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	RequestedAt time.Time      `json:"requested_at"`
	Parameters  map[string]any `json:"parameters_snapshot"`
	Decision    ApprovalStatus `json:"decision"`
	Notes       string         `json:"decision_notes,omitempty"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}
