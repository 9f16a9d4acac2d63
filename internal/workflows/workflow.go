// Package workflows implements the workflow domain for Sentinel. It provides
// the entity types, status rules, and durable store for workflows, tasks,
// approval requests, and the append-only audit log.
package workflows

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus enumerates the lifecycle states of a workflow.
type WorkflowStatus string

const (
	WorkflowPending         WorkflowStatus = "pending"
	WorkflowInProgress      WorkflowStatus = "in_progress"
	WorkflowWaitingApproval WorkflowStatus = "waiting_approval"
	WorkflowCompleted       WorkflowStatus = "completed"
	WorkflowFailed          WorkflowStatus = "failed"
)

// Terminal reports whether the status admits no further mutation.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// Workflow groups one or more tasks into a named, persisted orchestration unit.
// CompletedTasks + FailedTasks never exceeds TotalTasks.
type Workflow struct {
	ID             uuid.UUID                 `json:"id"`
	Name           string                    `json:"name"`
	Type           string                    `json:"type"`
	Status         WorkflowStatus            `json:"status"`
	TaskIDs        []uuid.UUID               `json:"task_ids"`
	TotalTasks     int                       `json:"total_tasks"`
	CompletedTasks int                       `json:"completed_tasks"`
	FailedTasks    int                       `json:"failed_tasks"`
	Parameters     map[string]any            `json:"parameters"`
	Results        map[string]map[string]any `json:"results"`
	Owner          string                    `json:"owner"`
	CreatedAt      time.Time                 `json:"created_at"`
	StartedAt      *time.Time                `json:"started_at,omitempty"`
	CompletedAt    *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// Progress returns the completion percentage derived from the task counters.
func (w *Workflow) Progress() float64 {
	if w.TotalTasks == 0 {
		return 0
	}
	return float64(w.CompletedTasks+w.FailedTasks) / float64(w.TotalTasks) * 100
}

// Clone returns a deep-enough copy safe to hand to callers while the
// coordinator keeps mutating the original.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.TaskIDs = append([]uuid.UUID(nil), w.TaskIDs...)
	c.Results = make(map[string]map[string]any, len(w.Results))
	for k, v := range w.Results {
		c.Results[k] = v
	}
	return &c
}

// CreateCommand carries the data needed to create a workflow and its tasks.
type CreateCommand struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Owner      string         `json:"owner"`
	Parameters map[string]any `json:"parameters"`
	Tasks      []TaskSpec     `json:"tasks"`
}

// Snapshot is the externally observable state of a workflow, returned by
// status queries and by every control-surface mutation.
type Snapshot struct {
	Workflow *Workflow `json:"workflow"`
	Tasks    []Task    `json:"tasks"`
	Progress float64   `json:"progress_percentage"`
}
