package workflows

import (
	"encoding/json"
	"net/url"

	"github.com/docwatch/sentinel/pkg/query"
	"github.com/docwatch/sentinel/pkg/repository"
)

var workflowProjection = query.
	NewProjectionMap("public", "workflows", "w").
	Project("id", "ID").
	Project("name", "Name").
	Project("type", "Type").
	Project("status", "Status").
	Project("total_tasks", "TotalTasks").
	Project("completed_tasks", "CompletedTasks").
	Project("failed_tasks", "FailedTasks").
	Project("parameters", "Parameters").
	Project("results", "Results").
	Project("owner", "Owner").
	Project("created_at", "CreatedAt").
	Project("started_at", "StartedAt").
	Project("completed_at", "CompletedAt").
	Project("updated_at", "UpdatedAt")

var taskProjection = query.
	NewProjectionMap("public", "tasks", "t").
	Project("id", "ID").
	Project("workflow_id", "WorkflowID").
	Project("capability", "Capability").
	Project("priority", "Priority").
	Project("position", "Position").
	Project("requires_approval", "RequiresApproval").
	Project("status", "Status").
	Project("approval_status", "Approval").
	Project("parameters", "Parameters").
	Project("result", "Result").
	Project("error", "Error").
	Project("created_at", "CreatedAt").
	Project("started_at", "StartedAt").
	Project("completed_at", "CompletedAt").
	Project("updated_at", "UpdatedAt")

var logProjection = query.
	NewProjectionMap("public", "workflow_logs", "l").
	Project("id", "ID").
	Project("workflow_id", "WorkflowID").
	Project("level", "Level").
	Project("message", "Message").
	Project("source", "Source").
	Project("created_at", "CreatedAt")

var workflowDefaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for workflow queries.
// Nil fields are ignored. Name uses case-insensitive contains matching.
type Filters struct {
	Status *string `json:"status,omitempty"`
	Type   *string `json:"type,omitempty"`
	Owner  *string `json:"owner,omitempty"`
	Name   *string `json:"name,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Status", f.Status).
		WhereEquals("Type", f.Type).
		WhereEquals("Owner", f.Owner).
		WhereContains("Name", f.Name)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}
	if v := values.Get("type"); v != "" {
		f.Type = &v
	}
	if o := values.Get("owner"); o != "" {
		f.Owner = &o
	}
	if n := values.Get("name"); n != "" {
		f.Name = &n
	}

	return f
}

func scanWorkflow(s repository.Scanner) (Workflow, error) {
	var (
		w       Workflow
		params  []byte
		results []byte
	)

	err := s.Scan(
		&w.ID,
		&w.Name,
		&w.Type,
		&w.Status,
		&w.TotalTasks,
		&w.CompletedTasks,
		&w.FailedTasks,
		&params,
		&results,
		&w.Owner,
		&w.CreatedAt,
		&w.StartedAt,
		&w.CompletedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return w, err
	}

	if err := unmarshalColumn(params, &w.Parameters); err != nil {
		return w, err
	}
	if err := unmarshalColumn(results, &w.Results); err != nil {
		return w, err
	}
	return w, nil
}

func scanTask(s repository.Scanner) (Task, error) {
	var (
		t      Task
		params []byte
		result []byte
	)

	err := s.Scan(
		&t.ID,
		&t.WorkflowID,
		&t.Capability,
		&t.Priority,
		&t.Position,
		&t.RequiresApproval,
		&t.Status,
		&t.Approval,
		&params,
		&result,
		&t.Error,
		&t.CreatedAt,
		&t.StartedAt,
		&t.CompletedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}

	if err := unmarshalColumn(params, &t.Parameters); err != nil {
		return t, err
	}
	if err := unmarshalColumn(result, &t.Result); err != nil {
		return t, err
	}
	return t, nil
}

func scanLog(s repository.Scanner) (LogEntry, error) {
	var l LogEntry
	err := s.Scan(
		&l.ID,
		&l.WorkflowID,
		&l.Level,
		&l.Message,
		&l.Source,
		&l.CreatedAt,
	)
	return l, err
}

func unmarshalColumn(data []byte, dest any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func marshalColumn(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}
