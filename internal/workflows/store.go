package workflows

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/docwatch/sentinel/pkg/pagination"
	"github.com/docwatch/sentinel/pkg/query"
	"github.com/docwatch/sentinel/pkg/repository"
)

// Store is the durable persistence contract for workflows, tasks, approvals,
// and audit logs. The coordinator writes through it at fixed checkpoints;
// any transactional backend satisfying this contract can replace Postgres.
type Store interface {
	CreateWorkflow(ctx context.Context, w *Workflow, tasks []*Task) error
	UpdateWorkflow(ctx context.Context, w *Workflow) error
	UpdateTask(ctx context.Context, t *Task) error
	SaveApproval(ctx context.Context, a *ApprovalRequest) error
	AppendLog(ctx context.Context, entry *LogEntry) error

	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	GetBundle(ctx context.Context, id uuid.UUID) (*Bundle, error)
	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Workflow], error)
	ListTasks(ctx context.Context, workflowID uuid.UUID) ([]Task, error)
	ListLogs(
		ctx context.Context,
		workflowID uuid.UUID,
		page pagination.PageRequest,
	) (*pagination.PageResult[LogEntry], error)
	ListActive(ctx context.Context) ([]Workflow, error)

	Delete(ctx context.Context, id uuid.UUID) error
}

// Bundle is the full nested retrieval of one workflow: the workflow record,
// its tasks in creation order, and its audit log.
type Bundle struct {
	Workflow *Workflow  `json:"workflow"`
	Tasks    []Task     `json:"tasks"`
	Logs     []LogEntry `json:"logs"`
}

type store struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// NewStore creates a Postgres-backed workflow store.
func NewStore(db *sql.DB, logger *slog.Logger, pagination pagination.Config) Store {
	return &store{
		db:         db,
		logger:     logger.With("system", "workflows"),
		pagination: pagination,
	}
}

func (s *store) CreateWorkflow(ctx context.Context, w *Workflow, tasks []*Task) error {
	params, err := marshalColumn(w.Parameters)
	if err != nil {
		return fmt.Errorf("marshal workflow parameters: %w", err)
	}
	results, err := marshalColumn(w.Results)
	if err != nil {
		return fmt.Errorf("marshal workflow results: %w", err)
	}

	insertWorkflow := `
		INSERT INTO workflows(
			id, name, type, status, total_tasks, completed_tasks, failed_tasks,
			parameters, results, owner, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	insertTask := `
		INSERT INTO tasks(
			id, workflow_id, capability, priority, position, requires_approval,
			status, approval_status, parameters, result, error, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		_, err := tx.ExecContext(ctx, insertWorkflow,
			w.ID, w.Name, w.Type, w.Status,
			w.TotalTasks, w.CompletedTasks, w.FailedTasks,
			params, results, w.Owner, w.CreatedAt, w.UpdatedAt,
		)
		if err != nil {
			return struct{}{}, fmt.Errorf("insert workflow: %w", err)
		}

		for _, t := range tasks {
			taskParams, err := marshalColumn(t.Parameters)
			if err != nil {
				return struct{}{}, fmt.Errorf("marshal task parameters: %w", err)
			}
			taskResult, err := marshalColumn(t.Result)
			if err != nil {
				return struct{}{}, fmt.Errorf("marshal task result: %w", err)
			}

			_, err = tx.ExecContext(ctx, insertTask,
				t.ID, t.WorkflowID, t.Capability, t.Priority, t.Position,
				t.RequiresApproval, t.Status, t.Approval,
				taskParams, taskResult, t.Error, t.CreatedAt, t.UpdatedAt,
			)
			if err != nil {
				return struct{}{}, fmt.Errorf("insert task: %w", err)
			}
		}

		return struct{}{}, nil
	})

	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	s.logger.Info("workflow persisted", "id", w.ID, "tasks", len(tasks))
	return nil
}

func (s *store) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	results, err := marshalColumn(w.Results)
	if err != nil {
		return fmt.Errorf("marshal workflow results: %w", err)
	}

	q := `
		UPDATE workflows
		SET status = $1, completed_tasks = $2, failed_tasks = $3, results = $4,
			started_at = $5, completed_at = $6, updated_at = NOW()
		WHERE id = $7`

	err = repository.ExecExpectOne(ctx, s.db, q,
		w.Status, w.CompletedTasks, w.FailedTasks, results,
		w.StartedAt, w.CompletedAt, w.ID,
	)
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

func (s *store) UpdateTask(ctx context.Context, t *Task) error {
	params, err := marshalColumn(t.Parameters)
	if err != nil {
		return fmt.Errorf("marshal task parameters: %w", err)
	}
	result, err := marshalColumn(t.Result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}

	q := `
		UPDATE tasks
		SET status = $1, approval_status = $2, parameters = $3, result = $4,
			error = $5, started_at = $6, completed_at = $7, updated_at = NOW()
		WHERE id = $8`

	err = repository.ExecExpectOne(ctx, s.db, q,
		t.Status, t.Approval, params, result,
		t.Error, t.StartedAt, t.CompletedAt, t.ID,
	)
	return repository.MapError(err, ErrTaskNotFound, ErrDuplicate)
}

func (s *store) SaveApproval(ctx context.Context, a *ApprovalRequest) error {
	params, err := marshalColumn(a.Parameters)
	if err != nil {
		return fmt.Errorf("marshal approval parameters: %w", err)
	}

	q := `
		INSERT INTO approvals(task_id, workflow_id, requested_at, parameters, decision, notes, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO UPDATE SET
			decision = EXCLUDED.decision,
			notes = EXCLUDED.notes,
			decided_at = EXCLUDED.decided_at`

	_, err = s.db.ExecContext(ctx, q,
		a.TaskID, a.WorkflowID, a.RequestedAt, params,
		a.Decision, a.Notes, a.DecidedAt,
	)
	return repository.MapError(err, ErrTaskNotFound, ErrDuplicate)
}

func (s *store) AppendLog(ctx context.Context, entry *LogEntry) error {
	q := `
		INSERT INTO workflow_logs(id, workflow_id, level, message, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, q,
		entry.ID, entry.WorkflowID, entry.Level,
		entry.Message, entry.Source, entry.CreatedAt,
	)
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

func (s *store) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	q, args := query.NewBuilder(workflowProjection).BuildSingle("ID", id)

	w, err := repository.QueryOne(ctx, s.db, q, args, scanWorkflow)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	tasks, err := s.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		w.TaskIDs = append(w.TaskIDs, t.ID)
	}

	return &w, nil
}

func (s *store) GetBundle(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	w, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	tasks, err := s.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}

	logsQ, logsArgs := query.
		NewBuilder(logProjection, query.SortField{Field: "CreatedAt"}).
		WhereEquals("WorkflowID", id).
		Build()

	logs, err := repository.QueryMany(ctx, s.db, logsQ, logsArgs, scanLog)
	if err != nil {
		return nil, fmt.Errorf("query workflow logs: %w", err)
	}

	return &Bundle{Workflow: w, Tasks: tasks, Logs: logs}, nil
}

func (s *store) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Workflow], error) {
	page.Normalize(s.pagination)

	qb := query.
		NewBuilder(workflowProjection, workflowDefaultSort).
		WhereSearch(page.Search, "Name", "Type", "Owner")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count workflows: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, s.db, pageSQL, pageArgs, scanWorkflow)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (s *store) ListTasks(ctx context.Context, workflowID uuid.UUID) ([]Task, error) {
	q, args := query.
		NewBuilder(taskProjection, query.SortField{Field: "Position"}).
		WhereEquals("WorkflowID", workflowID).
		Build()

	tasks, err := repository.QueryMany(ctx, s.db, q, args, scanTask)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	return tasks, nil
}

func (s *store) ListLogs(
	ctx context.Context,
	workflowID uuid.UUID,
	page pagination.PageRequest,
) (*pagination.PageResult[LogEntry], error) {
	page.Normalize(s.pagination)

	qb := query.
		NewBuilder(logProjection, query.SortField{Field: "CreatedAt", Descending: true}).
		WhereEquals("WorkflowID", workflowID)

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count logs: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	logs, err := repository.QueryMany(ctx, s.db, pageSQL, pageArgs, scanLog)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}

	result := pagination.NewPageResult(logs, total, page.Page, page.PageSize)
	return &result, nil
}

func (s *store) ListActive(ctx context.Context) ([]Workflow, error) {
	q, args := query.
		NewBuilder(workflowProjection, query.SortField{Field: "CreatedAt"}).
		WhereIn("Status", []any{
			string(WorkflowPending),
			string(WorkflowInProgress),
			string(WorkflowWaitingApproval),
		}).
		Build()

	items, err := repository.QueryMany(ctx, s.db, q, args, scanWorkflow)
	if err != nil {
		return nil, fmt.Errorf("query active workflows: %w", err)
	}
	return items, nil
}

func (s *store) Delete(ctx context.Context, id uuid.UUID) error {
	// tasks, approvals, and logs cascade via foreign keys
	_, err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		if err := repository.ExecExpectOne(
			ctx, tx,
			"DELETE FROM workflows WHERE id = $1",
			id,
		); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})

	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	s.logger.Info("workflow deleted", "id", id)
	return nil
}
