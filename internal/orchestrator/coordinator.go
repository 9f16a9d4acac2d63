// Package orchestrator implements the workflow coordinator and task
// scheduler: it validates and creates workflows, dispatches runnable tasks to
// registered agent capabilities under a bounded worker pool, resolves
// approval gates, and keeps workflow aggregates consistent. In-memory state
// is authoritative; the durable store is written at fixed checkpoints and
// replayed on restart.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/docwatch/sentinel/internal/agents"
	"github.com/docwatch/sentinel/internal/metrics"
	"github.com/docwatch/sentinel/internal/workflows"
	"github.com/docwatch/sentinel/pkg/events"
	"github.com/docwatch/sentinel/pkg/lifecycle"
	"github.com/docwatch/sentinel/pkg/pagination"
	"github.com/docwatch/sentinel/pkg/storage"
)

const rejectedByReviewer = "rejected_by_reviewer"

// Coordinator composes the scheduler, durable store, and event bus into the
// workflow engine. All exported methods are safe for concurrent use.
type Coordinator struct {
	store    workflows.Store
	bus      *events.Bus
	registry *agents.Registry
	archive  storage.System
	logger   *slog.Logger

	persistTimeout time.Duration

	mu        sync.Mutex
	state     map[uuid.UUID]*workflows.Workflow
	tasks     map[uuid.UUID]*workflows.Task
	approvals map[uuid.UUID]*workflows.ApprovalRequest
	queue     *queue

	wake chan struct{}
	sem  *semaphore.Weighted
}

// New creates a Coordinator. archive may be nil; exports then skip blob
// archival and only return the bundle.
func New(
	store workflows.Store,
	bus *events.Bus,
	registry *agents.Registry,
	archive storage.System,
	cfg *Config,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		store:          store,
		bus:            bus,
		registry:       registry,
		archive:        archive,
		logger:         logger.With("system", "orchestrator"),
		persistTimeout: cfg.PersistTimeoutDuration(),
		state:          make(map[uuid.UUID]*workflows.Workflow),
		tasks:          make(map[uuid.UUID]*workflows.Task),
		approvals:      make(map[uuid.UUID]*workflows.ApprovalRequest),
		queue:          newQueue(),
		wake:           make(chan struct{}, 1),
		sem:            semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// Start recovers persisted state and launches the dispatch loop under the
// lifecycle coordinator's context.
func (c *Coordinator) Start(lc *lifecycle.Coordinator) error {
	lc.OnStartup(func() {
		if err := c.Recover(lc.Context()); err != nil {
			c.logger.Error("recovery failed", "error", err)
		}
	})

	go c.dispatch(lc.Context())
	return nil
}

// Create validates the request against the capability registry, persists the
// workflow and its tasks, and publishes workflow.created.
func (c *Coordinator) Create(
	ctx context.Context,
	cmd workflows.CreateCommand,
) (*workflows.Snapshot, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("%w: name required", workflows.ErrValidation)
	}
	if len(cmd.Tasks) == 0 {
		return nil, fmt.Errorf("%w: at least one task required", workflows.ErrValidation)
	}
	for _, spec := range cmd.Tasks {
		if !c.registry.Has(spec.Capability) {
			return nil, fmt.Errorf("%w: %s", agents.ErrUnknownCapability, spec.Capability)
		}
	}

	now := time.Now().UTC()
	w := &workflows.Workflow{
		ID:         uuid.New(),
		Name:       cmd.Name,
		Type:       cmd.Type,
		Status:     workflows.WorkflowPending,
		TotalTasks: len(cmd.Tasks),
		Parameters: cmd.Parameters,
		Results:    make(map[string]map[string]any),
		Owner:      cmd.Owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tasks := make([]*workflows.Task, 0, len(cmd.Tasks))
	for i, spec := range cmd.Tasks {
		t := &workflows.Task{
			ID:               uuid.New(),
			WorkflowID:       w.ID,
			Capability:       spec.Capability,
			Priority:         spec.Priority,
			Position:         i,
			RequiresApproval: spec.RequiresApproval,
			Status:           workflows.TaskPending,
			Approval:         workflows.ApprovalPending,
			Parameters:       spec.Parameters,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		w.TaskIDs = append(w.TaskIDs, t.ID)
		tasks = append(tasks, t)
	}

	c.mu.Lock()
	c.state[w.ID] = w
	for _, t := range tasks {
		c.tasks[t.ID] = t
	}
	snapshot := c.snapshotLocked(w)
	wc := w.Clone()
	taskCopies := make([]*workflows.Task, 0, len(tasks))
	for _, t := range tasks {
		taskCopies = append(taskCopies, t.Clone())
	}
	c.mu.Unlock()

	c.persist("create workflow", func(pctx context.Context) error {
		return c.store.CreateWorkflow(pctx, wc, taskCopies)
	})
	c.audit(w.ID, workflows.LogInfo, "coordinator", fmt.Sprintf("workflow %q created with %d tasks", w.Name, len(tasks)))
	c.publish(events.WorkflowCreated, map[string]any{
		"workflow_id": w.ID.String(),
		"name":        w.Name,
		"type":        w.Type,
	})
	metrics.WorkflowsCreated.Inc()

	return snapshot, nil
}

// Execute marks the workflow in_progress, routes gated tasks to their
// approval pause point, enqueues the rest, and returns immediately. Progress
// is observed via Status or event subscription.
func (c *Coordinator) Execute(ctx context.Context, id uuid.UUID) (*workflows.Snapshot, error) {
	c.mu.Lock()

	w, ok := c.state[id]
	if !ok {
		c.mu.Unlock()
		return nil, workflows.ErrNotFound
	}
	if w.Status.Terminal() {
		c.mu.Unlock()
		return nil, workflows.ErrAlreadyTerminal
	}
	if w.Status != workflows.WorkflowPending {
		snapshot := c.snapshotLocked(w)
		c.mu.Unlock()
		return snapshot, nil
	}

	now := time.Now().UTC()
	w.Status = workflows.WorkflowInProgress
	w.StartedAt = &now
	w.UpdatedAt = now

	var gated []*workflows.Task
	for _, taskID := range w.TaskIDs {
		t := c.tasks[taskID]
		if t.RequiresApproval && t.Approval == workflows.ApprovalPending {
			t.Status = workflows.TaskAwaitingApproval
			t.UpdatedAt = now
			req := &workflows.ApprovalRequest{
				TaskID:      t.ID,
				WorkflowID:  w.ID,
				RequestedAt: now,
				Parameters:  t.Parameters,
				Decision:    workflows.ApprovalPending,
			}
			c.approvals[t.ID] = req
			gated = append(gated, t)
			continue
		}
		c.queue.push(t.ID, t.Priority)
	}

	waiting := c.refreshStatusLocked(w)
	snapshot := c.snapshotLocked(w)
	wc := w.Clone()
	gatedCopies := make([]*workflows.Task, 0, len(gated))
	reqCopies := make([]*workflows.ApprovalRequest, 0, len(gated))
	for _, t := range gated {
		gatedCopies = append(gatedCopies, t.Clone())
		rc := *c.approvals[t.ID]
		reqCopies = append(reqCopies, &rc)
	}
	c.mu.Unlock()

	c.persist("execute workflow", func(pctx context.Context) error {
		return c.store.UpdateWorkflow(pctx, wc)
	})
	for i, t := range gatedCopies {
		req := reqCopies[i]
		c.persistTask(t)
		c.persist("save approval", func(pctx context.Context) error {
			return c.store.SaveApproval(pctx, req)
		})
		c.publish(events.TaskAwaitingApproval, map[string]any{
			"workflow_id": wc.ID.String(),
			"task_id":     t.ID.String(),
			"capability":  t.Capability,
		})
	}

	c.audit(wc.ID, workflows.LogInfo, "coordinator", "workflow execution started")
	c.publish(events.WorkflowStarted, map[string]any{"workflow_id": wc.ID.String()})
	if waiting {
		c.publish(events.WorkflowWaitingApproval, map[string]any{"workflow_id": wc.ID.String()})
	}
	c.signal()

	return snapshot, nil
}

// Approve resolves a pending approval request, optionally overlaying
// parameter modifications, and returns the task to the scheduler.
func (c *Coordinator) Approve(
	ctx context.Context,
	taskID uuid.UUID,
	modifications map[string]any,
	notes string,
) (*workflows.Snapshot, error) {
	c.mu.Lock()

	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return nil, workflows.ErrTaskNotFound
	}
	if t.Status != workflows.TaskAwaitingApproval {
		c.mu.Unlock()
		return nil, workflows.ErrNotAwaiting
	}

	now := time.Now().UTC()
	for k, v := range modifications {
		if t.Parameters == nil {
			t.Parameters = make(map[string]any)
		}
		t.Parameters[k] = v
	}
	t.Approval = workflows.ApprovalApproved
	t.Status = workflows.TaskPending
	t.UpdatedAt = now

	req := c.approvals[taskID]
	if req != nil {
		req.Decision = workflows.ApprovalApproved
		req.Notes = notes
		req.DecidedAt = &now
		delete(c.approvals, taskID)
	}

	w := c.state[t.WorkflowID]
	c.refreshStatusLocked(w)
	c.queue.push(t.ID, t.Priority)
	snapshot := c.snapshotLocked(w)
	tc := t.Clone()
	wc := w.Clone()
	c.mu.Unlock()

	c.persistTask(tc)
	if req != nil {
		c.persist("save approval", func(pctx context.Context) error {
			return c.store.SaveApproval(pctx, req)
		})
	}
	c.persist("update workflow", func(pctx context.Context) error {
		return c.store.UpdateWorkflow(pctx, wc)
	})

	c.audit(wc.ID, workflows.LogInfo, "reviewer", fmt.Sprintf("task %s approved", tc.ID))
	c.publish(events.TaskApproved, map[string]any{
		"workflow_id": wc.ID.String(),
		"task_id":     tc.ID.String(),
	})
	c.signal()

	return snapshot, nil
}

// Reject fails only the rejected task's branch. Sibling tasks already queued
// or running are unaffected.
func (c *Coordinator) Reject(
	ctx context.Context,
	taskID uuid.UUID,
	reason string,
) (*workflows.Snapshot, error) {
	c.mu.Lock()

	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return nil, workflows.ErrTaskNotFound
	}
	if t.Status != workflows.TaskAwaitingApproval {
		c.mu.Unlock()
		return nil, workflows.ErrNotAwaiting
	}

	now := time.Now().UTC()
	t.Approval = workflows.ApprovalRejected
	t.Status = workflows.TaskFailed
	t.Error = rejectedByReviewer
	t.CompletedAt = &now
	t.UpdatedAt = now

	req := c.approvals[taskID]
	if req != nil {
		req.Decision = workflows.ApprovalRejected
		req.Notes = reason
		req.DecidedAt = &now
		delete(c.approvals, taskID)
	}

	w := c.state[t.WorkflowID]
	w.FailedTasks++
	waiting := c.refreshStatusLocked(w)
	snapshot := c.snapshotLocked(w)
	terminal := w.Status.Terminal()
	tc := t.Clone()
	wc := w.Clone()
	c.mu.Unlock()

	c.persistTask(tc)
	if req != nil {
		c.persist("save approval", func(pctx context.Context) error {
			return c.store.SaveApproval(pctx, req)
		})
	}
	c.persist("update workflow", func(pctx context.Context) error {
		return c.store.UpdateWorkflow(pctx, wc)
	})

	c.audit(wc.ID, workflows.LogWarning, "reviewer",
		fmt.Sprintf("task %s rejected: %s", tc.ID, reason))
	c.publish(events.TaskRejected, map[string]any{
		"workflow_id": wc.ID.String(),
		"task_id":     tc.ID.String(),
		"reason":      reason,
	})
	metrics.TasksCompleted.WithLabelValues("rejected").Inc()
	if terminal {
		c.publishWorkflowTerminal(wc)
	}
	if waiting {
		c.publish(events.WorkflowWaitingApproval, map[string]any{"workflow_id": wc.ID.String()})
	}

	return snapshot, nil
}

// Status returns the current snapshot of a workflow. Active workflows are
// served from memory; archived ones fall back to the store.
func (c *Coordinator) Status(ctx context.Context, id uuid.UUID) (*workflows.Snapshot, error) {
	c.mu.Lock()
	if w, ok := c.state[id]; ok {
		snapshot := c.snapshotLocked(w)
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	w, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := c.store.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	return &workflows.Snapshot{Workflow: w, Tasks: tasks, Progress: w.Progress()}, nil
}

// Export returns the full nested bundle for a workflow and, when an archive
// is configured, uploads it as a JSON document to blob storage.
func (c *Coordinator) Export(ctx context.Context, id uuid.UUID) (*workflows.Bundle, error) {
	bundle, err := c.store.GetBundle(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.archive != nil {
		data, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal export bundle: %w", err)
		}

		key := fmt.Sprintf("workflows/%s.json", id)
		if err := c.archive.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			c.logger.Warn("export archive upload failed", "key", key, "error", err)
		} else {
			c.logger.Info("export archived", "key", key)
		}
	}

	return bundle, nil
}

// List returns a filtered, paginated workflow listing from the store.
func (c *Coordinator) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters workflows.Filters,
) (*pagination.PageResult[workflows.Workflow], error) {
	return c.store.List(ctx, page, filters)
}

// Logs returns a workflow's audit trail, newest first.
func (c *Coordinator) Logs(
	ctx context.Context,
	id uuid.UUID,
	page pagination.PageRequest,
) (*pagination.PageResult[workflows.LogEntry], error) {
	return c.store.ListLogs(ctx, id, page)
}

// Delete removes a workflow and its dependent records from memory and store.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	w, ok := c.state[id]
	if ok {
		for _, taskID := range w.TaskIDs {
			delete(c.tasks, taskID)
			delete(c.approvals, taskID)
		}
		delete(c.state, id)
	}
	c.mu.Unlock()

	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}

	c.publish(events.WorkflowDeleted, map[string]any{"workflow_id": id.String()})
	return nil
}

// dispatch drains the runnable queue, executing each claimed task on the
// bounded worker pool. It parks until signalled.
func (c *Coordinator) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		for {
			t := c.claimNext()
			if t == nil {
				break
			}

			if err := c.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(t *workflows.Task) {
				defer c.sem.Release(1)
				c.run(ctx, t)
			}(t)
		}
	}
}

// claimNext pops queue entries until it finds one still runnable, marks it
// in_progress, and returns a copy for execution. Entries whose task already
// moved on (stale double-enqueue) are skipped.
func (c *Coordinator) claimNext() *workflows.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		id, ok := c.queue.pop()
		if !ok {
			return nil
		}

		t, ok := c.tasks[id]
		if !ok || !t.Runnable() {
			continue
		}

		now := time.Now().UTC()
		t.Status = workflows.TaskInProgress
		t.StartedAt = &now
		t.UpdatedAt = now
		return t.Clone()
	}
}

func (c *Coordinator) run(ctx context.Context, t *workflows.Task) {
	c.persistTask(c.taskFor(t.ID))
	c.publish(events.TaskStarted, map[string]any{
		"workflow_id": t.WorkflowID.String(),
		"task_id":     t.ID.String(),
		"capability":  t.Capability,
	})

	handler, err := c.registry.Resolve(t.Capability)
	if err != nil {
		c.FailTask(t.ID, err)
		return
	}

	result, err := handler(ctx, t.Parameters)
	if err != nil {
		c.FailTask(t.ID, err)
		return
	}
	c.CompleteTask(t.ID, result)
}

// CompleteTask records a successful terminal transition. A second terminal
// signal on the same task is a logged no-op, never double-counted.
func (c *Coordinator) CompleteTask(taskID uuid.UUID, result map[string]any) {
	c.terminal(taskID, func(t *workflows.Task, w *workflows.Workflow, now time.Time) {
		t.Status = workflows.TaskCompleted
		t.Result = result
		t.CompletedAt = &now
		w.CompletedTasks++
		w.Results[t.ID.String()] = result
	}, events.TaskCompleted, "completed")
}

// FailTask records a failed terminal transition. The workflow continues;
// sibling tasks are unaffected.
func (c *Coordinator) FailTask(taskID uuid.UUID, cause error) {
	c.terminal(taskID, func(t *workflows.Task, w *workflows.Workflow, now time.Time) {
		t.Status = workflows.TaskFailed
		t.Error = cause.Error()
		t.CompletedAt = &now
		w.FailedTasks++
	}, events.TaskFailed, "failed")
}

func (c *Coordinator) terminal(
	taskID uuid.UUID,
	apply func(*workflows.Task, *workflows.Workflow, time.Time),
	eventType string,
	outcome string,
) {
	c.mu.Lock()

	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("terminal signal for unknown task", "task_id", taskID)
		return
	}
	if t.Status.Terminal() {
		c.mu.Unlock()
		c.logger.Warn(
			"duplicate terminal signal ignored",
			"task_id", taskID,
			"status", t.Status,
		)
		return
	}

	now := time.Now().UTC()
	w := c.state[t.WorkflowID]
	apply(t, w, now)
	t.UpdatedAt = now
	waiting := c.refreshStatusLocked(w)
	terminal := w.Status.Terminal()
	// Snapshot before unlocking; a sibling task's terminal transition may
	// mutate the live workflow while the store write is in flight.
	tc := t.Clone()
	wc := w.Clone()
	c.mu.Unlock()

	c.persistTask(tc)
	c.persist("update workflow", func(pctx context.Context) error {
		return c.store.UpdateWorkflow(pctx, wc)
	})

	level := workflows.LogInfo
	if outcome == "failed" {
		level = workflows.LogError
	}
	c.audit(wc.ID, level, tc.Capability,
		fmt.Sprintf("task %s %s", tc.ID, outcome))
	c.publish(eventType, map[string]any{
		"workflow_id": wc.ID.String(),
		"task_id":     tc.ID.String(),
		"capability":  tc.Capability,
		"error":       tc.Error,
	})
	metrics.TasksCompleted.WithLabelValues(outcome).Inc()

	if terminal {
		c.publishWorkflowTerminal(wc)
	}
	if waiting {
		c.publish(events.WorkflowWaitingApproval, map[string]any{"workflow_id": wc.ID.String()})
	}
	c.signal()
}

// refreshStatusLocked recomputes the aggregate workflow status from its
// tasks: completed when every task completed; failed when nothing remains
// schedulable and at least one task failed; waiting_approval when only
// approval gates remain open; otherwise in_progress. It reports whether the
// workflow just entered waiting_approval so the caller can publish the
// transition after releasing the lock.
func (c *Coordinator) refreshStatusLocked(w *workflows.Workflow) bool {
	if w.Status.Terminal() || w.Status == workflows.WorkflowPending {
		return false
	}

	var pending, running, awaiting int
	for _, taskID := range w.TaskIDs {
		switch c.tasks[taskID].Status {
		case workflows.TaskPending:
			pending++
		case workflows.TaskInProgress:
			running++
		case workflows.TaskAwaitingApproval:
			awaiting++
		}
	}

	prev := w.Status
	now := time.Now().UTC()
	switch {
	case w.CompletedTasks == w.TotalTasks:
		w.Status = workflows.WorkflowCompleted
		w.CompletedAt = &now
	case pending == 0 && running == 0 && awaiting == 0 && w.FailedTasks > 0:
		w.Status = workflows.WorkflowFailed
		w.CompletedAt = &now
	case awaiting > 0 && running == 0 && pending == 0:
		w.Status = workflows.WorkflowWaitingApproval
	default:
		w.Status = workflows.WorkflowInProgress
	}
	w.UpdatedAt = now
	return w.Status == workflows.WorkflowWaitingApproval && prev != workflows.WorkflowWaitingApproval
}

func (c *Coordinator) publishWorkflowTerminal(w *workflows.Workflow) {
	eventType := events.WorkflowCompleted
	if w.Status == workflows.WorkflowFailed {
		eventType = events.WorkflowFailed
	}
	c.audit(w.ID, workflows.LogInfo, "coordinator",
		fmt.Sprintf("workflow finished with status %s", w.Status))
	c.publish(eventType, map[string]any{
		"workflow_id":     w.ID.String(),
		"status":          string(w.Status),
		"completed_tasks": w.CompletedTasks,
		"failed_tasks":    w.FailedTasks,
	})
}

func (c *Coordinator) snapshotLocked(w *workflows.Workflow) *workflows.Snapshot {
	tasks := make([]workflows.Task, 0, len(w.TaskIDs))
	for _, taskID := range w.TaskIDs {
		if t, ok := c.tasks[taskID]; ok {
			tasks = append(tasks, *t.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Position < tasks[j].Position })

	clone := w.Clone()
	return &workflows.Snapshot{
		Workflow: clone,
		Tasks:    tasks,
		Progress: clone.Progress(),
	}
}

// persist runs a store write with one in-process retry. Persistent failure
// is logged as a warning; in-memory state stays authoritative.
func (c *Coordinator) persist(op string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return
	}
	if err = fn(ctx); err == nil {
		return
	}
	c.logger.Warn("persistence failed after retry", "op", op, "error", err)
}

func (c *Coordinator) persistTask(t *workflows.Task) {
	if t == nil {
		return
	}
	c.persist("update task", func(pctx context.Context) error {
		return c.store.UpdateTask(pctx, t)
	})
}

func (c *Coordinator) audit(workflowID uuid.UUID, level, source, message string) {
	entry := &workflows.LogEntry{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Level:      level,
		Message:    message,
		Source:     source,
		CreatedAt:  time.Now().UTC(),
	}
	c.persist("append log", func(pctx context.Context) error {
		return c.store.AppendLog(pctx, entry)
	})
}

func (c *Coordinator) publish(eventType string, payload map[string]any) {
	c.bus.Publish(eventType, payload)
	metrics.EventsPublished.WithLabelValues(eventType).Inc()
}

func (c *Coordinator) taskFor(taskID uuid.UUID) *workflows.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[taskID]; ok {
		return t.Clone()
	}
	return nil
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
