package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/docwatch/sentinel/internal/workflows"
)

// Recover reloads every non-terminal workflow from the store into memory.
// Tasks that were in_progress when the process stopped are reset to pending
// and re-enqueued; approval gates stay paused where they were.
func (c *Coordinator) Recover(ctx context.Context) error {
	active, err := c.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var recovered, requeued int

	c.mu.Lock()
	for i := range active {
		w := &active[i]

		tasks, err := c.store.ListTasks(ctx, w.ID)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("list tasks for %s: %w", w.ID, err)
		}

		w.TaskIDs = w.TaskIDs[:0]
		for _, t := range tasks {
			task := t
			if task.Status == workflows.TaskInProgress {
				task.Status = workflows.TaskPending
				task.StartedAt = nil
				task.UpdatedAt = now
			}

			w.TaskIDs = append(w.TaskIDs, task.ID)
			c.tasks[task.ID] = &task

			switch {
			case task.Runnable() && w.Status != workflows.WorkflowPending:
				c.queue.push(task.ID, task.Priority)
				requeued++
			case task.Status == workflows.TaskAwaitingApproval:
				c.approvals[task.ID] = &workflows.ApprovalRequest{
					TaskID:      task.ID,
					WorkflowID:  w.ID,
					RequestedAt: task.UpdatedAt,
					Parameters:  task.Parameters,
					Decision:    workflows.ApprovalPending,
				}
			}
		}

		c.state[w.ID] = w
		recovered++
	}
	c.mu.Unlock()

	c.logger.Info("recovered active workflows",
		"workflows", recovered,
		"requeued_tasks", requeued,
	)
	c.signal()
	return nil
}
