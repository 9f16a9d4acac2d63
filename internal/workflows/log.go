package workflows

import (
	"time"

	"github.com/google/uuid"
)

// Log levels for audit entries.
const (
	LogInfo    = "info"
	LogWarning = "warning"
	LogError   = "error"
)

// LogEntry is one record of the append-only workflow audit trail.
type LogEntry struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}
