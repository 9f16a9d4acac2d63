// Package pipeline tracks each document's progress through the configured
// processing stage sequence and runs bounded batch sessions over document
// sets. Stage order is deployment configuration; the machine only enforces
// the invariants: transitions are monotonic, failed is reachable from any
// non-terminal stage, and at most one session runs at a time.
package pipeline

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Reserved stage names. The configured stage list starts at StagePending and
// ends at StageCompleted; StageFailed sits outside the list and is reachable
// from any non-terminal stage.
const (
	StagePending   = "pending"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// SessionStatus is the lifecycle state of a batch run.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Session is a bounded batch run covering a set of documents. At most one
// session is running process-wide; the store enforces this with a
// compare-and-swap guarded singleton record.
type Session struct {
	ID          uuid.UUID     `json:"id"`
	Scope       []string      `json:"scope"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

func (s *Session) Clone() *Session {
	clone := *s
	clone.Scope = slices.Clone(s.Scope)
	return &clone
}

// StageRecord is one entry in a document's stage history.
type StageRecord struct {
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DocumentState is the per-document pipeline position. DocumentID is an
// opaque external reference; the pipeline never inspects document content.
type DocumentState struct {
	DocumentID   string        `json:"document_id"`
	CurrentStage string        `json:"current_stage"`
	StageHistory []StageRecord `json:"stage_history"`
	Error        string        `json:"error,omitempty"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// Terminal reports whether the document can advance no further.
func (d *DocumentState) Terminal() bool {
	return d.CurrentStage == StageCompleted || d.CurrentStage == StageFailed
}

func (d *DocumentState) Clone() *DocumentState {
	clone := *d
	clone.StageHistory = slices.Clone(d.StageHistory)
	return &clone
}
