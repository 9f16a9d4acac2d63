package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/docwatch/sentinel/internal/metrics"
	"github.com/docwatch/sentinel/pkg/events"
	"github.com/docwatch/sentinel/pkg/pagination"
)

// Machine is the per-document finite-state tracker. In-memory state is
// authoritative; every mutation is written through to the store with one
// retry. A document advances only to the immediate successor of its current
// stage; the most advanced recorded stage always wins, so a stale or
// duplicated signal is rejected rather than rolling the document back.
type Machine struct {
	stages         []string
	index          map[string]int
	store          Store
	bus            *events.Bus
	logger         *slog.Logger
	persistTimeout time.Duration

	mu   sync.Mutex
	docs map[string]*DocumentState
}

// NewMachine creates a Machine over the configured stage order. cfg must be
// finalized.
func NewMachine(cfg *Config, store Store, bus *events.Bus, logger *slog.Logger) *Machine {
	index := make(map[string]int, len(cfg.Stages))
	for i, stage := range cfg.Stages {
		index[stage] = i
	}

	return &Machine{
		stages:         cfg.Stages,
		index:          index,
		store:          store,
		bus:            bus,
		logger:         logger.With("system", "pipeline"),
		persistTimeout: cfg.PersistTimeoutDuration(),
		docs:           make(map[string]*DocumentState),
	}
}

// Stages returns the configured stage order.
func (m *Machine) Stages() []string {
	out := make([]string, len(m.stages))
	copy(out, m.stages)
	return out
}

// Track registers a document at the pending stage. Tracking an already-known
// document is a no-op returning its current state.
func (m *Machine) Track(ctx context.Context, documentID string) (*DocumentState, error) {
	m.mu.Lock()
	if d, ok := m.docs[documentID]; ok {
		clone := d.Clone()
		m.mu.Unlock()
		return clone, nil
	}

	d := &DocumentState{
		DocumentID:   documentID,
		CurrentStage: StagePending,
		LastUpdated:  time.Now().UTC(),
	}
	m.docs[documentID] = d
	clone := d.Clone()
	m.mu.Unlock()

	m.persistDocument(clone)
	return clone, nil
}

// Advance moves a document to nextStage, which must be the immediate
// successor of its current stage in the configured order. Anything else is
// an invalid transition: logged, rejected, state unchanged.
func (m *Machine) Advance(ctx context.Context, documentID, nextStage, detail string) error {
	m.mu.Lock()

	d, err := m.ensureLocked(ctx, documentID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	nextIdx, known := m.index[nextStage]
	currentIdx := m.index[d.CurrentStage]

	if d.CurrentStage == StageFailed || !known || nextIdx != currentIdx+1 {
		current := d.CurrentStage
		m.mu.Unlock()
		m.logger.Warn("stage transition rejected",
			"document_id", documentID,
			"current", current,
			"requested", nextStage,
		)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, nextStage)
	}

	now := time.Now().UTC()
	previous := d.CurrentStage
	d.CurrentStage = nextStage
	d.StageHistory = append(d.StageHistory, StageRecord{
		Stage:     nextStage,
		Detail:    detail,
		Timestamp: now,
	})
	d.LastUpdated = now
	clone := d.Clone()
	m.mu.Unlock()

	m.persistDocument(clone)
	m.publish(events.StageChanged, map[string]any{
		"document_id": documentID,
		"stage":       nextStage,
		"previous":    previous,
		"detail":      detail,
	})

	if nextStage == StageCompleted {
		metrics.DocumentsProcessed.WithLabelValues("completed").Inc()
	}
	return nil
}

// Fail transitions a document to failed from any non-terminal stage,
// recording the failing stage and cause.
func (m *Machine) Fail(ctx context.Context, documentID, stage, cause string) error {
	m.mu.Lock()

	d, err := m.ensureLocked(ctx, documentID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if d.Terminal() {
		current := d.CurrentStage
		m.mu.Unlock()
		m.logger.Warn("failure signal on terminal document",
			"document_id", documentID,
			"current", current,
		)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, StageFailed)
	}

	now := time.Now().UTC()
	d.CurrentStage = StageFailed
	d.Error = cause
	d.StageHistory = append(d.StageHistory, StageRecord{
		Stage:     StageFailed,
		Detail:    fmt.Sprintf("%s: %s", stage, cause),
		Timestamp: now,
	})
	d.LastUpdated = now
	clone := d.Clone()
	m.mu.Unlock()

	m.persistDocument(clone)
	m.publish(events.DocumentFailed, map[string]any{
		"document_id": documentID,
		"stage":       stage,
		"error":       cause,
	})
	metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
	return nil
}

// Reset forces a document back to pending with empty history and no error.
func (m *Machine) Reset(ctx context.Context, documentID string) error {
	m.mu.Lock()

	d, err := m.ensureLocked(ctx, documentID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	d.CurrentStage = StagePending
	d.StageHistory = nil
	d.Error = ""
	d.LastUpdated = time.Now().UTC()
	clone := d.Clone()
	m.mu.Unlock()

	m.persistDocument(clone)
	m.publish(events.DocumentReset, map[string]any{"document_id": documentID})
	return nil
}

// ResetAll resets every tracked document. It is refused while a session is
// running to avoid corrupting in-flight state.
func (m *Machine) ResetAll(ctx context.Context) error {
	if _, err := m.store.GetRunningSession(ctx); err == nil {
		return ErrSessionActive
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := m.Reset(ctx, id); err != nil {
			return err
		}
	}

	m.logger.Info("pipeline reset", "documents", len(ids))
	return nil
}

// Document returns the current state of a document, hydrating from the
// store when the document is not yet in memory.
func (m *Machine) Document(ctx context.Context, documentID string) (*DocumentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.ensureLocked(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// Documents lists per-document pipeline state from the store.
func (m *Machine) Documents(
	ctx context.Context,
	page pagination.PageRequest,
) (*pagination.PageResult[DocumentState], error) {
	return m.store.ListDocuments(ctx, page)
}

// ensureLocked returns the in-memory state for a document, loading it from
// the store on first touch. Callers hold m.mu.
func (m *Machine) ensureLocked(ctx context.Context, documentID string) (*DocumentState, error) {
	if d, ok := m.docs[documentID]; ok {
		return d, nil
	}

	d, err := m.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	m.docs[documentID] = d
	return d, nil
}

func (m *Machine) persistDocument(d *DocumentState) {
	ctx, cancel := context.WithTimeout(context.Background(), m.persistTimeout)
	defer cancel()

	err := m.store.SaveDocument(ctx, d)
	if err == nil {
		return
	}
	if err = m.store.SaveDocument(ctx, d); err == nil {
		return
	}
	m.logger.Warn("document persistence failed after retry",
		"document_id", d.DocumentID,
		"error", err,
	)
}

func (m *Machine) publish(eventType string, payload map[string]any) {
	m.bus.Publish(eventType, payload)
	metrics.EventsPublished.WithLabelValues(eventType).Inc()
}
