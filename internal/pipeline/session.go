package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docwatch/sentinel/internal/metrics"
	"github.com/docwatch/sentinel/pkg/events"
	"github.com/docwatch/sentinel/pkg/lifecycle"
	"github.com/docwatch/sentinel/pkg/pagination"
)

// Processor performs the domain work for one intermediate stage of one
// document. It must be idempotent under retry; the pipeline treats it as
// opaque and only routes the document identifier through it.
type Processor func(ctx context.Context, documentID, stage string) (detail string, err error)

// Manager runs batch sessions: it claims the running-session singleton,
// drives each in-scope document through the remaining stages with bounded
// concurrency, and keeps the session counters current. One document's
// failure never stops the rest of the batch.
type Manager struct {
	machine   *Machine
	store     Store
	bus       *events.Bus
	processor Processor
	logger    *slog.Logger

	concurrency    int
	persistTimeout time.Duration

	base context.Context

	mu     sync.Mutex
	active *Session
	cancel context.CancelFunc
}

// NewManager creates a session Manager. cfg must be finalized.
func NewManager(
	cfg *Config,
	machine *Machine,
	store Store,
	bus *events.Bus,
	processor Processor,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		machine:        machine,
		store:          store,
		bus:            bus,
		processor:      processor,
		logger:         logger.With("system", "sessions"),
		concurrency:    cfg.Concurrency,
		persistTimeout: cfg.PersistTimeoutDuration(),
		base:           context.Background(),
	}
}

// Start binds the manager to the application lifecycle and reattaches to any
// session left running by a previous process.
func (m *Manager) Start(lc *lifecycle.Coordinator) error {
	m.base = lc.Context()

	lc.OnStartup(func() {
		if err := m.Resume(lc.Context()); err != nil {
			m.logger.Error("session resume failed", "error", err)
		}
	})
	return nil
}

// Process starts a batch session over the given documents. It returns the
// session immediately; processing continues asynchronously. A second call
// while a session is running fails with ErrSessionActive.
func (m *Manager) Process(ctx context.Context, documentIDs []string) (*Session, error) {
	if len(documentIDs) == 0 {
		return nil, errors.New("no documents in scope")
	}

	sess := &Session{
		ID:        uuid.New(),
		Scope:     documentIDs,
		Total:     len(documentIDs),
		Status:    SessionRunning,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	if m.active != nil && m.active.Status == SessionRunning {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.mu.Unlock()

	// The insert is the exclusivity claim: a concurrent starter loses on
	// the running-status unique constraint, not on the in-memory check.
	if err := m.store.StartSession(ctx, sess); err != nil {
		return nil, err
	}

	for _, id := range documentIDs {
		if _, err := m.machine.Track(ctx, id); err != nil {
			m.logger.Warn("track document failed", "document_id", id, "error", err)
		}
	}

	m.launch(sess)
	return sess.Clone(), nil
}

// Cancel stops the active session. Documents already terminal keep their
// state; in-flight documents stop at their last recorded stage.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	if m.active == nil || m.active.ID != id {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if m.active.Status.Terminal() {
		clone := m.active.Clone()
		m.mu.Unlock()
		return clone, nil
	}

	now := time.Now().UTC()
	m.active.Status = SessionCancelled
	m.active.CompletedAt = &now
	cancel := m.cancel
	clone := m.active.Clone()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.persistSession(clone)
	m.publish(events.SessionCancelled, map[string]any{"session_id": id.String()})
	m.logger.Info("session cancelled", "session_id", id)
	return clone, nil
}

// Active returns the running session, or nil when none is running.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.Status.Terminal() {
		return nil
	}
	return m.active.Clone()
}

// Session returns a session by id, serving the active one from memory.
func (m *Manager) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	if m.active != nil && m.active.ID == id {
		clone := m.active.Clone()
		m.mu.Unlock()
		return clone, nil
	}
	m.mu.Unlock()

	return m.store.GetSession(ctx, id)
}

// Sessions lists sessions from the store, newest first.
func (m *Manager) Sessions(
	ctx context.Context,
	page pagination.PageRequest,
) (*pagination.PageResult[Session], error) {
	return m.store.ListSessions(ctx, page)
}

// Resume reattaches to a session still marked running in the store,
// continuing each in-scope document from its last recorded stage.
func (m *Manager) Resume(ctx context.Context) error {
	sess, err := m.store.GetRunningSession(ctx)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	m.logger.Info("resuming interrupted session",
		"session_id", sess.ID,
		"completed", sess.Completed,
		"failed", sess.Failed,
		"total", sess.Total,
	)

	// Counters are recomputed from per-document state: documents already
	// terminal are recounted as the batch walks the scope, so a resume
	// never double-counts.
	sess.Completed = 0
	sess.Failed = 0

	m.launch(sess)
	return nil
}

// launch adopts sess as the active session and starts the batch goroutine.
func (m *Manager) launch(sess *Session) {
	ctx, cancel := context.WithCancel(m.base)

	m.mu.Lock()
	m.active = sess
	m.cancel = cancel
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	m.publish(events.SessionStarted, map[string]any{
		"session_id": sess.ID.String(),
		"total":      sess.Total,
	})

	go m.run(ctx, sess)
}

func (m *Manager) run(ctx context.Context, sess *Session) {
	defer metrics.ActiveSessions.Dec()

	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)

	for _, documentID := range sess.Scope {
		g.Go(func() error {
			m.processDocument(ctx, sess, documentID)
			return nil
		})
	}
	g.Wait()

	m.finalize(sess, ctx.Err() != nil)
}

// processDocument drives one document through its remaining stages,
// strictly sequentially. A processor failure fails the document and counts
// against the session; the rest of the batch continues.
func (m *Manager) processDocument(ctx context.Context, sess *Session, documentID string) {
	state, err := m.machine.Document(ctx, documentID)
	if err != nil {
		m.logger.Warn("document unavailable", "document_id", documentID, "error", err)
		m.bump(sess, false)
		return
	}

	switch state.CurrentStage {
	case StageCompleted:
		m.bump(sess, true)
		return
	case StageFailed:
		m.bump(sess, false)
		return
	}

	stages := m.machine.Stages()
	position := 0
	for i, stage := range stages {
		if stage == state.CurrentStage {
			position = i
			break
		}
	}

	for _, stage := range stages[position+1:] {
		if ctx.Err() != nil {
			return
		}

		if stage != StageCompleted {
			detail, err := m.processor(ctx, documentID, stage)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if failErr := m.machine.Fail(ctx, documentID, stage, err.Error()); failErr != nil {
					m.logger.Warn("fail transition rejected",
						"document_id", documentID,
						"error", failErr,
					)
				}
				m.bump(sess, false)
				return
			}
			if err := m.machine.Advance(ctx, documentID, stage, detail); err != nil {
				m.bump(sess, false)
				return
			}
			continue
		}

		if err := m.machine.Advance(ctx, documentID, stage, ""); err != nil {
			m.bump(sess, false)
			return
		}
	}

	m.bump(sess, true)
}

// bump updates session counters after one document reaches a terminal stage.
func (m *Manager) bump(sess *Session, completed bool) {
	m.mu.Lock()
	if completed {
		sess.Completed++
	} else {
		sess.Failed++
	}
	clone := sess.Clone()
	m.mu.Unlock()

	m.persistSession(clone)
}

// finalize closes out the session unless a cancellation already did.
func (m *Manager) finalize(sess *Session, interrupted bool) {
	m.mu.Lock()
	if sess.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	if interrupted {
		// Shutdown mid-batch: leave the session running so the next
		// process resumes it.
		m.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	sess.Status = SessionCompleted
	sess.CompletedAt = &now
	clone := sess.Clone()
	m.mu.Unlock()

	m.persistSession(clone)
	m.publish(events.SessionCompleted, map[string]any{
		"session_id": sess.ID.String(),
		"completed":  clone.Completed,
		"failed":     clone.Failed,
		"total":      clone.Total,
	})
	m.logger.Info("session finished",
		"session_id", sess.ID,
		"completed", clone.Completed,
		"failed", clone.Failed,
	)
}

func (m *Manager) persistSession(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.persistTimeout)
	defer cancel()

	err := m.store.UpdateSession(ctx, sess)
	if err == nil {
		return
	}
	if err = m.store.UpdateSession(ctx, sess); err == nil {
		return
	}
	m.logger.Warn("session persistence failed after retry",
		"session_id", sess.ID,
		"error", err,
	)
}

func (m *Manager) publish(eventType string, payload map[string]any) {
	m.bus.Publish(eventType, payload)
	metrics.EventsPublished.WithLabelValues(eventType).Inc()
}
