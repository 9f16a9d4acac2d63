package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docwatch/sentinel/pkg/events"
	"github.com/docwatch/sentinel/pkg/lifecycle"
	"github.com/docwatch/sentinel/pkg/pagination"
)

// memoryStore is an in-memory pipeline Store enforcing the same
// running-session exclusivity the Postgres partial unique index provides.
type memoryStore struct {
	mu        sync.Mutex
	documents map[string]DocumentState
	sessions  map[uuid.UUID]Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		documents: make(map[string]DocumentState),
		sessions:  make(map[uuid.UUID]Session),
	}
}

func (m *memoryStore) SaveDocument(_ context.Context, d *DocumentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.DocumentID] = *d.Clone()
	return nil
}

func (m *memoryStore) GetDocument(_ context.Context, documentID string) (*DocumentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return d.Clone(), nil
}

func (m *memoryStore) ListDocuments(
	_ context.Context,
	page pagination.PageRequest,
) (*pagination.PageResult[DocumentState], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []DocumentState
	for _, d := range m.documents {
		items = append(items, *d.Clone())
	}
	result := pagination.NewPageResult(items, len(items), page.Page, page.PageSize)
	return &result, nil
}

func (m *memoryStore) StartSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.Status == SessionRunning {
			return ErrSessionActive
		}
	}
	m.sessions[s.ID] = *s.Clone()
	return nil
}

func (m *memoryStore) UpdateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.ID] = *s.Clone()
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *memoryStore) GetRunningSession(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status == SessionRunning {
			return s.Clone(), nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *memoryStore) ListSessions(
	_ context.Context,
	page pagination.PageRequest,
) (*pagination.PageResult[Session], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []Session
	for _, s := range m.sessions {
		items = append(items, *s.Clone())
	}
	result := pagination.NewPageResult(items, len(items), page.Page, page.PageSize)
	return &result, nil
}

var _ Store = (*memoryStore)(nil)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	require.NoError(t, cfg.Finalize(&Env{}))
	return cfg
}

func newTestMachine(t *testing.T) (*Machine, *memoryStore) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := newMemoryStore()
	return NewMachine(testConfig(t), store, events.NewBus(logger), logger), store
}

func advanceToCompleted(t *testing.T, m *Machine, documentID string) {
	t.Helper()
	ctx := context.Background()
	for _, stage := range m.Stages()[1:] {
		require.NoError(t, m.Advance(ctx, documentID, stage, ""))
	}
}

func TestAdvanceFollowsConfiguredOrder(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Track(ctx, "doc-1")
	require.NoError(t, err)

	require.NoError(t, m.Advance(ctx, "doc-1", "extracting", "12 pages"))
	require.NoError(t, m.Advance(ctx, "doc-1", "cleaning", ""))

	d, err := m.Document(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "cleaning", d.CurrentStage)
	require.Len(t, d.StageHistory, 2)
	assert.Equal(t, "extracting", d.StageHistory[0].Stage)
	assert.Equal(t, "12 pages", d.StageHistory[0].Detail)
}

func TestAdvanceRejectsOutOfOrderSignals(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Track(ctx, "doc-1")
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, "doc-1", "extracting", ""))

	// Skipping ahead, repeating the current stage, and rolling back are
	// all invalid; the recorded stage must not move.
	for _, next := range []string{"chunking", "extracting", "pending", "no-such-stage"} {
		err := m.Advance(ctx, "doc-1", next, "")
		require.ErrorIs(t, err, ErrInvalidTransition, "advance to %q", next)
	}

	d, err := m.Document(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "extracting", d.CurrentStage)
	assert.Len(t, d.StageHistory, 1, "rejected signals never touch history")
}

func TestFailFromAnyNonTerminalStage(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Track(ctx, "doc-1")
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, "doc-1", "extracting", ""))
	require.NoError(t, m.Fail(ctx, "doc-1", "extracting", "corrupt file"))

	d, err := m.Document(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StageFailed, d.CurrentStage)
	assert.Equal(t, "corrupt file", d.Error)

	// Terminal documents accept neither advance nor a second failure.
	require.ErrorIs(t, m.Advance(ctx, "doc-1", "cleaning", ""), ErrInvalidTransition)
	require.ErrorIs(t, m.Fail(ctx, "doc-1", "cleaning", "again"), ErrInvalidTransition)
}

func TestResetRoundTrip(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Track(ctx, "doc-1")
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, "doc-1", "extracting", ""))
	require.NoError(t, m.Fail(ctx, "doc-1", "extracting", "corrupt file"))

	require.NoError(t, m.Reset(ctx, "doc-1"))

	d, err := m.Document(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StagePending, d.CurrentStage)
	assert.Empty(t, d.StageHistory)
	assert.Empty(t, d.Error)

	// A reset document runs the full sequence again.
	advanceToCompleted(t, m, "doc-1")
	d, err = m.Document(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, d.CurrentStage)
}

func TestResetAllRefusedWhileSessionRunning(t *testing.T) {
	m, store := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Track(ctx, "doc-1")
	require.NoError(t, err)

	running := &Session{ID: uuid.New(), Status: SessionRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, store.StartSession(ctx, running))

	require.ErrorIs(t, m.ResetAll(ctx), ErrSessionActive)

	running.Status = SessionCancelled
	require.NoError(t, store.UpdateSession(ctx, running))
	require.NoError(t, m.ResetAll(ctx))
}

func TestMachineHydratesFromStore(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := newMemoryStore()
	cfg := testConfig(t)
	ctx := context.Background()

	seeded := &DocumentState{
		DocumentID:   "doc-1",
		CurrentStage: "cleaning",
		StageHistory: []StageRecord{
			{Stage: "extracting", Timestamp: time.Now().UTC()},
			{Stage: "cleaning", Timestamp: time.Now().UTC()},
		},
		LastUpdated: time.Now().UTC(),
	}
	require.NoError(t, store.SaveDocument(ctx, seeded))

	m := NewMachine(cfg, store, events.NewBus(logger), logger)
	require.NoError(t, m.Advance(ctx, "doc-1", "chunking", ""))

	d, err := m.Document(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "chunking", d.CurrentStage)
	assert.Len(t, d.StageHistory, 3)
}

type sessionHarness struct {
	manager *Manager
	machine *Machine
	store   *memoryStore
	bus     *events.Bus
}

func newSessionHarness(t *testing.T, processor Processor) *sessionHarness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := newMemoryStore()
	bus := events.NewBus(logger)
	cfg := testConfig(t)

	machine := NewMachine(cfg, store, bus, logger)
	manager := NewManager(cfg, machine, store, bus, processor, logger)

	lc := lifecycle.New()
	require.NoError(t, manager.Start(lc))
	lc.WaitForStartup()
	t.Cleanup(func() { require.NoError(t, lc.Shutdown(5*time.Second)) })

	return &sessionHarness{manager: manager, machine: machine, store: store, bus: bus}
}

func waitForSession(t *testing.T, h *sessionHarness, id uuid.UUID, want SessionStatus) *Session {
	t.Helper()
	var sess *Session
	require.Eventually(t, func() bool {
		s, err := h.manager.Session(context.Background(), id)
		if err != nil {
			return false
		}
		sess = s
		return s.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return sess
}

func docScope(n int) []string {
	scope := make([]string, n)
	for i := range scope {
		scope[i] = fmt.Sprintf("doc-%d", i+1)
	}
	return scope
}

func TestSessionProcessesAllDocuments(t *testing.T) {
	h := newSessionHarness(t, func(_ context.Context, _, stage string) (string, error) {
		return "ok: " + stage, nil
	})
	ctx := context.Background()

	sess, err := h.manager.Process(ctx, docScope(5))
	require.NoError(t, err)
	require.Equal(t, 5, sess.Total)

	done := waitForSession(t, h, sess.ID, SessionCompleted)
	assert.Equal(t, 5, done.Completed)
	assert.Equal(t, 0, done.Failed)

	for _, id := range docScope(5) {
		d, err := h.machine.Document(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StageCompleted, d.CurrentStage)
	}
}

func TestSessionIsolatesDocumentFailure(t *testing.T) {
	h := newSessionHarness(t, func(_ context.Context, documentID, stage string) (string, error) {
		if documentID == "doc-3" && stage == "chunking" {
			return "", errors.New("chunker overflow")
		}
		return "", nil
	})
	ctx := context.Background()

	sess, err := h.manager.Process(ctx, docScope(5))
	require.NoError(t, err)

	done := waitForSession(t, h, sess.ID, SessionCompleted)
	assert.Equal(t, 4, done.Completed)
	assert.Equal(t, 1, done.Failed)

	d, err := h.machine.Document(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, StageFailed, d.CurrentStage)
	assert.Equal(t, "chunker overflow", d.Error)
}

func TestSecondSessionRefusedWhileFirstRuns(t *testing.T) {
	release := make(chan struct{})
	h := newSessionHarness(t, func(ctx context.Context, _, _ string) (string, error) {
		select {
		case <-release:
			return "", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	ctx := context.Background()

	first, err := h.manager.Process(ctx, docScope(2))
	require.NoError(t, err)

	_, err = h.manager.Process(ctx, docScope(1))
	require.ErrorIs(t, err, ErrSessionActive)

	close(release)
	done := waitForSession(t, h, first.ID, SessionCompleted)
	assert.Equal(t, 2, done.Completed, "rejected second start must not disturb the first")
}

func TestCancelStopsSession(t *testing.T) {
	started := make(chan struct{}, 16)
	h := newSessionHarness(t, func(ctx context.Context, _, _ string) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	})
	ctx := context.Background()

	sess, err := h.manager.Process(ctx, docScope(2))
	require.NoError(t, err)
	<-started

	cancelled, err := h.manager.Cancel(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCancelled, cancelled.Status)

	stored := waitForSession(t, h, sess.ID, SessionCancelled)
	assert.Equal(t, SessionCancelled, stored.Status)
	assert.Nil(t, h.manager.Active())
}

func TestResumeContinuesInterruptedSession(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := newMemoryStore()
	bus := events.NewBus(logger)
	cfg := testConfig(t)
	ctx := context.Background()

	// A previous process got doc-1 to completed and doc-2 part-way, then
	// stopped with the session still marked running.
	interrupted := &Session{
		ID:        uuid.New(),
		Scope:     []string{"doc-1", "doc-2"},
		Total:     2,
		Completed: 1,
		Status:    SessionRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.StartSession(ctx, interrupted))
	require.NoError(t, store.SaveDocument(ctx, &DocumentState{
		DocumentID:   "doc-1",
		CurrentStage: StageCompleted,
		LastUpdated:  time.Now().UTC(),
	}))
	require.NoError(t, store.SaveDocument(ctx, &DocumentState{
		DocumentID:   "doc-2",
		CurrentStage: "cleaning",
		LastUpdated:  time.Now().UTC(),
	}))

	var processed []string
	var mu sync.Mutex
	machine := NewMachine(cfg, store, bus, logger)
	manager := NewManager(cfg, machine, store, bus,
		func(_ context.Context, documentID, stage string) (string, error) {
			mu.Lock()
			processed = append(processed, documentID+":"+stage)
			mu.Unlock()
			return "", nil
		}, logger)

	lc := lifecycle.New()
	require.NoError(t, manager.Start(lc))
	lc.WaitForStartup()
	defer func() { require.NoError(t, lc.Shutdown(5*time.Second)) }()

	require.Eventually(t, func() bool {
		s, err := manager.Session(context.Background(), interrupted.ID)
		return err == nil && s.Status == SessionCompleted
	}, 2*time.Second, 10*time.Millisecond)

	final, err := manager.Session(ctx, interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.Completed)
	assert.Equal(t, 0, final.Failed)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, processed, "doc-2:chunking")
	assert.NotContains(t, processed, "doc-1:extracting",
		"completed documents are never reprocessed")
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		stages []string
		ok     bool
	}{
		{"default order", nil, true},
		{"custom middle stages", []string{"pending", "ocr", "completed"}, true},
		{"missing pending", []string{"extracting", "completed"}, false},
		{"missing completed", []string{"pending", "extracting"}, false},
		{"reserved failed", []string{"pending", "failed", "completed"}, false},
		{"duplicate stage", []string{"pending", "ocr", "ocr", "completed"}, false},
		{"too short", []string{"pending"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Stages: tc.stages}
			err := cfg.Finalize(&Env{})
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
