package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/docwatch/sentinel/pkg/pagination"
	"github.com/docwatch/sentinel/pkg/query"
	"github.com/docwatch/sentinel/pkg/repository"
)

// Store is the durable persistence contract for document pipeline state and
// batch sessions. Session exclusivity lives here: StartSession must fail
// with ErrSessionActive when another session is already running, atomically,
// so a crash between check and insert can never yield two running sessions.
type Store interface {
	SaveDocument(ctx context.Context, d *DocumentState) error
	GetDocument(ctx context.Context, documentID string) (*DocumentState, error)
	ListDocuments(
		ctx context.Context,
		page pagination.PageRequest,
	) (*pagination.PageResult[DocumentState], error)

	StartSession(ctx context.Context, s *Session) error
	UpdateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	GetRunningSession(ctx context.Context) (*Session, error)
	ListSessions(
		ctx context.Context,
		page pagination.PageRequest,
	) (*pagination.PageResult[Session], error)
}

var documentProjection = query.
	NewProjectionMap("public", "document_pipeline_states", "d").
	Project("document_id", "DocumentID").
	Project("current_stage", "CurrentStage").
	Project("stage_history", "StageHistory").
	Project("error", "Error").
	Project("last_updated", "LastUpdated")

var sessionProjection = query.
	NewProjectionMap("public", "pipeline_sessions", "s").
	Project("id", "ID").
	Project("scope", "Scope").
	Project("total", "Total").
	Project("completed", "Completed").
	Project("failed", "Failed").
	Project("status", "Status").
	Project("started_at", "StartedAt").
	Project("completed_at", "CompletedAt")

type store struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// NewStore creates a Postgres-backed pipeline store.
func NewStore(db *sql.DB, logger *slog.Logger, pagination pagination.Config) Store {
	return &store{
		db:         db,
		logger:     logger.With("system", "pipeline"),
		pagination: pagination,
	}
}

func (s *store) SaveDocument(ctx context.Context, d *DocumentState) error {
	history, err := json.Marshal(d.StageHistory)
	if err != nil {
		return fmt.Errorf("marshal stage history: %w", err)
	}

	q := `
		INSERT INTO document_pipeline_states(document_id, current_stage, stage_history, error, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO UPDATE SET
			current_stage = EXCLUDED.current_stage,
			stage_history = EXCLUDED.stage_history,
			error = EXCLUDED.error,
			last_updated = EXCLUDED.last_updated`

	_, err = s.db.ExecContext(ctx, q,
		d.DocumentID, d.CurrentStage, history, d.Error, d.LastUpdated,
	)
	return repository.MapError(err, ErrDocumentNotFound, ErrSessionActive)
}

func (s *store) GetDocument(ctx context.Context, documentID string) (*DocumentState, error) {
	q, args := query.NewBuilder(documentProjection).BuildSingle("DocumentID", documentID)

	d, err := repository.QueryOne(ctx, s.db, q, args, scanDocument)
	if err != nil {
		return nil, repository.MapError(err, ErrDocumentNotFound, ErrSessionActive)
	}
	return &d, nil
}

func (s *store) ListDocuments(
	ctx context.Context,
	page pagination.PageRequest,
) (*pagination.PageResult[DocumentState], error) {
	page.Normalize(s.pagination)

	qb := query.
		NewBuilder(documentProjection, query.SortField{Field: "LastUpdated", Descending: true}).
		WhereSearch(page.Search, "DocumentID", "CurrentStage")

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, s.db, pageSQL, pageArgs, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

// StartSession inserts the session as running. A partial unique index on
// status='running' makes the insert itself the exclusivity check; the
// resulting constraint violation maps to ErrSessionActive.
func (s *store) StartSession(ctx context.Context, sess *Session) error {
	scope, err := json.Marshal(sess.Scope)
	if err != nil {
		return fmt.Errorf("marshal session scope: %w", err)
	}

	q := `
		INSERT INTO pipeline_sessions(id, scope, total, completed, failed, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.db.ExecContext(ctx, q,
		sess.ID, scope, sess.Total, sess.Completed, sess.Failed,
		sess.Status, sess.StartedAt,
	)
	return repository.MapError(err, ErrSessionNotFound, ErrSessionActive)
}

func (s *store) UpdateSession(ctx context.Context, sess *Session) error {
	q := `
		UPDATE pipeline_sessions
		SET completed = $1, failed = $2, status = $3, completed_at = $4
		WHERE id = $5`

	err := repository.ExecExpectOne(ctx, s.db, q,
		sess.Completed, sess.Failed, sess.Status, sess.CompletedAt, sess.ID,
	)
	return repository.MapError(err, ErrSessionNotFound, ErrSessionActive)
}

func (s *store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	q, args := query.NewBuilder(sessionProjection).BuildSingle("ID", id)

	sess, err := repository.QueryOne(ctx, s.db, q, args, scanSession)
	if err != nil {
		return nil, repository.MapError(err, ErrSessionNotFound, ErrSessionActive)
	}
	return &sess, nil
}

func (s *store) GetRunningSession(ctx context.Context) (*Session, error) {
	q, args := query.NewBuilder(sessionProjection).BuildSingle("Status", string(SessionRunning))

	sess, err := repository.QueryOne(ctx, s.db, q, args, scanSession)
	if err != nil {
		return nil, repository.MapError(err, ErrSessionNotFound, ErrSessionActive)
	}
	return &sess, nil
}

func (s *store) ListSessions(
	ctx context.Context,
	page pagination.PageRequest,
) (*pagination.PageResult[Session], error) {
	page.Normalize(s.pagination)

	qb := query.NewBuilder(
		sessionProjection,
		query.SortField{Field: "StartedAt", Descending: true},
	)

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, s.db, pageSQL, pageArgs, scanSession)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func scanDocument(s repository.Scanner) (DocumentState, error) {
	var (
		d       DocumentState
		history []byte
	)

	err := s.Scan(
		&d.DocumentID,
		&d.CurrentStage,
		&history,
		&d.Error,
		&d.LastUpdated,
	)
	if err != nil {
		return d, err
	}

	if len(history) > 0 {
		if err := json.Unmarshal(history, &d.StageHistory); err != nil {
			return d, err
		}
	}
	return d, nil
}

func scanSession(s repository.Scanner) (Session, error) {
	var (
		sess  Session
		scope []byte
	)

	err := s.Scan(
		&sess.ID,
		&scope,
		&sess.Total,
		&sess.Completed,
		&sess.Failed,
		&sess.Status,
		&sess.StartedAt,
		&sess.CompletedAt,
	)
	if err != nil {
		return sess, err
	}

	if len(scope) > 0 {
		if err := json.Unmarshal(scope, &sess.Scope); err != nil {
			return sess, err
		}
	}
	return sess, nil
}
