package pipeline

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/docwatch/sentinel/pkg/handlers"
	"github.com/docwatch/sentinel/pkg/pagination"
	"github.com/docwatch/sentinel/pkg/routes"
)

var errInvalidRequest = errors.New("invalid pipeline request")

// Handler provides HTTP endpoints for pipeline and session operations.
type Handler struct {
	machine    *Machine
	sessions   *Manager
	logger     *slog.Logger
	pagination pagination.Config
}

type advanceRequest struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail,omitempty"`
}

type failRequest struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type processRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// NewHandler creates a Handler over the state machine and session manager.
func NewHandler(
	machine *Machine,
	sessions *Manager,
	logger *slog.Logger,
	pagination pagination.Config,
) *Handler {
	return &Handler{
		machine:    machine,
		sessions:   sessions,
		logger:     logger.With("handler", "pipeline"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for pipeline endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/pipeline",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/stages", Handler: h.Stages},
			{Method: "GET", Pattern: "/documents", Handler: h.Documents},
			{Method: "GET", Pattern: "/documents/{id}", Handler: h.Document},
			{Method: "POST", Pattern: "/documents/{id}/advance", Handler: h.Advance},
			{Method: "POST", Pattern: "/documents/{id}/fail", Handler: h.Fail},
			{Method: "POST", Pattern: "/documents/{id}/reset", Handler: h.Reset},
			{Method: "POST", Pattern: "/reset", Handler: h.ResetAll},
			{Method: "POST", Pattern: "/process", Handler: h.Process},
			{Method: "GET", Pattern: "/sessions", Handler: h.Sessions},
			{Method: "GET", Pattern: "/sessions/active", Handler: h.Active},
			{Method: "GET", Pattern: "/sessions/{id}", Handler: h.Session},
			{Method: "POST", Pattern: "/sessions/{id}/cancel", Handler: h.Cancel},
		},
	}
}

// Stages returns the configured stage order.
func (h *Handler) Stages(w http.ResponseWriter, r *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, map[string]any{
		"stages": h.machine.Stages(),
	})
}

// Documents returns paginated per-document pipeline state.
func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)

	result, err := h.machine.Documents(r.Context(), page)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Document returns the pipeline state of one document.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	d, err := h.machine.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, d)
}

// Advance moves a document to the next stage in the configured order.
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stage == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidRequest)
		return
	}

	if err := h.machine.Advance(r.Context(), documentID, req.Stage, req.Detail); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	h.respondDocument(w, r, documentID)
}

// Fail marks a document failed at the given stage.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")

	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidRequest)
		return
	}

	if err := h.machine.Fail(r.Context(), documentID, req.Stage, req.Error); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	h.respondDocument(w, r, documentID)
}

// Reset returns a document to pending with empty history.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")

	if err := h.machine.Reset(r.Context(), documentID); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	h.respondDocument(w, r, documentID)
}

// ResetAll resets every tracked document; refused while a session runs.
func (h *Handler) ResetAll(w http.ResponseWriter, r *http.Request) {
	if err := h.machine.ResetAll(r.Context()); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Process starts a batch session over the posted document set.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.DocumentIDs) == 0 {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidRequest)
		return
	}

	sess, err := h.sessions.Process(r.Context(), req.DocumentIDs)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, sess)
}

// Sessions lists batch sessions, newest first.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)

	result, err := h.sessions.Sessions(r.Context(), page)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Active returns the running session, or 404 when none is running.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Active()
	if sess == nil {
		handlers.RespondError(w, h.logger, http.StatusNotFound, ErrSessionNotFound)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, sess)
}

// Session returns one session by id.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidRequest)
		return
	}

	sess, err := h.sessions.Session(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, sess)
}

// Cancel stops the running session.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidRequest)
		return
	}

	sess, err := h.sessions.Cancel(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, sess)
}

func (h *Handler) respondDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	d, err := h.machine.Document(r.Context(), documentID)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, d)
}
