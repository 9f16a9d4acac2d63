package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/docwatch/sentinel/internal/agents"
	"github.com/docwatch/sentinel/internal/workflows"
	"github.com/docwatch/sentinel/pkg/handlers"
	"github.com/docwatch/sentinel/pkg/pagination"
	"github.com/docwatch/sentinel/pkg/routes"
)

var errInvalidID = errors.New("invalid workflow or task id")

// Handler provides HTTP endpoints for workflow operations.
type Handler struct {
	coord      *Coordinator
	logger     *slog.Logger
	pagination pagination.Config
}

// SearchRequest combines pagination and filter criteria for the search endpoint.
type SearchRequest struct {
	pagination.PageRequest
	workflows.Filters
}

type approveRequest struct {
	Modifications map[string]any `json:"modifications,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// NewHandler creates a Handler with the given coordinator, logger, and
// pagination config.
func NewHandler(coord *Coordinator, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		coord:      coord,
		logger:     logger.With("handler", "workflows"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for workflow endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/workflows",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "POST", Pattern: "", Handler: h.Create},
			{Method: "POST", Pattern: "/search", Handler: h.Search},
			{Method: "GET", Pattern: "/{id}", Handler: h.Status},
			{Method: "GET", Pattern: "/{id}/full", Handler: h.Full},
			{Method: "GET", Pattern: "/{id}/logs", Handler: h.Logs},
			{Method: "POST", Pattern: "/{id}/execute", Handler: h.Execute},
			{Method: "POST", Pattern: "/{id}/export", Handler: h.Export},
			{Method: "DELETE", Pattern: "/{id}", Handler: h.Delete},
			{Method: "POST", Pattern: "/tasks/{id}/approve", Handler: h.Approve},
			{Method: "POST", Pattern: "/tasks/{id}/reject", Handler: h.Reject},
		},
	}
}

// Create validates and persists a new workflow from a JSON CreateCommand.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var cmd workflows.CreateCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, workflows.ErrValidation)
		return
	}

	snapshot, err := h.coord.Create(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, snapshot)
}

// List returns a paginated workflow listing with optional query filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := workflows.FiltersFromQuery(r.URL.Query())

	result, err := h.coord.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Search accepts a JSON body with pagination and filter criteria.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, workflows.ErrValidation)
		return
	}

	req.PageRequest.Normalize(h.pagination)

	result, err := h.coord.List(r.Context(), req.PageRequest, req.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Status returns the current snapshot of one workflow.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return
	}

	snapshot, err := h.coord.Status(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, snapshot)
}

// Full returns the nested workflow bundle: workflow, tasks, and audit log.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return
	}

	bundle, err := h.coord.Export(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, bundle)
}

// Logs returns a workflow's paginated audit trail.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return
	}

	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)

	result, err := h.coord.Logs(r.Context(), id, page)
	if err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Execute starts asynchronous execution of a workflow and returns the
// accepted snapshot immediately.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return
	}

	snapshot, err := h.coord.Execute(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, snapshot)
}

// Export archives the workflow bundle to blob storage and returns it.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return
	}

	bundle, err := h.coord.Export(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, bundle)
}

// Approve resolves a pending approval gate, optionally overlaying parameter
// modifications.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, workflows.ErrValidation)
		return
	}

	snapshot, err := h.coord.Approve(r.Context(), id, req.Modifications, req.Notes)
	if err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, snapshot)
}

// Reject fails a gated task; sibling tasks keep running.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, workflows.ErrValidation)
		return
	}

	snapshot, err := h.coord.Reject(r.Context(), id, req.Reason)
	if err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, snapshot)
}

// Delete removes a workflow and its tasks, approvals, and logs.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return
	}

	if err := h.coord.Delete(r.Context(), id); err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	if errors.Is(err, agents.ErrUnknownCapability) {
		return agents.MapHTTPStatus(err)
	}
	return workflows.MapHTTPStatus(err)
}
