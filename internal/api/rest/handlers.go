// Package rest exposes task status, selections and sync dispatch over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// Service is the orchestrator surface the handlers call.
type Service interface {
	GetTask(id string) (*types.Task, error)
	ListActive() []*types.Task
	Cancel(ctx context.Context, id string) (*types.Task, error)
	EnqueueSingleSync(ctx context.Context, repositoryID int64) (string, error)
	EnqueueBulkSync(ctx context.Context, repositoryIDs []int64) (string, error)
	EnqueueSelectionRefresh(ctx context.Context, ownerID int64, force bool) (string, error)
	GetRepository(ctx context.Context, id int64) (*types.Repository, error)
	ConnectOwner(ctx context.Context, owner *types.Owner) (*types.Owner, error)
	ListOwners(ctx context.Context) ([]*types.Owner, error)
	ListSelections(ctx context.Context, ownerID int64, filter types.SelectionFilter) ([]*types.RepositorySelection, error)
	SetSelection(ctx context.Context, ownerID int64, remoteRepoIDs []int64, status types.SelectionStatus) (int, error)
	SyncSelected(ctx context.Context, ownerID int64) (string, int, error)
	Stats(ctx context.Context) (*types.Stats, error)
}

// Handler handles REST API requests
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler creates a new REST handler
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// TaskResponse is the polled view of a task
type TaskResponse struct {
	TaskID          string          `json:"task_id"`
	Kind            types.TaskKind  `json:"kind"`
	Spec            types.TaskSpec  `json:"spec"`
	Status          string          `json:"status"`
	Progress        int             `json:"progress"`
	ResultDetail    json.RawMessage `json:"result_detail,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
}

func toTaskResponse(t *types.Task) TaskResponse {
	return TaskResponse{
		TaskID:          t.ID,
		Kind:            t.Spec.Kind,
		Spec:            t.Spec,
		Status:          string(t.Status),
		Progress:        t.Progress,
		ResultDetail:    t.ResultDetail,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		FinishedAt:      t.FinishedAt,
		CancelRequested: t.CancelRequested,
	}
}

// CancelResponse acknowledges a cancellation
type CancelResponse struct {
	TaskID          string `json:"task_id"`
	Status          string `json:"status"`
	CancelRequested bool   `json:"cancel_requested"`
}

// EnqueueResponse carries the id of an accepted task
type EnqueueResponse struct {
	TaskID          string `json:"task_id,omitempty"`
	RepositoryCount int    `json:"repository_count,omitempty"`
	Message         string `json:"message,omitempty"`
}

// BulkSyncRequest lists repositories to sync
type BulkSyncRequest struct {
	RepositoryIDs []int64 `json:"repository_ids"`
}

// ConnectOwnerRequest connects a GitHub user or organization
type ConnectOwnerRequest struct {
	Kind           types.OwnerKind `json:"kind"`
	Login          string          `json:"login"`
	AccessToken    string          `json:"access_token"`
	TokenExpiresAt *time.Time      `json:"token_expires_at,omitempty"`
}

// SelectionUpdateRequest toggles selections in bulk
type SelectionUpdateRequest struct {
	RepositoryIDs []int64               `json:"repository_ids"`
	Status        types.SelectionStatus `json:"status"`
}

// SelectionUpdateResponse reports how many selections changed
type SelectionUpdateResponse struct {
	Updated int `json:"updated"`
}

// RegisterRoutes registers REST API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tasks", h.ListTasks)
	r.Get("/tasks/{id}", h.GetTask)
	r.Delete("/tasks/{id}", h.CancelTask)

	r.Post("/repositories/bulk-sync", h.BulkSync)
	r.Get("/repositories/{id}", h.GetRepository)
	r.Post("/repositories/{id}/sync", h.SyncRepository)

	r.Get("/stats", h.Stats)

	r.Get("/owners", h.ListOwners)
	r.Post("/owners", h.ConnectOwner)
	r.Post("/owners/{id}/refresh", h.RefreshSelections)
	r.Get("/owners/{id}/selections", h.ListSelections)
	r.Post("/owners/{id}/selections/bulk-update", h.UpdateSelections)
	r.Post("/owners/{id}/sync-selected", h.SyncSelected)
}

// GetTask handles GET /tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// ListTasks handles GET /tasks?active=true. Only active tasks are listed.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("active"); v != "" && v != "true" {
		h.writeError(w, fmt.Errorf("%w: only active=true is supported", types.ErrInvalidArgument))
		return
	}

	active := h.svc.ListActive()
	out := make([]TaskResponse, 0, len(active))
	for _, t := range active {
		out = append(out, toTaskResponse(t))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// CancelTask handles DELETE /tasks/{id}
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, CancelResponse{
		TaskID:          t.ID,
		Status:          string(t.Status),
		CancelRequested: t.CancelRequested,
	})
}

// BulkSync handles POST /repositories/bulk-sync
func (h *Handler) BulkSync(w http.ResponseWriter, r *http.Request) {
	var req BulkSyncRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.svc.EnqueueBulkSync(r.Context(), req.RepositoryIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, EnqueueResponse{TaskID: id})
}

// GetRepository handles GET /repositories/{id}
func (h *Handler) GetRepository(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	repo, err := h.svc.GetRepository(r.Context(), repoID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, repo)
}

// SyncRepository handles POST /repositories/{id}/sync
func (h *Handler) SyncRepository(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	id, err := h.svc.EnqueueSingleSync(r.Context(), repoID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, EnqueueResponse{TaskID: id})
}

// Stats handles GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// ListOwners handles GET /owners
func (h *Handler) ListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.svc.ListOwners(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if owners == nil {
		owners = []*types.Owner{}
	}
	h.writeJSON(w, http.StatusOK, owners)
}

// ConnectOwner handles POST /owners
func (h *Handler) ConnectOwner(w http.ResponseWriter, r *http.Request) {
	var req ConnectOwnerRequest
	if !h.decode(w, r, &req) {
		return
	}

	owner, err := h.svc.ConnectOwner(r.Context(), &types.Owner{
		Kind:           req.Kind,
		Login:          req.Login,
		AccessToken:    req.AccessToken,
		TokenExpiresAt: req.TokenExpiresAt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, owner)
}

// RefreshSelections handles POST /owners/{id}/refresh?force=
func (h *Handler) RefreshSelections(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: force must be a boolean", types.ErrInvalidArgument))
			return
		}
		force = b
	}

	id, err := h.svc.EnqueueSelectionRefresh(r.Context(), ownerID, force)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, EnqueueResponse{TaskID: id})
}

// ListSelections handles GET /owners/{id}/selections
func (h *Handler) ListSelections(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	sels, err := h.svc.ListSelections(r.Context(), ownerID, types.SelectionFilter{
		Search:   q.Get("search"),
		Language: q.Get("language"),
		Status:   types.SelectionStatus(q.Get("status")),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sels == nil {
		sels = []*types.RepositorySelection{}
	}
	h.writeJSON(w, http.StatusOK, sels)
}

// UpdateSelections handles POST /owners/{id}/selections/bulk-update
func (h *Handler) UpdateSelections(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req SelectionUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	n, err := h.svc.SetSelection(r.Context(), ownerID, req.RepositoryIDs, req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SelectionUpdateResponse{Updated: n})
}

// SyncSelected handles POST /owners/{id}/sync-selected
func (h *Handler) SyncSelected(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	id, n, err := h.svc.SyncSelected(r.Context(), ownerID)
	if errors.Is(err, types.ErrNothingSelected) {
		h.writeJSON(w, http.StatusOK, EnqueueResponse{Message: "no repositories selected for sync"})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, EnqueueResponse{TaskID: id, RepositoryCount: n})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, fmt.Errorf("%w: invalid id %q", types.ErrInvalidArgument, raw))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
