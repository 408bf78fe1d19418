package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// fakeService answers from canned values and records what it was asked.
type fakeService struct {
	tasks      map[string]*types.Task
	repos      map[int64]*types.Repository
	owners     []*types.Owner
	ownersErr  error
	enqueueErr error
	selectErr  error
	syncedN    int
	pingErr    error

	gotBulk   []int64
	gotForce  bool
	gotFilter types.SelectionFilter
	gotStatus types.SelectionStatus
}

func (f *fakeService) GetTask(id string) (*types.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	return t, nil
}

func (f *fakeService) ListActive() []*types.Task {
	var out []*types.Task
	for _, t := range f.tasks {
		if !t.IsTerminal() {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeService) Cancel(_ context.Context, id string) (*types.Task, error) {
	t, err := f.GetTask(id)
	if err != nil {
		return nil, err
	}
	if !t.IsTerminal() {
		t.CancelRequested = true
	}
	return t, nil
}

func (f *fakeService) EnqueueSingleSync(_ context.Context, id int64) (string, error) {
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	return fmt.Sprintf("single-%d", id), nil
}

func (f *fakeService) EnqueueBulkSync(_ context.Context, ids []int64) (string, error) {
	f.gotBulk = ids
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	return "bulk-1", nil
}

func (f *fakeService) EnqueueSelectionRefresh(_ context.Context, ownerID int64, force bool) (string, error) {
	f.gotForce = force
	return fmt.Sprintf("refresh-%d", ownerID), nil
}

func (f *fakeService) GetRepository(_ context.Context, id int64) (*types.Repository, error) {
	r, ok := f.repos[id]
	if !ok {
		return nil, fmt.Errorf("repository %d: %w", id, types.ErrNotFound)
	}
	return r, nil
}

func (f *fakeService) ListOwners(context.Context) ([]*types.Owner, error) {
	return f.owners, f.ownersErr
}

func (f *fakeService) ConnectOwner(_ context.Context, o *types.Owner) (*types.Owner, error) {
	if o.Login == "" {
		return nil, fmt.Errorf("%w: login is required", types.ErrInvalidArgument)
	}
	saved := *o
	saved.ID = 7
	return &saved, nil
}

func (f *fakeService) ListSelections(_ context.Context, _ int64, filter types.SelectionFilter) ([]*types.RepositorySelection, error) {
	f.gotFilter = filter
	return nil, nil
}

func (f *fakeService) SetSelection(_ context.Context, _ int64, ids []int64, status types.SelectionStatus) (int, error) {
	f.gotStatus = status
	if f.selectErr != nil {
		return 0, f.selectErr
	}
	return len(ids), nil
}

func (f *fakeService) SyncSelected(context.Context, int64) (string, int, error) {
	if f.syncedN == 0 {
		return "", 0, fmt.Errorf("owner 1: %w", types.ErrNothingSelected)
	}
	return "bulk-2", f.syncedN, nil
}

func (f *fakeService) Stats(context.Context) (*types.Stats, error) {
	return &types.Stats{
		Repositories: map[types.RepositorySyncStatus]int{types.RepoSyncCompleted: 3},
		Selections:   map[types.SelectionStatus]int{types.SelectionSelected: 2},
		Owners:       map[types.OwnerKind]int{types.OwnerOrganization: 1},
	}, nil
}

func (f *fakeService) Ping(context.Context) error { return f.pingErr }

func newTestRouter(t *testing.T, svc *fakeService) http.Handler {
	t.Helper()
	h := NewHandler(svc, zaptest.NewLogger(t))
	return NewRouter(h,
		WithHealth(svc),
		WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("gitpulse_up 1\n"))
		})),
	)
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := serve(h, method, target, body)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := &fakeService{tasks: map[string]*types.Task{
		"t1": {
			ID:           "t1",
			Spec:         types.BulkSync([]int64{1, 2}),
			Status:       types.TaskRunning,
			Progress:     50,
			ResultDetail: json.RawMessage(`{"total":2}`),
			CreatedAt:    started,
			StartedAt:    &started,
		},
	}}
	srv := newTestRouter(t, svc)

	resp, body := do(t, srv, http.MethodGet, "/api/v1/tasks/t1", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "t1", body["task_id"])
	assert.Equal(t, "bulk_sync", body["kind"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, 50.0, body["progress"])
	assert.Equal(t, map[string]any{"total": 2.0}, body["result_detail"])
	assert.NotContains(t, body, "finished_at")

	resp, body = do(t, srv, http.MethodGet, "/api/v1/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", body["error_kind"])
}

func TestCancelTask(t *testing.T) {
	t.Parallel()
	svc := &fakeService{tasks: map[string]*types.Task{
		"t1": {ID: "t1", Spec: types.SingleRepoSync(1), Status: types.TaskRunning},
	}}
	srv := newTestRouter(t, svc)

	for i := 0; i < 2; i++ {
		resp, body := do(t, srv, http.MethodDelete, "/api/v1/tasks/t1", "")
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, true, body["cancel_requested"])
		assert.Equal(t, "running", body["status"])
	}
}

func TestListActiveTasks(t *testing.T) {
	t.Parallel()
	svc := &fakeService{tasks: map[string]*types.Task{
		"a": {ID: "a", Spec: types.SingleRepoSync(1), Status: types.TaskPending},
		"b": {ID: "b", Spec: types.SingleRepoSync(2), Status: types.TaskSucceeded},
	}}
	srv := newTestRouter(t, svc)

	rec := serve(srv, http.MethodGet, "/api/v1/tasks?active=true", "")
	var tasks []TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "a", tasks[0].TaskID)

	bad, _ := do(t, srv, http.MethodGet, "/api/v1/tasks?active=false", "")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestBulkSync(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	srv := newTestRouter(t, svc)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/repositories/bulk-sync", `{"repository_ids":[3,1,3]}`)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, "bulk-1", body["task_id"])
	assert.Equal(t, []int64{3, 1, 3}, svc.gotBulk)

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/repositories/bulk-sync", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSyncRepository_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "conflict", err: fmt.Errorf("%w: repository 1 is covered", types.ErrConflict), status: http.StatusConflict, kind: "conflict"},
		{name: "not found", err: types.ErrNotFound, status: http.StatusNotFound, kind: "not_found"},
		{name: "queue full", err: types.ErrQueueFull, status: http.StatusServiceUnavailable, kind: "queue_full"},
		{name: "storage", err: types.ErrStorageUnavailable, status: http.StatusServiceUnavailable, kind: "storage_unavailable"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, kind: "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestRouter(t, &fakeService{enqueueErr: tt.err})

			resp, body := do(t, srv, http.MethodPost, "/api/v1/repositories/1/sync", "")
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.kind, body["error_kind"])
		})
	}

	srv := newTestRouter(t, &fakeService{})
	resp, body := do(t, srv, http.MethodPost, "/api/v1/repositories/9/sync", "")
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, "single-9", body["task_id"])

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/repositories/abc/sync", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetRepository(t *testing.T) {
	t.Parallel()
	synced := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)
	svc := &fakeService{repos: map[int64]*types.Repository{
		3: {
			ID:           3,
			OwnerID:      1,
			Name:         "hello",
			FullName:     "octo/hello",
			URL:          "https://github.com/octo/hello",
			Provider:     types.ProviderGitHub,
			SyncStatus:   types.RepoSyncFailed,
			SyncError:    "unauthorized",
			LastSyncedAt: &synced,
		},
		4: {ID: 4, FullName: "octo/new", SyncStatus: types.RepoSyncPending},
	}}
	srv := newTestRouter(t, svc)

	resp, body := do(t, srv, http.MethodGet, "/api/v1/repositories/3", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "octo/hello", body["full_name"])
	assert.Equal(t, string(types.RepoSyncFailed), body["sync_status"])
	assert.Equal(t, "unauthorized", body["sync_error"])
	assert.Equal(t, "2024-05-02T08:30:00Z", body["last_synced_at"])

	resp, body = do(t, srv, http.MethodGet, "/api/v1/repositories/4", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, string(types.RepoSyncPending), body["sync_status"])
	assert.NotContains(t, body, "sync_error")
	assert.NotContains(t, body, "last_synced_at")

	resp, body = do(t, srv, http.MethodGet, "/api/v1/repositories/99", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", body["error_kind"])

	resp, _ = do(t, srv, http.MethodGet, "/api/v1/repositories/0", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListOwners(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	srv := newTestRouter(t, svc)

	rec := serve(srv, http.MethodGet, "/api/v1/owners", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	svc.owners = []*types.Owner{
		{ID: 1, Kind: types.OwnerUser, Login: "octo", AccessToken: "secret"},
		{ID: 2, Kind: types.OwnerOrganization, Login: "acme"},
	}
	rec = serve(srv, http.MethodGet, "/api/v1/owners", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	var owners []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &owners))
	require.Len(t, owners, 2)
	assert.Equal(t, "octo", owners[0]["login"])
	assert.Equal(t, "organization", owners[1]["kind"])

	svc.ownersErr = types.ErrStorageUnavailable
	resp, _ := do(t, srv, http.MethodGet, "/api/v1/owners", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestOwners(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	srv := newTestRouter(t, svc)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/owners", `{"kind":"organization","login":"octo","access_token":"secret"}`)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, 7.0, body["id"])
	assert.NotContains(t, body, "access_token")

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/owners", `{"kind":"user"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, body = do(t, srv, http.MethodPost, "/api/v1/owners/7/refresh?force=true", "")
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, "refresh-7", body["task_id"])
	assert.True(t, svc.gotForce)

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/owners/7/refresh?force=maybe", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSelections(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	srv := newTestRouter(t, svc)

	rec := serve(srv, http.MethodGet, "/api/v1/owners/7/selections?search=api&language=go&status=selected", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var sels []any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sels))
	assert.NotNil(t, sels)
	assert.Equal(t, types.SelectionFilter{Search: "api", Language: "go", Status: types.SelectionSelected}, svc.gotFilter)

	upd, body := do(t, srv, http.MethodPost, "/api/v1/owners/7/selections/bulk-update", `{"repository_ids":[1,2],"status":"selected"}`)
	assert.Equal(t, http.StatusOK, upd.Code)
	assert.Equal(t, 2.0, body["updated"])
	assert.Equal(t, types.SelectionSelected, svc.gotStatus)

	svc.selectErr = fmt.Errorf("owner 7 repository 3: %w", types.ErrNotFound)
	upd, _ = do(t, srv, http.MethodPost, "/api/v1/owners/7/selections/bulk-update", `{"repository_ids":[1,3],"status":"selected"}`)
	assert.Equal(t, http.StatusNotFound, upd.Code)
}

func TestSyncSelected(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	srv := newTestRouter(t, svc)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/owners/7/sync-selected", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "no repositories selected for sync", body["message"])
	assert.NotContains(t, body, "task_id")

	svc.syncedN = 2
	resp, body = do(t, srv, http.MethodPost, "/api/v1/owners/7/sync-selected", "")
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, "bulk-2", body["task_id"])
	assert.Equal(t, 2.0, body["repository_count"])
}

func TestStatsHealthAndMetrics(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	srv := newTestRouter(t, svc)

	resp, body := do(t, srv, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, map[string]any{"completed": 3.0}, body["repository_sync"])
	assert.Equal(t, map[string]any{"organization": 1.0}, body["github_sources"])

	resp, body = do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", body["status"])

	svc.pingErr = errors.New("database is locked")
	resp, _ = do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	metrics := serve(srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "gitpulse_up")
}
