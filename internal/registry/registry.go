// Package registry tracks task lifecycle state in memory and writes every
// transition through to persistent storage.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// Store persists tasks.
type Store interface {
	SaveTask(ctx context.Context, t *types.Task) error
	ListTasks(ctx context.Context) ([]*types.Task, error)
}

// Registry is the source of truth for task state. All methods are safe for
// concurrent use and return copies.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*types.Task
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a registry backed by store
func New(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		tasks:  make(map[string]*types.Task),
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Recover loads persisted tasks. Tasks a previous process left pending or
// running can never finish, so they are marked failed.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	tasks, err := r.store.ListTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load tasks: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	interrupted := 0
	for _, t := range tasks {
		if !t.IsTerminal() {
			next := t.Clone()
			now := r.now()
			next.Status = types.TaskFailed
			next.FinishedAt = &now
			next.ResultDetail = mustJSON(types.FailureDetail{
				Error:     "interrupted by restart",
				ErrorKind: "interrupted",
			})
			if err := r.store.SaveTask(ctx, next); err != nil {
				return interrupted, storageErr(err)
			}
			t = next
			interrupted++
		}
		r.tasks[t.ID] = t
	}

	if interrupted > 0 {
		r.logger.Warn("marked interrupted tasks failed", zap.Int("count", interrupted))
	}
	return interrupted, nil
}

// Create registers a new pending task.
func (r *Registry) Create(ctx context.Context, spec types.TaskSpec) (*types.Task, error) {
	t := &types.Task{
		ID:        uuid.NewString(),
		Spec:      spec,
		Status:    types.TaskPending,
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SaveTask(ctx, t); err != nil {
		return nil, storageErr(err)
	}
	r.tasks[t.ID] = t

	r.logger.Info("created task",
		zap.String("task_id", t.ID),
		zap.String("kind", string(spec.Kind)),
	)
	return t.Clone(), nil
}

// Get returns a snapshot of one task.
func (r *Registry) Get(id string) (*types.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	return t.Clone(), nil
}

// ListActive returns pending and running tasks, oldest first.
func (r *Registry) ListActive() []*types.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Task
	for _, t := range r.tasks {
		if !t.IsTerminal() {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MarkRunning moves a pending task to running. A task that is already
// terminal (cancelled while queued) is returned unchanged so the caller can
// skip it.
func (r *Registry) MarkRunning(ctx context.Context, id string) (*types.Task, error) {
	return r.transition(ctx, id, func(t *types.Task) (bool, error) {
		switch t.Status {
		case types.TaskPending:
			now := r.now()
			t.Status = types.TaskRunning
			t.StartedAt = &now
			return true, nil
		case types.TaskRunning:
			return false, fmt.Errorf("%w: task %s is already running", types.ErrInvalidTransition, t.ID)
		default:
			return false, nil
		}
	})
}

// UpdateProgress records progress on a running task. Values are clamped to
// 0..100 and never move backwards.
func (r *Registry) UpdateProgress(ctx context.Context, id string, percent int) error {
	_, err := r.transition(ctx, id, func(t *types.Task) (bool, error) {
		if t.IsTerminal() {
			return false, fmt.Errorf("%w: task %s is %s", types.ErrInvalidTransition, t.ID, t.Status)
		}
		percent = min(max(percent, 0), 100)
		if percent <= t.Progress {
			return false, nil
		}
		t.Progress = percent
		return true, nil
	})
	return err
}

// MarkSucceeded finishes a task successfully.
func (r *Registry) MarkSucceeded(ctx context.Context, id string, detail any) (*types.Task, error) {
	return r.finish(ctx, id, types.TaskSucceeded, detail)
}

// MarkFailed finishes a task with a failure.
func (r *Registry) MarkFailed(ctx context.Context, id string, detail any) (*types.Task, error) {
	return r.finish(ctx, id, types.TaskFailed, detail)
}

// MarkCancelled finishes a task as cancelled.
func (r *Registry) MarkCancelled(ctx context.Context, id string, detail any) (*types.Task, error) {
	return r.finish(ctx, id, types.TaskCancelled, detail)
}

// finish applies a terminal status. Finishing an already terminal task is a
// no-op that returns the existing state.
func (r *Registry) finish(ctx context.Context, id string, status types.TaskStatus, detail any) (*types.Task, error) {
	raw, err := encodeDetail(detail)
	if err != nil {
		return nil, err
	}

	t, err := r.transition(ctx, id, func(t *types.Task) (bool, error) {
		if t.IsTerminal() {
			return false, nil
		}
		return true, r.terminate(t, status, raw)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("task finished",
		zap.String("task_id", id),
		zap.String("status", string(t.Status)),
	)
	return t, nil
}

// Abandon applies a terminal status in memory only, for when storage keeps
// rejecting the write. The stored row stays active until the next Recover
// marks it interrupted.
func (r *Registry) Abandon(id string, status types.TaskStatus, detail any) (*types.Task, error) {
	raw, err := encodeDetail(detail)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	if cur.IsTerminal() {
		return cur.Clone(), nil
	}

	next := cur.Clone()
	if err := r.terminate(next, status, raw); err != nil {
		return nil, err
	}
	r.tasks[id] = next

	r.logger.Warn("task finished without being persisted",
		zap.String("task_id", id),
		zap.String("status", string(status)),
	)
	return next.Clone(), nil
}

// terminate moves an active task to status. A pending task may fail or be
// cancelled without running, but only a started task can succeed.
func (r *Registry) terminate(t *types.Task, status types.TaskStatus, detail json.RawMessage) error {
	if t.Status == types.TaskPending && status == types.TaskSucceeded {
		return fmt.Errorf("%w: task %s never started", types.ErrInvalidTransition, t.ID)
	}

	now := r.now()
	t.Status = status
	t.FinishedAt = &now
	if t.StartedAt == nil && status != types.TaskCancelled {
		t.StartedAt = &now
	}
	if status == types.TaskSucceeded {
		t.Progress = 100
	}
	t.ResultDetail = detail
	return nil
}

func encodeDetail(detail any) (json.RawMessage, error) {
	if detail == nil {
		return nil, nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result detail: %w", err)
	}
	return b, nil
}

// RequestCancel sets the cancellation flag. A pending task becomes
// cancelled immediately; a running task is left for its worker to stop;
// terminal tasks are returned unchanged.
func (r *Registry) RequestCancel(ctx context.Context, id string) (*types.Task, error) {
	return r.transition(ctx, id, func(t *types.Task) (bool, error) {
		switch {
		case t.IsTerminal():
			return false, nil
		case t.Status == types.TaskPending:
			now := r.now()
			t.CancelRequested = true
			t.Status = types.TaskCancelled
			t.FinishedAt = &now
			t.ResultDetail = mustJSON(types.FailureDetail{Error: "cancelled before start", ErrorKind: "cancelled"})
			return true, nil
		case t.CancelRequested:
			return false, nil
		default:
			t.CancelRequested = true
			return true, nil
		}
	})
}

// transition mutates a copy of the task, persists it, and only then swaps
// it into memory. mutate returns whether anything changed.
func (r *Registry) transition(ctx context.Context, id string, mutate func(t *types.Task) (bool, error)) (*types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}

	next := cur.Clone()
	changed, err := mutate(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return cur.Clone(), nil
	}

	if err := r.store.SaveTask(ctx, next); err != nil {
		return nil, storageErr(err)
	}
	r.tasks[id] = next
	return next.Clone(), nil
}

func storageErr(err error) error {
	if errors.Is(err, types.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
