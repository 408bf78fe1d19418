package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// EnqueueSingleSync registers a sync of one repository and returns its task
// id. It fails with ErrConflict while any active task still covers the
// repository.
func (o *Orchestrator) EnqueueSingleSync(ctx context.Context, repositoryID int64) (string, error) {
	if _, err := o.store.GetRepository(ctx, repositoryID); err != nil {
		return "", err
	}

	o.mu.Lock()
	if holder, ok := o.coveringLocked(repositoryID); ok {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: repository %d is covered by active task %s", types.ErrConflict, repositoryID, holder)
	}
	t, err := o.createLocked(ctx, types.SingleRepoSync(repositoryID))
	o.mu.Unlock()
	if err != nil {
		return "", err
	}

	return t.ID, o.submit(ctx, t)
}

// EnqueueBulkSync registers one task syncing every listed repository.
// Duplicate ids are dropped, order is kept. Repositories covered by another
// active single sync are skipped when the task reaches them.
func (o *Orchestrator) EnqueueBulkSync(ctx context.Context, repositoryIDs []int64) (string, error) {
	ids := dedupe(repositoryIDs)
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: no repositories given", types.ErrInvalidArgument)
	}
	for _, id := range ids {
		if _, err := o.store.GetRepository(ctx, id); err != nil {
			return "", err
		}
	}

	o.mu.Lock()
	t, err := o.createLocked(ctx, types.BulkSync(ids))
	o.mu.Unlock()
	if err != nil {
		return "", err
	}

	return t.ID, o.submit(ctx, t)
}

// EnqueueSelectionRefresh registers a refresh of an owner's remote
// repository list. While a refresh for the owner is active its id is
// returned instead of creating another, unless force is asked of an active
// refresh that may be served from the stored snapshot.
func (o *Orchestrator) EnqueueSelectionRefresh(ctx context.Context, ownerID int64, force bool) (string, error) {
	if _, err := o.store.GetOwner(ctx, ownerID); err != nil {
		return "", err
	}

	o.mu.Lock()
	if active, ok := o.refreshing[ownerID]; ok && (active.force || !force) {
		o.mu.Unlock()
		o.logger.Debug("refresh already active",
			zap.Int64("owner_id", ownerID),
			zap.String("task_id", active.taskID),
		)
		return active.taskID, nil
	}
	t, err := o.createLocked(ctx, types.SelectionRefresh(ownerID, force))
	o.mu.Unlock()
	if err != nil {
		return "", err
	}

	return t.ID, o.submit(ctx, t)
}

// createLocked registers the task and its bookkeeping. o.mu must be held so
// the coverage check and the registration are one step.
func (o *Orchestrator) createLocked(ctx context.Context, spec types.TaskSpec) (*types.Task, error) {
	t, err := o.registry.Create(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to register task: %w", err)
	}

	for _, repo := range spec.Repositories() {
		tasks, ok := o.covered[repo]
		if !ok {
			tasks = make(map[string]types.TaskKind)
			o.covered[repo] = tasks
		}
		tasks[t.ID] = spec.Kind
	}
	if spec.Kind == types.KindSelectionRefresh {
		o.refreshing[spec.OwnerID] = refresh{taskID: t.ID, force: spec.Force}
	}
	return t, nil
}

// submit hands the task to the pool without blocking. A full queue fails
// the task.
func (o *Orchestrator) submit(ctx context.Context, t *types.Task) error {
	taskCtx, cancel := context.WithCancel(o.base)
	o.mu.Lock()
	o.cancels[t.ID] = cancel
	o.mu.Unlock()

	select {
	case o.queue <- &job{task: t, ctx: taskCtx}:
		o.metrics.TaskEnqueued(string(t.Spec.Kind))
		return nil
	default:
	}

	o.logger.Warn("work queue is full",
		zap.String("task_id", t.ID),
		zap.Int("queue_size", o.opts.QueueSize),
	)
	o.finish(ctx, t, types.TaskFailed, types.FailureDetail{
		Error:     types.ErrQueueFull.Error(),
		ErrorKind: types.ErrorKind(types.ErrQueueFull),
	})
	o.settle(t.ID)
	return fmt.Errorf("failed to enqueue task %s: %w", t.ID, types.ErrQueueFull)
}

// coveringLocked reports an active task that still has to process repo.
func (o *Orchestrator) coveringLocked(repo int64) (string, bool) {
	if holder, ok := o.leases[repo]; ok {
		return holder, true
	}
	for id := range o.covered[repo] {
		return id, true
	}
	return "", false
}

// acquire takes the repository lease for a task. It fails, naming the
// holder, when another task is syncing repo or an active single sync of
// another task covers it.
func (o *Orchestrator) acquire(repo int64, taskID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if holder, ok := o.leases[repo]; ok && holder != taskID {
		return holder, false
	}
	for id, kind := range o.covered[repo] {
		if id != taskID && kind == types.KindSingleRepoSync {
			return id, false
		}
	}
	o.leases[repo] = taskID
	return "", true
}

// doneWith releases a task's lease on repo and its coverage of it.
func (o *Orchestrator) doneWith(repo int64, taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.leases[repo] == taskID {
		delete(o.leases, repo)
	}
	if tasks, ok := o.covered[repo]; ok {
		delete(tasks, taskID)
		if len(tasks) == 0 {
			delete(o.covered, repo)
		}
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
