package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// runSync executes single and bulk sync tasks. Members run in the given
// order with at most BulkConcurrency in flight; a failure never stops its
// siblings.
func (o *Orchestrator) runSync(ctx context.Context, t *types.Task) {
	ids := t.Spec.Repositories()
	results := make([]types.RepositoryResult, len(ids))

	var progress func(int)
	if t.Spec.Kind == types.KindSingleRepoSync {
		progress = func(p int) { o.reportProgress(ctx, t.ID, p) }
	}

	var completed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(o.opts.BulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = o.syncMember(ctx, t.ID, id, progress)
			n := completed.Add(1)
			if progress == nil {
				o.reportProgress(ctx, t.ID, int(100*n/int64(len(ids))))
			}
			return nil
		})
	}
	_ = g.Wait()

	o.complete(ctx, t, results)
}

// syncMember syncs one repository of a task under its lease.
func (o *Orchestrator) syncMember(ctx context.Context, taskID string, repoID int64, progress func(int)) types.RepositoryResult {
	defer o.doneWith(repoID, taskID)

	res := types.RepositoryResult{RepositoryID: repoID}
	if ctx.Err() != nil {
		res.Outcome = types.OutcomeCancelled
		return res
	}

	if holder, ok := o.acquire(repoID, taskID); !ok {
		o.logger.Info("skipping repository covered by another task",
			zap.String("task_id", taskID),
			zap.Int64("repository_id", repoID),
			zap.String("covered_by", holder),
		)
		res.Outcome = types.OutcomeSkipped
		res.SkippedBy = holder
		return res
	}

	return o.syncRepository(ctx, taskID, repoID, progress)
}

// syncRepository runs the engine for one repository and mirrors the outcome
// onto the repository row.
func (o *Orchestrator) syncRepository(ctx context.Context, taskID string, repoID int64, progress func(int)) types.RepositoryResult {
	res := types.RepositoryResult{RepositoryID: repoID}
	persist := context.WithoutCancel(ctx)

	repo, err := o.store.GetRepository(ctx, repoID)
	if err != nil {
		return failedResult(ctx, res, err)
	}
	if err := o.store.SetRepositorySyncState(persist, repoID, types.RepoSyncSyncing, "", nil); err != nil {
		return failedResult(ctx, res, err)
	}

	started := time.Now()
	out, err := o.engine.Sync(ctx, repo, progress)
	res = failedResult(ctx, res, err)
	if err == nil {
		res.Outcome = types.OutcomeSucceeded
		res.NewCommitCount = out.NewCommitCount
	} else if out != nil {
		res.NewCommitCount = out.NewCommitCount
	}
	o.metrics.ObserveSync(string(res.Outcome), time.Since(started))

	if err == nil {
		err = o.store.SetRepositorySyncState(persist, repoID, types.RepoSyncCompleted, "", &out.UpdatedAt)
	} else {
		err = o.store.SetRepositorySyncState(persist, repoID, types.RepoSyncFailed, res.Error, nil)
	}
	if err != nil {
		o.logger.Error("failed to record repository sync state",
			zap.String("task_id", taskID),
			zap.Int64("repository_id", repoID),
			zap.Error(err),
		)
	}

	if res.Outcome == types.OutcomeFailed {
		o.logger.Warn("repository sync failed",
			zap.String("task_id", taskID),
			zap.Int64("repository_id", repoID),
			zap.String("error_kind", res.ErrorKind),
			zap.String("error", res.Error),
		)
	}
	return res
}

// failedResult fills the failure fields for err. Cancellation of the task's
// token is its own outcome. A nil err leaves res untouched.
func failedResult(ctx context.Context, res types.RepositoryResult, err error) types.RepositoryResult {
	if err == nil {
		return res
	}
	res.Outcome = types.OutcomeFailed
	if ctx.Err() != nil {
		res.Outcome = types.OutcomeCancelled
	}
	res.Error = err.Error()
	res.ErrorKind = types.ErrorKind(err)
	return res
}

// complete aggregates member outcomes into the task's terminal state. The
// task succeeds only if every member that was not skipped succeeded; only
// then are the synced selections recorded.
func (o *Orchestrator) complete(ctx context.Context, t *types.Task, results []types.RepositoryResult) {
	persist := context.WithoutCancel(ctx)
	detail := types.SyncDetail{Total: len(results), Repositories: results}

	var succeeded []int64
	var firstFailure *types.RepositoryResult
	for i, r := range results {
		detail.NewCommits += r.NewCommitCount
		switch r.Outcome {
		case types.OutcomeSucceeded:
			detail.Succeeded++
			succeeded = append(succeeded, r.RepositoryID)
		case types.OutcomeFailed:
			detail.Failed++
			if firstFailure == nil {
				firstFailure = &results[i]
			}
		case types.OutcomeSkipped:
			detail.Skipped++
		case types.OutcomeCancelled:
			detail.Cancelled++
		}
	}

	switch {
	case detail.Cancelled > 0:
		status, kind := o.stopStatus(t)
		detail.Error = fmt.Sprintf("stopped after %d of %d repositories", detail.Total-detail.Cancelled, detail.Total)
		detail.ErrorKind = kind
		o.finish(persist, t, status, detail)

	case detail.Failed == 0:
		// Selections follow the stored task: a result that was never
		// persisted leaves them selected for the next run.
		if !o.finish(persist, t, types.TaskSucceeded, detail) || len(succeeded) == 0 {
			return
		}
		if err := o.store.MarkSynced(persist, succeeded, o.now()); err != nil {
			o.logger.Error("failed to mark selections synced",
				zap.String("task_id", t.ID),
				zap.Error(err),
			)
		}

	default:
		if detail.Succeeded > 0 {
			detail.Error = fmt.Sprintf("%d of %d repositories failed", detail.Failed, detail.Total)
			detail.ErrorKind = types.ErrorKind(types.ErrPartialFailure)
		} else {
			detail.Error = firstFailure.Error
			detail.ErrorKind = firstFailure.ErrorKind
		}
		o.finish(persist, t, types.TaskFailed, detail)
	}
}

func (o *Orchestrator) reportProgress(ctx context.Context, taskID string, percent int) {
	if err := o.registry.UpdateProgress(context.WithoutCancel(ctx), taskID, percent); err != nil {
		o.logger.Debug("dropped progress update",
			zap.String("task_id", taskID),
			zap.Int("progress", percent),
			zap.Error(err),
		)
	}
}
