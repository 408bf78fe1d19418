package orchestrator

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/clintrovert/gitpulse/internal/syncer"
	"github.com/clintrovert/gitpulse/pkg/types"
)

// runRefresh lists an owner's remote repositories and upserts them as
// selections. Without Force, a refresh inside the freshness window is
// served from the stored snapshot.
func (o *Orchestrator) runRefresh(ctx context.Context, t *types.Task) {
	persist := context.WithoutCancel(ctx)
	detail := types.RefreshDetail{OwnerID: t.Spec.OwnerID}

	fail := func(err error) {
		if ctx.Err() != nil {
			status, kind := o.stopStatus(t)
			detail.Error = err.Error()
			detail.ErrorKind = kind
			o.finish(persist, t, status, detail)
			return
		}
		detail.Error = err.Error()
		detail.ErrorKind = types.ErrorKind(err)
		o.logger.Warn("selection refresh failed",
			zap.String("task_id", t.ID),
			zap.Int64("owner_id", t.Spec.OwnerID),
			zap.Error(err),
		)
		o.finish(persist, t, types.TaskFailed, detail)
	}

	owner, err := o.store.GetOwner(ctx, t.Spec.OwnerID)
	if err != nil {
		fail(err)
		return
	}

	if !t.Spec.Force && owner.LastRefreshedAt != nil &&
		o.now().Sub(*owner.LastRefreshedAt) < o.opts.RefreshFreshness {
		detail.Cached = true
		o.finish(persist, t, types.TaskSucceeded, detail)
		return
	}

	repos, err := syncer.Run(ctx, o.retrier, func(ctx context.Context) ([]types.RemoteRepoMetadata, error) {
		return o.lister.ListRepositories(ctx, owner)
	})
	if err != nil {
		fail(err)
		return
	}
	o.reportProgress(ctx, t.ID, 50)

	created, err := o.store.UpsertDiscovered(persist, owner.ID, repos)
	if err != nil {
		fail(err)
		return
	}
	if err := o.store.TouchOwnerRefreshed(persist, owner.ID, o.now()); err != nil {
		fail(err)
		return
	}

	detail.Discovered = len(repos)
	detail.Created = created
	o.logger.Info("refreshed selections",
		zap.String("task_id", t.ID),
		zap.Int64("owner_id", owner.ID),
		zap.String("login", owner.Login),
		zap.Int("discovered", len(repos)),
		zap.Int("created", created),
	)
	o.finish(persist, t, types.TaskSucceeded, detail)
}

// RunPeriodicRefresh enqueues a non-forced refresh for every connected
// owner each interval until ctx is done. The first round starts after a
// random delay of up to a tenth of the interval.
func (o *Orchestrator) RunPeriodicRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	jitter := time.Duration(rand.Int64N(int64(interval)/10 + 1))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("stopping periodic refresh")
			return
		case <-ticker.C:
			o.refreshAll(ctx)
		}
	}
}

func (o *Orchestrator) refreshAll(ctx context.Context) {
	owners, err := o.store.ListOwners(ctx)
	if err != nil {
		o.logger.Error("failed to list owners", zap.Error(err))
		return
	}

	for _, owner := range owners {
		if ctx.Err() != nil {
			return
		}
		id, err := o.EnqueueSelectionRefresh(ctx, owner.ID, false)
		if err != nil {
			o.logger.Error("failed to enqueue periodic refresh",
				zap.Int64("owner_id", owner.ID),
				zap.Error(err),
			)
			continue
		}
		o.logger.Debug("enqueued periodic refresh",
			zap.Int64("owner_id", owner.ID),
			zap.String("task_id", id),
		)
	}
}
