// Package orchestrator schedules sync and selection refresh tasks onto a
// bounded worker pool and enforces that at most one active task covers a
// repository.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/clintrovert/gitpulse/internal/metrics"
	"github.com/clintrovert/gitpulse/internal/registry"
	"github.com/clintrovert/gitpulse/internal/syncer"
	"github.com/clintrovert/gitpulse/pkg/types"
)

// Store is the persistence the orchestrator reads and writes outside the
// task registry.
type Store interface {
	GetRepository(ctx context.Context, id int64) (*types.Repository, error)
	SetRepositorySyncState(ctx context.Context, id int64, status types.RepositorySyncStatus, syncErr string, syncedAt *time.Time) error
	EnsureRepositoryForSelection(ctx context.Context, ownerID, remoteRepoID int64) (*types.Repository, error)

	UpsertOwner(ctx context.Context, o *types.Owner) (*types.Owner, error)
	GetOwner(ctx context.Context, id int64) (*types.Owner, error)
	ListOwners(ctx context.Context) ([]*types.Owner, error)
	TouchOwnerRefreshed(ctx context.Context, id int64, at time.Time) error

	UpsertDiscovered(ctx context.Context, ownerID int64, repos []types.RemoteRepoMetadata) (int, error)
	SetSelectionStatus(ctx context.Context, ownerID int64, remoteRepoIDs []int64, status types.SelectionStatus) (int, error)
	MarkSynced(ctx context.Context, repositoryIDs []int64, at time.Time) error
	ListSelections(ctx context.Context, ownerID int64, filter types.SelectionFilter) ([]*types.RepositorySelection, error)

	Stats(ctx context.Context) (*types.Stats, error)
}

const (
	finishAttempts = 4
	finishBackoff  = 100 * time.Millisecond
)

// Options sizes the worker pool.
type Options struct {
	Workers          int
	QueueSize        int
	BulkConcurrency  int
	RefreshFreshness time.Duration
}

// job is one queued task together with its cancellation token.
type job struct {
	task *types.Task
	ctx  context.Context
}

// Orchestrator owns the worker pool and the per-repository bookkeeping.
type Orchestrator struct {
	registry *registry.Registry
	store    Store
	engine   Syncer
	lister   RepositoryLister
	retrier  *syncer.Retrier
	metrics  *metrics.Metrics
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	queue    chan *job
	base     context.Context
	shutdown context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	start    sync.Once
	stop     sync.Once

	mu sync.Mutex
	// covered maps a repository to the active tasks that still have to
	// process it.
	covered map[int64]map[string]types.TaskKind
	// leases maps a repository to the task currently syncing it.
	leases     map[int64]string
	cancels    map[string]context.CancelFunc
	refreshing map[int64]refresh
}

// refresh is the active selection refresh of an owner.
type refresh struct {
	taskID string
	force  bool
}

// NewOrchestrator creates a new orchestrator. Workers are started by Start.
func NewOrchestrator(
	reg *registry.Registry,
	store Store,
	engine Syncer,
	lister RepositoryLister,
	retrier *syncer.Retrier,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.BulkConcurrency < 1 {
		opts.BulkConcurrency = 1
	}

	base, shutdown := context.WithCancel(context.Background())
	return &Orchestrator{
		registry:   reg,
		store:      store,
		engine:     engine,
		lister:     lister,
		retrier:    retrier,
		metrics:    m,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		queue:      make(chan *job, opts.QueueSize),
		base:       base,
		shutdown:   shutdown,
		done:       make(chan struct{}),
		covered:    make(map[int64]map[string]types.TaskKind),
		leases:     make(map[int64]string),
		cancels:    make(map[string]context.CancelFunc),
		refreshing: make(map[int64]refresh),
	}
}

// Start launches the workers. They run until ctx is done or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.start.Do(func() {
		o.logger.Info("starting orchestrator",
			zap.Int("workers", o.opts.Workers),
			zap.Int("queue_size", o.opts.QueueSize),
		)
		for i := 0; i < o.opts.Workers; i++ {
			o.wg.Add(1)
			go o.worker(ctx, i)
		}
	})
}

// Stop cancels in-flight tasks and waits for the workers to return. Queued
// tasks stay pending and are marked interrupted by the next Recover.
func (o *Orchestrator) Stop() {
	o.stop.Do(func() {
		close(o.done)
		o.shutdown()
	})
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case j := <-o.queue:
			o.metrics.WorkerBusy(1)
			o.run(j)
			o.metrics.WorkerBusy(-1)
		}
	}
}

// run executes one task. It is the only writer of the task's status once
// the task is running.
func (o *Orchestrator) run(j *job) {
	t := j.task
	defer o.settle(t.ID)

	persist := context.WithoutCancel(j.ctx)
	running, err := o.registry.MarkRunning(persist, t.ID)
	if err != nil {
		o.logger.Error("failed to start task", zap.String("task_id", t.ID), zap.Error(err))
		if !errors.Is(err, types.ErrInvalidTransition) {
			o.finish(persist, t, types.TaskFailed, types.FailureDetail{
				Error:     err.Error(),
				ErrorKind: types.ErrorKind(err),
			})
		}
		return
	}
	if running.Status != types.TaskRunning {
		// Cancelled while queued.
		o.metrics.TaskFinished(string(t.Spec.Kind), string(running.Status))
		return
	}

	o.logger.Info("processing task",
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Spec.Kind)),
	)

	switch t.Spec.Kind {
	case types.KindSingleRepoSync, types.KindBulkSync:
		o.runSync(j.ctx, running)
	case types.KindSelectionRefresh:
		o.runRefresh(j.ctx, running)
	default:
		o.finish(persist, running, types.TaskFailed, types.FailureDetail{
			Error:     "unknown task kind " + string(t.Spec.Kind),
			ErrorKind: types.ErrorKind(types.ErrInvalidArgument),
		})
	}
}

// finish writes a terminal status and drops the task's bookkeeping in the
// same critical section, so no enqueue observes a finished task still
// covering its repositories. It never uses the task's own token, which may
// already be cancelled. A write storage keeps rejecting is retried, then
// applied in memory only; finish reports whether the result was persisted.
func (o *Orchestrator) finish(ctx context.Context, t *types.Task, status types.TaskStatus, detail any) bool {
	ctx = context.WithoutCancel(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = finishBackoff
	done, err := backoff.Retry(ctx, func() (*types.Task, error) {
		done, err := o.mark(ctx, t.ID, status, detail)
		if err != nil && !errors.Is(err, types.ErrStorageUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return done, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(finishAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}

	persisted := err == nil
	if errors.Is(err, types.ErrStorageUnavailable) {
		o.logger.Error("failed to persist task result",
			zap.String("task_id", t.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		done, err = o.registry.Abandon(t.ID, status, detail)
	}
	if err != nil {
		// The task stays active and keeps its repositories covered.
		o.logger.Error("failed to record task result",
			zap.String("task_id", t.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return false
	}
	o.releaseLocked(t.ID)
	o.metrics.TaskFinished(string(t.Spec.Kind), string(done.Status))
	return persisted
}

func (o *Orchestrator) mark(ctx context.Context, id string, status types.TaskStatus, detail any) (*types.Task, error) {
	switch status {
	case types.TaskSucceeded:
		return o.registry.MarkSucceeded(ctx, id, detail)
	case types.TaskCancelled:
		return o.registry.MarkCancelled(ctx, id, detail)
	default:
		return o.registry.MarkFailed(ctx, id, detail)
	}
}

// settle drops the bookkeeping of a task that has reached a terminal state.
// A task the registry still reports active keeps covering its repositories,
// so no second task can sync them behind its back.
func (o *Orchestrator) settle(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, err := o.registry.Get(id); err == nil && !t.IsTerminal() {
		o.logger.Error("task left active", zap.String("task_id", id))
		return
	}
	o.releaseLocked(id)
}

// stopStatus decides how a task whose token fired ends: cancelled when a
// caller asked for it, failed as interrupted when the process is stopping.
func (o *Orchestrator) stopStatus(t *types.Task) (types.TaskStatus, string) {
	cur, err := o.registry.Get(t.ID)
	if err == nil && cur.CancelRequested {
		return types.TaskCancelled, types.ErrorKind(types.ErrCancelled)
	}
	return types.TaskFailed, "interrupted"
}

// GetTask returns a snapshot of one task.
func (o *Orchestrator) GetTask(id string) (*types.Task, error) {
	return o.registry.Get(id)
}

// ListActive returns pending and running tasks, oldest first.
func (o *Orchestrator) ListActive() []*types.Task {
	return o.registry.ListActive()
}

// Cancel requests cancellation of a task and fires its token. Cancelling a
// terminal task is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*types.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, err := o.registry.RequestCancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if cancel := o.cancels[id]; cancel != nil {
		cancel()
	}
	// A task cancelled before it started no longer covers its repositories.
	if t.IsTerminal() {
		o.releaseLocked(id)
	}

	o.logger.Info("cancel requested",
		zap.String("task_id", id),
		zap.String("status", string(t.Status)),
	)
	return t, nil
}

// releaseLocked drops every piece of bookkeeping held for a task.
func (o *Orchestrator) releaseLocked(id string) {
	if cancel, ok := o.cancels[id]; ok {
		cancel()
		delete(o.cancels, id)
	}
	for repo, tasks := range o.covered {
		delete(tasks, id)
		if len(tasks) == 0 {
			delete(o.covered, repo)
		}
	}
	for repo, holder := range o.leases {
		if holder == id {
			delete(o.leases, repo)
		}
	}
	for owner, active := range o.refreshing {
		if active.taskID == id {
			delete(o.refreshing, owner)
		}
	}
}
