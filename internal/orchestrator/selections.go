package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// ConnectOwner stores a GitHub user or organization with its credential.
func (o *Orchestrator) ConnectOwner(ctx context.Context, owner *types.Owner) (*types.Owner, error) {
	saved, err := o.store.UpsertOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	o.logger.Info("connected owner",
		zap.Int64("owner_id", saved.ID),
		zap.String("kind", string(saved.Kind)),
		zap.String("login", saved.Login),
	)
	return saved, nil
}

// ListOwners returns every connected owner.
func (o *Orchestrator) ListOwners(ctx context.Context) ([]*types.Owner, error) {
	return o.store.ListOwners(ctx)
}

// GetRepository returns a repository with its sync state.
func (o *Orchestrator) GetRepository(ctx context.Context, id int64) (*types.Repository, error) {
	return o.store.GetRepository(ctx, id)
}

// SetSelection applies status to every listed remote repository of the
// owner, or to none of them.
func (o *Orchestrator) SetSelection(ctx context.Context, ownerID int64, remoteRepoIDs []int64, status types.SelectionStatus) (int, error) {
	if status != types.SelectionSelected && status != types.SelectionDeselected {
		return 0, fmt.Errorf("%w: status must be selected or deselected, got %q", types.ErrInvalidArgument, status)
	}
	ids := dedupe(remoteRepoIDs)
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no repositories given", types.ErrInvalidArgument)
	}
	return o.store.SetSelectionStatus(ctx, ownerID, ids, status)
}

// ListSelections returns the owner's selections matching filter.
func (o *Orchestrator) ListSelections(ctx context.Context, ownerID int64, filter types.SelectionFilter) ([]*types.RepositorySelection, error) {
	if _, err := o.store.GetOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	return o.store.ListSelections(ctx, ownerID, filter)
}

// SyncSelected enqueues one bulk sync over the owner's currently selected
// repositories, creating local repository records where needed. It returns
// ErrNothingSelected when there is nothing to sync.
func (o *Orchestrator) SyncSelected(ctx context.Context, ownerID int64) (string, int, error) {
	if _, err := o.store.GetOwner(ctx, ownerID); err != nil {
		return "", 0, err
	}

	selected, err := o.store.ListSelections(ctx, ownerID, types.SelectionFilter{Status: types.SelectionSelected})
	if err != nil {
		return "", 0, err
	}
	if len(selected) == 0 {
		return "", 0, fmt.Errorf("owner %d: %w", ownerID, types.ErrNothingSelected)
	}

	ids := make([]int64, 0, len(selected))
	for _, sel := range selected {
		repo, err := o.store.EnsureRepositoryForSelection(ctx, ownerID, sel.RemoteRepoID)
		if err != nil {
			return "", 0, fmt.Errorf("failed to prepare repository %d: %w", sel.RemoteRepoID, err)
		}
		ids = append(ids, repo.ID)
	}

	id, err := o.EnqueueBulkSync(ctx, ids)
	if err != nil {
		return "", 0, err
	}
	return id, len(ids), nil
}

// Stats returns dashboard counts.
func (o *Orchestrator) Stats(ctx context.Context) (*types.Stats, error) {
	return o.store.Stats(ctx)
}
