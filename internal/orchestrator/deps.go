package orchestrator

//go:generate mockgen -destination=mocks/mock_deps.go -package=mocks -source=deps.go Syncer,RepositoryLister

import (
	"context"

	"github.com/clintrovert/gitpulse/internal/syncer"
	"github.com/clintrovert/gitpulse/pkg/types"
)

// Syncer pulls one repository's history into the store.
type Syncer interface {
	Sync(ctx context.Context, repo *types.Repository, progress func(int)) (*syncer.Result, error)
}

// RepositoryLister lists an owner's remote repositories.
type RepositoryLister interface {
	ListRepositories(ctx context.Context, owner *types.Owner) ([]types.RemoteRepoMetadata, error)
}
