package syncer

import (
	"context"
	"time"

	"github.com/clintrovert/gitpulse/pkg/types"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=source.go CommitSource,CommitStore

// CommitSource pages through a repository's remote history.
type CommitSource interface {
	ListCommits(ctx context.Context, repo *types.Repository, cursor types.Cursor) (*types.CommitPage, error)
}

// CommitStore persists commits keyed by (repository, SHA) together with
// the point a repository's next sync resumes from.
type CommitStore interface {
	SyncedThrough(ctx context.Context, repositoryID int64) (*time.Time, error)
	SetSyncedThrough(ctx context.Context, repositoryID int64, at time.Time) error
	UpsertCommits(ctx context.Context, repositoryID int64, commits []types.CommitRecord) (int, error)
}
