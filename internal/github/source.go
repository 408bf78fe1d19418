package github

import (
	"context"
	"fmt"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// CommitLister returns one page of a repository's history.
type CommitLister interface {
	ListCommits(ctx context.Context, repo *types.Repository, cursor types.Cursor) (*types.CommitPage, error)
}

// Router sends each repository to the commit source serving its provider.
type Router struct {
	API    CommitLister
	Mirror CommitLister
}

// ListCommits implements the sync engine's commit source.
func (r *Router) ListCommits(ctx context.Context, repo *types.Repository, cursor types.Cursor) (*types.CommitPage, error) {
	switch repo.Provider {
	case types.ProviderGitHub, "":
		if r.API == nil {
			return nil, fmt.Errorf("%w: no GitHub client configured", types.ErrInvalidArgument)
		}
		return r.API.ListCommits(ctx, repo, cursor)
	case types.ProviderGit, types.ProviderLocal:
		if r.Mirror == nil {
			return nil, fmt.Errorf("%w: no mirror source configured", types.ErrInvalidArgument)
		}
		return r.Mirror.ListCommits(ctx, repo, cursor)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", types.ErrInvalidArgument, repo.Provider)
	}
}
