// Package syncer pulls a repository's commit history from its source into
// the local store, resuming from the newest commit of the last completed
// sync.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// Result summarizes one repository sync.
type Result struct {
	NewCommitCount int
	Pages          int
	UpdatedAt      time.Time
}

// Engine syncs one repository at a time; it is safe for concurrent use on
// different repositories.
type Engine struct {
	source  CommitSource
	store   CommitStore
	retrier *Retrier
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates a sync engine
func NewEngine(source CommitSource, store CommitStore, retrier *Retrier, logger *zap.Logger) *Engine {
	return &Engine{
		source:  source,
		store:   store,
		retrier: retrier,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sync fetches every commit at or after the resume point and upserts them.
// Sources page newest first, so the resume point only moves once the last
// page is stored; an interrupted sync starts over from the previous point
// and the upsert drops what it already has. ctx is the cancellation token:
// it is checked between pages and cancellation yields ErrCancelled.
// progress, if set, receives 0..100.
func (e *Engine) Sync(ctx context.Context, repo *types.Repository, progress func(int)) (*Result, error) {
	through, err := e.store.SyncedThrough(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync cursor of %s: %w", repo.FullName, err)
	}

	cursor := types.Cursor{Page: 1}
	if through != nil {
		// Inclusive: the boundary commit comes back and is de-duplicated.
		cursor.Since = *through
	}
	start := cursor.Since
	newest := start

	res := &Result{}
	for {
		if err := ctx.Err(); err != nil {
			return res, cancelled(err)
		}

		page, err := Run(ctx, e.retrier, func(ctx context.Context) (*types.CommitPage, error) {
			return e.source.ListCommits(ctx, repo, cursor)
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, cancelled(ctx.Err())
			}
			return res, fmt.Errorf("failed to fetch page %d of %s: %w", cursor.Page, repo.FullName, err)
		}

		n, err := e.store.UpsertCommits(ctx, repo.ID, page.Commits)
		if err != nil {
			if ctx.Err() != nil {
				return res, cancelled(ctx.Err())
			}
			return res, fmt.Errorf("failed to store commits of %s: %w", repo.FullName, err)
		}
		res.NewCommitCount += n
		res.Pages++
		for _, c := range page.Commits {
			if c.CommittedAt.After(newest) {
				newest = c.CommittedAt
			}
		}

		if progress != nil && page.TotalPages > 0 {
			progress(min(100, page.Page*100/page.TotalPages))
		}

		e.logger.Debug("synced page",
			zap.Int64("repository_id", repo.ID),
			zap.Int("page", page.Page),
			zap.Int("total_pages", page.TotalPages),
			zap.Int("new_commits", n),
		)

		if page.Next == nil {
			break
		}
		cursor = *page.Next
	}

	if newest.After(start) {
		// Every page is stored; a late cancel must not lose the cursor.
		if err := e.store.SetSyncedThrough(context.WithoutCancel(ctx), repo.ID, newest); err != nil {
			return res, fmt.Errorf("failed to advance sync cursor of %s: %w", repo.FullName, err)
		}
	}

	res.UpdatedAt = e.now()
	if progress != nil {
		progress(100)
	}

	e.logger.Info("synced repository",
		zap.Int64("repository_id", repo.ID),
		zap.String("repository", repo.FullName),
		zap.Int("new_commits", res.NewCommitCount),
		zap.Int("pages", res.Pages),
	)
	return res, nil
}

func cancelled(err error) error {
	if errors.Is(err, types.ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrCancelled, err)
}
