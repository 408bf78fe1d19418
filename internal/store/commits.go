package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// SyncedThrough returns the newest commit time covered by the last
// completed sync of a repository, or nil before the first one completes.
func (s *Store) SyncedThrough(ctx context.Context, repositoryID int64) (*time.Time, error) {
	var at sql.NullTime
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT synced_through FROM repositories WHERE id = ?`), repositoryID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %d: %w", repositoryID, types.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to read sync cursor of repository %d: %w", repositoryID, err))
	}
	return timePtr(at), nil
}

// SetSyncedThrough moves a repository's resume point. Callers only do so
// once every page up to at has been stored.
func (s *Store) SetSyncedThrough(ctx context.Context, repositoryID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE repositories SET synced_through = ? WHERE id = ?`), at.UTC(), repositoryID)
	if err != nil {
		return unavailable(fmt.Errorf("failed to store sync cursor of repository %d: %w", repositoryID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repository %d: %w", repositoryID, types.ErrNotFound)
	}
	return nil
}

// UpsertCommits stores a page of commits keyed by SHA and returns how many
// were not already present.
func (s *Store) UpsertCommits(ctx context.Context, repositoryID int64, commits []types.CommitRecord) (int, error) {
	if len(commits) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO commits (repository_id, sha, message, author_name, author_email,
				committer_name, committer_email, committed_at, parent_shas, is_merge, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (repository_id, sha) DO NOTHING`))
		if err != nil {
			return unavailable(fmt.Errorf("failed to prepare commit insert: %w", err))
		}
		defer stmt.Close()

		now := s.now()
		for _, c := range commits {
			parents, err := json.Marshal(c.ParentSHAs)
			if err != nil {
				return fmt.Errorf("failed to encode parents of %s: %w", c.SHA, err)
			}
			res, err := stmt.ExecContext(ctx, repositoryID, c.SHA, c.Message, c.AuthorName, c.AuthorEmail,
				c.CommitterName, c.CommitterEmail, c.CommittedAt.UTC(), string(parents), c.IsMerge, now)
			if err != nil {
				return unavailable(fmt.Errorf("failed to insert commit %s: %w", c.SHA, err))
			}
			n, err := res.RowsAffected()
			if err != nil {
				return unavailable(err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CountCommits returns how many commits are stored for a repository.
func (s *Store) CountCommits(ctx context.Context, repositoryID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM commits WHERE repository_id = ?`), repositoryID).Scan(&n)
	if err != nil {
		return 0, unavailable(fmt.Errorf("failed to count commits: %w", err))
	}
	return n, nil
}
