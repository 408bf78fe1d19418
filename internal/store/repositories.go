package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clintrovert/gitpulse/pkg/types"
)

const repositoryColumns = `id, owner_id, remote_repo_id, name, full_name, url, clone_url,
	default_branch, provider, sync_status, sync_error, last_synced_at, synced_through, created_at`

// CreateRepository registers a repository for commit tracking. Registering
// the same URL twice for an owner returns the existing record.
func (s *Store) CreateRepository(ctx context.Context, r *types.Repository) (*types.Repository, error) {
	return createRepository(ctx, s, s.db, r)
}

func createRepository(ctx context.Context, s *Store, ex execer, r *types.Repository) (*types.Repository, error) {
	if strings.TrimSpace(r.URL) == "" || strings.TrimSpace(r.Name) == "" {
		return nil, fmt.Errorf("%w: repository name and url are required", types.ErrInvalidArgument)
	}
	provider := r.Provider
	if provider == "" {
		provider = types.ProviderGitHub
	}
	branch := r.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	fullName := r.FullName
	if fullName == "" {
		fullName = r.Name
	}

	var id int64
	err := ex.QueryRowContext(ctx, s.rebind(`
		INSERT INTO repositories (owner_id, remote_repo_id, name, full_name, url, clone_url,
			default_branch, provider, sync_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, url) DO UPDATE SET
			remote_repo_id = excluded.remote_repo_id,
			clone_url = excluded.clone_url,
			default_branch = excluded.default_branch
		RETURNING id`),
		r.OwnerID, r.RemoteRepoID, r.Name, fullName, r.URL, r.CloneURL,
		branch, string(provider), string(types.RepoSyncPending), s.now(),
	).Scan(&id)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to create repository %s: %w", r.URL, err))
	}
	return getRepository(ctx, s, ex, id)
}

func getRepository(ctx context.Context, s *Store, ex execer, id int64) (*types.Repository, error) {
	row := ex.QueryRowContext(ctx, s.rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`), id)
	repo, err := scanRepository(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %d: %w", id, err)
	}
	return repo, nil
}

// GetRepository returns one repository by id.
func (s *Store) GetRepository(ctx context.Context, id int64) (*types.Repository, error) {
	return getRepository(ctx, s, s.db, id)
}

// ListRepositories returns every tracked repository ordered by id.
func (s *Store) ListRepositories(ctx context.Context) ([]*types.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY id`)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to list repositories: %w", err))
	}
	defer rows.Close()

	var repos []*types.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, unavailable(rows.Err())
}

// SetRepositorySyncState records the outcome of a repository sync. syncedAt
// is only written when non-nil.
func (s *Store) SetRepositorySyncState(ctx context.Context, id int64, status types.RepositorySyncStatus, syncErr string, syncedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE repositories
		SET sync_status = ?, sync_error = ?, last_synced_at = COALESCE(?, last_synced_at)
		WHERE id = ?`),
		string(status), syncErr, nullTime(syncedAt), id,
	)
	if err != nil {
		return unavailable(fmt.Errorf("failed to update sync state of repository %d: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repository %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// EnsureRepositoryForSelection returns the repository linked to a selection,
// creating and linking one from the selection's metadata when needed.
func (s *Store) EnsureRepositoryForSelection(ctx context.Context, ownerID, remoteRepoID int64) (*types.Repository, error) {
	var repo *types.Repository
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sel, err := scanSelection(tx.QueryRowContext(ctx, s.rebind(
			`SELECT `+selectionColumns+` FROM repository_selections WHERE owner_id = ? AND remote_repo_id = ?`),
			ownerID, remoteRepoID))
		if err != nil {
			return fmt.Errorf("selection %d/%d: %w", ownerID, remoteRepoID, err)
		}

		if sel.RepositoryID != nil {
			existing, err := getRepository(ctx, s, tx, *sel.RepositoryID)
			if err == nil {
				repo = existing
				return nil
			}
			if !errors.Is(err, types.ErrNotFound) {
				return err
			}
		}

		md := sel.Metadata
		repo, err = createRepository(ctx, s, tx, &types.Repository{
			OwnerID:       ownerID,
			RemoteRepoID:  remoteRepoID,
			Name:          md.Name,
			FullName:      md.FullName,
			URL:           md.URL,
			CloneURL:      md.CloneURL,
			DefaultBranch: md.DefaultBranch,
			Provider:      types.ProviderGitHub,
		})
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE repository_selections SET repository_id = ?, updated_at = ?
			WHERE owner_id = ? AND remote_repo_id = ?`),
			repo.ID, s.now(), ownerID, remoteRepoID)
		if err != nil {
			return unavailable(fmt.Errorf("failed to link selection %d/%d: %w", ownerID, remoteRepoID, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func scanRepository(sc scanner) (*types.Repository, error) {
	var (
		r        types.Repository
		provider string
		status   string
		synced   sql.NullTime
		through  sql.NullTime
	)
	err := sc.Scan(&r.ID, &r.OwnerID, &r.RemoteRepoID, &r.Name, &r.FullName, &r.URL, &r.CloneURL,
		&r.DefaultBranch, &provider, &status, &r.SyncError, &synced, &through, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	r.Provider = types.Provider(provider)
	r.SyncStatus = types.RepositorySyncStatus(status)
	r.LastSyncedAt = timePtr(synced)
	r.SyncedThrough = timePtr(through)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
