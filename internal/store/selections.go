package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clintrovert/gitpulse/pkg/types"
)

const selectionColumns = `owner_id, remote_repo_id, status, metadata, repository_id,
	selected_at, last_synced_at, updated_at`

// UpsertDiscovered records a fresh listing of an owner's remote repositories.
// Unseen pairs are inserted as pending; known pairs only get their metadata
// snapshot refreshed. It returns how many pairs were new.
func (s *Store) UpsertDiscovered(ctx context.Context, ownerID int64, repos []types.RemoteRepoMetadata) (int, error) {
	if len(repos) == 0 {
		return 0, nil
	}

	created := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		for _, md := range repos {
			blob, err := json.Marshal(md)
			if err != nil {
				return fmt.Errorf("failed to encode metadata of %s: %w", md.FullName, err)
			}

			var exists int
			err = tx.QueryRowContext(ctx, s.rebind(`
				SELECT COUNT(*) FROM repository_selections WHERE owner_id = ? AND remote_repo_id = ?`),
				ownerID, md.ID).Scan(&exists)
			if err != nil {
				return unavailable(fmt.Errorf("failed to look up selection %d/%d: %w", ownerID, md.ID, err))
			}

			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO repository_selections (owner_id, remote_repo_id, status, name, full_name,
					description, language, metadata, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (owner_id, remote_repo_id) DO UPDATE SET
					name = excluded.name,
					full_name = excluded.full_name,
					description = excluded.description,
					language = excluded.language,
					metadata = excluded.metadata,
					updated_at = excluded.updated_at`),
				ownerID, md.ID, string(types.SelectionPending), md.Name, md.FullName,
				md.Description, md.Language, string(blob), now, now,
			)
			if err != nil {
				return unavailable(fmt.Errorf("failed to upsert selection %d/%d: %w", ownerID, md.ID, err))
			}
			if exists == 0 {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// SetSelectionStatus moves every listed pair to status inside one
// transaction. If any pair is unknown nothing changes and ErrNotFound is
// returned.
func (s *Store) SetSelectionStatus(ctx context.Context, ownerID int64, remoteRepoIDs []int64, status types.SelectionStatus) (int, error) {
	if status != types.SelectionSelected && status != types.SelectionDeselected {
		return 0, fmt.Errorf("%w: selection status must be selected or deselected, got %q", types.ErrInvalidArgument, status)
	}

	updated := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		var selectedAt any
		if status == types.SelectionSelected {
			selectedAt = now
		}
		for _, id := range remoteRepoIDs {
			res, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE repository_selections
				SET status = ?, selected_at = COALESCE(?, selected_at), updated_at = ?
				WHERE owner_id = ? AND remote_repo_id = ?`),
				string(status), selectedAt, now, ownerID, id,
			)
			if err != nil {
				return unavailable(fmt.Errorf("failed to update selection %d/%d: %w", ownerID, id, err))
			}
			n, err := res.RowsAffected()
			if err != nil {
				return unavailable(err)
			}
			if n == 0 {
				return fmt.Errorf("selection %d/%d: %w", ownerID, id, types.ErrNotFound)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// MarkSynced moves the selections linked to the given repositories to synced.
// Only selections that are currently selected (or already synced) change.
func (s *Store) MarkSynced(ctx context.Context, repositoryIDs []int64, at time.Time) error {
	if len(repositoryIDs) == 0 {
		return nil
	}
	args := []any{string(types.SelectionSynced), at.UTC(), at.UTC()}
	for _, id := range repositoryIDs {
		args = append(args, id)
	}
	args = append(args, string(types.SelectionSelected), string(types.SelectionSynced))

	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE repository_selections
		SET status = ?, last_synced_at = ?, updated_at = ?
		WHERE repository_id IN (`+placeholders(len(repositoryIDs))+`)
			AND status IN (?, ?)`), args...)
	if err != nil {
		return unavailable(fmt.Errorf("failed to mark selections synced: %w", err))
	}
	return nil
}

// ListSelections returns an owner's selections narrowed by filter, ordered
// by full name.
func (s *Store) ListSelections(ctx context.Context, ownerID int64, filter types.SelectionFilter) ([]*types.RepositorySelection, error) {
	query := `SELECT ` + selectionColumns + ` FROM repository_selections WHERE owner_id = ?`
	args := []any{ownerID}

	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown selection status %q", types.ErrInvalidArgument, filter.Status)
		}
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if lang := strings.TrimSpace(filter.Language); lang != "" {
		query += ` AND LOWER(language) = ?`
		args = append(args, strings.ToLower(lang))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query += ` AND (LOWER(name) LIKE ? OR LOWER(full_name) LIKE ? OR LOWER(description) LIKE ?)`
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY full_name, remote_repo_id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to list selections: %w", err))
	}
	defer rows.Close()

	var out []*types.RepositorySelection
	for rows.Next() {
		sel, err := scanSelection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, unavailable(rows.Err())
}

func scanSelection(sc scanner) (*types.RepositorySelection, error) {
	var (
		sel      types.RepositorySelection
		status   string
		metadata string
		repoID   sql.NullInt64
		selected sql.NullTime
		synced   sql.NullTime
	)
	err := sc.Scan(&sel.OwnerID, &sel.RemoteRepoID, &status, &metadata, &repoID,
		&selected, &synced, &sel.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if err := json.Unmarshal([]byte(metadata), &sel.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %d/%d: %w", sel.OwnerID, sel.RemoteRepoID, err)
	}
	sel.Status = types.SelectionStatus(status)
	if repoID.Valid {
		id := repoID.Int64
		sel.RepositoryID = &id
	}
	sel.SelectedAt = timePtr(selected)
	sel.LastSyncedAt = timePtr(synced)
	sel.UpdatedAt = sel.UpdatedAt.UTC()
	return &sel, nil
}
