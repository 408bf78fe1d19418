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

const ownerColumns = `id, kind, login, access_token, token_expires_at, last_refreshed_at, created_at`

// UpsertOwner connects a GitHub source, replacing the stored credential when
// the (kind, login) pair is already known.
func (s *Store) UpsertOwner(ctx context.Context, o *types.Owner) (*types.Owner, error) {
	login := strings.TrimSpace(o.Login)
	if login == "" {
		return nil, fmt.Errorf("%w: owner login is required", types.ErrInvalidArgument)
	}
	if o.Kind != types.OwnerUser && o.Kind != types.OwnerOrganization {
		return nil, fmt.Errorf("%w: unknown owner kind %q", types.ErrInvalidArgument, o.Kind)
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO owners (kind, login, access_token, token_expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, login) DO UPDATE SET
			access_token = excluded.access_token,
			token_expires_at = excluded.token_expires_at
		RETURNING id`),
		string(o.Kind), login, o.AccessToken, nullTime(o.TokenExpiresAt), s.now(),
	).Scan(&id)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to upsert owner %s: %w", login, err))
	}
	return s.GetOwner(ctx, id)
}

// GetOwner returns one owner by id.
func (s *Store) GetOwner(ctx context.Context, id int64) (*types.Owner, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+ownerColumns+` FROM owners WHERE id = ?`), id)
	owner, err := scanOwner(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get owner %d: %w", id, err)
	}
	return owner, nil
}

// ListOwners returns every connected owner ordered by id.
func (s *Store) ListOwners(ctx context.Context) ([]*types.Owner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ownerColumns+` FROM owners ORDER BY id`)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to list owners: %w", err))
	}
	defer rows.Close()

	var owners []*types.Owner
	for rows.Next() {
		o, err := scanOwner(rows)
		if err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, unavailable(rows.Err())
}

// TouchOwnerRefreshed records when the owner's remote listing was last refreshed.
func (s *Store) TouchOwnerRefreshed(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE owners SET last_refreshed_at = ? WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return unavailable(fmt.Errorf("failed to stamp owner %d: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("owner %d: %w", id, types.ErrNotFound)
	}
	return nil
}

func scanOwner(sc scanner) (*types.Owner, error) {
	var (
		o         types.Owner
		kind      string
		expires   sql.NullTime
		refreshed sql.NullTime
	)
	err := sc.Scan(&o.ID, &kind, &o.Login, &o.AccessToken, &expires, &refreshed, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	o.Kind = types.OwnerKind(kind)
	o.TokenExpiresAt = timePtr(expires)
	o.LastRefreshedAt = timePtr(refreshed)
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}
