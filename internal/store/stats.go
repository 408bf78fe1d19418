package store

import (
	"context"
	"fmt"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// Stats aggregates repository, selection and owner counts.
func (s *Store) Stats(ctx context.Context) (*types.Stats, error) {
	stats := &types.Stats{
		Repositories: map[types.RepositorySyncStatus]int{},
		Selections:   map[types.SelectionStatus]int{},
		Owners:       map[types.OwnerKind]int{},
	}

	if err := s.countBy(ctx, `SELECT sync_status, COUNT(*) FROM repositories GROUP BY sync_status`, func(k string, n int) {
		stats.Repositories[types.RepositorySyncStatus(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, `SELECT status, COUNT(*) FROM repository_selections GROUP BY status`, func(k string, n int) {
		stats.Selections[types.SelectionStatus(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, `SELECT kind, COUNT(*) FROM owners GROUP BY kind`, func(k string, n int) {
		stats.Owners[types.OwnerKind(k)] = n
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) countBy(ctx context.Context, query string, fn func(key string, n int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return unavailable(fmt.Errorf("failed to aggregate stats: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return unavailable(err)
		}
		fn(key, n)
	}
	return unavailable(rows.Err())
}
