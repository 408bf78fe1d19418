package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// SaveTask inserts or replaces the persisted copy of a task.
func (s *Store) SaveTask(ctx context.Context, t *types.Task) error {
	spec, err := json.Marshal(t.Spec)
	if err != nil {
		return fmt.Errorf("failed to encode task spec: %w", err)
	}
	var detail any
	if len(t.ResultDetail) > 0 {
		detail = string(t.ResultDetail)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tasks (id, spec, status, progress, result_detail, cancel_requested,
			created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			result_detail = excluded.result_detail,
			cancel_requested = excluded.cancel_requested,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`),
		t.ID, string(spec), string(t.Status), t.Progress, detail, t.CancelRequested,
		t.CreatedAt.UTC(), nullTime(t.StartedAt), nullTime(t.FinishedAt),
	)
	if err != nil {
		return unavailable(fmt.Errorf("failed to save task %s: %w", t.ID, err))
	}
	return nil
}

// ListTasks returns every persisted task, oldest first.
func (s *Store) ListTasks(ctx context.Context) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, spec, status, progress, result_detail, cancel_requested,
			created_at, started_at, finished_at
		FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to list tasks: %w", err))
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return tasks, nil
}

func scanTask(sc scanner) (*types.Task, error) {
	var (
		t        types.Task
		spec     string
		status   string
		detail   sql.NullString
		started  sql.NullTime
		finished sql.NullTime
	)
	if err := sc.Scan(&t.ID, &spec, &status, &t.Progress, &detail, &t.CancelRequested,
		&t.CreatedAt, &started, &finished); err != nil {
		return nil, unavailable(fmt.Errorf("failed to scan task: %w", err))
	}
	if err := json.Unmarshal([]byte(spec), &t.Spec); err != nil {
		return nil, fmt.Errorf("failed to decode spec of task %s: %w", t.ID, err)
	}
	t.Status = types.TaskStatus(status)
	if detail.Valid && detail.String != "" {
		t.ResultDetail = json.RawMessage(detail.String)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.StartedAt = timePtr(started)
	t.FinishedAt = timePtr(finished)
	return &t, nil
}
