package types

import (
	"encoding/json"
	"time"
)

// TaskKind identifies which variant of work a task carries
type TaskKind string

const (
	KindSingleRepoSync   TaskKind = "single_repo_sync"
	KindBulkSync         TaskKind = "bulk_sync"
	KindSelectionRefresh TaskKind = "selection_refresh"
)

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition can leave this status
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// TaskSpec describes what a task does. Only the fields relevant to Kind are set.
type TaskSpec struct {
	Kind          TaskKind `json:"type"`
	RepositoryID  int64    `json:"repository_id,omitempty"`
	RepositoryIDs []int64  `json:"repository_ids,omitempty"`
	OwnerID       int64    `json:"owner_id,omitempty"`
	Force         bool     `json:"force,omitempty"`
}

// SingleRepoSync builds the spec for syncing one repository
func SingleRepoSync(repositoryID int64) TaskSpec {
	return TaskSpec{Kind: KindSingleRepoSync, RepositoryID: repositoryID}
}

// BulkSync builds the spec for syncing an ordered set of repositories
func BulkSync(repositoryIDs []int64) TaskSpec {
	ids := make([]int64, len(repositoryIDs))
	copy(ids, repositoryIDs)
	return TaskSpec{Kind: KindBulkSync, RepositoryIDs: ids}
}

// SelectionRefresh builds the spec for refreshing an owner's remote repository list
func SelectionRefresh(ownerID int64, force bool) TaskSpec {
	return TaskSpec{Kind: KindSelectionRefresh, OwnerID: ownerID, Force: force}
}

// Repositories returns the repositories the spec references, in order
func (s TaskSpec) Repositories() []int64 {
	switch s.Kind {
	case KindSingleRepoSync:
		return []int64{s.RepositoryID}
	case KindBulkSync:
		return s.RepositoryIDs
	default:
		return nil
	}
}

// Task is one unit of orchestrated work
type Task struct {
	ID              string          `json:"task_id"`
	Spec            TaskSpec        `json:"kind"`
	Status          TaskStatus      `json:"status"`
	Progress        int             `json:"progress"`
	ResultDetail    json.RawMessage `json:"result_detail,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
}

// IsTerminal reports whether the task has reached a sticky state
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand to other goroutines
func (t *Task) Clone() *Task {
	c := *t
	c.Spec.RepositoryIDs = append([]int64(nil), t.Spec.RepositoryIDs...)
	if t.ResultDetail != nil {
		c.ResultDetail = append(json.RawMessage(nil), t.ResultDetail...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		c.FinishedAt = &finished
	}
	return &c
}

// RepositoryOutcome classifies what happened to one repository inside a task
type RepositoryOutcome string

const (
	OutcomeSucceeded RepositoryOutcome = "succeeded"
	OutcomeFailed    RepositoryOutcome = "failed"
	OutcomeSkipped   RepositoryOutcome = "skipped"
	OutcomeCancelled RepositoryOutcome = "cancelled"
)

// RepositoryResult is the per-repository entry recorded in a sync task's result detail
type RepositoryResult struct {
	RepositoryID   int64             `json:"repository_id"`
	Outcome        RepositoryOutcome `json:"outcome"`
	NewCommitCount int               `json:"new_commit_count,omitempty"`
	Error          string            `json:"error,omitempty"`
	ErrorKind      string            `json:"error_kind,omitempty"`
	SkippedBy      string            `json:"skipped_by,omitempty"`
}

// SyncDetail is the result detail written by sync tasks
type SyncDetail struct {
	Total        int                `json:"total"`
	Succeeded    int                `json:"succeeded"`
	Failed       int                `json:"failed"`
	Skipped      int                `json:"skipped"`
	Cancelled    int                `json:"cancelled,omitempty"`
	NewCommits   int                `json:"new_commits"`
	Repositories []RepositoryResult `json:"repositories"`
	Error        string             `json:"error,omitempty"`
	ErrorKind    string             `json:"error_kind,omitempty"`
}

// RefreshDetail is the result detail written by selection refresh tasks
type RefreshDetail struct {
	OwnerID    int64  `json:"owner_id"`
	Cached     bool   `json:"cached"`
	Discovered int    `json:"discovered"`
	Created    int    `json:"created"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// FailureDetail is written when a task fails before producing a richer detail
type FailureDetail struct {
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
}
