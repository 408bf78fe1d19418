package types

import (
	"strings"
	"time"
)

// OwnerKind distinguishes GitHub users from organizations
type OwnerKind string

const (
	OwnerUser         OwnerKind = "user"
	OwnerOrganization OwnerKind = "organization"
)

// Owner is a connected GitHub source whose repositories can be selected
type Owner struct {
	ID              int64      `json:"id"`
	Kind            OwnerKind  `json:"kind"`
	Login           string     `json:"login"`
	AccessToken     string     `json:"-"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Provider is where a repository's history is fetched from
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGit    Provider = "git"
	ProviderLocal  Provider = "local"
)

// RepositorySyncStatus is the sync state recorded on a local repository record
type RepositorySyncStatus string

const (
	RepoSyncPending   RepositorySyncStatus = "pending"
	RepoSyncSyncing   RepositorySyncStatus = "syncing"
	RepoSyncCompleted RepositorySyncStatus = "completed"
	RepoSyncFailed    RepositorySyncStatus = "failed"
)

// Repository is a local repository record tracked for commit history
type Repository struct {
	ID            int64                `json:"id"`
	OwnerID       int64                `json:"owner_id"`
	RemoteRepoID  int64                `json:"remote_repo_id,omitempty"`
	Name          string               `json:"name"`
	FullName      string               `json:"full_name"`
	URL           string               `json:"url"`
	CloneURL      string               `json:"clone_url,omitempty"`
	DefaultBranch string               `json:"default_branch"`
	Provider      Provider             `json:"provider"`
	SyncStatus    RepositorySyncStatus `json:"sync_status"`
	SyncError     string               `json:"sync_error,omitempty"`
	LastSyncedAt  *time.Time           `json:"last_synced_at,omitempty"`
	SyncedThrough *time.Time           `json:"synced_through,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// OwnerAndName splits FullName ("owner/repo")
func (r Repository) OwnerAndName() (string, string, bool) {
	owner, name, ok := strings.Cut(r.FullName, "/")
	if !ok || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

// RemoteRepoMetadata is the last-known snapshot of a remote repository
type RemoteRepoMetadata struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description,omitempty"`
	Language      string `json:"language,omitempty"`
	URL           string `json:"url"`
	CloneURL      string `json:"clone_url,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
	Stars         int    `json:"stargazers_count"`
	Watchers      int    `json:"watchers_count"`
	Forks         int    `json:"forks_count"`
	Size          int    `json:"size"`
	Visibility    string `json:"visibility,omitempty"`
	Private       bool   `json:"private"`
	Fork          bool   `json:"fork"`
	Archived      bool   `json:"archived"`
}

// SelectionStatus is the per-owner decision about importing a remote repository
type SelectionStatus string

const (
	SelectionPending    SelectionStatus = "pending"
	SelectionSelected   SelectionStatus = "selected"
	SelectionDeselected SelectionStatus = "deselected"
	SelectionSynced     SelectionStatus = "synced"
)

// Valid reports whether s is a known selection status
func (s SelectionStatus) Valid() bool {
	switch s {
	case SelectionPending, SelectionSelected, SelectionDeselected, SelectionSynced:
		return true
	}
	return false
}

// RepositorySelection is the membership decision for one (owner, remote repository) pair
type RepositorySelection struct {
	OwnerID      int64              `json:"owner_id"`
	RemoteRepoID int64              `json:"remote_repo_id"`
	Status       SelectionStatus    `json:"status"`
	Metadata     RemoteRepoMetadata `json:"metadata"`
	RepositoryID *int64             `json:"repository_id,omitempty"`
	SelectedAt   *time.Time         `json:"selected_at,omitempty"`
	LastSyncedAt *time.Time         `json:"last_synced_at,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// SelectionFilter narrows a selection listing
type SelectionFilter struct {
	Search   string
	Language string
	Status   SelectionStatus
}

// CommitRecord is one commit as stored locally
type CommitRecord struct {
	SHA            string    `json:"sha"`
	Message        string    `json:"message"`
	AuthorName     string    `json:"author_name"`
	AuthorEmail    string    `json:"author_email"`
	CommitterName  string    `json:"committer_name,omitempty"`
	CommitterEmail string    `json:"committer_email,omitempty"`
	CommittedAt    time.Time `json:"committed_at"`
	ParentSHAs     []string  `json:"parent_shas,omitempty"`
	IsMerge        bool      `json:"is_merge"`
}

// Cursor is a resumption point for paged commit fetching
type Cursor struct {
	Since time.Time
	Page  int
	// Head pins the revision a multi-page walk started from, for sources
	// that page a local history.
	Head string
}

// CommitPage is one page of commit history. Next is nil on the last page.
type CommitPage struct {
	Commits    []CommitRecord
	Next       *Cursor
	Page       int
	TotalPages int
}

// Stats aggregates repository and selection counts for the dashboard
type Stats struct {
	Repositories map[RepositorySyncStatus]int `json:"repository_sync"`
	Selections   map[SelectionStatus]int      `json:"selections"`
	Owners       map[OwnerKind]int            `json:"github_sources"`
}
