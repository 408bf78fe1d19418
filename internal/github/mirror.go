package github

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/clintrovert/gitpulse/pkg/types"
)

const (
	mirrorPageSize = 100
	maxCachedWalks = 16
)

// MirrorSource reads commit history from git remotes that are not served by
// the GitHub API, and from repositories already on local disk.
type MirrorSource struct {
	creds        CredentialProvider
	workspaceDir string
	pageSize     int
	logger       *zap.Logger

	mu sync.Mutex
	// walks holds the ordered history of syncs that are between pages.
	walks map[string]*walk
	tick  uint64
}

type walk struct {
	hashes []plumbing.Hash
	used   uint64
}

// NewMirrorSource creates a mirror source cloning into workspaceDir
func NewMirrorSource(creds CredentialProvider, workspaceDir string, logger *zap.Logger) *MirrorSource {
	return &MirrorSource{
		creds:        creds,
		workspaceDir: workspaceDir,
		pageSize:     mirrorPageSize,
		logger:       logger,
		walks:        make(map[string]*walk),
	}
}

// ListCommits returns one page of history at or after cursor.Since, newest
// first. The first page of a remote repository refreshes its mirror and
// walks the log once; later pages read from that walk, pinned to the head
// it started from.
func (m *MirrorSource) ListCommits(ctx context.Context, repo *types.Repository, cursor types.Cursor) (*types.CommitPage, error) {
	page := max(cursor.Page, 1)

	r, err := m.open(ctx, repo, page == 1)
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return &types.CommitPage{Page: page, TotalPages: page}, nil
	}
	if err != nil {
		return nil, err
	}

	var from plumbing.Hash
	if page > 1 && cursor.Head != "" {
		from = plumbing.NewHash(cursor.Head)
	} else {
		from, err = m.resolveHead(r, repo.DefaultBranch)
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return &types.CommitPage{Page: page, TotalPages: page}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve head of %s: %w", repo.FullName, err)
		}
	}

	key := walkKey(repo, from, cursor.Since)
	hashes, err := m.history(ctx, r, key, from, cursor.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to walk log of %s: %w", repo.FullName, err)
	}

	total := len(hashes)
	totalPages := max((total+m.pageSize-1)/m.pageSize, 1)
	lo := min((page-1)*m.pageSize, total)
	hi := min(lo+m.pageSize, total)

	commits := make([]types.CommitRecord, 0, hi-lo)
	for _, h := range hashes[lo:hi] {
		c, err := r.CommitObject(h)
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s of %s: %w", h, repo.FullName, err)
		}
		commits = append(commits, fromObject(c))
	}

	out := &types.CommitPage{Commits: commits, Page: page, TotalPages: totalPages}
	if page < totalPages {
		out.Next = &types.Cursor{Since: cursor.Since, Page: page + 1, Head: from.String()}
	} else {
		m.forget(key)
	}
	return out, nil
}

// history returns the hashes reachable from `from`, newest first, walking
// the log only when no earlier page of the same sync already did.
func (m *MirrorSource) history(ctx context.Context, r *git.Repository, key string, from plumbing.Hash, since time.Time) ([]plumbing.Hash, error) {
	m.mu.Lock()
	if w, ok := m.walks[key]; ok {
		m.tick++
		w.used = m.tick
		m.mu.Unlock()
		return w.hashes, nil
	}
	m.mu.Unlock()

	opts := &git.LogOptions{From: from, Order: git.LogOrderCommitterTime}
	if !since.IsZero() {
		opts.Since = &since
	}
	iter, err := r.Log(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var hashes []plumbing.Hash
	err = iter.ForEach(func(c *object.Commit) error {
		if len(hashes)%m.pageSize == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		hashes = append(hashes, c.Hash)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.remember(key, hashes)
	return hashes, nil
}

func (m *MirrorSource) remember(key string, hashes []plumbing.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.walks) >= maxCachedWalks {
		var oldest string
		for k, w := range m.walks {
			if oldest == "" || w.used < m.walks[oldest].used {
				oldest = k
			}
		}
		delete(m.walks, oldest)
	}
	m.tick++
	m.walks[key] = &walk{hashes: hashes, used: m.tick}
}

func (m *MirrorSource) forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.walks, key)
}

func walkKey(repo *types.Repository, from plumbing.Hash, since time.Time) string {
	return fmt.Sprintf("%d|%s|%s|%d", repo.ID, repo.URL, from, since.UnixNano())
}

// open returns the repository, cloning or fetching remote mirrors when
// refresh is set.
func (m *MirrorSource) open(ctx context.Context, repo *types.Repository, refresh bool) (*git.Repository, error) {
	if repo.Provider == types.ProviderLocal {
		r, err := git.PlainOpen(repo.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository %s: %w", repo.URL, mirrorErr(err))
		}
		return r, nil
	}

	path := filepath.Join(m.workspaceDir, mirrorDirName(repo))
	auth, err := m.auth(ctx, repo)
	if err != nil {
		return nil, err
	}

	r, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return m.clone(ctx, repo, path, auth)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror %s: %w", path, err)
	}
	if !refresh {
		return r, nil
	}

	err = r.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Auth: auth, Tags: git.NoTags, Force: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to fetch %s: %w", repo.FullName, mirrorErr(err))
	}

	m.logger.Debug("fetched mirror",
		zap.String("repository", repo.FullName),
		zap.String("path", path),
	)
	return r, nil
}

func (m *MirrorSource) clone(ctx context.Context, repo *types.Repository, path string, auth transport.AuthMethod) (*git.Repository, error) {
	if err := os.MkdirAll(m.workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	url := repo.CloneURL
	if url == "" {
		url = repo.URL
	}
	start := time.Now()
	r, err := git.PlainCloneContext(ctx, path, true, &git.CloneOptions{
		URL:  url,
		Auth: auth,
		Tags: git.NoTags,
	})
	if err != nil {
		// Leave no half-written mirror behind.
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("failed to clone %s: %w", repo.FullName, mirrorErr(err))
	}

	m.logger.Info("cloned mirror",
		zap.String("repository", repo.FullName),
		zap.String("path", path),
		zap.Duration("took", time.Since(start)),
	)
	return r, nil
}

func (m *MirrorSource) auth(ctx context.Context, repo *types.Repository) (transport.AuthMethod, error) {
	if m.creds == nil {
		return nil, nil
	}
	token, err := m.creds.Token(ctx, repo.OwnerID)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}, nil
}

// resolveHead prefers the fetched remote branch, then the local branch, then HEAD.
func (m *MirrorSource) resolveHead(r *git.Repository, branch string) (plumbing.Hash, error) {
	if branch != "" {
		for _, name := range []plumbing.ReferenceName{
			plumbing.NewRemoteReferenceName("origin", branch),
			plumbing.NewBranchReferenceName(branch),
		} {
			ref, err := r.Reference(name, true)
			if err == nil {
				return ref.Hash(), nil
			}
		}
	}
	head, err := r.Head()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return head.Hash(), nil
}

func fromObject(c *object.Commit) types.CommitRecord {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return types.CommitRecord{
		SHA:            c.Hash.String(),
		Message:        c.Message,
		AuthorName:     c.Author.Name,
		AuthorEmail:    c.Author.Email,
		CommitterName:  c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		CommittedAt:    c.Committer.When.UTC(),
		ParentSHAs:     parents,
		IsMerge:        len(parents) > 1,
	}
}

func mirrorErr(err error) error {
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists), errors.Is(err, transport.ErrRepositoryNotFound):
		return fmt.Errorf("%w: %v", types.ErrNotFound, err)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%w: %v", types.ErrUnauthorized, err)
	default:
		return err
	}
}
