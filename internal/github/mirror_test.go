package github

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// initRepo creates a repository with one commit per timestamp, oldest first.
func initRepo(t *testing.T, times ...time.Time) string {
	t.Helper()
	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	w, err := r.Worktree()
	require.NoError(t, err)

	for i, when := range times {
		name := filepath.Join(dir, "file.txt")
		require.NoError(t, os.WriteFile(name, []byte(strings.Repeat("x", i+1)), 0o644))
		_, err := w.Add("file.txt")
		require.NoError(t, err)
		_, err = w.Commit("change "+string(rune('a'+i)), &git.CommitOptions{
			Author: &object.Signature{Name: "Dev", Email: "dev@example.com", When: when},
		})
		require.NoError(t, err)
	}
	return dir
}

func TestMirrorSource_LocalPaging(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	dir := initRepo(t, base, base.Add(time.Hour), base.Add(2*time.Hour))

	m := NewMirrorSource(nil, t.TempDir(), zaptest.NewLogger(t))
	m.pageSize = 2
	repo := &types.Repository{FullName: "local/repo", URL: dir, Provider: types.ProviderLocal}
	ctx := context.Background()

	first, err := m.ListCommits(ctx, repo, types.Cursor{})
	require.NoError(t, err)
	require.Len(t, first.Commits, 2)
	assert.Equal(t, "change c", first.Commits[0].Message)
	assert.Equal(t, "change b", first.Commits[1].Message)
	assert.Equal(t, 2, first.TotalPages)
	require.NotNil(t, first.Next)

	second, err := m.ListCommits(ctx, repo, *first.Next)
	require.NoError(t, err)
	require.Len(t, second.Commits, 1)
	assert.Equal(t, "change a", second.Commits[0].Message)
	assert.True(t, base.Equal(second.Commits[0].CommittedAt))
	assert.Empty(t, second.Commits[0].ParentSHAs)
	assert.Nil(t, second.Next)

	assert.Equal(t, []string{second.Commits[0].SHA}, first.Commits[1].ParentSHAs)
}

func TestMirrorSource_PagesFollowTheFirstWalk(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	dir := initRepo(t, base, base.Add(time.Hour), base.Add(2*time.Hour))

	m := NewMirrorSource(nil, t.TempDir(), zaptest.NewLogger(t))
	m.pageSize = 2
	repo := &types.Repository{ID: 7, FullName: "local/repo", URL: dir, Provider: types.ProviderLocal}
	ctx := context.Background()

	first, err := m.ListCommits(ctx, repo, types.Cursor{})
	require.NoError(t, err)
	require.NotNil(t, first.Next)
	assert.Equal(t, first.Commits[0].SHA, first.Next.Head)
	assert.Len(t, m.walks, 1)

	// A commit landing mid-sync must not shift the remaining pages.
	r, err := git.PlainOpen(dir)
	require.NoError(t, err)
	w, err := r.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("late"), 0o644))
	_, err = w.Add("file.txt")
	require.NoError(t, err)
	_, err = w.Commit("late", &git.CommitOptions{
		Author: &object.Signature{Name: "Dev", Email: "dev@example.com", When: base.Add(3 * time.Hour)},
	})
	require.NoError(t, err)

	second, err := m.ListCommits(ctx, repo, *first.Next)
	require.NoError(t, err)
	require.Len(t, second.Commits, 1)
	assert.Equal(t, "change a", second.Commits[0].Message)
	assert.Nil(t, second.Next)
	assert.Empty(t, m.walks)

	// A source that never saw the first page walks from the pinned head.
	fresh := NewMirrorSource(nil, t.TempDir(), zaptest.NewLogger(t))
	fresh.pageSize = 2
	again, err := fresh.ListCommits(ctx, repo, *first.Next)
	require.NoError(t, err)
	require.Len(t, again.Commits, 1)
	assert.Equal(t, "change a", again.Commits[0].Message)
}

func TestMirrorSource_EvictsOldestWalk(t *testing.T) {
	t.Parallel()

	m := NewMirrorSource(nil, t.TempDir(), zaptest.NewLogger(t))
	for i := range maxCachedWalks + 1 {
		m.remember(strings.Repeat("k", i+1), nil)
	}
	assert.Len(t, m.walks, maxCachedWalks)
	assert.NotContains(t, m.walks, "k")
}

func TestMirrorSource_SinceIsInclusive(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	dir := initRepo(t, base, base.Add(time.Hour), base.Add(2*time.Hour))

	m := NewMirrorSource(nil, t.TempDir(), zaptest.NewLogger(t))
	repo := &types.Repository{FullName: "local/repo", URL: dir, Provider: types.ProviderLocal}

	page, err := m.ListCommits(context.Background(), repo, types.Cursor{Since: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, page.Commits, 2)
	assert.Equal(t, "change b", page.Commits[1].Message)
	assert.Nil(t, page.Next)
}

func TestMirrorSource_EmptyAndMissing(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	_, err := git.PlainInit(empty, false)
	require.NoError(t, err)

	m := NewMirrorSource(nil, t.TempDir(), zaptest.NewLogger(t))
	ctx := context.Background()

	page, err := m.ListCommits(ctx, &types.Repository{URL: empty, Provider: types.ProviderLocal}, types.Cursor{})
	require.NoError(t, err)
	assert.Empty(t, page.Commits)
	assert.Nil(t, page.Next)

	_, err = m.ListCommits(ctx, &types.Repository{URL: filepath.Join(t.TempDir(), "nope"), Provider: types.ProviderLocal}, types.Cursor{})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMirrorDirName(t *testing.T) {
	t.Parallel()

	a := mirrorDirName(&types.Repository{FullName: "octo/hello world", URL: "https://git.example.com/octo/hello.git"})
	b := mirrorDirName(&types.Repository{FullName: "octo/hello world", URL: "https://other.example.com/octo/hello.git"})

	assert.True(t, strings.HasPrefix(a, "octo-hello-world-"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, "repo", sanitizePathSegment("../"))
}
