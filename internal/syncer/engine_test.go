package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/clintrovert/gitpulse/internal/store"
	"github.com/clintrovert/gitpulse/internal/syncer/mocks"
	"github.com/clintrovert/gitpulse/pkg/types"
)

var testRepo = &types.Repository{ID: 1, FullName: "octo/hello", Provider: types.ProviderGitHub}

// newTestRetrier records waits instead of sleeping.
func newTestRetrier(t *testing.T, rounds, tries int) (*Retrier, *[]time.Duration) {
	t.Helper()
	r := NewRetrier(RetryOptions{
		RateLimitRounds:  rounds,
		RateLimitMaxWait: time.Minute,
		TransientRetries: tries,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
	}, zaptest.NewLogger(t))

	var mu sync.Mutex
	waits := &[]time.Duration{}
	r.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return r, waits
}

// historySource serves a fixed history newest first, honoring Since
// inclusively, two commits per page.
type historySource struct {
	commits []types.CommitRecord
	calls   []types.Cursor
	// failPage, when set, makes that page fail with failErr.
	failPage int
	failErr  error
}

func (h *historySource) ListCommits(_ context.Context, _ *types.Repository, cursor types.Cursor) (*types.CommitPage, error) {
	h.calls = append(h.calls, cursor)
	if h.failPage > 0 && cursor.Page == h.failPage {
		return nil, h.failErr
	}

	var matching []types.CommitRecord
	for _, c := range h.commits {
		if cursor.Since.IsZero() || !c.CommittedAt.Before(cursor.Since) {
			matching = append(matching, c)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].CommittedAt.After(matching[j].CommittedAt) })

	const size = 2
	total := max((len(matching)+size-1)/size, 1)
	start := (cursor.Page - 1) * size
	end := min(start+size, len(matching))
	page := &types.CommitPage{Page: cursor.Page, TotalPages: total}
	if start < len(matching) {
		page.Commits = matching[start:end]
	}
	if cursor.Page < total {
		page.Next = &types.Cursor{Since: cursor.Since, Page: cursor.Page + 1}
	}
	return page, nil
}

func history(n int) []types.CommitRecord {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.CommitRecord, n)
	for i := range out {
		out[i] = types.CommitRecord{
			SHA:         string(rune('a' + i)),
			Message:     "commit",
			AuthorName:  "dev",
			AuthorEmail: "dev@example.com",
			CommittedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func newSQLiteStore(t *testing.T) (*store.Store, *types.Repository) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.DialectSQLite, filepath.Join(t.TempDir(), "s.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	repo, err := st.CreateRepository(ctx, &types.Repository{
		OwnerID:  1,
		Name:     "hello",
		FullName: "octo/hello",
		URL:      "https://github.com/octo/hello",
	})
	require.NoError(t, err)
	return st, repo
}

func TestSync_IsIdempotentAndResumes(t *testing.T) {
	t.Parallel()
	st, repo := newSQLiteStore(t)

	src := &historySource{commits: history(5)}
	retrier, _ := newTestRetrier(t, 3, 3)
	engine := NewEngine(src, st, retrier, zaptest.NewLogger(t))
	ctx := context.Background()

	var reported []int
	res, err := engine.Sync(ctx, repo, func(p int) { reported = append(reported, p) })
	require.NoError(t, err)
	assert.Equal(t, 5, res.NewCommitCount)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, []int{33, 66, 100, 100}, reported)

	through, err := st.SyncedThrough(ctx, repo.ID)
	require.NoError(t, err)
	require.NotNil(t, through)
	assert.True(t, history(5)[4].CommittedAt.Equal(*through))

	res, err = engine.Sync(ctx, repo, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewCommitCount, "an unchanged remote yields no new commits")

	last := src.calls[len(src.calls)-1]
	assert.Equal(t, history(5)[4].CommittedAt, last.Since.UTC(), "resumes from the newest synced commit")

	src.commits = append(src.commits, history(7)[5:]...)
	res, err = engine.Sync(ctx, repo, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewCommitCount)

	count, err := st.CountCommits(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestSync_InterruptedSyncFetchesOlderHistoryOnRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		interrupt func(src *historySource, cancel context.CancelFunc) func(int)
		wantErr   error
	}{
		{
			name: "cancelled after the first page",
			interrupt: func(_ *historySource, cancel context.CancelFunc) func(int) {
				return func(int) { cancel() }
			},
			wantErr: types.ErrCancelled,
		},
		{
			name: "second page fails",
			interrupt: func(src *historySource, _ context.CancelFunc) func(int) {
				src.failPage = 2
				src.failErr = types.ErrUnauthorized
				return nil
			},
			wantErr: types.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st, repo := newSQLiteStore(t)
			src := &historySource{commits: history(5)}
			retrier, _ := newTestRetrier(t, 1, 1)
			engine := NewEngine(src, st, retrier, zaptest.NewLogger(t))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			res, err := engine.Sync(ctx, repo, tt.interrupt(src, cancel))
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 2, res.NewCommitCount, "the newest page was stored")

			through, err := st.SyncedThrough(context.Background(), repo.ID)
			require.NoError(t, err)
			assert.Nil(t, through, "an unfinished sync does not move the resume point")

			src.failPage = 0
			res, err = engine.Sync(context.Background(), repo, nil)
			require.NoError(t, err)
			assert.Equal(t, 3, res.NewCommitCount)

			count, err := st.CountCommits(context.Background(), repo.ID)
			require.NoError(t, err)
			assert.Equal(t, 5, count)
		})
	}
}

func TestSync_CursorWriteFailure(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	source := mocks.NewMockCommitSource(ctrl)
	commits := mocks.NewMockCommitStore(ctrl)

	newest := history(2)[1].CommittedAt
	commits.EXPECT().SyncedThrough(gomock.Any(), int64(1)).Return(nil, nil)
	source.EXPECT().ListCommits(gomock.Any(), testRepo, types.Cursor{Page: 1}).
		Return(&types.CommitPage{Commits: history(2), Page: 1, TotalPages: 1}, nil)
	commits.EXPECT().UpsertCommits(gomock.Any(), int64(1), gomock.Len(2)).Return(2, nil)
	commits.EXPECT().SetSyncedThrough(gomock.Any(), int64(1), newest).Return(types.ErrStorageUnavailable)

	retrier, _ := newTestRetrier(t, 1, 1)
	_, err := NewEngine(source, commits, retrier, zaptest.NewLogger(t)).Sync(context.Background(), testRepo, nil)
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
}

func TestSync_ResumeCursor(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	source := mocks.NewMockCommitSource(ctrl)
	commits := mocks.NewMockCommitStore(ctrl)

	latest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	commits.EXPECT().SyncedThrough(gomock.Any(), int64(1)).Return(&latest, nil)
	source.EXPECT().ListCommits(gomock.Any(), testRepo, types.Cursor{Since: latest, Page: 1}).
		Return(&types.CommitPage{Page: 1, TotalPages: 1}, nil)
	commits.EXPECT().UpsertCommits(gomock.Any(), int64(1), gomock.Len(0)).Return(0, nil)

	retrier, _ := newTestRetrier(t, 1, 1)
	res, err := NewEngine(source, commits, retrier, zaptest.NewLogger(t)).Sync(context.Background(), testRepo, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewCommitCount)
}

func TestSync_RateLimitBudgetExhausted(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	source := mocks.NewMockCommitSource(ctrl)
	commits := mocks.NewMockCommitStore(ctrl)

	commits.EXPECT().SyncedThrough(gomock.Any(), gomock.Any()).Return(nil, nil)
	source.EXPECT().ListCommits(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, &types.RateLimitedError{RetryAfter: 10 * time.Minute}).
		Times(3)

	retrier, waits := newTestRetrier(t, 2, 3)
	var throttled int
	retrier.OnThrottle = func(time.Duration) { throttled++ }

	_, err := NewEngine(source, commits, retrier, zaptest.NewLogger(t)).Sync(context.Background(), testRepo, nil)
	require.ErrorIs(t, err, types.ErrRateLimitExceeded)
	assert.Equal(t, "rate_limit_exceeded", types.ErrorKind(err))
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, *waits, "waits are capped")
	assert.Equal(t, 2, throttled)
}

func TestSync_RateLimitThenSuccess(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	source := mocks.NewMockCommitSource(ctrl)
	commits := mocks.NewMockCommitStore(ctrl)

	commits.EXPECT().SyncedThrough(gomock.Any(), gomock.Any()).Return(nil, nil)
	gomock.InOrder(
		source.EXPECT().ListCommits(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, &types.RateLimitedError{RetryAfter: 5 * time.Second}),
		source.EXPECT().ListCommits(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&types.CommitPage{Commits: history(1), Page: 1, TotalPages: 1}, nil),
	)
	commits.EXPECT().UpsertCommits(gomock.Any(), int64(1), gomock.Len(1)).Return(1, nil)
	commits.EXPECT().SetSyncedThrough(gomock.Any(), int64(1), history(1)[0].CommittedAt).Return(nil)

	retrier, waits := newTestRetrier(t, 3, 1)
	res, err := NewEngine(source, commits, retrier, zaptest.NewLogger(t)).Sync(context.Background(), testRepo, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewCommitCount)
	assert.Equal(t, []time.Duration{5 * time.Second}, *waits)
}

func TestSync_TransientErrorsAreRetried(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	source := mocks.NewMockCommitSource(ctrl)
	commits := mocks.NewMockCommitStore(ctrl)

	commits.EXPECT().SyncedThrough(gomock.Any(), gomock.Any()).Return(nil, nil)
	gomock.InOrder(
		source.EXPECT().ListCommits(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("502 bad gateway")).Times(2),
		source.EXPECT().ListCommits(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&types.CommitPage{Page: 1, TotalPages: 1}, nil),
	)
	commits.EXPECT().UpsertCommits(gomock.Any(), gomock.Any(), gomock.Any()).Return(0, nil)

	retrier, _ := newTestRetrier(t, 1, 3)
	_, err := NewEngine(source, commits, retrier, zaptest.NewLogger(t)).Sync(context.Background(), testRepo, nil)
	require.NoError(t, err)
}

func TestSync_TransientBudgetExhausted(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	source := mocks.NewMockCommitSource(ctrl)
	commits := mocks.NewMockCommitStore(ctrl)

	commits.EXPECT().SyncedThrough(gomock.Any(), gomock.Any()).Return(nil, nil)
	source.EXPECT().ListCommits(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("timeout")).Times(2)

	retrier, _ := newTestRetrier(t, 1, 2)
	_, err := NewEngine(source, commits, retrier, zaptest.NewLogger(t)).Sync(context.Background(), testRepo, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestSync_PermanentErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	for _, want := range []error{types.ErrUnauthorized, types.ErrNotFound} {
		t.Run(want.Error(), func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			source := mocks.NewMockCommitSource(ctrl)
			commits := mocks.NewMockCommitStore(ctrl)

			commits.EXPECT().SyncedThrough(gomock.Any(), gomock.Any()).Return(nil, nil)
			source.EXPECT().ListCommits(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, want).Times(1)

			retrier, _ := newTestRetrier(t, 3, 5)
			_, err := NewEngine(source, commits, retrier, zaptest.NewLogger(t)).Sync(context.Background(), testRepo, nil)
			assert.ErrorIs(t, err, want)
		})
	}
}

func TestSync_CancelBetweenPages(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	source := mocks.NewMockCommitSource(ctrl)
	commits := mocks.NewMockCommitStore(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	commits.EXPECT().SyncedThrough(gomock.Any(), gomock.Any()).Return(nil, nil)
	source.EXPECT().ListCommits(gomock.Any(), gomock.Any(), types.Cursor{Page: 1}).
		DoAndReturn(func(context.Context, *types.Repository, types.Cursor) (*types.CommitPage, error) {
			cancel()
			return &types.CommitPage{
				Commits:    history(1),
				Page:       1,
				TotalPages: 2,
				Next:       &types.Cursor{Page: 2},
			}, nil
		})
	commits.EXPECT().UpsertCommits(gomock.Any(), gomock.Any(), gomock.Any()).Return(1, nil)

	retrier, _ := newTestRetrier(t, 1, 1)
	res, err := NewEngine(source, commits, retrier, zaptest.NewLogger(t)).Sync(ctx, testRepo, nil)
	require.ErrorIs(t, err, types.ErrCancelled)
	assert.Equal(t, 1, res.NewCommitCount, "work done before the cancel is kept")
}

func TestSync_StorageFailure(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	source := mocks.NewMockCommitSource(ctrl)
	commits := mocks.NewMockCommitStore(ctrl)

	commits.EXPECT().SyncedThrough(gomock.Any(), gomock.Any()).Return(nil, types.ErrStorageUnavailable)

	retrier, _ := newTestRetrier(t, 1, 3)
	_, err := NewEngine(source, commits, retrier, zaptest.NewLogger(t)).Sync(context.Background(), testRepo, nil)
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
}
