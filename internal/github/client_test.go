package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clintrovert/gitpulse/pkg/types"
)

type fakeOwners map[int64]*types.Owner

func (f fakeOwners) GetOwner(_ context.Context, id int64) (*types.Owner, error) {
	o, ok := f[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return o, nil
}

func newTestClient(t *testing.T, handler http.Handler, creds CredentialProvider, maxListed int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(creds, Options{
		BaseURL:        srv.URL,
		RatePerSecond:  1000,
		Burst:          100,
		RequestTimeout: 5 * time.Second,
		MaxListed:      maxListed,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func repoJSON(id int) string {
	return fmt.Sprintf(`{"id":%d,"name":"r%d","full_name":"octo/r%d","html_url":"https://github.com/octo/r%d","language":"Go","stargazers_count":%d}`, id, id, id, id, id)
}

func TestListRepositories_UserPaging(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/users/octo/repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer owner-token", r.Header.Get("Authorization"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/users/octo/repos?page=2>; rel="next", <%s/users/octo/repos?page=2>; rel="last"`, srvURL, srvURL))
			fmt.Fprintf(w, "[%s,%s]", repoJSON(1), repoJSON(2))
		case "2":
			fmt.Fprintf(w, "[%s]", repoJSON(3))
		default:
			t.Errorf("unexpected page %s", r.URL.Query().Get("page"))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	owners := fakeOwners{7: {ID: 7, Kind: types.OwnerUser, Login: "octo", AccessToken: "owner-token"}}
	c, err := NewClient(NewStoreCredentials(owners, "fallback"), Options{
		BaseURL: srv.URL, RatePerSecond: 1000, Burst: 10, RequestTimeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	repos, err := c.ListRepositories(context.Background(), owners[7])
	require.NoError(t, err)
	require.Len(t, repos, 3)
	assert.Equal(t, int64(1), repos[0].ID)
	assert.Equal(t, "octo/r3", repos[2].FullName)
	assert.Equal(t, "Go", repos[2].Language)
	assert.Equal(t, 3, repos[2].Stars)
}

func TestListRepositories_OrganizationCapped(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer static", r.Header.Get("Authorization"))
		fmt.Fprintf(w, "[%s,%s,%s]", repoJSON(1), repoJSON(2), repoJSON(3))
	})
	c := newTestClient(t, mux, StaticToken("static"), 2)

	repos, err := c.ListRepositories(context.Background(), &types.Owner{Kind: types.OwnerOrganization, Login: "acme"})
	require.NoError(t, err)
	assert.Len(t, repos, 2)
}

func TestListCommits_Page(t *testing.T) {
	t.Parallel()

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("since"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/octo/hello/commits?page=2>; rel="next", <%s/repos/octo/hello/commits?page=3>; rel="last"`, srvURL, srvURL))
		fmt.Fprint(w, `[{
			"sha": "abc",
			"commit": {
				"message": "merge feature",
				"author": {"name": "Ada", "email": "ada@example.com", "date": "2024-01-02T10:00:00Z"},
				"committer": {"name": "GitHub", "email": "noreply@github.com", "date": "2024-01-02T11:00:00Z"}
			},
			"parents": [{"sha": "p1"}, {"sha": "p2"}]
		}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	c, err := NewClient(StaticToken(""), Options{BaseURL: srv.URL, RatePerSecond: 1000, Burst: 10}, zaptest.NewLogger(t))
	require.NoError(t, err)

	page, err := c.ListCommits(context.Background(), &types.Repository{FullName: "octo/hello"}, types.Cursor{Since: since})
	require.NoError(t, err)
	require.Len(t, page.Commits, 1)

	commit := page.Commits[0]
	assert.Equal(t, "abc", commit.SHA)
	assert.Equal(t, "Ada", commit.AuthorName)
	assert.Equal(t, "GitHub", commit.CommitterName)
	assert.True(t, commit.IsMerge)
	assert.Equal(t, []string{"p1", "p2"}, commit.ParentSHAs)
	assert.Equal(t, time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC), commit.CommittedAt)

	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 3, page.TotalPages)
	require.NotNil(t, page.Next)
	assert.Equal(t, 2, page.Next.Page)
	assert.Equal(t, since, page.Next.Since)
}

func TestListCommits_Errors(t *testing.T) {
	t.Parallel()

	reset := time.Now().Add(30 * time.Second).Unix()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, page *types.CommitPage, err error)
	}{
		{
			name: "primary rate limit",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Limit", "60")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
			},
			check: func(t *testing.T, _ *types.CommitPage, err error) {
				var rl *types.RateLimitedError
				require.ErrorAs(t, err, &rl)
				assert.Greater(t, rl.RetryAfter, time.Duration(0))
				assert.LessOrEqual(t, rl.RetryAfter, 31*time.Second)
			},
		},
		{
			name: "secondary rate limit",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "12")
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"message":"slow down","documentation_url":"https://docs.github.com/rest/overview/rate-limits-for-the-rest-api#about-secondary-rate-limits"}`)
			},
			check: func(t *testing.T, _ *types.CommitPage, err error) {
				var rl *types.RateLimitedError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 12*time.Second, rl.RetryAfter)
			},
		},
		{
			name: "too many requests",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprint(w, `{"message":"too many"}`)
			},
			check: func(t *testing.T, _ *types.CommitPage, err error) {
				var rl *types.RateLimitedError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 3*time.Second, rl.RetryAfter)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"message":"Bad credentials"}`)
			},
			check: func(t *testing.T, _ *types.CommitPage, err error) {
				assert.ErrorIs(t, err, types.ErrUnauthorized)
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"message":"Not Found"}`)
			},
			check: func(t *testing.T, _ *types.CommitPage, err error) {
				assert.ErrorIs(t, err, types.ErrNotFound)
			},
		},
		{
			name: "empty repository",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				fmt.Fprint(w, `{"message":"Git Repository is empty."}`)
			},
			check: func(t *testing.T, page *types.CommitPage, err error) {
				require.NoError(t, err)
				assert.Empty(t, page.Commits)
				assert.Nil(t, page.Next)
			},
		},
		{
			name: "server error stays untyped",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			check: func(t *testing.T, _ *types.CommitPage, err error) {
				require.Error(t, err)
				assert.Equal(t, "internal", types.ErrorKind(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, tt.handler, StaticToken("tok"), 0)
			page, err := c.ListCommits(context.Background(), &types.Repository{FullName: "octo/hello"}, types.Cursor{})
			tt.check(t, page, err)
		})
	}
}

func TestListCommits_InvalidFullName(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.NotFoundHandler(), StaticToken(""), 0)
	_, err := c.ListCommits(context.Background(), &types.Repository{ID: 3, FullName: "broken"}, types.Cursor{})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestStoreCredentials(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	owners := fakeOwners{
		1: {ID: 1, Login: "fresh", AccessToken: "t1", TokenExpiresAt: &future},
		2: {ID: 2, Login: "stale", AccessToken: "t2", TokenExpiresAt: &past},
		3: {ID: 3, Login: "tokenless"},
	}
	creds := NewStoreCredentials(owners, "fallback")
	ctx := context.Background()

	tok, err := creds.Token(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "t1", tok)

	_, err = creds.Token(ctx, 2)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	tok, err = creds.Token(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "fallback", tok)

	tok, err = creds.Token(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "fallback", tok)

	_, err = creds.Token(ctx, 99)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestExpiredCredentialSkipsRequest(t *testing.T) {
	t.Parallel()

	called := false
	past := time.Now().Add(-time.Minute)
	owners := fakeOwners{5: {ID: 5, Login: "octo", AccessToken: "old", TokenExpiresAt: &past}}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}), NewStoreCredentials(owners, ""), 0)

	_, err := c.ListCommits(context.Background(), &types.Repository{OwnerID: 5, FullName: "octo/hello"}, types.Cursor{})
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.False(t, called)
}

type stubLister struct{ name string }

func (s stubLister) ListCommits(context.Context, *types.Repository, types.Cursor) (*types.CommitPage, error) {
	return &types.CommitPage{Commits: []types.CommitRecord{{SHA: s.name}}}, nil
}

func TestRouter(t *testing.T) {
	t.Parallel()

	r := &Router{API: stubLister{"api"}, Mirror: stubLister{"mirror"}}
	ctx := context.Background()

	for provider, want := range map[types.Provider]string{
		types.ProviderGitHub: "api",
		"":                   "api",
		types.ProviderGit:    "mirror",
		types.ProviderLocal:  "mirror",
	} {
		page, err := r.ListCommits(ctx, &types.Repository{Provider: provider}, types.Cursor{})
		require.NoError(t, err)
		assert.Equal(t, want, page.Commits[0].SHA, "provider %q", provider)
	}

	_, err := r.ListCommits(ctx, &types.Repository{Provider: "svn"}, types.Cursor{})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = (&Router{}).ListCommits(ctx, &types.Repository{Provider: types.ProviderGit}, types.Cursor{})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}
