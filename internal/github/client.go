package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/clintrovert/gitpulse/pkg/types"
)

const perPage = 100

// Options tunes a Client.
type Options struct {
	BaseURL        string // empty for api.github.com
	RatePerSecond  float64
	Burst          int
	RequestTimeout time.Duration
	MaxListed      int
}

// Client wraps the GitHub REST API behind a shared token bucket
type Client struct {
	creds     CredentialProvider
	limiter   *rate.Limiter
	baseURL   *url.URL
	timeout   time.Duration
	maxListed int
	logger    *zap.Logger
}

// NewClient creates a new GitHub client
func NewClient(creds CredentialProvider, opts Options, logger *zap.Logger) (*Client, error) {
	c := &Client{
		creds:     creds,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(opts.Burst, 1)),
		timeout:   opts.RequestTimeout,
		maxListed: opts.MaxListed,
		logger:    logger,
	}
	if c.maxListed <= 0 {
		c.maxListed = 1000
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base url: %w", err)
		}
		c.baseURL = u
	}
	return c, nil
}

// api builds a go-github client authenticated as the given owner.
func (c *Client) api(ctx context.Context, ownerID int64) (*github.Client, error) {
	token, err := c.creds.Token(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: c.timeout}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.WithValue(context.Background(), oauth2.HTTPClient, httpClient), ts)
		httpClient.Timeout = c.timeout
	}

	gh := github.NewClient(httpClient)
	if c.baseURL != nil {
		gh.BaseURL = c.baseURL
	}
	return gh, nil
}

// wait blocks on the token bucket before each remote call.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// ListRepositories lists the remote repositories of a user or organization,
// capped at the configured maximum.
func (c *Client) ListRepositories(ctx context.Context, owner *types.Owner) ([]types.RemoteRepoMetadata, error) {
	gh, err := c.api(ctx, owner.ID)
	if err != nil {
		return nil, err
	}

	var out []types.RemoteRepoMetadata
	page := 1
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		var (
			repos []*github.Repository
			resp  *github.Response
		)
		list := github.ListOptions{Page: page, PerPage: perPage}
		if owner.Kind == types.OwnerOrganization {
			repos, resp, err = gh.Repositories.ListByOrg(ctx, owner.Login,
				&github.RepositoryListByOrgOptions{Type: "all", Sort: "updated", ListOptions: list})
		} else {
			repos, resp, err = gh.Repositories.ListByUser(ctx, owner.Login,
				&github.RepositoryListByUserOptions{Type: "owner", Sort: "updated", ListOptions: list})
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories of %s: %w", owner.Login, classify(err))
		}

		for _, r := range repos {
			out = append(out, toMetadata(r))
			if len(out) >= c.maxListed {
				c.logger.Warn("repository listing truncated",
					zap.String("owner", owner.Login),
					zap.Int("limit", c.maxListed),
				)
				return out, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	c.logger.Debug("listed repositories",
		zap.String("owner", owner.Login),
		zap.Int("count", len(out)),
	)
	return out, nil
}

// ListCommits fetches one page of commit history at or after cursor.Since.
func (c *Client) ListCommits(ctx context.Context, repo *types.Repository, cursor types.Cursor) (*types.CommitPage, error) {
	owner, name, ok := repo.OwnerAndName()
	if !ok {
		return nil, fmt.Errorf("%w: repository %d has no owner/name", types.ErrInvalidArgument, repo.ID)
	}
	gh, err := c.api(ctx, repo.OwnerID)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	page := max(cursor.Page, 1)
	opts := &github.CommitsListOptions{
		Since:       cursor.Since,
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	commits, resp, err := gh.Repositories.ListCommits(ctx, owner, name, opts)
	if err != nil {
		// An empty repository answers 409.
		var er *github.ErrorResponse
		if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusConflict {
			return &types.CommitPage{Page: page, TotalPages: page}, nil
		}
		return nil, fmt.Errorf("failed to list commits of %s: %w", repo.FullName, classify(err))
	}

	out := &types.CommitPage{Page: page, TotalPages: page}
	for _, rc := range commits {
		out.Commits = append(out.Commits, toCommitRecord(rc))
	}
	if resp != nil {
		if resp.LastPage > 0 {
			out.TotalPages = resp.LastPage
		}
		if resp.NextPage != 0 {
			out.Next = &types.Cursor{Since: cursor.Since, Page: resp.NextPage}
		}
	}
	return out, nil
}

func toMetadata(r *github.Repository) types.RemoteRepoMetadata {
	return types.RemoteRepoMetadata{
		ID:            r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		Language:      r.GetLanguage(),
		URL:           r.GetHTMLURL(),
		CloneURL:      r.GetCloneURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Stars:         r.GetStargazersCount(),
		Watchers:      r.GetWatchersCount(),
		Forks:         r.GetForksCount(),
		Size:          r.GetSize(),
		Visibility:    r.GetVisibility(),
		Private:       r.GetPrivate(),
		Fork:          r.GetFork(),
		Archived:      r.GetArchived(),
	}
}

func toCommitRecord(rc *github.RepositoryCommit) types.CommitRecord {
	commit := rc.GetCommit()
	author := commit.GetAuthor()
	committer := commit.GetCommitter()

	// The listing's since filter applies to the committer date, so the
	// stored time must be the same one for the resume cursor to line up.
	at := committer.GetDate().Time
	if at.IsZero() {
		at = author.GetDate().Time
	}

	parents := make([]string, 0, len(rc.Parents))
	for _, p := range rc.Parents {
		parents = append(parents, p.GetSHA())
	}

	return types.CommitRecord{
		SHA:            rc.GetSHA(),
		Message:        commit.GetMessage(),
		AuthorName:     author.GetName(),
		AuthorEmail:    author.GetEmail(),
		CommitterName:  committer.GetName(),
		CommitterEmail: committer.GetEmail(),
		CommittedAt:    at.UTC(),
		ParentSHAs:     parents,
		IsMerge:        len(parents) > 1,
	}
}
