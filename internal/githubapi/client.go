// Package githubapi lists repositories and commits on the commit-hosting service.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/noah-isme/student-tracker-sync/pkg/config"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

const commitsPerPage = 20

// Repo is a repository summary.
type Repo struct {
	Owner    string
	Name     string
	PushedAt time.Time
}

// Commit is one commit with its message reduced to the first line.
type Commit struct {
	Repo    string
	Author  string
	Message string
	When    time.Time
}

// Client wraps the go-github client.
type Client struct {
	gh *github.Client
}

// NewClient constructs a client. An empty base URL targets the public API.
func NewClient(cfg config.GitHubConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	gh := github.NewClient(&http.Client{Timeout: timeout})
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		gh.BaseURL = base
	}
	return &Client{gh: gh}, nil
}

// UserRepos lists a user's repositories pushed since the given time, most recent first.
func (c *Client) UserRepos(ctx context.Context, user string, since time.Time) ([]Repo, error) {
	opts := &github.RepositoryListByUserOptions{
		Type:        "all",
		Sort:        "pushed",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []Repo
	for {
		repos, resp, err := c.gh.Repositories.ListByUser(ctx, user, opts)
		if err != nil {
			return nil, classify(err, "list repos for "+user)
		}
		for _, r := range repos {
			pushed := r.GetPushedAt().Time
			if pushed.Before(since) {
				return out, nil
			}
			out = append(out, Repo{Owner: r.GetOwner().GetLogin(), Name: r.GetName(), PushedAt: pushed})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// OrgRepos lists every repository name in an organisation.
func (c *Client) OrgRepos(ctx context.Context, org string) ([]string, error) {
	opts := &github.RepositoryListByOrgOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var names []string
	for {
		repos, resp, err := c.gh.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return nil, classify(err, "list repos for org "+org)
		}
		for _, r := range repos {
			names = append(names, r.GetName())
		}
		if resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}

// Commits lists commits in owner/repo since the given time, optionally filtered by author.
func (c *Client) Commits(ctx context.Context, owner, repo, author string, since time.Time) ([]Commit, error) {
	opts := &github.CommitsListOptions{
		Author:      author,
		Since:       since,
		ListOptions: github.ListOptions{PerPage: commitsPerPage},
	}
	var out []Commit
	for {
		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(err, "list commits for "+owner+"/"+repo)
		}
		for _, rc := range commits {
			out = append(out, Commit{
				Repo:    repo,
				Author:  rc.GetAuthor().GetLogin(),
				Message: FirstLine(rc.GetCommit().GetMessage()),
				When:    rc.GetCommit().GetAuthor().GetDate().Time,
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// FirstLine returns the first line of a commit message.
func FirstLine(message string) string {
	if i := strings.IndexAny(message, "\r\n"); i >= 0 {
		message = message[:i]
	}
	return strings.TrimSpace(message)
}

// classify maps rate-limit failures to ErrRateLimited and 404s to ErrNotFound.
func classify(err error, op string) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return appErrors.Wrap(err, appErrors.ErrRateLimited.Code, appErrors.ErrRateLimited.Status, op)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
