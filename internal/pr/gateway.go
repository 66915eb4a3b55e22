// Package pr drives the pull-request lifecycle against the GitHub API:
// creation, merge, close, review-comment collection, and status checks.
package pr

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/gitauth"
)

// Status classifies a remote PR's state.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusMerged Status = "MERGED"
	StatusClosed Status = "CLOSED"
	// StatusUnknown means the remote could not be queried this cycle;
	// callers treat it as "do nothing".
	StatusUnknown Status = ""
)

// Comment is one review comment or PR review body.
type Comment struct {
	Author     string
	Body       string
	Path       string
	Line       int
	Unresolved bool
}

// Gateway talks to the code-hosting API. Tokens are re-derived per
// operation; clients are built fresh so every call carries a live token.
type Gateway struct {
	tokens  gitauth.TokenProvider
	baseURL string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBaseURL points API calls at a GitHub Enterprise (or test) server
// instead of github.com.
func WithBaseURL(url string) Option {
	return func(g *Gateway) { g.baseURL = url }
}

// NewGateway returns a Gateway minting tokens from the provider.
func NewGateway(tokens gitauth.TokenProvider, opts ...Option) *Gateway {
	g := &Gateway{tokens: tokens}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) client(ctx context.Context) (*gh.Client, string, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("minting token: %w", err)
	}
	rateLimiter := github_ratelimit.NewClient(nil)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)
	if g.baseURL != "" {
		client, err = client.WithEnterpriseURLs(g.baseURL+"/", g.baseURL+"/")
		if err != nil {
			return nil, "", err
		}
	}
	return client, token, nil
}

var prURLPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)/pull/(\d+)`)

// ParsePRURL extracts owner, repo, and PR number from a PR URL.
func ParsePRURL(url string) (owner, repo string, number int, err error) {
	m := prURLPattern.FindStringSubmatch(url)
	if m == nil {
		return "", "", 0, fmt.Errorf("cannot parse PR URL %q", url)
	}
	number, err = strconv.Atoi(m[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("cannot parse PR number in %q", url)
	}
	return m[1], m[2], number, nil
}

// Create opens a pull request for branch against the repository's
// default branch and returns the PR URL.
func (g *Gateway) Create(ctx context.Context, repo *config.RepositoryConfig, branch, title, body string) (string, error) {
	owner, name, err := gitauth.ParseRepoURL(repo.URL)
	if err != nil {
		return "", err
	}
	client, _, err := g.client(ctx)
	if err != nil {
		return "", err
	}

	created, _, err := client.PullRequests.Create(ctx, owner, name, &gh.NewPullRequest{
		Title: gh.Ptr(title),
		Head:  gh.Ptr(branch),
		Base:  gh.Ptr(repo.Base()),
		Body:  gh.Ptr(body),
	})
	if err != nil {
		return "", fmt.Errorf("creating PR for %s: %w", branch, err)
	}
	return created.GetHTMLURL(), nil
}

// Merge merges the PR with the repository's configured strategy. On
// success the remote head branch is deleted best-effort; a deletion
// failure is reported in the returned cleanup note, never as an error.
func (g *Gateway) Merge(ctx context.Context, repo *config.RepositoryConfig, prURL string) (cleanup string, err error) {
	owner, name, number, err := ParsePRURL(prURL)
	if err != nil {
		return "", err
	}
	client, _, err := g.client(ctx)
	if err != nil {
		return "", err
	}

	// Head branch comes from the remote, not local state: the PR may
	// have been retargeted or pushed from elsewhere.
	remote, _, err := client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return "", fmt.Errorf("fetching PR %d: %w", number, err)
	}
	headBranch := remote.GetHead().GetRef()

	opts := &gh.PullRequestOptions{MergeMethod: string(repo.Strategy())}
	result, _, err := client.PullRequests.Merge(ctx, owner, name, number, "", opts)
	if err != nil {
		return "", fmt.Errorf("merging PR %d: %w", number, err)
	}
	if !result.GetMerged() {
		return "", fmt.Errorf("merge of PR %d was not accepted: %s", number, result.GetMessage())
	}

	if headBranch != "" {
		if _, err := client.Git.DeleteRef(ctx, owner, name, "heads/"+headBranch); err != nil {
			slog.Warn("remote branch deletion failed after merge", "branch", headBranch, "error", err)
			cleanup = fmt.Sprintf("remote branch %s could not be deleted: %v", headBranch, err)
		}
	}
	return cleanup, nil
}

// Close closes the PR without merging. The remote head branch is
// deleted only when deleteBranch is set, best-effort.
func (g *Gateway) Close(ctx context.Context, repo *config.RepositoryConfig, prURL string, deleteBranch bool) (cleanup string, err error) {
	owner, name, number, err := ParsePRURL(prURL)
	if err != nil {
		return "", err
	}
	client, _, err := g.client(ctx)
	if err != nil {
		return "", err
	}

	remote, _, err := client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return "", fmt.Errorf("fetching PR %d: %w", number, err)
	}
	headBranch := remote.GetHead().GetRef()

	_, _, err = client.PullRequests.Edit(ctx, owner, name, number, &gh.PullRequest{State: gh.Ptr("closed")})
	if err != nil {
		return "", fmt.Errorf("closing PR %d: %w", number, err)
	}

	if deleteBranch && headBranch != "" {
		if _, err := client.Git.DeleteRef(ctx, owner, name, "heads/"+headBranch); err != nil {
			slog.Warn("remote branch deletion failed after close", "branch", headBranch, "error", err)
			cleanup = fmt.Sprintf("remote branch %s could not be deleted: %v", headBranch, err)
		}
	}
	return cleanup, nil
}

// Comments collects the PR's review comments and review bodies,
// paginated. Unresolved-thread state comes from a best-effort GraphQL
// query; when that fails, comments are returned without resolution info.
func (g *Gateway) Comments(ctx context.Context, prURL string) ([]Comment, error) {
	owner, name, number, err := ParsePRURL(prURL)
	if err != nil {
		return nil, err
	}
	client, token, err := g.client(ctx)
	if err != nil {
		return nil, err
	}

	var out []Comment

	listOpts := gh.ListOptions{PerPage: 100}
	commentOpts := &gh.PullRequestListCommentsOptions{ListOptions: listOpts}
	for {
		comments, resp, err := client.PullRequests.ListComments(ctx, owner, name, number, commentOpts)
		if err != nil {
			return nil, fmt.Errorf("listing PR comments: %w", err)
		}
		for _, c := range comments {
			out = append(out, Comment{
				Author: c.GetUser().GetLogin(),
				Body:   c.GetBody(),
				Path:   c.GetPath(),
				Line:   c.GetLine(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		commentOpts.Page = resp.NextPage
	}

	reviewOpts := &gh.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := client.PullRequests.ListReviews(ctx, owner, name, number, reviewOpts)
		if err != nil {
			return nil, fmt.Errorf("listing PR reviews: %w", err)
		}
		for _, r := range reviews {
			if strings.TrimSpace(r.GetBody()) == "" {
				continue
			}
			out = append(out, Comment{Author: r.GetUser().GetLogin(), Body: r.GetBody()})
		}
		if resp.NextPage == 0 {
			break
		}
		reviewOpts.Page = resp.NextPage
	}

	g.markUnresolved(ctx, token, owner, name, number, out)
	return out, nil
}

// markUnresolved flags comments that sit in unresolved review threads.
// GraphQL failures leave the flags unset rather than failing the fetch.
func (g *Gateway) markUnresolved(ctx context.Context, token, owner, name string, number int, comments []Comment) {
	if g.baseURL != "" {
		return
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	gql := githubv4.NewClient(oauth2.NewClient(ctx, ts))

	var query struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					Nodes []struct {
						IsResolved githubv4.Boolean
						Comments   struct {
							Nodes []struct {
								Body githubv4.String
							}
						} `graphql:"comments(first: 50)"`
					}
				} `graphql:"reviewThreads(first: 100)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]any{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"number": githubv4.Int(number),
	}
	if err := gql.Query(ctx, &query, vars); err != nil {
		slog.Debug("review thread query failed", "error", err)
		return
	}

	unresolved := make(map[string]bool)
	for _, thread := range query.Repository.PullRequest.ReviewThreads.Nodes {
		if thread.IsResolved {
			continue
		}
		for _, c := range thread.Comments.Nodes {
			unresolved[string(c.Body)] = true
		}
	}
	for i := range comments {
		if unresolved[comments[i].Body] {
			comments[i].Unresolved = true
		}
	}
}

// PRStatus classifies the PR into open, merged, or closed. Any fetch
// error yields StatusUnknown so callers can skip the cycle.
func (g *Gateway) PRStatus(ctx context.Context, prURL string) Status {
	owner, name, number, err := ParsePRURL(prURL)
	if err != nil {
		slog.Warn("unparseable PR URL", "url", prURL, "error", err)
		return StatusUnknown
	}
	client, _, err := g.client(ctx)
	if err != nil {
		slog.Warn("cannot build API client for status check", "error", err)
		return StatusUnknown
	}

	remote, _, err := client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		slog.Debug("PR status fetch failed", "url", prURL, "error", err)
		return StatusUnknown
	}
	switch {
	case remote.GetMerged():
		return StatusMerged
	case remote.GetState() == "closed":
		return StatusClosed
	default:
		return StatusOpen
	}
}
