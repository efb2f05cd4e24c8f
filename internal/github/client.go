// Package github analyzes submission repositories through the GitHub
// REST API: repo facts, a relevance-labeled file manifest, dependency
// excerpts, and the red-flag heuristics the research prompt embeds.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	gh "github.com/google/go-github/v42/github"
	"golang.org/x/oauth2"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
)

// Client wraps the GitHub API behind the provider guard.
type Client struct {
	gh    *gh.Client
	guard *upstream.Guard
}

// NewClient builds a client. An empty token works against public repos
// at the anonymous rate limit.
func NewClient(token string, guards *upstream.Registry) *Client {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	return &Client{
		gh:    gh.NewClient(httpClient),
		guard: guards.Guard(upstream.ProviderGitHub),
	}
}

// SetBaseURL points the client at a different API host. Tests use this
// with a local server.
func (c *Client) SetBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c.gh.BaseURL = u
	return nil
}

var repoURLRe = regexp.MustCompile(`^https?://(?:www\.)?github\.com/([^/?#]+)/([^/?#]+)`)

// ParseRepoURL extracts owner and repo from a GitHub URL. Trailing
// paths and query strings are tolerated; other hosts are rejected.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	m := repoURLRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", apperr.Validationf("not a GitHub repository URL: %s", raw)
	}
	repo = strings.TrimSuffix(m[2], ".git")
	return m[1], repo, nil
}

// mapError translates GitHub client errors into the shared error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: github rate limit until %s", apperr.ErrRateLimited, rateErr.Rate.Reset.Time.Format("15:04:05"))
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: github secondary rate limit", apperr.ErrRateLimited)
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound:
			return apperr.NotFoundf("repository")
		case http.StatusForbidden:
			return fmt.Errorf("%w: github forbade the request", apperr.ErrRateLimited)
		}
	}
	return apperr.Upstreamf("github request failed: %v", err)
}
