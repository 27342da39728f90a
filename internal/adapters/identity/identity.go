// Package identity resolves author emails to hosting-platform accounts via
// the GitHub REST API and implements the resolution worker's lookup seam
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
	resolvedom "gitrank/internal/services/resolve/domain"
)

const noreplySuffix = "@users.noreply.github.com"

// Client resolves identities and probes repository sizes. One underlying
// go-github client is kept per credential
type Client struct {
	mu      sync.Mutex
	clients map[string]*github.Client

	// newClient is swappable in tests
	newClient func(token string) (*github.Client, error)
}

// New constructs the client
func New() *Client {
	return &Client{
		clients:   map[string]*github.Client{},
		newClient: newGitHubClient,
	}
}

// newGitHubClient wires the secondary-rate-limit-aware round tripper under
// an oauth2 token transport. Tokenless clients share the anonymous quota
func newGitHubClient(token string) (*github.Client, error) {
	waiter, err := github_ratelimit.NewRateLimitWaiter(nil,
		github_ratelimit.WithSingleSleepLimit(time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("rate limit waiter: %w", err)
	}
	if token == "" {
		return github.NewClient(&http.Client{Transport: waiter}), nil
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   waiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		},
	}
	return github.NewClient(httpClient), nil
}

func (c *Client) clientFor(credential string) (*github.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gh, ok := c.clients[credential]; ok {
		return gh, nil
	}
	gh, err := c.newClient(credential)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "identity: build client")
	}
	c.clients[credential] = gh
	return gh, nil
}

// Lookup resolves an author email to an account. GitHub noreply addresses
// encode the login directly and never cost an API call
func (c *Client) Lookup(ctx context.Context, email, credential string) (resolvedom.Identity, resolvedom.RateMeta, error) {
	if login, ok := parseNoreply(email); ok {
		return resolvedom.Identity{
			Login:      login,
			ProfileURL: "https://github.com/" + login,
			Email:      email,
		}, resolvedom.RateMeta{}, nil
	}

	gh, err := c.clientFor(credential)
	if err != nil {
		return resolvedom.Identity{}, resolvedom.RateMeta{}, err
	}

	query := fmt.Sprintf("%s in:email", email)
	result, resp, err := gh.Search.Users(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	meta := rateMeta(resp)
	if err != nil {
		return resolvedom.Identity{}, meta, classify(err, email)
	}
	if result.GetTotal() == 0 || len(result.Users) == 0 {
		return resolvedom.Identity{}, meta, perr.NotFoundf("identity: no account for %s", email)
	}

	u := result.Users[0]
	logger.C(ctx).Debug().Str("email", email).Str("login", u.GetLogin()).Msg("identity: resolved")
	return resolvedom.Identity{
		Login:      u.GetLogin(),
		ProfileURL: u.GetHTMLURL(),
		Email:      u.GetEmail(),
	}, meta, nil
}

// ReportedSize asks the hosting service for the advertised repository size.
// ok=false means no usable answer (not a GitHub url, transient trouble);
// the caller proceeds to materialize and measures on disk
func (c *Client) ReportedSize(ctx context.Context, repoURL, credential string) (int64, bool, error) {
	owner, name, ok := parseGitHubURL(repoURL)
	if !ok {
		return 0, false, nil
	}
	gh, err := c.clientFor(credential)
	if err != nil {
		return 0, false, nil
	}
	r, _, err := gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		logger.C(ctx).Debug().Err(err).Str("repo", repoURL).Msg("identity: size probe unavailable")
		return 0, false, nil
	}
	// the API reports kilobytes
	return int64(r.GetSize()) * 1024, true, nil
}

func asErr[T error](err error, target *T) bool { return errors.As(err, target) }

// classify maps go-github errors onto the pipeline's taxonomy
func classify(err error, email string) error {
	var rl *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	switch {
	case err == nil:
		return nil
	case asErr(err, &rl), asErr(err, &abuse):
		return perr.Wrapf(err, perr.ErrorCodeTooManyRequests, "identity: rate limited on %s", email)
	}
	var ghe *github.ErrorResponse
	if asErr(err, &ghe) && ghe.Response != nil {
		switch {
		case ghe.Response.StatusCode == http.StatusNotFound:
			return perr.Wrapf(err, perr.ErrorCodeNotFound, "identity: no account for %s", email)
		case ghe.Response.StatusCode >= 500:
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, "identity: upstream error on %s", email)
		}
	}
	return perr.Wrapf(err, perr.ErrorCodeUnavailable, "identity: lookup %s", email)
}

func rateMeta(resp *github.Response) resolvedom.RateMeta {
	if resp == nil {
		return resolvedom.RateMeta{}
	}
	return resolvedom.RateMeta{
		Remaining: resp.Rate.Remaining,
		Limit:     resp.Rate.Limit,
		ResetAt:   resp.Rate.Reset.Unix(),
	}
}

// parseNoreply extracts the login from GitHub noreply addresses, both the
// modern "12345+login@users.noreply.github.com" and the legacy
// "login@users.noreply.github.com" shapes
func parseNoreply(email string) (string, bool) {
	e := strings.ToLower(strings.TrimSpace(email))
	if !strings.HasSuffix(e, noreplySuffix) {
		return "", false
	}
	local := strings.TrimSuffix(e, noreplySuffix)
	if _, login, ok := strings.Cut(local, "+"); ok {
		local = login
	}
	if local == "" {
		return "", false
	}
	return local, true
}

// parseGitHubURL extracts owner and repo from a github.com https url
func parseGitHubURL(raw string) (owner, name string, ok bool) {
	s := strings.TrimSuffix(strings.TrimSpace(raw), "/")
	s = strings.TrimSuffix(s, ".git")
	const prefix = "https://github.com/"
	if !strings.HasPrefix(strings.ToLower(s), prefix) {
		return "", "", false
	}
	parts := strings.Split(s[len(prefix):], "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
