// Package github proxies the two github lookups the project pages make: repo
// stats from the REST api and recent releases from the atom feed. Responses
// are cached for ten minutes and upstream calls share one rate limit budget.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/sanitize"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

const (
	DefaultAPIBase  = "https://api.github.com"
	DefaultWebBase  = "https://github.com"
	DefaultCacheTTL = 10 * time.Minute
	DefaultTimeout  = 5 * time.Second
	// MaxReleases caps the releases returned per repo.
	MaxReleases = 10

	userAgent = "linnemanlabs-portfolio"
)

// upstream endpoint labels
const (
	EndpointRepo     = "repo"
	EndpointReleases = "releases"
)

var (
	ErrNotFound    = errors.New("github: repository not found")
	ErrRateLimited = errors.New("github: rate limited")
	ErrUpstream    = errors.New("github: upstream error")
)

type RepoStats struct {
	Stars    int    `json:"stars"`
	Forks    int    `json:"forks"`
	Watchers int    `json:"watchers"`
	Language string `json:"language"`
}

type Release struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
}

type Options struct {
	HTTPClient *http.Client
	APIBase    string
	WebBase    string
	Token      string
	CacheTTL   time.Duration
	Now        func() time.Time

	// Limiter is charged once per upstream call under the shared key.
	Limiter ratelimit.Checker
	// Policy defaults to ratelimit.GitHubAPI.
	Policy      ratelimit.Policy
	OnRateLimit func(purpose string, allowed bool)
	// OnUpstream receives the endpoint label and a metrics result per upstream call.
	OnUpstream func(endpoint, result string)
}

type Client struct {
	opts     Options
	feeds    *gofeed.Parser
	stats    *Cache[RepoStats]
	releases *Cache[[]Release]
}

func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	if opts.WebBase == "" {
		opts.WebBase = DefaultWebBase
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if !opts.Policy.Valid() {
		opts.Policy = ratelimit.GitHubAPI
	}
	opts.APIBase = strings.TrimRight(opts.APIBase, "/")
	opts.WebBase = strings.TrimRight(opts.WebBase, "/")

	fp := gofeed.NewParser()
	fp.Client = opts.HTTPClient
	fp.UserAgent = userAgent

	return &Client{
		opts:     opts,
		feeds:    fp,
		stats:    NewCache[RepoStats](opts.CacheTTL, opts.Now),
		releases: NewCache[[]Release](opts.CacheTTL, opts.Now),
	}
}

// StartJanitor drops expired cache entries until ctx is done.
func (c *Client) StartJanitor(ctx context.Context, every time.Duration) {
	go c.stats.Run(ctx, every)
	go c.releases.Run(ctx, every)
}

// allow charges the shared github budget. Cache hits never get here.
func (c *Client) allow(ctx context.Context) bool {
	if c.opts.Limiter == nil {
		return true
	}
	ok := c.opts.Limiter.Allow(ctx, ratelimit.PurposeGitHubAPI, c.opts.Policy)
	if c.opts.OnRateLimit != nil {
		c.opts.OnRateLimit(ratelimit.PurposeGitHubAPI, ok)
	}
	return ok
}

func (c *Client) observe(endpoint, result string) {
	if c.opts.OnUpstream != nil {
		c.opts.OnUpstream(endpoint, result)
	}
}

type repoResponse struct {
	StargazersCount *int    `json:"stargazers_count"`
	ForksCount      *int    `json:"forks_count"`
	WatchersCount   *int    `json:"watchers_count"`
	Language        *string `json:"language"`
}

// RepoStats returns star, fork and watcher counts plus the primary language.
func (c *Client) RepoStats(ctx context.Context, owner, repo string) (RepoStats, error) {
	key := owner + "/" + repo
	if s, ok := c.stats.Get(key); ok {
		c.observe(EndpointRepo, metrics.ResultCacheHit)
		return s, nil
	}
	if !c.allow(ctx) {
		return RepoStats{}, ErrRateLimited
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/repos/%s/%s", c.opts.APIBase, owner, repo), nil)
	if err != nil {
		return RepoStats{}, xerrors.Wrap(err, "build github request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", userAgent)
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		c.observe(EndpointRepo, metrics.ResultError)
		return RepoStats{}, xerrors.Wrapf(fmt.Errorf("%w: %w", ErrUpstream, err), "get repo %s", key)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.observe(EndpointRepo, metrics.ResultNotFound)
		return RepoStats{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		c.observe(EndpointRepo, metrics.ResultError)
		return RepoStats{}, xerrors.Wrapf(ErrUpstream, "get repo %s: status %d", key, resp.StatusCode)
	}

	var body repoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		c.observe(EndpointRepo, metrics.ResultError)
		return RepoStats{}, xerrors.Wrapf(fmt.Errorf("%w: %w", ErrUpstream, err), "decode repo %s", key)
	}

	stats := RepoStats{Language: "Unknown"}
	if body.StargazersCount != nil {
		stats.Stars = *body.StargazersCount
	}
	if body.ForksCount != nil {
		stats.Forks = *body.ForksCount
	}
	if body.WatchersCount != nil {
		stats.Watchers = *body.WatchersCount
	}
	if body.Language != nil && *body.Language != "" {
		stats.Language = *body.Language
	}

	c.observe(EndpointRepo, metrics.ResultOK)
	c.stats.Set(key, stats)
	return stats, nil
}

// Releases returns up to MaxReleases entries from the repo's releases.atom, newest first.
func (c *Client) Releases(ctx context.Context, owner, repo string) ([]Release, error) {
	key := owner + "/" + repo
	if r, ok := c.releases.Get(key); ok {
		c.observe(EndpointReleases, metrics.ResultCacheHit)
		return r, nil
	}
	if !c.allow(ctx) {
		return nil, ErrRateLimited
	}

	feed, err := c.feeds.ParseURLWithContext(fmt.Sprintf("%s/%s/%s/releases.atom", c.opts.WebBase, owner, repo), ctx)
	if err != nil {
		var herr gofeed.HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
			c.observe(EndpointReleases, metrics.ResultNotFound)
			return nil, ErrNotFound
		}
		c.observe(EndpointReleases, metrics.ResultError)
		return nil, xerrors.Wrapf(fmt.Errorf("%w: %w", ErrUpstream, err), "parse releases feed %s", key)
	}

	out := make([]Release, 0, min(len(feed.Items), MaxReleases))
	for _, it := range feed.Items {
		if len(out) == MaxReleases {
			break
		}
		// feed content is rendered by the frontend, keep only plain text and http(s) links
		r := Release{Title: sanitize.Input(it.Title), Link: sanitize.URL(it.Link)}
		switch {
		case it.PublishedParsed != nil:
			r.Published = it.PublishedParsed.UTC()
		case it.UpdatedParsed != nil:
			r.Published = it.UpdatedParsed.UTC()
		}
		out = append(out, r)
	}

	c.observe(EndpointReleases, metrics.ResultOK)
	c.releases.Set(key, out)
	return out, nil
}
