package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v61/github"
	"github.com/smallbiznis/catalogsync/internal/clock"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/failure"
	"github.com/smallbiznis/catalogsync/internal/github/domain"
	"github.com/smallbiznis/catalogsync/internal/observability/tracing"
	"github.com/smallbiznis/catalogsync/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const releaseDateLayout = "2006-01-02"

type Params struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
}

type Client struct {
	gh    *gogithub.Client
	clock clock.Clock
	log   *zap.Logger
}

func New(p Params) (domain.Client, error) {
	return NewClient(Options{Token: p.Config.GitHub.Token, BaseURL: p.Config.GitHub.BaseURL}, p.Clock, p.Log)
}

type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a client against api.github.com or opts.BaseURL.
func NewClient(opts Options, clk clock.Clock, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	gh := gogithub.NewClient(tracing.WrapHTTPClient(httpClient))
	if opts.Token != "" {
		gh = gh.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, &failure.ConfigurationError{Key: "GITHUB_API_URL", Reason: err.Error()}
		}
		gh.BaseURL = u
	}
	return &Client{gh: gh, clock: clk, log: log.Named("github.client")}, nil
}

// Repository collects the dynamic metrics of fullName ("owner/repo").
// Release and contributor totals are read from the last page number of a
// one-item page so each needs a single request.
func (c *Client) Repository(ctx context.Context, fullName string) (domain.RepoStats, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return domain.RepoStats{}, domain.ErrInvalidRepositoryURL
	}

	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return domain.RepoStats{}, c.fail("repos.get", fullName, err)
	}
	stats := domain.RepoStats{
		URL:           repo.GetHTMLURL(),
		FullName:      repo.GetFullName(),
		Forks:         repo.GetForksCount(),
		Stars:         repo.GetStargazersCount(),
		OpenIssues:    repo.GetOpenIssuesCount(),
		Discussions:   repo.GetHasDiscussions(),
		LatestRelease: domain.NoReleases,
		ReleaseDate:   domain.NoReleases,
	}
	if stats.FullName == "" {
		stats.FullName = fullName
	}

	releases, resp, err := c.gh.Repositories.ListReleases(ctx, owner, name, &gogithub.ListOptions{PerPage: 1})
	if err != nil {
		return domain.RepoStats{}, c.fail("repos.list_releases", fullName, err)
	}
	stats.TotalReleases = total(resp, len(releases))
	if len(releases) > 0 {
		stats.LatestRelease = releases[0].GetTagName()
		if created := releases[0].GetCreatedAt(); !created.IsZero() {
			stats.ReleaseDate = created.UTC().Format(releaseDateLayout)
		}
	}

	contributors, resp, err := c.gh.Repositories.ListContributors(ctx, owner, name, &gogithub.ListContributorsOptions{
		Anon:        "true",
		ListOptions: gogithub.ListOptions{PerPage: 1},
	})
	switch {
	case err != nil && isRateLimit(err):
		return domain.RepoStats{}, c.fail("repos.list_contributors", fullName, err)
	case err != nil:
		c.log.Warn("contributors unavailable", zap.String("repo", fullName), zap.Error(err))
	default:
		stats.Contributors = total(resp, len(contributors))
	}

	return stats, nil
}

func (c *Client) RateLimit(ctx context.Context) (ratelimit.Quota, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return ratelimit.Quota{}, c.fail("rate_limit", "core", err)
	}
	core := limits.GetCore()
	if core == nil {
		return ratelimit.Quota{}, &failure.RemoteReadError{Op: "rate_limit", Target: "core", Err: errors.New("no core rate")}
	}
	return ratelimit.Quota{Limit: core.Limit, Remaining: core.Remaining, Reset: core.Reset.Time}, nil
}

// total reads the item count of a one-per-page listing from its last page.
func total(resp *gogithub.Response, fallback int) int {
	if resp != nil && resp.LastPage > 0 {
		return resp.LastPage
	}
	return fallback
}

func isRateLimit(err error) bool {
	var rl *gogithub.RateLimitError
	var abuse *gogithub.AbuseRateLimitError
	return errors.As(err, &rl) || errors.As(err, &abuse)
}

func (c *Client) fail(op, target string, err error) error {
	var rl *gogithub.RateLimitError
	if errors.As(err, &rl) {
		return &failure.RateLimitError{Remaining: rl.Rate.Remaining, Reset: rl.Rate.Reset.Time}
	}
	var abuse *gogithub.AbuseRateLimitError
	if errors.As(err, &abuse) {
		reset := c.clock.Now().Add(time.Minute)
		if d := abuse.GetRetryAfter(); d > 0 {
			reset = c.clock.Now().Add(d)
		}
		return &failure.RateLimitError{Reset: reset}
	}
	return &failure.RemoteReadError{Op: op, Target: target, Err: err}
}
