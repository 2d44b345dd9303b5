package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/catalogsync/internal/clock"
	"github.com/smallbiznis/catalogsync/internal/config"
	ghdomain "github.com/smallbiznis/catalogsync/internal/github/domain"
	"github.com/smallbiznis/catalogsync/internal/ratelimit"
	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/smallbiznis/catalogsync/internal/workerpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// tstampLayout matches the collection timestamp written by earlier tooling.
const tstampLayout = "2006-01-02T15:04:05-07:00"

var (
	repoURLColumns = []string{"URL", "url", "URLs", "repository_url", "github_url"}

	RepoColumns = []string{
		"url",
		"repository_name",
		"forks_count",
		"total_releases",
		"latest_release",
		"release_date",
		"stars",
		"open_issues",
		"contributors_count",
		"discussions",
		"tstamp",
	}
)

type CollectReposParams struct {
	fx.In

	Config  config.Config
	Options Options `optional:"true"`
	Log     *zap.Logger
	Clock   clock.Clock
	GitHub  ghdomain.Client
	Waiter  *ratelimit.QuotaWaiter
	Pacer   *ratelimit.Pacer `optional:"true"`
	Series  *config.SeriesHolder
}

// CollectRepos fetches repository metrics for every URL in the input file
// and writes them as one batch of the configured series.
type CollectRepos struct {
	cfg    config.Config
	opts   Options
	log    *zap.Logger
	clock  clock.Clock
	github ghdomain.Client
	waiter *ratelimit.QuotaWaiter
	pacer  *ratelimit.Pacer
	series *config.SeriesHolder
}

func NewCollectRepos(p CollectReposParams) *CollectRepos {
	return &CollectRepos{
		cfg:    p.Config,
		opts:   p.Options,
		log:    p.Log,
		clock:  p.Clock,
		github: p.GitHub,
		waiter: p.Waiter,
		pacer:  p.Pacer,
		series: p.Series,
	}
}

func (j *CollectRepos) Name() string { return NameCollectRepos }

func (j *CollectRepos) Requires() []config.Requirement {
	return []config.Requirement{config.RequireGitHubToken}
}

type repoResult struct {
	url   string
	stats ghdomain.RepoStats
	at    string
	err   error
}

func (j *CollectRepos) Run(ctx context.Context) (Summary, error) {
	sum := NewSummary(j.Name())
	log := logFrom(ctx, j.log)

	series, err := lookupSeries(j.series, j.opts.Series)
	if err != nil {
		return sum, err
	}
	urls, err := j.readURLs()
	if err != nil {
		return sum, err
	}
	log.Info("collecting repositories", zap.Int("count", len(urls)))

	out := table.New(RepoColumns...)
	chunk := j.cfg.RateLimit.CheckEvery
	if chunk <= 0 {
		chunk = len(urls)
	}
	for start := 0; start < len(urls); start += chunk {
		end := min(start+chunk, len(urls))
		if j.waiter.Due(start) {
			if _, err := j.waiter.Check(ctx, j.github); err != nil {
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				log.Warn("rate limit check failed", zap.Error(err))
			}
		}

		results := workerpool.Map(ctx, urls[start:end],
			workerpool.Options{Size: j.cfg.Pool.Size, Timeout: j.cfg.Pool.Timeout},
			j.fetch,
			func(u string, err error) repoResult { return repoResult{url: u, err: err} },
		)
		for _, r := range results {
			if r.err != nil {
				log.Warn("repository skipped", zap.String("url", r.url), zap.Error(r.err))
				sum.Fail(r.url, r.err)
				continue
			}
			out.Rows = append(out.Rows, repoRow(r))
			sum.Succeed()
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
	}

	dest := path(j.cfg, j.opts.Output, series.CSV)
	if err := table.Write(dest, out); err != nil {
		return sum, err
	}
	sum.Wrote(dest)
	return sum, nil
}

func (j *CollectRepos) fetch(ctx context.Context, url string) (repoResult, error) {
	fullName, err := ghdomain.FullNameFromURL(url)
	if err != nil {
		return repoResult{}, err
	}
	if err := j.pacer.Wait(ctx); err != nil {
		return repoResult{}, err
	}
	stats, err := j.github.Repository(ctx, fullName)
	if err != nil {
		waited, werr := j.waiter.Backoff(ctx, err)
		if werr != nil || !waited {
			return repoResult{}, err
		}
		if stats, err = j.github.Repository(ctx, fullName); err != nil {
			return repoResult{}, err
		}
	}
	return repoResult{url: url, stats: stats, at: j.clock.Now().UTC().Format(tstampLayout)}, nil
}

func (j *CollectRepos) readURLs() ([]string, error) {
	src := path(j.cfg, j.opts.Input, FileURLList)
	t, err := table.Read(src)
	if err != nil {
		return nil, err
	}
	col, ok := t.FirstColumn(repoURLColumns...)
	if !ok {
		return nil, fmt.Errorf("%w: one of %s in %s", ErrMissingColumn, strings.Join(repoURLColumns, ", "), src)
	}
	var urls []string
	for _, u := range t.Column(col) {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if j.opts.Limit > 0 && len(urls) > j.opts.Limit {
		urls = urls[:j.opts.Limit]
	}
	return urls, nil
}

func repoRow(r repoResult) table.Row {
	s := r.stats
	url := s.URL
	if url == "" {
		url = r.url
	}
	return table.Row{
		"url":                url,
		"repository_name":    s.FullName,
		"forks_count":        strconv.Itoa(s.Forks),
		"total_releases":     strconv.Itoa(s.TotalReleases),
		"latest_release":     s.LatestRelease,
		"release_date":       s.ReleaseDate,
		"stars":              strconv.Itoa(s.Stars),
		"open_issues":        strconv.Itoa(s.OpenIssues),
		"contributors_count": strconv.Itoa(s.Contributors),
		"discussions":        strconv.FormatBool(s.Discussions),
		"tstamp":             r.at,
	}
}
