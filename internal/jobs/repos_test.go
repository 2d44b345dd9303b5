package jobs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/catalogsync/internal/clock"
	"github.com/smallbiznis/catalogsync/internal/failure"
	ghdomain "github.com/smallbiznis/catalogsync/internal/github/domain"
	"github.com/smallbiznis/catalogsync/internal/ratelimit"
	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGitHub struct {
	mu        sync.Mutex
	repos     map[string]ghdomain.RepoStats
	limitOnce map[string]bool
	quota     ratelimit.Quota
	calls     map[string]int
	quotaHits int
}

func (s *stubGitHub) Repository(ctx context.Context, fullName string) (ghdomain.RepoStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[fullName]++
	if s.limitOnce[fullName] && s.calls[fullName] == 1 {
		return ghdomain.RepoStats{}, &failure.RateLimitError{Remaining: 0, Reset: testNow.Add(time.Minute)}
	}
	stats, ok := s.repos[fullName]
	if !ok {
		return ghdomain.RepoStats{}, &failure.RemoteReadError{Op: "repos.get", Target: fullName}
	}
	return stats, nil
}

func (s *stubGitHub) RateLimit(ctx context.Context) (ratelimit.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotaHits++
	return s.quota, nil
}

func newCollectRepos(t *testing.T, gh *stubGitHub, clk *clock.FakeClock) (*CollectRepos, string) {
	t.Helper()
	cfg := testConfig(t, nil)
	cfg.GitHub.Token = "token"
	log := zap.NewNop()
	job := NewCollectRepos(CollectReposParams{
		Config: cfg,
		Log:    log,
		Clock:  clk,
		GitHub: gh,
		Waiter: ratelimit.NewQuotaWaiter(ratelimit.Params{Config: cfg, Clock: clk, Log: log}),
	})
	return job, cfg.DataDir
}

func TestCollectRepos(t *testing.T) {
	gh := &stubGitHub{
		quota: ratelimit.Quota{Limit: 5000, Remaining: 4000},
		repos: map[string]ghdomain.RepoStats{
			"ckan/ckanext-a": {
				URL: "https://github.com/ckan/ckanext-a", FullName: "ckan/ckanext-a",
				Forks: 4, TotalReleases: 7, LatestRelease: "v2.1.0", ReleaseDate: "2024-02-10",
				Stars: 21, OpenIssues: 3, Contributors: 12, Discussions: true,
			},
			"ckan/ckanext-b": {
				URL: "https://github.com/ckan/ckanext-b", FullName: "ckan/ckanext-b",
				LatestRelease: ghdomain.NoReleases, ReleaseDate: ghdomain.NoReleases, Stars: 1,
			},
		},
	}
	clk := clock.NewFakeClock(testNow)
	job, dir := newCollectRepos(t, gh, clk)
	writeTable(t, dir, FileURLList, []string{"catalog_url", "github_url"},
		table.Row{"catalog_url": "https://c/extension/ckanext-a", "github_url": "https://github.com/ckan/ckanext-a"},
		table.Row{"catalog_url": "https://c/extension/ckanext-x", "github_url": ""},
		table.Row{"catalog_url": "https://c/extension/ckanext-bad", "github_url": "not-a-repo"},
		table.Row{"catalog_url": "https://c/extension/ckanext-b", "github_url": "https://github.com/ckan/ckanext-b"},
		table.Row{"catalog_url": "https://c/extension/ckanext-missing", "github_url": "https://github.com/ckan/ckanext-missing"},
	)

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 2, gh.quotaHits)
	assert.Empty(t, clk.Sleeps())

	out := readTable(t, filepath.Join(dir, "dynamic_metadata_update.csv"))
	assert.Equal(t, RepoColumns, out.Header)
	require.Equal(t, 2, out.Len())
	a := out.Rows[0]
	assert.Equal(t, "ckan/ckanext-a", a["repository_name"])
	assert.Equal(t, "21", a["stars"])
	assert.Equal(t, "7", a["total_releases"])
	assert.Equal(t, "true", a["discussions"])
	assert.Equal(t, "2024-03-01T12:00:00+00:00", a["tstamp"])
	b := out.Rows[1]
	assert.Equal(t, ghdomain.NoReleases, b["release_date"])
	assert.Equal(t, "false", b["discussions"])
}

func TestCollectReposWaitsWhenQuotaLow(t *testing.T) {
	gh := &stubGitHub{
		quota: ratelimit.Quota{Limit: 5000, Remaining: 3, Reset: testNow.Add(10 * time.Minute)},
		repos: map[string]ghdomain.RepoStats{"ckan/ckanext-a": {FullName: "ckan/ckanext-a"}},
	}
	clk := clock.NewFakeClock(testNow)
	job, dir := newCollectRepos(t, gh, clk)
	writeTable(t, dir, FileURLList, []string{"url"}, table.Row{"url": "https://github.com/ckan/ckanext-a"})

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, []time.Duration{10 * time.Minute}, clk.Sleeps())

	out := readTable(t, filepath.Join(dir, "dynamic_metadata_update.csv"))
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "https://github.com/ckan/ckanext-a", out.Rows[0]["url"])
}

func TestCollectReposRetriesAfterRateLimit(t *testing.T) {
	gh := &stubGitHub{
		quota:     ratelimit.Quota{Limit: 5000, Remaining: 4000},
		repos:     map[string]ghdomain.RepoStats{"ckan/ckanext-a": {FullName: "ckan/ckanext-a", Stars: 2}},
		limitOnce: map[string]bool{"ckan/ckanext-a": true},
	}
	clk := clock.NewFakeClock(testNow)
	job, dir := newCollectRepos(t, gh, clk)
	writeTable(t, dir, FileURLList, []string{"URL"}, table.Row{"URL": "https://github.com/ckan/ckanext-a"})

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, gh.calls["ckan/ckanext-a"])
	assert.Equal(t, []time.Duration{time.Minute}, clk.Sleeps())
}

func TestCollectReposLimitAndMissingColumn(t *testing.T) {
	gh := &stubGitHub{quota: ratelimit.Quota{Remaining: 4000}, repos: map[string]ghdomain.RepoStats{
		"a/one": {FullName: "a/one"},
		"a/two": {FullName: "a/two"},
	}}
	clk := clock.NewFakeClock(testNow)
	job, dir := newCollectRepos(t, gh, clk)
	job.opts.Limit = 1
	writeTable(t, dir, FileURLList, []string{"repository_url"},
		table.Row{"repository_url": "https://github.com/a/one"},
		table.Row{"repository_url": "https://github.com/a/two"},
	)
	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)

	job.opts.Input = writeTable(t, dir, "other.csv", []string{"name"}, table.Row{"name": "x"})
	_, err = job.Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingColumn)
}
