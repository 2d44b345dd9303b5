package jobs

import (
	"context"
	"testing"

	"github.com/smallbiznis/catalogsync/internal/catalog/catalogtest"
	catalog "github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"github.com/smallbiznis/catalogsync/internal/clock"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/failure"
	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/smallbiznis/catalogsync/internal/timeseries/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAppendSeries(t *testing.T, srv *catalogtest.Server, cfg config.Config) *AppendSeries {
	t.Helper()
	svc := service.New(service.Params{
		Log:     zap.NewNop(),
		Catalog: testCatalog(srv),
		Clock:   clock.NewFakeClock(testNow),
		Config:  cfg,
	})
	return NewAppendSeries(AppendSeriesParams{Config: cfg, Log: zap.NewNop(), Service: svc})
}

func writeSeries(t *testing.T, dir string, rows ...table.Row) {
	t.Helper()
	writeTable(t, dir, "dynamic_metadata_update.csv", []string{"repository_name", "stars", "release_date", "tstamp"}, rows...)
}

func TestAppendSeriesCreatesThenSkipsDuplicates(t *testing.T) {
	srv := catalogtest.New(t)
	srv.AddPackage(catalog.Package{Name: "ckan-extensions-metadata"})
	cfg := testConfig(t, srv)
	writeSeries(t, cfg.DataDir,
		table.Row{"repository_name": "ckan/ckanext-a", "stars": "21", "release_date": "2024-02-10", "tstamp": "2024-03-01T12:00:00+00:00"},
		table.Row{"repository_name": "ckan/ckanext-b", "stars": "1", "release_date": "No releases", "tstamp": "2024-03-01T12:00:00+00:00"},
	)
	job := newAppendSeries(t, srv, cfg)

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Zero(t, sum.Skipped)
	assert.Equal(t, 1, srv.CountCalls("datastore_create"))

	sum, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Succeeded)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 1, srv.CountCalls("datastore_create"))
	assert.Zero(t, srv.CountCalls("datastore_upsert"))
}

func TestAppendSeriesDryRun(t *testing.T) {
	srv := catalogtest.New(t)
	srv.AddPackage(catalog.Package{Name: "ckan-extensions-metadata"})
	cfg := testConfig(t, srv)
	cfg.DryRun = true
	cfg.Catalog.APIKey = ""
	writeSeries(t, cfg.DataDir,
		table.Row{"repository_name": "ckan/ckanext-a", "stars": "21", "release_date": "2024-02-10", "tstamp": "2024-03-01T12:00:00+00:00"},
	)
	job := newAppendSeries(t, srv, cfg)
	require.NoError(t, cfg.Validate(job.Requires()...))

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Zero(t, srv.CountCalls("datastore_create"))
}

func TestAppendSeriesUnknownSeries(t *testing.T) {
	srv := catalogtest.New(t)
	cfg := testConfig(t, srv)
	job := newAppendSeries(t, srv, cfg)
	job.opts.Series = "nope"

	_, err := job.Run(context.Background())
	assert.True(t, failure.IsConfiguration(err))
}
