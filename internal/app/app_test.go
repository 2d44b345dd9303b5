package app

import (
	"testing"
	"time"

	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/jobs"
	"github.com/smallbiznis/catalogsync/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func testConfig(t *testing.T) config.Config {
	t.Setenv("LOG_FORMAT", "console")
	cfg := config.Load()
	cfg.DataDir = t.TempDir()
	cfg.Catalog.URL = "https://catalog.example.org"
	cfg.Metrics = config.MetricsConfig{}
	cfg.Pool.Timeout = time.Second
	return cfg
}

func TestOptionsProvideEveryJob(t *testing.T) {
	var (
		runner   *jobs.Runner
		registry *jobs.Registry
	)
	app := fxtest.New(t, Options(testConfig(t), jobs.Options{}), fx.Populate(&runner, &registry))
	require.NoError(t, app.Err())
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, runner)
	assert.Equal(t, []string{
		jobs.NameAppendSeries,
		jobs.NameCollectRepos,
		jobs.NameCollectSites,
		jobs.NameDeleteResource,
		jobs.NameDiscoverExtensions,
		jobs.NameDiscoverSites,
		jobs.NameMergeCSV,
		jobs.NamePatchExtensions,
		jobs.NamePatchSites,
	}, registry.Names())
}

func TestScheduleOptions(t *testing.T) {
	var sched *scheduler.Scheduler
	app := fxtest.New(t,
		ScheduleOptions(testConfig(t), jobs.Options{}, scheduler.Config{Spec: "@every 1h"}),
		fx.Populate(&sched),
	)
	require.NoError(t, app.Err())
	app.RequireStart()
	app.RequireStop()
	assert.NotNil(t, sched)
}
