package jobs

import (
	"context"
	"testing"

	"github.com/smallbiznis/catalogsync/internal/catalog/catalogtest"
	catalog "github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeleteResource(t *testing.T) {
	srv := catalogtest.New(t, catalogtest.WithAPIKey("secret"))
	pkg := srv.AddPackage(catalog.Package{Name: "series", Resources: []catalog.Resource{{Name: "Old metrics"}}})
	id := pkg.Resources[0].ID
	cfg := testConfig(t, srv)
	newJob := func(opts Options) *DeleteResource {
		return NewDeleteResource(ResourceParams{Config: cfg, Options: opts, Log: zap.NewNop(), Catalog: testCatalog(srv)})
	}

	_, err := newJob(Options{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingArgument)

	_, err = newJob(Options{ResourceID: id}).Run(context.Background())
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Zero(t, srv.CountCalls("resource_delete"))

	dry := newJob(Options{ResourceID: id, Confirm: true})
	dry.cfg.DryRun = true
	sum, err := dry.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, srv.CountCalls("resource_delete"))

	sum, err = newJob(Options{ResourceID: id, Confirm: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	got, _ := srv.Package("series")
	assert.Empty(t, got.Resources)

	sum, err = newJob(Options{ResourceID: id, Confirm: true}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, sum.Failed)
}
