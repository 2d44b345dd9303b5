package jobs

import (
	"context"
	"fmt"
	"strings"

	catalog "github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"github.com/smallbiznis/catalogsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ResourceParams struct {
	fx.In

	Config  config.Config
	Options Options `optional:"true"`
	Log     *zap.Logger
	Catalog catalog.Client
}

// DeleteResource removes one catalog resource. It refuses to run unless
// the caller confirmed the deletion.
type DeleteResource struct {
	cfg     config.Config
	opts    Options
	log     *zap.Logger
	catalog catalog.Client
}

func NewDeleteResource(p ResourceParams) *DeleteResource {
	return &DeleteResource{cfg: p.Config, opts: p.Options, log: p.Log, catalog: p.Catalog}
}

func (j *DeleteResource) Name() string { return NameDeleteResource }

func (j *DeleteResource) Requires() []config.Requirement {
	return []config.Requirement{config.RequireCatalogURL, config.RequireCatalogAPIKey}
}

func (j *DeleteResource) Run(ctx context.Context) (Summary, error) {
	sum := NewSummary(j.Name())
	sum.DryRun = j.cfg.DryRun
	log := logFrom(ctx, j.log)

	id := strings.TrimSpace(j.opts.ResourceID)
	if id == "" {
		return sum, fmt.Errorf("%w: resource id", ErrMissingArgument)
	}
	if !j.opts.Confirm {
		return sum, fmt.Errorf("%w: deleting resource %s requires --yes", ErrNotConfirmed, id)
	}

	res, err := j.catalog.ResourceShow(ctx, id)
	if err != nil {
		sum.Fail(id, err)
		return sum, err
	}
	if j.cfg.DryRun {
		log.Info("would delete resource", zap.String("resource_id", id), zap.String("name", res.Name))
		sum.Skip()
		return sum, nil
	}
	if err := j.catalog.ResourceDelete(ctx, id); err != nil {
		sum.Fail(id, err)
		return sum, err
	}
	log.Info("resource deleted", zap.String("resource_id", id), zap.String("name", res.Name))
	sum.Succeed()
	return sum, nil
}
