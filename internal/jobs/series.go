package jobs

import (
	"context"
	"fmt"

	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/failure"
	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/smallbiznis/catalogsync/internal/timeseries/domain"
	"github.com/smallbiznis/catalogsync/internal/timeseries/engine"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func lookupSeries(holder *config.SeriesHolder, name string) (config.Series, error) {
	cfg := config.DefaultSeriesConfig()
	if holder != nil {
		cfg = holder.Get()
	}
	s, ok := cfg.Lookup(name)
	if !ok {
		return config.Series{}, &failure.ConfigurationError{Key: "series", Reason: fmt.Sprintf("unknown series %q", name)}
	}
	return s, nil
}

func seriesOf(s config.Series) domain.Series {
	return domain.Series{
		Name:             s.Name,
		DatasetID:        s.DatasetID,
		ResourceName:     s.ResourceName,
		Description:      s.Description,
		KeyColumns:       s.KeyColumns,
		TimestampColumns: s.TimestampColumns,
	}
}

type AppendSeriesParams struct {
	fx.In

	Config  config.Config
	Options Options `optional:"true"`
	Log     *zap.Logger
	Service domain.Service
	Series  *config.SeriesHolder
}

// AppendSeries appends the rows of a series file to its datastore table,
// skipping rows already stored.
type AppendSeries struct {
	cfg     config.Config
	opts    Options
	log     *zap.Logger
	service domain.Service
	series  *config.SeriesHolder
}

func NewAppendSeries(p AppendSeriesParams) *AppendSeries {
	return &AppendSeries{cfg: p.Config, opts: p.Options, log: p.Log, service: p.Service, series: p.Series}
}

func (j *AppendSeries) Name() string { return NameAppendSeries }

func (j *AppendSeries) Requires() []config.Requirement {
	if j.cfg.DryRun {
		return []config.Requirement{config.RequireCatalogURL}
	}
	return []config.Requirement{config.RequireCatalogURL, config.RequireCatalogAPIKey}
}

func (j *AppendSeries) Run(ctx context.Context) (Summary, error) {
	sum := NewSummary(j.Name())
	sum.DryRun = j.cfg.DryRun
	log := logFrom(ctx, j.log)

	cfgSeries, err := lookupSeries(j.series, j.opts.Series)
	if err != nil {
		return sum, err
	}
	src := path(j.cfg, j.opts.Input, cfgSeries.CSV)
	t, err := table.Read(src)
	if err != nil {
		return sum, err
	}

	res, err := j.service.Append(ctx, domain.AppendRequest{
		Series: seriesOf(cfgSeries),
		Batch:  engine.FromTable(t),
		DryRun: j.cfg.DryRun,
	})
	if err != nil {
		sum.Fail(cfgSeries.Name, err)
		return sum, err
	}

	sum.Succeeded = res.Inserted
	sum.Skipped = res.Duplicates
	log.Info("series appended",
		zap.String("series", cfgSeries.Name),
		zap.String("resource_id", res.ResourceID),
		zap.String("state", string(res.State)),
		zap.String("final_state", string(res.FinalState)),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Bool("recreated", res.Recreated),
	)
	return sum, nil
}
