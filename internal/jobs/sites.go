package jobs

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	catalog "github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/ratelimit"
	"github.com/smallbiznis/catalogsync/internal/sitestats"
	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/smallbiznis/catalogsync/internal/workerpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	SiteColumns = []string{"name", "title", "url"}

	siteURLExtras = []string{"website", "homepage", "site_url", "portal_url"}
	siteCountCols = []string{"num_datasets", "num_groups", "num_organizations"}

	// Resource links to data files are not site homepages.
	fileExtensions = []string{".csv", ".json", ".xml", ".pdf", ".zip", ".xlsx"}

	notesURLPattern = regexp.MustCompile(`https?://[^\s)\]>"']+`)
)

// SiteURL picks the homepage of a site package: the package url, then the
// first non-file resource url, then a known extra, then the first url in
// the notes.
func SiteURL(pkg catalog.Package) string {
	if u := strings.TrimSpace(pkg.URL); u != "" {
		return u
	}
	for _, r := range pkg.Resources {
		u := strings.TrimSpace(r.URL)
		if u != "" && !isFileURL(u) {
			return u
		}
	}
	for _, key := range siteURLExtras {
		if v, ok := pkg.Extra(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return notesURLPattern.FindString(pkg.Notes)
}

func isFileURL(u string) bool {
	lower := strings.ToLower(u)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range fileExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

type SiteParams struct {
	fx.In

	Config  config.Config
	Options Options `optional:"true"`
	Log     *zap.Logger
	Catalog catalog.Client
	Prober  *sitestats.Prober
	Pacer   *ratelimit.Pacer `optional:"true"`
}

// DiscoverSites lists site packages and writes their homepages.
type DiscoverSites struct {
	cfg     config.Config
	opts    Options
	log     *zap.Logger
	catalog catalog.Client
}

func NewDiscoverSites(p SiteParams) *DiscoverSites {
	return &DiscoverSites{cfg: p.Config, opts: p.Options, log: p.Log, catalog: p.Catalog}
}

func (j *DiscoverSites) Name() string { return NameDiscoverSites }

func (j *DiscoverSites) Requires() []config.Requirement {
	return []config.Requirement{config.RequireCatalogURL}
}

func (j *DiscoverSites) Run(ctx context.Context) (Summary, error) {
	sum := NewSummary(j.Name())
	log := logFrom(ctx, j.log)

	pkgs, err := j.catalog.PackageSearchAll(ctx, catalog.SearchRequest{Filter: "type:site"})
	if err != nil {
		return sum, err
	}

	out := table.New(SiteColumns...)
	for _, pkg := range pkgs {
		u := sitestats.NormalizeURL(SiteURL(pkg))
		if u == "" {
			log.Debug("site without url", zap.String("package", pkg.Name))
			sum.Skip()
			continue
		}
		out.Rows = append(out.Rows, table.Row{"name": pkg.Name, "title": pkg.Title, "url": u})
		sum.Succeed()
	}

	dest := path(j.cfg, j.opts.Output, FileSites)
	if err := table.Write(dest, out); err != nil {
		return sum, err
	}
	sum.Wrote(dest)
	log.Info("sites discovered", zap.Int("packages", len(pkgs)), zap.Int("with_url", sum.Succeeded))
	return sum, nil
}

// CollectSites probes every site in the sites file and writes its rows
// extended with the probe results.
type CollectSites struct {
	cfg    config.Config
	opts   Options
	log    *zap.Logger
	prober *sitestats.Prober
}

func NewCollectSites(p SiteParams) *CollectSites {
	return &CollectSites{cfg: p.Config, opts: p.Options, log: p.Log, prober: p.Prober}
}

func (j *CollectSites) Name() string { return NameCollectSites }

type siteProbe struct {
	row   table.Row
	stats sitestats.SiteStats
	err   error
}

func (j *CollectSites) Run(ctx context.Context) (Summary, error) {
	sum := NewSummary(j.Name())
	log := logFrom(ctx, j.log)

	src := path(j.cfg, j.opts.Input, FileSites)
	in, err := table.Read(src)
	if err != nil {
		return sum, err
	}
	if !in.Has("url") {
		return sum, fmt.Errorf("%w: url in %s", ErrMissingColumn, src)
	}
	rows := in.Rows
	if j.opts.Limit > 0 && len(rows) > j.opts.Limit {
		rows = rows[:j.opts.Limit]
	}
	log.Info("probing sites", zap.Int("count", len(rows)))

	results := workerpool.Map(ctx, rows,
		workerpool.Options{Size: j.cfg.Pool.Size, Timeout: j.cfg.Pool.Timeout},
		func(ctx context.Context, row table.Row) (siteProbe, error) {
			stats, err := j.prober.Probe(ctx, row["url"])
			if err != nil {
				return siteProbe{}, err
			}
			return siteProbe{row: row, stats: stats}, nil
		},
		func(row table.Row, err error) siteProbe {
			return siteProbe{row: row, stats: sitestats.Failed(row["url"], err), err: err}
		},
	)

	out := table.New(in.Header...)
	for _, col := range sitestats.Columns {
		if !out.Has(col) {
			out.Header = append(out.Header, col)
		}
	}
	for _, r := range results {
		row := make(table.Row, len(out.Header))
		for k, v := range r.row {
			row[k] = v
		}
		for k, v := range r.stats.Row() {
			if k == "url" && row["url"] != "" {
				continue
			}
			row[k] = v
		}
		out.Rows = append(out.Rows, row)

		switch {
		case r.err != nil:
			sum.Fail(r.row["url"], r.err)
		case r.stats.Status == sitestats.StatusFailed:
			sum.Fail(r.row["url"], fmt.Errorf("partial probe: %s", r.stats.Error))
		default:
			sum.Succeed()
		}
	}

	dest := path(j.cfg, j.opts.Output, FileSitesStats)
	if err := table.Write(dest, out); err != nil {
		return sum, err
	}
	sum.Wrote(dest)
	return sum, ctx.Err()
}

// PatchSites copies the probed counts onto the site packages.
type PatchSites struct {
	cfg     config.Config
	opts    Options
	log     *zap.Logger
	catalog catalog.Client
	pacer   *ratelimit.Pacer
}

func NewPatchSites(p SiteParams) *PatchSites {
	return &PatchSites{cfg: p.Config, opts: p.Options, log: p.Log, catalog: p.Catalog, pacer: p.Pacer}
}

func (j *PatchSites) Name() string { return NamePatchSites }

func (j *PatchSites) Requires() []config.Requirement {
	return []config.Requirement{config.RequireCatalogURL, config.RequireCatalogAPIKey}
}

func (j *PatchSites) Run(ctx context.Context) (Summary, error) {
	sum := NewSummary(j.Name())
	sum.DryRun = j.cfg.DryRun
	log := logFrom(ctx, j.log)

	src := path(j.cfg, j.opts.Input, FileSitesStats)
	in, err := table.Read(src)
	if err != nil {
		return sum, err
	}
	if !in.Has("name") {
		return sum, fmt.Errorf("%w: name in %s", ErrMissingColumn, src)
	}

	for _, row := range in.Rows {
		name := strings.TrimSpace(row["name"])
		fields := siteFields(row)
		if name == "" || len(fields) == 0 {
			sum.Skip()
			continue
		}
		if j.cfg.DryRun {
			log.Info("would patch site", zap.String("package", name), zap.Any("fields", fields))
			sum.Succeed()
			continue
		}
		if err := j.pacer.Wait(ctx); err != nil {
			return sum, err
		}
		if _, err := j.catalog.PackagePatch(ctx, name, fields); err != nil {
			log.Warn("site patch failed", zap.String("package", name), zap.Error(err))
			sum.Fail(name, err)
			continue
		}
		sum.Succeed()
	}
	return sum, nil
}

// siteFields returns the counts of row that were read successfully.
func siteFields(row table.Row) map[string]any {
	fields := map[string]any{}
	for _, col := range siteCountCols {
		n, err := strconv.Atoi(strings.TrimSpace(row[col]))
		if err != nil || n < 0 {
			continue
		}
		fields[col] = n
	}
	return fields
}

type MergeParams struct {
	fx.In

	Config  config.Config
	Options Options `optional:"true"`
	Log     *zap.Logger
}

// MergeCSV places the rows of a new file ahead of an existing one.
type MergeCSV struct {
	cfg  config.Config
	opts Options
	log  *zap.Logger
}

func NewMergeCSV(p MergeParams) *MergeCSV {
	return &MergeCSV{cfg: p.Config, opts: p.Options, log: p.Log}
}

func (j *MergeCSV) Name() string { return NameMergeCSV }

func (j *MergeCSV) Run(ctx context.Context) (Summary, error) {
	sum := NewSummary(j.Name())
	if j.opts.Input == "" {
		return sum, fmt.Errorf("%w: input", ErrMissingArgument)
	}
	if j.opts.Existing == "" {
		return sum, fmt.Errorf("%w: existing", ErrMissingArgument)
	}

	newer, err := table.Read(j.opts.Input)
	if err != nil {
		return sum, err
	}
	older, err := table.Read(j.opts.Existing)
	if err != nil {
		return sum, err
	}
	merged := table.Prepend(newer, older)

	dest := j.opts.Output
	if dest == "" {
		dest = j.opts.Existing
	}
	if err := table.Write(dest, merged); err != nil {
		return sum, err
	}
	sum.Succeeded = merged.Len()
	sum.Wrote(dest)
	logFrom(ctx, j.log).Info("files merged",
		zap.Int("new_rows", newer.Len()),
		zap.Int("existing_rows", older.Len()),
	)
	return sum, nil
}
