package jobs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	catalog "github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"github.com/smallbiznis/catalogsync/internal/config"
	ghdomain "github.com/smallbiznis/catalogsync/internal/github/domain"
	"github.com/smallbiznis/catalogsync/internal/ratelimit"
	"github.com/smallbiznis/catalogsync/internal/table"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var githubURLPattern = regexp.MustCompile(`(?i)https?://github\.com/[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+/?`)

const extensionPathMarker = "/extension/"

// Integer fields patched onto extension packages; unparseable values become 0.
var extensionIntFields = []string{"forks_count", "total_releases", "stars", "open_issues", "contributors_count"}

// ExtractGitHubURL returns the first GitHub repository URL in text, with
// the scheme forced to https and trailing slashes removed.
func ExtractGitHubURL(text string) string {
	m := githubURLPattern.FindString(text)
	if m == "" {
		return ""
	}
	m = strings.TrimRight(m, "/")
	if i := strings.Index(m, "://"); i >= 0 {
		m = "https" + m[i:]
	}
	return m
}

type ExtensionParams struct {
	fx.In

	Config  config.Config
	Options Options `optional:"true"`
	Log     *zap.Logger
	Catalog catalog.Client
	Series  *config.SeriesHolder
	Pacer   *ratelimit.Pacer `optional:"true"`
}

// DiscoverExtensions lists extension packages and records the GitHub
// repository each one points at.
type DiscoverExtensions struct {
	cfg     config.Config
	opts    Options
	log     *zap.Logger
	catalog catalog.Client
}

func NewDiscoverExtensions(p ExtensionParams) *DiscoverExtensions {
	return &DiscoverExtensions{cfg: p.Config, opts: p.Options, log: p.Log, catalog: p.Catalog}
}

func (j *DiscoverExtensions) Name() string { return NameDiscoverExtensions }

func (j *DiscoverExtensions) Requires() []config.Requirement {
	return []config.Requirement{config.RequireCatalogURL}
}

func (j *DiscoverExtensions) Run(ctx context.Context) (Summary, error) {
	sum := NewSummary(j.Name())
	log := logFrom(ctx, j.log)

	pkgs, err := j.catalog.PackageSearchAll(ctx, catalog.SearchRequest{Filter: "type:extension"})
	if err != nil {
		return sum, err
	}

	out := table.New("catalog_url", "github_url")
	for _, pkg := range pkgs {
		gh := packageGitHubURL(pkg)
		if gh == "" {
			log.Debug("no github url", zap.String("package", pkg.Name))
			sum.Skip()
		} else {
			sum.Succeed()
		}
		out.Rows = append(out.Rows, table.Row{
			"catalog_url": j.cfg.Catalog.URL + extensionPathMarker + pkg.Name,
			"github_url":  gh,
		})
	}

	dest := path(j.cfg, j.opts.Output, FileURLList)
	if err := table.Write(dest, out); err != nil {
		return sum, err
	}
	sum.Wrote(dest)
	log.Info("extensions discovered", zap.Int("packages", len(pkgs)), zap.Int("with_github", sum.Succeeded))
	return sum, nil
}

func packageGitHubURL(pkg catalog.Package) string {
	fields := []string{pkg.URL, pkg.Notes}
	for _, e := range pkg.Extras {
		fields = append(fields, e.Value)
	}
	for _, r := range pkg.Resources {
		fields = append(fields, r.URL)
	}
	for _, f := range fields {
		if u := ExtractGitHubURL(f); u != "" {
			return u
		}
	}
	return ""
}

// PatchExtensions copies the latest repository metrics onto the matching
// extension packages.
type PatchExtensions struct {
	cfg     config.Config
	opts    Options
	log     *zap.Logger
	catalog catalog.Client
	series  *config.SeriesHolder
	pacer   *ratelimit.Pacer
}

func NewPatchExtensions(p ExtensionParams) *PatchExtensions {
	return &PatchExtensions{cfg: p.Config, opts: p.Options, log: p.Log, catalog: p.Catalog, series: p.Series, pacer: p.Pacer}
}

func (j *PatchExtensions) Name() string { return NamePatchExtensions }

func (j *PatchExtensions) Requires() []config.Requirement {
	return []config.Requirement{config.RequireCatalogURL, config.RequireCatalogAPIKey}
}

func (j *PatchExtensions) Run(ctx context.Context) (Summary, error) {
	sum := NewSummary(j.Name())
	sum.DryRun = j.cfg.DryRun
	log := logFrom(ctx, j.log)

	urls, err := table.Read(path(j.cfg, "", FileURLList))
	if err != nil {
		return sum, err
	}
	series, err := lookupSeries(j.series, j.opts.Series)
	if err != nil {
		return sum, err
	}
	metadataPath := path(j.cfg, j.opts.Input, series.CSV)
	meta, err := table.Read(metadataPath)
	if err != nil {
		return sum, err
	}
	if !meta.Has("url") {
		return sum, fmt.Errorf("%w: url in %s", ErrMissingColumn, metadataPath)
	}

	catalogURLs := map[string]string{}
	for _, row := range urls.Rows {
		if row["github_url"] != "" && row["catalog_url"] != "" {
			catalogURLs[strings.TrimRight(row["github_url"], "/")] = row["catalog_url"]
		}
	}

	for _, row := range meta.Rows {
		ghURL := strings.TrimRight(strings.TrimSpace(row["url"]), "/")
		catalogURL, ok := catalogURLs[ghURL]
		if !ok {
			sum.Skip()
			continue
		}
		name, err := PackageNameFromURL(catalogURL)
		if err != nil {
			sum.Fail(catalogURL, err)
			continue
		}
		fields := extensionFields(row)
		if len(fields) == 0 {
			sum.Skip()
			continue
		}
		if j.cfg.DryRun {
			log.Info("would patch package", zap.String("package", name), zap.Any("fields", fields))
			sum.Succeed()
			continue
		}
		if err := j.pacer.Wait(ctx); err != nil {
			return sum, err
		}
		if err := j.patch(ctx, name, fields); err != nil {
			log.Warn("patch failed", zap.String("package", name), zap.Error(err))
			sum.Fail(name, err)
			continue
		}
		sum.Succeed()
	}
	return sum, nil
}

func (j *PatchExtensions) patch(ctx context.Context, name string, fields map[string]any) error {
	if _, err := j.catalog.PackageShow(ctx, name); err != nil {
		return err
	}
	_, err := j.catalog.PackagePatch(ctx, name, fields)
	return err
}

var errInvalidPackageName = errors.New("invalid_package_name")

// PackageNameFromURL returns the package name after /extension/ in a
// catalog URL.
func PackageNameFromURL(catalogURL string) (string, error) {
	i := strings.LastIndex(catalogURL, extensionPathMarker)
	if i < 0 {
		return "", fmt.Errorf("%w: %q", errInvalidPackageName, catalogURL)
	}
	name := strings.Trim(strings.TrimSpace(catalogURL[i+len(extensionPathMarker):]), "/")
	if !slug.IsSlug(name) {
		return "", fmt.Errorf("%w: %q", errInvalidPackageName, name)
	}
	return name, nil
}

// extensionFields maps one metadata row onto package fields.
func extensionFields(row table.Row) map[string]any {
	fields := map[string]any{}
	for _, col := range extensionIntFields {
		v, ok := row[col]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			if f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64); ferr == nil {
				n = int(f)
			}
		}
		fields[col] = n
	}
	if v, ok := row["latest_release"]; ok && v != "" {
		fields["latest_release"] = v
	}
	if v, ok := row["release_date"]; ok && v != "" && v != ghdomain.NoReleases {
		fields["release_date"] = v
	}
	if v, ok := row["discussions"]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil && b {
			fields["discussions"] = "TRUE"
		} else {
			fields["discussions"] = "FALSE"
		}
	}
	return fields
}
