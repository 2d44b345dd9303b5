// Package jobs holds the catalog maintenance runs exposed as CLI commands.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/smallbiznis/catalogsync/internal/config"
	"go.uber.org/fx"
)

const (
	NameDiscoverExtensions = "discover-extensions"
	NameCollectRepos       = "collect-repos"
	NameAppendSeries       = "append-series"
	NamePatchExtensions    = "patch-extensions"
	NameDiscoverSites      = "discover-sites"
	NameCollectSites       = "collect-sites"
	NameMergeCSV           = "merge-csv"
	NamePatchSites         = "patch-sites"
	NameDeleteResource     = "delete-resource"
)

// Default file names inside the data directory.
const (
	FileURLList    = "url_list.csv"
	FileSites      = "sites.csv"
	FileSitesStats = "sites_stats.csv"
)

var (
	ErrUnknownJob      = errors.New("unknown_job")
	ErrNotConfirmed    = errors.New("not_confirmed")
	ErrMissingColumn   = errors.New("missing_column")
	ErrMissingArgument = errors.New("missing_argument")
)

// Job is one catalog maintenance run. Item failures are recorded in the
// returned Summary; an error means the run as a whole could not proceed.
type Job interface {
	Name() string
	Run(ctx context.Context) (Summary, error)
}

// Preflight is implemented by jobs that need settings checked before any
// remote call.
type Preflight interface {
	Requires() []config.Requirement
}

// Options carries the per-invocation arguments given on the command line.
type Options struct {
	Input      string
	Output     string
	Existing   string
	Series     string
	ResourceID string
	Confirm    bool
	Limit      int
}

// path resolves name against the data directory unless override is set.
func path(cfg config.Config, override, name string) string {
	if override != "" {
		return override
	}
	return filepath.Join(cfg.DataDir, name)
}

type registryParams struct {
	fx.In

	Jobs []Job `group:"jobs"`
}

// Registry looks jobs up by name.
type Registry struct {
	jobs map[string]Job
}

func NewRegistry(p registryParams) *Registry {
	return NewRegistryOf(p.Jobs...)
}

// NewRegistryOf builds a registry from explicit jobs. A later job replaces
// an earlier one with the same name.
func NewRegistryOf(jobs ...Job) *Registry {
	r := &Registry{jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		r.jobs[j.Name()] = j
	}
	return r
}

func (r *Registry) Get(name string) (Job, error) {
	j, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
