// Package sitestats probes public catalog sites for their size and version.
package sitestats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/catalogsync/internal/catalog/client"
	catalog "github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/failure"
	"github.com/smallbiznis/catalogsync/internal/table"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"

	// Unknown marks a count that could not be read.
	Unknown = -1
)

// Columns is the header of the site stats file.
var Columns = []string{
	"url",
	"status",
	"num_datasets",
	"num_groups",
	"num_organizations",
	"ckan_version",
	"site_title",
	"site_description",
	"error_emails_to",
	"locale_default",
	"extensions",
	"error",
}

type SiteStats struct {
	URL              string
	Status           string
	NumDatasets      int
	NumGroups        int
	NumOrganizations int
	CKANVersion      string
	SiteTitle        string
	SiteDescription  string
	ErrorEmailsTo    string
	LocaleDefault    string
	Extensions       []string
	Error            string
}

// Failed returns the stats row recorded for a site that could not be probed.
func Failed(siteURL string, err error) SiteStats {
	s := SiteStats{
		URL:              NormalizeURL(siteURL),
		Status:           StatusFailed,
		NumDatasets:      Unknown,
		NumGroups:        Unknown,
		NumOrganizations: Unknown,
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

func (s SiteStats) Row() table.Row {
	return table.Row{
		"url":               s.URL,
		"status":            s.Status,
		"num_datasets":      strconv.Itoa(s.NumDatasets),
		"num_groups":        strconv.Itoa(s.NumGroups),
		"num_organizations": strconv.Itoa(s.NumOrganizations),
		"ckan_version":      s.CKANVersion,
		"site_title":        s.SiteTitle,
		"site_description":  s.SiteDescription,
		"error_emails_to":   s.ErrorEmailsTo,
		"locale_default":    s.LocaleDefault,
		"extensions":        strings.Join(s.Extensions, " "),
		"error":             s.Error,
	}
}

// NormalizeURL prepends https:// when the scheme is missing and strips
// trailing slashes.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return strings.TrimRight(u, "/")
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

type Prober struct {
	log       *zap.Logger
	newClient func(baseURL string) catalog.Client
}

func NewProber(p Params) *Prober {
	timeout := p.Config.Pool.Timeout
	userAgent := p.Config.Catalog.UserAgent
	return NewProberWith(p.Log, func(baseURL string) catalog.Client {
		return client.NewClient(client.Options{
			BaseURL:     baseURL,
			UserAgent:   userAgent,
			ReadTimeout: timeout,
		}, p.Log)
	})
}

func NewProberWith(log *zap.Logger, newClient func(baseURL string) catalog.Client) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{log: log.Named("sitestats"), newClient: newClient}
}

// Probe reads the dataset, group and organization counts and the status of
// one site. A count that cannot be read is Unknown and marks the site
// failed. An error is returned only when no call succeeded.
func (p *Prober) Probe(ctx context.Context, siteURL string) (SiteStats, error) {
	base := NormalizeURL(siteURL)
	if base == "" {
		return Failed(siteURL, nil), &failure.ConfigurationError{Key: "url", Reason: "empty site url"}
	}
	c := p.newClient(base)
	stats := SiteStats{URL: base, Status: StatusOK}

	var errs []error
	count := func(name string, list func(context.Context) ([]string, error)) int {
		names, err := list(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return Unknown
		}
		return len(names)
	}
	stats.NumDatasets = count("package_list", c.PackageList)
	stats.NumGroups = count("group_list", c.GroupList)
	stats.NumOrganizations = count("organization_list", c.OrganizationList)

	status, err := c.StatusShow(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("status_show: %w", err))
	} else {
		stats.CKANVersion = status.CKANVersion
		stats.SiteTitle = status.SiteTitle
		stats.SiteDescription = status.SiteDescription
		stats.ErrorEmailsTo = status.ErrorEmailsTo
		stats.LocaleDefault = status.LocaleDefault
		stats.Extensions = status.Extensions
	}

	if len(errs) == 0 {
		return stats, nil
	}
	joined := errors.Join(errs...)
	stats.Error = joined.Error()
	if stats.NumDatasets == Unknown || stats.NumGroups == Unknown || stats.NumOrganizations == Unknown {
		stats.Status = StatusFailed
	}
	p.log.Warn("site probe incomplete", zap.String("url", base), zap.Error(joined))
	if len(errs) == 4 {
		return Failed(base, joined), joined
	}
	return stats, nil
}
