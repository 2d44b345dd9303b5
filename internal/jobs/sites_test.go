package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/smallbiznis/catalogsync/internal/catalog/catalogtest"
	"github.com/smallbiznis/catalogsync/internal/catalog/client"
	catalog "github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"github.com/smallbiznis/catalogsync/internal/sitestats"
	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSiteURL(t *testing.T) {
	assert.Equal(t, "portal.example.org/", SiteURL(catalog.Package{URL: " portal.example.org/ "}))
	assert.Equal(t, "https://s2.example.org/home", SiteURL(catalog.Package{Resources: []catalog.Resource{
		{URL: "https://s2.example.org/files/data.CSV"},
		{URL: "https://s2.example.org/dump.zip?dl=1"},
		{URL: "https://s2.example.org/home"},
	}}))
	assert.Equal(t, "https://s3.example.org", SiteURL(catalog.Package{Extras: []catalog.Extra{
		{Key: "contact", Value: "someone"},
		{Key: "homepage", Value: "https://s3.example.org"},
	}}))
	assert.Equal(t, "https://s4.example.org", SiteURL(catalog.Package{Notes: "Visit https://s4.example.org for data"}))
	assert.Equal(t, "", SiteURL(catalog.Package{Notes: "no links"}))
}

func TestDiscoverSites(t *testing.T) {
	srv := catalogtest.New(t)
	srv.AddPackage(catalog.Package{Name: "s1", Title: "One", Type: "site", URL: "portal.example.org/"})
	srv.AddPackage(catalog.Package{Name: "s2", Title: "Two", Type: "site", Notes: "See http://two.example.org"})
	srv.AddPackage(catalog.Package{Name: "s3", Title: "Three", Type: "site"})
	srv.AddPackage(catalog.Package{Name: "ckanext-a", Type: "extension", URL: "https://ext.example.org"})
	cfg := testConfig(t, srv)

	job := NewDiscoverSites(SiteParams{Config: cfg, Log: zap.NewNop(), Catalog: testCatalog(srv)})
	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Skipped)

	out := readTable(t, filepath.Join(cfg.DataDir, FileSites))
	assert.Equal(t, SiteColumns, out.Header)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, table.Row{"name": "s1", "title": "One", "url": "https://portal.example.org"}, out.Rows[0])
	assert.Equal(t, "http://two.example.org", out.Rows[1]["url"])
}

func TestCollectSites(t *testing.T) {
	site := catalogtest.New(t)
	site.SetList("package_list", []string{"a", "b", "c"})
	site.SetList("group_list", []string{"g"})
	site.SetStatus(catalog.Status{CKANVersion: "2.10.4", SiteTitle: "Demo", Extensions: []string{"spatial", "dcat"}})

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	cfg := testConfig(t, nil)
	writeTable(t, cfg.DataDir, FileSites, SiteColumns,
		table.Row{"name": "demo", "title": "Demo", "url": site.URL},
		table.Row{"name": "dead", "title": "Dead", "url": deadURL},
	)

	log := zap.NewNop()
	prober := sitestats.NewProberWith(log, func(base string) catalog.Client {
		return client.NewClient(client.Options{BaseURL: base}, log)
	})
	job := NewCollectSites(SiteParams{Config: cfg, Log: log, Prober: prober})

	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)

	out := readTable(t, filepath.Join(cfg.DataDir, FileSitesStats))
	assert.Equal(t, []string{"name", "title", "url", "status"}, out.Header[:4])
	require.Equal(t, 2, out.Len())

	demo := out.Rows[0]
	assert.Equal(t, "demo", demo["name"])
	assert.Equal(t, site.URL, demo["url"])
	assert.Equal(t, sitestats.StatusOK, demo["status"])
	assert.Equal(t, "3", demo["num_datasets"])
	assert.Equal(t, "1", demo["num_groups"])
	assert.Equal(t, "0", demo["num_organizations"])
	assert.Equal(t, "2.10.4", demo["ckan_version"])
	assert.Equal(t, "spatial dcat", demo["extensions"])

	gone := out.Rows[1]
	assert.Equal(t, "dead", gone["name"])
	assert.Equal(t, sitestats.StatusFailed, gone["status"])
	assert.Equal(t, "-1", gone["num_datasets"])
	assert.NotEmpty(t, gone["error"])
}

func TestPatchSites(t *testing.T) {
	srv := catalogtest.New(t, catalogtest.WithAPIKey("secret"))
	srv.AddPackage(catalog.Package{Name: "demo", Type: "site"})
	cfg := testConfig(t, srv)
	header := []string{"name", "url", "num_datasets", "num_groups", "num_organizations"}
	writeTable(t, cfg.DataDir, FileSitesStats, header,
		table.Row{"name": "demo", "num_datasets": "3", "num_groups": "-1", "num_organizations": "0"},
		table.Row{"name": "", "num_datasets": "7"},
		table.Row{"name": "dead", "num_datasets": "-1", "num_groups": "-1", "num_organizations": "-1"},
		table.Row{"name": "ghost", "num_datasets": "5"},
	)

	job := NewPatchSites(SiteParams{Config: cfg, Log: zap.NewNop(), Catalog: testCatalog(srv)})
	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)

	demo, ok := srv.Package("demo")
	require.True(t, ok)
	v, _ := demo.Extra("num_datasets")
	assert.Equal(t, "3", v)
	v, _ = demo.Extra("num_organizations")
	assert.Equal(t, "0", v)
	_, has := demo.Extra("num_groups")
	assert.False(t, has)
}

func TestMergeCSV(t *testing.T) {
	cfg := testConfig(t, nil)
	newer := writeTable(t, cfg.DataDir, "new.csv", []string{"name", "url"},
		table.Row{"name": "n1", "url": "https://n1"},
	)
	older := writeTable(t, cfg.DataDir, "old.csv", []string{"name", "notes"},
		table.Row{"name": "o1", "notes": "kept"},
		table.Row{"name": "o2", "notes": ""},
	)
	dest := filepath.Join(cfg.DataDir, "merged.csv")

	job := NewMergeCSV(MergeParams{Config: cfg, Log: zap.NewNop(), Options: Options{Input: newer, Existing: older, Output: dest}})
	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Succeeded)

	out := readTable(t, dest)
	assert.Equal(t, []string{"name", "url", "notes"}, out.Header)
	assert.Equal(t, []string{"n1", "o1", "o2"}, out.Column("name"))
	assert.Equal(t, "kept", out.Rows[1]["notes"])

	_, err = NewMergeCSV(MergeParams{Config: cfg, Log: zap.NewNop(), Options: Options{Input: newer}}).Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingArgument)
}
