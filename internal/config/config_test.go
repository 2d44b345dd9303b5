package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallbiznis/catalogsync/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CKAN_URL", "")
	t.Setenv("HTTP_READ_TIMEOUT", "")
	t.Setenv("WORKER_POOL_SIZE", "")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, DefaultCatalogURL, cfg.Catalog.URL)
	assert.Equal(t, 30*time.Second, cfg.Catalog.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Catalog.WriteTimeout)
	assert.Equal(t, 10, cfg.Pool.Size)
	assert.Equal(t, 100, cfg.RateLimit.Threshold)
	assert.Equal(t, time.Minute, cfg.RateLimit.ResetGrace)
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CKAN_URL=http://ckan.local/\nHTTP_WRITE_TIMEOUT=5\nDRY_RUN=yes\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CKAN_URL")
		os.Unsetenv("HTTP_WRITE_TIMEOUT")
		os.Unsetenv("DRY_RUN")
	})

	cfg := Load(envFile)

	assert.Equal(t, "http://ckan.local", cfg.Catalog.URL)
	assert.Equal(t, 5*time.Second, cfg.Catalog.WriteTimeout)
	assert.True(t, cfg.DryRun)
}

func TestValidateRequiresAPIKeyForWrites(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	cfg.Catalog.APIKey = ""

	require.NoError(t, cfg.Validate(RequireCatalogURL))

	err := cfg.Validate(RequireCatalogAPIKey)
	require.Error(t, err)
	assert.True(t, failure.IsConfiguration(err))

	cfg.Catalog.APIKey = "secret"
	assert.NoError(t, cfg.Validate(RequireCatalogAPIKey))
}

func TestValidateRejectsEmptyPool(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	cfg.Pool.Size = 0

	err := cfg.Validate()
	assert.True(t, failure.IsConfiguration(err))
}

func TestSeriesHolderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.yml")
	body := `series:
  - name: sites
    dataset_id: ckan-sites-metadata
    resource_name: Sites Dynamic Metadata
    csv: sites_stats.csv
    key_columns: [url, tstamp]
    timestamp_columns: [tstamp]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	holder, err := NewSeriesHolder(path)
	require.NoError(t, err)

	s, ok := holder.Get().Lookup("sites")
	require.True(t, ok)
	assert.Equal(t, "ckan-sites-metadata", s.DatasetID)
	assert.Equal(t, []string{"url", "tstamp"}, s.KeyColumns)

	_, ok = holder.Get().Lookup("extensions")
	assert.False(t, ok)
}

func TestSeriesHolderRejectsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.yml")
	body := `series:
  - name: broken
    dataset_id: d
    resource_name: r
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := NewSeriesHolder(path)
	assert.ErrorContains(t, err, "key_columns")
}

func TestSeriesHolderMissingExplicitFile(t *testing.T) {
	_, err := NewSeriesHolder(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestDefaultSeriesLookup(t *testing.T) {
	s, ok := DefaultSeriesConfig().Lookup("")
	require.True(t, ok)
	assert.Equal(t, "ckan-extensions-metadata", s.DatasetID)
	assert.Equal(t, []string{"repository_name", "tstamp"}, s.KeyColumns)
}
