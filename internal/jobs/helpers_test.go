package jobs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/smallbiznis/catalogsync/internal/catalog/catalogtest"
	"github.com/smallbiznis/catalogsync/internal/catalog/client"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T, srv *catalogtest.Server) config.Config {
	t.Helper()
	cfg := config.Config{
		DataDir: t.TempDir(),
		Pool:    config.PoolConfig{Size: 4, Timeout: 5 * time.Second},
		RateLimit: config.RateLimitConfig{
			Threshold:  10,
			CheckEvery: 2,
		},
	}
	cfg.Catalog.APIKey = "secret"
	cfg.Catalog.ReadTimeout = 5 * time.Second
	cfg.Catalog.WriteTimeout = 5 * time.Second
	if srv != nil {
		cfg.Catalog.URL = srv.URL
	}
	return cfg
}

func testCatalog(srv *catalogtest.Server) *client.Client {
	return client.NewClient(client.Options{BaseURL: srv.URL, APIKey: "secret"}, zap.NewNop())
}

func writeTable(t *testing.T, dir, name string, header []string, rows ...table.Row) string {
	t.Helper()
	p := filepath.Join(dir, name)
	tb := table.New(header...)
	tb.Rows = rows
	require.NoError(t, table.Write(p, tb))
	return p
}

func readTable(t *testing.T, p string) *table.Table {
	t.Helper()
	tb, err := table.Read(p)
	require.NoError(t, err)
	return tb
}
