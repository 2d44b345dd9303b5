package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/catalogsync/internal/timeseries/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var repoKey = domain.Key{Columns: []string{"repository_name", "tstamp"}, Timestamps: []string{"tstamp"}}

func repoBatch(rows ...domain.Row) domain.Batch {
	return domain.Batch{Columns: []string{"repository_name", "tstamp", "stars"}, Rows: rows}
}

func TestPartitionDisjointKeys(t *testing.T) {
	batch := repoBatch(
		domain.Row{"repository_name": "ckan/ckanext-a", "tstamp": "2024-03-01", "stars": int64(1)},
		domain.Row{"repository_name": "ckan/ckanext-b", "tstamp": "2024-03-01", "stars": int64(2)},
	)
	existing := []domain.Row{
		{"repository_name": "ckan/ckanext-a", "tstamp": "2024-02-01T00:00:00", "stars": int64(1)},
	}

	delta, err := Partition(batch, existing, repoKey)
	require.NoError(t, err)
	assert.Len(t, delta.New, 2)
	assert.Empty(t, delta.Duplicates)
}

func TestPartitionAllDuplicates(t *testing.T) {
	batch := repoBatch(
		domain.Row{"repository_name": "a", "tstamp": "2024-03-01", "stars": int64(1)},
		domain.Row{"repository_name": "b", "tstamp": "2024-03-01", "stars": int64(2)},
	)

	delta, err := Partition(batch, batch.Rows, repoKey)
	require.NoError(t, err)
	assert.Empty(t, delta.New)
	assert.Len(t, delta.Duplicates, 2)
}

func TestPartitionNormalizesTimestampsOnBothSides(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		batch    any
		existing any
	}{
		{"date_vs_canonical", "2024-03-01", "2024-03-01T00:00:00"},
		{"time_vs_rfc3339", day, "2024-03-01T00:00:00Z"},
		{"space_vs_fraction", "2024-03-01 00:00:00", "2024-03-01T00:00:00.000000"},
		{"zoned_vs_utc", "2024-03-01T02:00:00+02:00", day},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			batch := repoBatch(domain.Row{"repository_name": "a", "tstamp": tc.batch, "stars": int64(1)})
			existing := []domain.Row{{"repository_name": "a", "tstamp": tc.existing}}

			delta, err := Partition(batch, existing, repoKey)
			require.NoError(t, err)
			assert.Empty(t, delta.New)
			assert.Len(t, delta.Duplicates, 1)
		})
	}
}

func TestPartitionIsCompleteAndOrdered(t *testing.T) {
	var rows []domain.Row
	var existing []domain.Row
	for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
		row := domain.Row{"repository_name": name, "tstamp": "2024-03-01", "stars": int64(i)}
		rows = append(rows, row)
		if i%2 == 0 {
			existing = append(existing, row)
		}
	}

	delta, err := Partition(repoBatch(rows...), existing, repoKey)
	require.NoError(t, err)
	require.Equal(t, len(rows), len(delta.New)+len(delta.Duplicates))

	names := func(rs []domain.Row) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r["repository_name"].(string))
		}
		return out
	}
	assert.Equal(t, []string{"b", "d", "f"}, names(delta.New))
	assert.Equal(t, []string{"a", "c", "e"}, names(delta.Duplicates))
}

func TestPartitionSecondRunIsIdempotent(t *testing.T) {
	batch := repoBatch(
		domain.Row{"repository_name": "a", "tstamp": "2024-03-01", "stars": int64(1)},
		domain.Row{"repository_name": "b", "tstamp": "2024-03-01", "stars": int64(2)},
	)

	first, err := Partition(batch, nil, repoKey)
	require.NoError(t, err)
	require.Len(t, first.New, 2)

	second, err := Partition(batch, first.New, repoKey)
	require.NoError(t, err)
	assert.Empty(t, second.New)
}

func TestPartitionFailsFast(t *testing.T) {
	batch := repoBatch(domain.Row{"repository_name": "a", "tstamp": "2024-03-01", "stars": int64(1)})

	_, err := Partition(batch, nil, domain.Key{})
	assert.ErrorIs(t, err, domain.ErrNoKeyColumns)

	_, err = Partition(batch, nil, domain.Key{Columns: []string{"repository_name", "missing"}})
	assert.ErrorIs(t, err, domain.ErrMissingKeyColumn)

	_, err = Partition(batch, []domain.Row{{"repository_name": "a"}}, repoKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingKeyColumn))
	assert.Contains(t, err.Error(), "existing row 0")
}

func TestUnionKeepsExistingFirst(t *testing.T) {
	existing := []domain.Row{{"repository_name": "a", "tstamp": "2024-03-01T00:00:00", "stars": int64(1)}}
	extra := []domain.Row{
		{"repository_name": "a", "tstamp": "2024-03-01", "stars": int64(9)},
		{"repository_name": "b", "tstamp": "2024-03-01", "stars": int64(2)},
	}

	out, err := Union(existing, extra, repoKey)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0]["stars"])
	assert.Equal(t, "b", out[1]["repository_name"])
}

func TestKeyOfUnparseableTimestampIsVerbatim(t *testing.T) {
	k, err := KeyOf(domain.Row{"repository_name": "a", "tstamp": "No releases"}, repoKey)
	require.NoError(t, err)
	assert.Equal(t, "a-No releases", k)
}

func TestPartitionRepoScenario(t *testing.T) {
	key := domain.Key{Columns: []string{"repo", "ts"}, Timestamps: []string{"ts"}}
	existing := []domain.Row{{"repo": "a", "ts": "2024-01-01T00:00:00", "stars": int64(5)}}
	batch := domain.Batch{
		Columns: []string{"repo", "ts", "stars"},
		Rows: []domain.Row{
			{"repo": "a", "ts": "2024-01-01T00:00:00", "stars": int64(5)},
			{"repo": "b", "ts": "2024-01-01T00:00:00", "stars": int64(1)},
		},
	}

	delta, err := Partition(batch, existing, key)
	require.NoError(t, err)
	require.Len(t, delta.New, 1)
	require.Len(t, delta.Duplicates, 1)
	assert.Equal(t, "b", delta.New[0]["repo"])
	assert.Equal(t, "a", delta.Duplicates[0]["repo"])
}
