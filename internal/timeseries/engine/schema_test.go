package engine

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/smallbiznis/catalogsync/internal/timeseries/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metadataCSV = `url,repository_name,forks_count,latest_release,release_date,stars,discussions,score,tstamp
https://github.com/ckan/ckanext-a,ckan/ckanext-a,3,v1.0,2024-01-05,10,True,1.5,2024-03-01
https://github.com/ckan/ckanext-b,ckan/ckanext-b,0,No releases,No releases,2,False,,2024-03-01
`

func loadBatch(t *testing.T) domain.Batch {
	t.Helper()
	tbl, err := table.Decode(strings.NewReader(metadataCSV))
	require.NoError(t, err)
	return FromTable(tbl)
}

func TestInferSchema(t *testing.T) {
	batch := loadBatch(t)
	schema := InferSchema(batch, []string{"tstamp", "release_date"})

	want := map[string]domain.Kind{
		"url":             domain.KindText,
		"repository_name": domain.KindText,
		"forks_count":     domain.KindInt,
		"latest_release":  domain.KindText,
		"release_date":    domain.KindTimestamp,
		"stars":           domain.KindInt,
		"discussions":     domain.KindBool,
		"score":           domain.KindNumeric,
		"tstamp":          domain.KindTimestamp,
	}
	require.Len(t, schema, len(want))
	assert.Equal(t, "url", schema[0].ID)
	for _, f := range schema {
		assert.Equal(t, want[f.ID], f.Kind, f.ID)
	}
}

func TestInferSchemaTimeValues(t *testing.T) {
	batch := domain.Batch{
		Columns: []string{"seen"},
		Rows:    []domain.Row{{"seen": time.Now()}, {"seen": nil}},
	}
	kind, ok := InferSchema(batch, nil).Kind("seen")
	require.True(t, ok)
	assert.Equal(t, domain.KindTimestamp, kind)
}

func TestRecordsDropNilAndUnparseableTimestamps(t *testing.T) {
	batch := loadBatch(t)
	schema := InferSchema(batch, []string{"tstamp", "release_date"})
	recs := Records(batch.Rows, schema)
	require.Len(t, recs, 2)

	assert.Equal(t, "2024-01-05T00:00:00", recs[0]["release_date"])
	assert.Equal(t, "2024-03-01T00:00:00", recs[0]["tstamp"])
	assert.Equal(t, int64(10), recs[0]["stars"])
	assert.Equal(t, true, recs[0]["discussions"])
	assert.Equal(t, 1.5, recs[0]["score"])

	_, hasRelease := recs[1]["release_date"]
	assert.False(t, hasRelease)
	_, hasScore := recs[1]["score"]
	assert.False(t, hasScore)
	assert.Equal(t, "No releases", recs[1]["latest_release"])
}

func TestRecordsFromCatalogValues(t *testing.T) {
	schema := domain.Schema{{ID: "stars", Kind: domain.KindInt}, {ID: "score", Kind: domain.KindNumeric}}
	recs := Records([]domain.Row{{"stars": json.Number("7"), "score": json.Number("2.5")}}, schema)
	assert.Equal(t, int64(7), recs[0]["stars"])
	assert.Equal(t, 2.5, recs[0]["score"])
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, domain.KindInt, KindOf("int"))
	assert.Equal(t, domain.KindNumeric, KindOf("float8"))
	assert.Equal(t, domain.KindTimestamp, KindOf("timestamp"))
	assert.Equal(t, domain.KindText, KindOf("text"))
}

func TestParseCell(t *testing.T) {
	assert.Nil(t, ParseCell(" "))
	assert.Nil(t, ParseCell("NaN"))
	assert.Equal(t, json.Number("42"), ParseCell("42"))
	assert.Equal(t, json.Number("4.2"), ParseCell("4.2"))
	assert.Equal(t, true, ParseCell("True"))
	assert.Equal(t, "ckan", ParseCell("ckan"))
	assert.Equal(t, "Inf", ParseCell("Inf"))
}

func TestFromTableKeepsTextOfMixedColumns(t *testing.T) {
	tbl, err := table.Decode(strings.NewReader(`repository_name,latest_release,archived,stars,tstamp
ckan/a,v2.0.0,True,007,2024-03-01
ckan/b,1.0,n/a,3,2024-03-01
ckan/c,2.10,False,4,2024-03-01
ckan/d,007,,5,2024-03-01
`))
	require.NoError(t, err)
	batch := FromTable(tbl)
	schema := InferSchema(batch, []string{"tstamp"})

	kind, _ := schema.Kind("latest_release")
	assert.Equal(t, domain.KindText, kind)
	kind, _ = schema.Kind("archived")
	assert.Equal(t, domain.KindText, kind)
	kind, _ = schema.Kind("stars")
	assert.Equal(t, domain.KindInt, kind)

	recs := Records(batch.Rows, schema)
	require.Len(t, recs, 4)
	var releases []any
	for _, rec := range recs {
		releases = append(releases, rec["latest_release"])
	}
	assert.Equal(t, []any{"v2.0.0", "1.0", "2.10", "007"}, releases)
	assert.Equal(t, "True", recs[0]["archived"])
	assert.Equal(t, int64(7), recs[0]["stars"])
	_, hasArchived := recs[3]["archived"]
	assert.False(t, hasArchived)
}

func TestFromTableNumericTextKeysMatchRemote(t *testing.T) {
	tbl, err := table.Decode(strings.NewReader("name,tstamp\n1.0,2024-03-01\n2.10,2024-03-01\n"))
	require.NoError(t, err)
	batch := FromTable(tbl)
	key := domain.Key{Columns: []string{"name", "tstamp"}, Timestamps: []string{"tstamp"}}

	existing := FromRecords([]string{"name", "tstamp"}, []map[string]any{
		{"name": "1.0", "tstamp": "2024-03-01T00:00:00"},
	})
	delta, err := Partition(batch, existing, key)
	require.NoError(t, err)
	require.Len(t, delta.Duplicates, 1)
	require.Len(t, delta.New, 1)
	assert.Equal(t, "2.10", stringify(delta.New[0]["name"]))
}
