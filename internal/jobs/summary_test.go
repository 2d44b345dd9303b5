package jobs

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/catalogsync/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryPrint(t *testing.T) {
	sum := NewSummary(NamePatchExtensions)
	sum.RunID = "run-1"
	sum.Duration = 1500 * time.Millisecond
	sum.Succeed()
	sum.Skip()
	sum.Fail("ckanext-foo", &failure.RemoteWriteError{Op: "package_patch", Err: errors.New("bad\ngateway")})
	sum.Wrote("/tmp/out.csv")

	var buf bytes.Buffer
	require.NoError(t, sum.Print(&buf))
	out := buf.String()

	assert.Contains(t, out, "patch-extensions")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "/tmp/out.csv")
	assert.Contains(t, out, "failures:")
	assert.Contains(t, out, "ckanext-foo")
	assert.Contains(t, out, failure.ReasonWrite)
	assert.Contains(t, out, "bad gateway")
	assert.NotContains(t, out, "dry_run")
}

func TestSummaryFailRecordsReason(t *testing.T) {
	sum := NewSummary(NameCollectRepos)
	sum.Fail("a/b", &failure.RateLimitError{Remaining: 0, Reset: testNow})
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, failure.ReasonRateLimit, sum.Failures[0].Reason)
}
