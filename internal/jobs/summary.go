package jobs

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/smallbiznis/catalogsync/internal/failure"
)

type Failure struct {
	Item   string
	Reason string
	Error  string
}

// Summary is the outcome of one run. Every failed item appears in Failures.
type Summary struct {
	Job       string
	RunID     string
	Duration  time.Duration
	Succeeded int
	Failed    int
	Skipped   int
	Failures  []Failure
	Outputs   []string
	DryRun    bool
}

func NewSummary(job string) Summary {
	return Summary{Job: job}
}

func (s *Summary) Succeed() {
	s.Succeeded++
}

func (s *Summary) Skip() {
	s.Skipped++
}

func (s *Summary) Fail(item string, err error) {
	s.Failed++
	f := Failure{Item: item, Reason: failure.Reason(err)}
	if err != nil {
		f.Error = err.Error()
	}
	s.Failures = append(s.Failures, f)
}

func (s *Summary) Wrote(path string) {
	s.Outputs = append(s.Outputs, path)
}

// Print writes a human-readable report of s to w.
func (s Summary) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "job\t%s\n", s.Job)
	fmt.Fprintf(tw, "run_id\t%s\n", s.RunID)
	fmt.Fprintf(tw, "duration\t%s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "succeeded\t%d\n", s.Succeeded)
	fmt.Fprintf(tw, "failed\t%d\n", s.Failed)
	fmt.Fprintf(tw, "skipped\t%d\n", s.Skipped)
	if s.DryRun {
		fmt.Fprintf(tw, "dry_run\ttrue\n")
	}
	for _, out := range s.Outputs {
		fmt.Fprintf(tw, "output\t%s\n", out)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(s.Failures) == 0 {
		return nil
	}
	fmt.Fprintln(w, "failures:")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range s.Failures {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.Item, f.Reason, oneLine(f.Error))
	}
	return tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
