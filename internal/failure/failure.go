// Package failure defines the error taxonomy shared by every sync job.
//
// Per-item errors (RemoteReadError, RemoteWriteError) are isolated and
// counted by the job runner. ConflictError is only ever seen by the upsert
// driver, which converts it into a single recreate attempt. RateLimitError
// is consumed by the quota waiter. ConfigurationError aborts a run before
// any remote call is made.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ReasonRead             = "read"
	ReasonWrite            = "write"
	ReasonConflict         = "conflict"
	ReasonRateLimit        = "rate_limit"
	ReasonConfig           = "config"
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonUnknown          = "unknown"
)

// RemoteReadError reports a failed lookup against a remote system.
type RemoteReadError struct {
	Op     string
	Target string
	Err    error
}

func (e *RemoteReadError) Error() string {
	return format("read", e.Op, e.Target, e.Err)
}

func (e *RemoteReadError) Unwrap() error { return e.Err }

// RemoteWriteError reports a failed create, patch, insert or delete.
// Rows is the number of rows the failed call carried, zero for
// non-tabular writes.
type RemoteWriteError struct {
	Op     string
	Target string
	Rows   int
	Err    error
}

func (e *RemoteWriteError) Error() string {
	msg := format("write", e.Op, e.Target, e.Err)
	if e.Rows > 0 {
		msg = fmt.Sprintf("%s (rows=%d)", msg, e.Rows)
	}
	return msg
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// ConflictError reports a key-constraint violation on write.
type ConflictError struct {
	Op     string
	Target string
	Err    error
}

func (e *ConflictError) Error() string {
	return format("conflict", e.Op, e.Target, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// RateLimitError reports an exhausted quota. Reset is when the quota refills.
type RateLimitError struct {
	Remaining int
	Reset     time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exhausted (remaining=%d, reset=%s)", e.Remaining, e.Reset.UTC().Format(time.RFC3339))
}

// ConfigurationError reports missing credentials or invalid settings.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

func format(kind, op, target string, err error) string {
	var b strings.Builder
	b.WriteString("remote ")
	b.WriteString(kind)
	if op != "" {
		b.WriteString(" ")
		b.WriteString(op)
	}
	if target != "" {
		b.WriteString(" [")
		b.WriteString(target)
		b.WriteString("]")
	}
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

// Reason maps an error onto a low-cardinality label for metrics and summaries.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var (
		conflict  *ConflictError
		rateLimit *RateLimitError
		config    *ConfigurationError
		write     *RemoteWriteError
		read      *RemoteReadError
	)
	switch {
	case errors.As(err, &config):
		return ReasonConfig
	case errors.As(err, &rateLimit):
		return ReasonRateLimit
	case errors.As(err, &conflict):
		return ReasonConflict
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonDeadlineExceeded
	case errors.As(err, &write):
		return ReasonWrite
	case errors.As(err, &read):
		return ReasonRead
	default:
		return ReasonUnknown
	}
}
