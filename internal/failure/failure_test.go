package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "config", err: &ConfigurationError{Key: "CKAN_API_KEY", Reason: "required"}, want: ReasonConfig},
		{name: "rate_limit", err: &RateLimitError{Reset: time.Unix(0, 0)}, want: ReasonRateLimit},
		{name: "conflict", err: &ConflictError{Op: "datastore_upsert"}, want: ReasonConflict},
		{
			name: "conflict_inside_write",
			err:  &RemoteWriteError{Op: "datastore_upsert", Err: &ConflictError{Op: "datastore_upsert"}},
			want: ReasonConflict,
		},
		{
			name: "deadline_inside_read",
			err:  &RemoteReadError{Op: "package_show", Err: context.DeadlineExceeded},
			want: ReasonDeadlineExceeded,
		},
		{name: "write", err: &RemoteWriteError{Op: "package_patch", Err: errors.New("boom")}, want: ReasonWrite},
		{name: "read", err: fmt.Errorf("wrapped: %w", &RemoteReadError{Op: "package_show"}), want: ReasonRead},
		{name: "unknown", err: errors.New("boom"), want: ReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Reason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRemoteWriteErrorMessage(t *testing.T) {
	err := &RemoteWriteError{Op: "datastore_create", Target: "res-1", Rows: 3, Err: errors.New("bad schema")}
	want := "remote write datastore_create [res-1]: bad schema (rows=3)"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Fatalf("expected write error to unwrap to its cause")
	}
}

func TestIsConflict(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &ConflictError{Op: "datastore_upsert"})
	if !IsConflict(wrapped) {
		t.Fatalf("expected wrapped conflict to be detected")
	}
	if IsConflict(&RemoteWriteError{Op: "datastore_upsert"}) {
		t.Fatalf("plain write error must not be a conflict")
	}
}
