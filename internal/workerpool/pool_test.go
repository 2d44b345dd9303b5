package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPreservesOrderWhenLaterItemsFinishFirst(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5}
	out := Map(context.Background(), items, Options{Size: len(items)},
		func(ctx context.Context, n int) (string, error) {
			time.Sleep(time.Duration(len(items)-n) * 5 * time.Millisecond)
			return fmt.Sprintf("item-%d", n), nil
		},
		func(n int, err error) string { return "failed" },
	)

	require.Len(t, out, len(items))
	for i, v := range out {
		assert.Equal(t, fmt.Sprintf("item-%d", i), v)
	}
}

func TestMapFailureUsesFallback(t *testing.T) {
	boom := errors.New("boom")
	out := Map(context.Background(), []int{1, 2, 3}, Options{},
		func(ctx context.Context, n int) (int, error) {
			if n == 2 {
				return 0, boom
			}
			return n * 10, nil
		},
		func(n int, err error) int {
			if errors.Is(err, boom) {
				return -n
			}
			return 0
		},
	)
	assert.Equal(t, []int{10, -2, 30}, out)
}

func TestMapTimeoutUsesFallback(t *testing.T) {
	out := Map(context.Background(), []int{1, 2}, Options{Timeout: 20 * time.Millisecond},
		func(ctx context.Context, n int) (string, error) {
			if n == 1 {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "ok", nil
		},
		func(n int, err error) string {
			if errors.Is(err, context.DeadlineExceeded) {
				return "timeout"
			}
			return "failed"
		},
	)
	assert.Equal(t, []string{"timeout", "ok"}, out)
}

func TestMapBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 20)
	Map(context.Background(), items, Options{Size: 3},
		func(ctx context.Context, _ int) (struct{}, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return struct{}{}, nil
		},
		func(int, error) struct{} { return struct{}{} },
	)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMapCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	out := Map(ctx, []int{1, 2}, Options{},
		func(ctx context.Context, n int) (int, error) {
			calls.Add(1)
			return n, nil
		},
		func(n int, err error) int { return -1 },
	)
	assert.Equal(t, []int{-1, -1}, out)
	assert.Zero(t, calls.Load())
}
