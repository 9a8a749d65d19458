package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/meetingsvc/pkg/broker"
	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
)

func newTestBroker(t *testing.T) *broker.Broker {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return broker.New(rdb)
}

func TestPool_ProcessesJobToSuccess(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled int32
	pool := NewPool(b, Config{
		Queue:             jobs.StepSTT.Queue(),
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		PollInterval:      10 * time.Millisecond,
		Handler: HandlerFunc(func(ctx context.Context, env jobs.Envelope) Result {
			atomic.AddInt32(&handled, 1)
			return Result{Outcome: OutcomeSuccess}
		}),
	})

	require.NoError(t, b.Enqueue(context.Background(), jobs.Envelope{
		JobID: "job-1", Queue: jobs.StepSTT.Queue(), MeetingID: "m-1", Step: jobs.StepSTT,
		Attempt: 1, MaxAttempts: 3, Payload: json.RawMessage(`{}`),
	}))

	pool.Start(ctx)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&handled) == 1 }, time.Second, 5*time.Millisecond)
	pool.Stop()

	depth, err := b.Depth(context.Background(), jobs.StepSTT.Queue())
	require.NoError(t, err)
	require.EqualValues(t, 0, depth)
}

func TestPool_DLQsNonRetryableFailure(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(b, Config{
		Queue:             jobs.StepEnhancer.Queue(),
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		PollInterval:      10 * time.Millisecond,
		Handler: HandlerFunc(func(ctx context.Context, env jobs.Envelope) Result {
			return Result{Outcome: OutcomeDLQ, Reason: "provider auth failure"}
		}),
	})

	require.NoError(t, b.Enqueue(context.Background(), jobs.Envelope{
		JobID: "job-2", Queue: jobs.StepEnhancer.Queue(), MeetingID: "m-1", Step: jobs.StepEnhancer,
		Attempt: 1, MaxAttempts: 3, Payload: json.RawMessage(`{}`),
	}))

	pool.Start(ctx)
	require.Eventually(t, func() bool {
		d, _ := b.DLQDepth(context.Background(), jobs.StepEnhancer.Queue())
		return d == 1
	}, time.Second, 5*time.Millisecond)
	pool.Stop()
}
